// Package config loads the cache-purge runtime configuration.
//
// Values are layered defaults, then an optional YAML file, then environment
// variables. Environment keys use the CACHE_PURGE_ prefix and a double
// underscore for nesting, so CACHE_PURGE_PURGE__WORKERS sets purge.workers.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wolfeidau/cache-purge/enumerate"
	"github.com/wolfeidau/cache-purge/executor"
	"github.com/wolfeidau/cache-purge/store"
	"github.com/wolfeidau/cache-purge/store/valkeystore"
	"github.com/wolfeidau/cache-purge/transport"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CACHE_PURGE_"

// Config is the effective configuration after all layers are merged.
type Config struct {
	Site            SiteConfig    `koanf:"site"`
	Purge           PurgeConfig   `koanf:"purge"`
	Storage         StorageConfig `koanf:"storage"`
	Server          ServerConfig  `koanf:"server"`
	Logging         LoggingConfig `koanf:"logging"`
	Metrics         MetricsConfig `koanf:"metrics"`
	CredentialsFile string        `koanf:"credentials_file"`
}

// SiteConfig describes the public site whose cache is purged.
type SiteConfig struct {
	URL          string `koanf:"url" validate:"required,url"`
	PostsPageURL string `koanf:"posts_page_url" validate:"omitempty,url"`
	RESTPrefix   string `koanf:"rest_prefix"`
	FeedBase     string `koanf:"feed_base"`
}

type PurgeConfig struct {
	Loopback         string        `koanf:"loopback" validate:"required,url"`
	SelectiveEnabled bool          `koanf:"selective_enabled"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	ProbeTimeout     time.Duration `koanf:"probe_timeout" validate:"gt=0"`
	CapabilityTTL    time.Duration `koanf:"capability_ttl" validate:"gt=0"`
	Workers          int           `koanf:"workers" validate:"min=1,max=8"`
	FailureTolerance int           `koanf:"failure_tolerance"`
}

type StorageConfig struct {
	Backend string       `koanf:"backend" validate:"oneof=bolt valkey memory"`
	Path    string       `koanf:"path" validate:"required_if=Backend bolt"`
	Valkey  ValkeyConfig `koanf:"valkey"`
}

type ValkeyConfig struct {
	Address   string `koanf:"address"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"min=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

type ServerConfig struct {
	Address string `koanf:"address" validate:"required"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Prometheus   bool   `koanf:"prometheus"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Site: SiteConfig{
			RESTPrefix: enumerate.DefaultRESTPrefix,
			FeedBase:   enumerate.DefaultFeedBase,
		},
		Purge: PurgeConfig{
			Loopback:         transport.DefaultLoopbackURL,
			SelectiveEnabled: true,
			Timeout:          transport.DefaultPurgeTimeout,
			ProbeTimeout:     transport.DefaultProbeTimeout,
			CapabilityTTL:    time.Hour,
			Workers:          executor.DefaultWorkers,
		},
		Storage: StorageConfig{
			Backend: store.BackendBolt,
			Path:    "./data/cache-purge.db",
			Valkey: ValkeyConfig{
				Address:   "127.0.0.1:6379",
				KeyPrefix: valkeystore.DefaultKeyPrefix,
			},
		},
		Server: ServerConfig{
			Address: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Prometheus: true,
		},
	}
}

// Load merges defaults, the optional file at path and the environment, then
// validates the result. An empty path skips the file layer; a named file that
// does not exist is an error.
func Load(ctx context.Context, path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(toMap(Default()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	transform := func(s string) string {
		// CACHE_PURGE_PURGE__PROBE_TIMEOUT -> purge.probe_timeout
		key := strings.TrimPrefix(s, EnvPrefix)
		key = strings.ReplaceAll(key, "__", ".")
		return strings.ToLower(key)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if c.Storage.Backend == store.BackendValkey && c.Storage.Valkey.Address == "" {
		return errors.New("config: invalid: storage.valkey.address is required for the valkey backend")
	}
	return nil
}

// EnumerateSite maps the site section onto the enumerator's input.
func (c Config) EnumerateSite() enumerate.Site {
	return enumerate.Site{
		URL:          c.Site.URL,
		PostsPageURL: c.Site.PostsPageURL,
		RESTPrefix:   c.Site.RESTPrefix,
		FeedBase:     c.Site.FeedBase,
	}
}

// StoreConfig maps the storage section onto store.Open's input.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Backend: c.Storage.Backend,
		Path:    c.Storage.Path,
		Valkey: valkeystore.Config{
			Address:   c.Storage.Valkey.Address,
			Username:  c.Storage.Valkey.Username,
			Password:  c.Storage.Valkey.Password,
			DB:        c.Storage.Valkey.DB,
			KeyPrefix: c.Storage.Valkey.KeyPrefix,
		},
	}
}

func toMap(cfg Config) map[string]any {
	return map[string]any{
		"site": map[string]any{
			"url":            cfg.Site.URL,
			"posts_page_url": cfg.Site.PostsPageURL,
			"rest_prefix":    cfg.Site.RESTPrefix,
			"feed_base":      cfg.Site.FeedBase,
		},
		"purge": map[string]any{
			"loopback":          cfg.Purge.Loopback,
			"selective_enabled": cfg.Purge.SelectiveEnabled,
			"timeout":           cfg.Purge.Timeout,
			"probe_timeout":     cfg.Purge.ProbeTimeout,
			"capability_ttl":    cfg.Purge.CapabilityTTL,
			"workers":           cfg.Purge.Workers,
			"failure_tolerance": cfg.Purge.FailureTolerance,
		},
		"storage": map[string]any{
			"backend": cfg.Storage.Backend,
			"path":    cfg.Storage.Path,
			"valkey": map[string]any{
				"address":    cfg.Storage.Valkey.Address,
				"username":   cfg.Storage.Valkey.Username,
				"password":   cfg.Storage.Valkey.Password,
				"db":         cfg.Storage.Valkey.DB,
				"key_prefix": cfg.Storage.Valkey.KeyPrefix,
			},
		},
		"server": map[string]any{
			"address": cfg.Server.Address,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"metrics": map[string]any{
			"prometheus":    cfg.Metrics.Prometheus,
			"otlp_endpoint": cfg.Metrics.OTLPEndpoint,
		},
		"credentials_file": cfg.CredentialsFile,
	}
}
