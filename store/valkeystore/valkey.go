// Package valkeystore keeps the capability verdict and purge settings in
// valkey so that several purge nodes fronting one site share them.
package valkeystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	cachepurge "github.com/wolfeidau/cache-purge"
)

// DefaultKeyPrefix namespaces all keys.
const DefaultKeyPrefix = "cache-purge:"

// ErrNotFound is returned when no settings have been stored.
var ErrNotFound = fmt.Errorf("valkeystore: %w", cachepurge.ErrNotFound)

// Config describes the valkey connection.
type Config struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements capability and settings storage on valkey.
type Store struct {
	client valkey.Client
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to valkey and verifies the connection.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkeystore: address required")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkeystore: client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkeystore: ping: %w", err)
	}

	s := &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		now:    time.Now,
		logger: slog.Default(),
	}
	if s.prefix == "" {
		s.prefix = DefaultKeyPrefix
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "valkeystore")
	return s, nil
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// LoadCapability returns the shared verdict, or the zero Capability when
// none is stored or it has expired.
func (s *Store) LoadCapability(ctx context.Context) (cachepurge.Capability, error) {
	var c cachepurge.Capability
	found, err := s.get(ctx, s.key("capability"), &c)
	if err != nil || !found {
		return cachepurge.Capability{}, err
	}
	return c, nil
}

// SaveCapability stores c. The key expires with the verdict's TTL so a
// stale verdict is never shared.
func (s *Store) SaveCapability(ctx context.Context, c cachepurge.Capability) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("valkeystore: marshal capability: %w", err)
	}
	ttl := c.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	cmd := s.client.B().Set().Key(s.key("capability")).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkeystore: set capability: %w", err)
	}
	return nil
}

// GetSettings returns the stored settings or ErrNotFound.
func (s *Store) GetSettings(ctx context.Context) (cachepurge.Settings, error) {
	var st cachepurge.Settings
	found, err := s.get(ctx, s.key("settings"), &st)
	if err != nil {
		return cachepurge.Settings{}, err
	}
	if !found {
		return cachepurge.Settings{}, ErrNotFound
	}
	return st, nil
}

// PutSettings stores st, stamping UpdatedAt.
func (s *Store) PutSettings(ctx context.Context, st cachepurge.Settings) error {
	st.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("valkeystore: marshal settings: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key("settings")).Value(string(payload)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkeystore: set settings: %w", err)
	}
	return nil
}

// SeedSettings stores st only if no settings exist yet and reports whether
// it was written.
func (s *Store) SeedSettings(ctx context.Context, st cachepurge.Settings) (bool, error) {
	st.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("valkeystore: marshal settings: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key("settings")).Value(string(payload)).Nx().Build()
	err = s.client.Do(ctx, cmd).Error()
	if errors.Is(err, valkey.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("valkeystore: seed settings: %w", err)
	}
	return true, nil
}

// SelectiveEnabled reports the selective purge toggle. Unset settings read
// as enabled.
func (s *Store) SelectiveEnabled(ctx context.Context) (bool, error) {
	st, err := s.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return st.SelectivePurgeEnabled, nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("valkeystore: get %s: %w", key, err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return false, fmt.Errorf("valkeystore: get %s bytes: %w", key, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("valkeystore: unmarshal %s: %w", key, err)
	}
	return true, nil
}
