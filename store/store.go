// Package store opens the configured backend for capability verdicts and
// purge settings.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/store/metadb"
	"github.com/wolfeidau/cache-purge/store/valkeystore"
)

// Backend names.
const (
	BackendBolt   = "bolt"
	BackendValkey = "valkey"
	BackendMemory = "memory"
)

// Backend stores the capability verdict and purge settings.
type Backend interface {
	LoadCapability(ctx context.Context) (cachepurge.Capability, error)
	SaveCapability(ctx context.Context, c cachepurge.Capability) error
	GetSettings(ctx context.Context) (cachepurge.Settings, error)
	PutSettings(ctx context.Context, s cachepurge.Settings) error
	SeedSettings(ctx context.Context, s cachepurge.Settings) (bool, error)
	SelectiveEnabled(ctx context.Context) (bool, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Path    string // bolt database file
	Valkey  valkeystore.Config
}

// Open opens the backend described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendBolt, "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		db := metadb.NewBoltDB(metadb.WithLogger(logger))
		if err := db.Open(cfg.Path); err != nil {
			return nil, err
		}
		return db, nil
	case BackendValkey:
		s, err := valkeystore.New(ctx, cfg.Valkey, valkeystore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Memory is a process-local Backend.
type Memory struct {
	mu         sync.RWMutex
	capability cachepurge.Capability
	settings   *cachepurge.Settings
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadCapability(context.Context) (cachepurge.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capability, nil
}

func (m *Memory) SaveCapability(_ context.Context, c cachepurge.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capability = c
	return nil
}

func (m *Memory) GetSettings(context.Context) (cachepurge.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return cachepurge.Settings{}, cachepurge.ErrNotFound
	}
	return *m.settings, nil
}

func (m *Memory) PutSettings(_ context.Context, s cachepurge.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

func (m *Memory) SeedSettings(_ context.Context, s cachepurge.Settings) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings != nil {
		return false, nil
	}
	m.settings = &s
	return true, nil
}

func (m *Memory) SelectiveEnabled(ctx context.Context) (bool, error) {
	s, err := m.GetSettings(ctx)
	if errors.Is(err, cachepurge.ErrNotFound) {
		return true, nil
	}
	return s.SelectivePurgeEnabled, err
}

func (m *Memory) Close() error { return nil }
