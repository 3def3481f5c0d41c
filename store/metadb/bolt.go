package metadb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	cachepurge "github.com/wolfeidau/cache-purge"
)

// BoltDB implements MetaDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing, never in production.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCapability, bucketHistory, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing metadb")
	return b.db.Close()
}

// LoadCapability returns the stored verdict, or the zero Capability when
// none has been recorded.
func (b *BoltDB) LoadCapability(_ context.Context) (cachepurge.Capability, error) {
	var c cachepurge.Capability
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketCapability).Get(keyCurrent)
		if val == nil {
			return nil
		}
		if err := json.Unmarshal(val, &c); err != nil {
			return fmt.Errorf("decoding capability: %w", err)
		}
		return nil
	})
	return c, err
}

// SaveCapability replaces the current verdict and appends it to the history.
func (b *BoltDB) SaveCapability(_ context.Context, c cachepurge.Capability) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding capability: %w", err)
	}
	entry, err := json.Marshal(HistoryEntry{State: c.State, CheckedAt: c.CheckedAt})
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCapability).Put(keyCurrent, data); err != nil {
			return fmt.Errorf("putting capability: %w", err)
		}
		if err := tx.Bucket(bucketHistory).Put(encodeTimestamp(c.CheckedAt), entry); err != nil {
			return fmt.Errorf("putting history entry: %w", err)
		}
		return nil
	})
}

// History returns up to limit verdicts, newest first. A limit <= 0 returns all.
func (b *BoltDB) History(_ context.Context, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding history entry: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// PruneHistory deletes up to limit history entries recorded before before.
// It returns the number of entries deleted.
func (b *BoltDB) PruneHistory(_ context.Context, before time.Time, limit int) (int, error) {
	cutoff := encodeTimestamp(before)
	var deleted int
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketHistory)
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
			if limit > 0 && len(keys) >= limit {
				break
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("deleting history entry %s: %w", decodeTimestamp(k), err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// GetSettings returns the stored settings or ErrNotFound.
func (b *BoltDB) GetSettings(_ context.Context) (cachepurge.Settings, error) {
	var s cachepurge.Settings
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSettings).Get(keyCurrent)
		if val == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(val, &s); err != nil {
			return fmt.Errorf("decoding settings: %w", err)
		}
		return nil
	})
	return s, err
}

// PutSettings stores s, stamping UpdatedAt.
func (b *BoltDB) PutSettings(_ context.Context, s cachepurge.Settings) error {
	s.UpdatedAt = b.now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(keyCurrent, data)
	})
}

// SeedSettings stores s only if no settings exist yet. It reports whether
// s was written.
func (b *BoltDB) SeedSettings(_ context.Context, s cachepurge.Settings) (bool, error) {
	s.UpdatedAt = b.now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("encoding settings: %w", err)
	}
	var seeded bool
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSettings)
		if bucket.Get(keyCurrent) != nil {
			return nil
		}
		seeded = true
		return bucket.Put(keyCurrent, data)
	})
	return seeded, err
}

// SelectiveEnabled reports the selective purge toggle. Unset settings read
// as enabled.
func (b *BoltDB) SelectiveEnabled(ctx context.Context) (bool, error) {
	s, err := b.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return s.SelectivePurgeEnabled, nil
}
