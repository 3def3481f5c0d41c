package metadb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachepurge "github.com/wolfeidau/cache-purge"
)

func newTestBoltDB(t *testing.T, opts ...BoltDBOption) *BoltDB {
	t.Helper()
	opts = append([]BoltDBOption{WithNoSync(true)}, opts...)
	db := NewBoltDB(opts...)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Open(dbPath))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBoltDB_Capability(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)

	t.Run("empty database yields unknown", func(t *testing.T) {
		db := newTestBoltDB(t)

		c, err := db.LoadCapability(ctx)
		require.NoError(t, err)
		assert.Equal(t, cachepurge.CapabilityUnknown, c.State)
		assert.False(t, c.Fresh(now))
	})

	t.Run("save and load round-trip", func(t *testing.T) {
		db := newTestBoltDB(t)

		want := cachepurge.NewCapability(true, now, time.Hour)
		require.NoError(t, db.SaveCapability(ctx, want))

		got, err := db.LoadCapability(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.State, got.State)
		assert.True(t, want.CheckedAt.Equal(got.CheckedAt))
		assert.Equal(t, time.Hour, got.TTL)
	})

	t.Run("later verdict supersedes", func(t *testing.T) {
		db := newTestBoltDB(t)

		require.NoError(t, db.SaveCapability(ctx, cachepurge.NewCapability(true, now, time.Hour)))
		require.NoError(t, db.SaveCapability(ctx, cachepurge.NewCapability(false, now.Add(2*time.Hour), time.Hour)))

		got, err := db.LoadCapability(ctx)
		require.NoError(t, err)
		assert.Equal(t, cachepurge.CapabilityUnavailable, got.State)
	})
}

func TestBoltDB_History(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)
	db := newTestBoltDB(t)

	for i := range 5 {
		require.NoError(t, db.SaveCapability(ctx, cachepurge.NewCapability(i%2 == 0, base.Add(time.Duration(i)*time.Hour), time.Hour)))
	}

	all, err := db.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.True(t, all[0].CheckedAt.Equal(base.Add(4*time.Hour)), "newest first")

	latest, err := db.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	deleted, err := db.PruneHistory(ctx, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	rest, err := db.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.True(t, rest[2].CheckedAt.Equal(base.Add(2*time.Hour)))
}

func TestBoltDB_Settings(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)

	t.Run("unset settings read as enabled", func(t *testing.T) {
		db := newTestBoltDB(t)

		_, err := db.GetSettings(ctx)
		require.ErrorIs(t, err, ErrNotFound)

		enabled, err := db.SelectiveEnabled(ctx)
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("put and get", func(t *testing.T) {
		db := newTestBoltDB(t, WithNow(func() time.Time { return now }))

		require.NoError(t, db.PutSettings(ctx, cachepurge.Settings{SelectivePurgeEnabled: false}))

		s, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.False(t, s.SelectivePurgeEnabled)
		assert.True(t, now.Equal(s.UpdatedAt))

		enabled, err := db.SelectiveEnabled(ctx)
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("seed only writes once", func(t *testing.T) {
		db := newTestBoltDB(t)

		seeded, err := db.SeedSettings(ctx, cachepurge.Settings{SelectivePurgeEnabled: false})
		require.NoError(t, err)
		assert.True(t, seeded)

		seeded, err = db.SeedSettings(ctx, cachepurge.Settings{SelectivePurgeEnabled: true})
		require.NoError(t, err)
		assert.False(t, seeded)

		enabled, err := db.SelectiveEnabled(ctx)
		require.NoError(t, err)
		assert.False(t, enabled)
	})
}

func TestBoltDB_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)
	base := time.Now()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := cachepurge.NewCapability(i%2 == 0, base.Add(time.Duration(i)*time.Millisecond), time.Hour)
			assert.NoError(t, db.SaveCapability(ctx, c))
			_, err := db.LoadCapability(ctx)
			assert.NoError(t, err)
			_, err = db.SelectiveEnabled(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := db.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func TestHistoryReaper_ReapNow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	db := newTestBoltDB(t, WithNow(func() time.Time { return now }))

	require.NoError(t, db.SaveCapability(ctx, cachepurge.NewCapability(true, now.Add(-10*24*time.Hour), time.Hour)))
	require.NoError(t, db.SaveCapability(ctx, cachepurge.NewCapability(true, now.Add(-time.Hour), time.Hour)))

	r := NewHistoryReaper(db, WithReaperRetention(7*24*time.Hour))
	r.ReapNow(ctx)

	history, err := db.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestHistoryReaper_RunStopsOnCancel(t *testing.T) {
	db := newTestBoltDB(t)
	r := NewHistoryReaper(db, WithReaperInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
