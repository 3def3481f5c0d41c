package trigger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/coordinator"
)

type fakePurger struct {
	mu    sync.Mutex
	all   int
	posts []int64
}

func (f *fakePurger) PurgeAll(context.Context) coordinator.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	return coordinator.Outcome{Kind: coordinator.KindAll, Success: true}
}

func (f *fakePurger) PurgePost(_ context.Context, change cachepurge.ContentChange) coordinator.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, change.ID)
	return coordinator.Outcome{Kind: coordinator.KindPost, Success: true}
}

func TestPurgeOnUpdate(t *testing.T) {
	tests := []struct {
		before, after string
		want          bool
	}{
		{"draft", "publish", true},
		{"publish", "publish", true},
		{"publish", "draft", true},
		{"publish", "private", true},
		{"publish", "trash", false},
		{"draft", "draft", false},
		{"draft", "pending", false},
		{"trash", "draft", false},
		{"future", "future", false},
	}
	for _, tt := range tests {
		t.Run(tt.before+"->"+tt.after, func(t *testing.T) {
			assert.Equal(t, tt.want, PurgeOnUpdate(tt.before, tt.after))
		})
	}
}

func TestPurgeOnTransition(t *testing.T) {
	tests := []struct {
		old, new string
		want     bool
	}{
		{"new", "publish", true},
		{"draft", "publish", true},
		{"future", "publish", true},
		{"", "publish", true},
		{"publish", "publish", false},
		{"publish", "draft", false},
		{"draft", "pending", false},
	}
	for _, tt := range tests {
		t.Run(tt.old+"->"+tt.new, func(t *testing.T) {
			assert.Equal(t, tt.want, PurgeOnTransition(tt.old, tt.new))
		})
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	p := &fakePurger{}
	d := New(p)
	change := cachepurge.ContentChange{ID: 42}

	out, ok := d.PostUpdated(ctx, PostUpdated{BeforeStatus: "publish", AfterStatus: "publish", Change: change})
	require.True(t, ok)
	assert.True(t, out.Success)

	_, ok = d.PostUpdated(ctx, PostUpdated{BeforeStatus: "publish", AfterStatus: "trash", Change: change})
	assert.False(t, ok)

	_, ok = d.StatusTransition(ctx, StatusTransition{OldStatus: "draft", NewStatus: "publish", Change: change})
	assert.True(t, ok)

	_, ok = d.StatusTransition(ctx, StatusTransition{OldStatus: "publish", NewStatus: "publish", Change: change})
	assert.False(t, ok)

	assert.True(t, d.CoreUpdated(ctx).Success)
	assert.True(t, d.OptionsSaved(ctx).Success)

	assert.Equal(t, []int64{42, 42}, p.posts)
	assert.Equal(t, 2, p.all)
}

func TestDispatcher_DefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	d := New(&fakePurger{})
	d.CoreUpdated(context.Background())

	assert.Contains(t, buf.String(), "component=trigger")
	assert.Contains(t, buf.String(), "core updated, purging site")
}
