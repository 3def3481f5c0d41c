package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/transport"
)

type fakeSender struct {
	calls atomic.Int32
	resp  transport.Response
	err   error
	delay time.Duration

	mu       sync.Mutex
	lastURI  string
	lastHost string
}

func (f *fakeSender) Send(ctx context.Context, uri, host string, _ time.Duration) (transport.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastURI, f.lastHost = uri, host
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return transport.Response{}, &transport.Error{Host: host, URI: uri, Err: err}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

var testNow = time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)

func newTestProber(t *testing.T, s Sender, store Store) *Prober {
	t.Helper()
	p, err := New(s, store, "https://example.com/",
		WithNow(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return p
}

func TestProbe_FreshVerdictSkipsNetwork(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveCapability(context.Background(),
		cachepurge.NewCapability(true, testNow.Add(-10*time.Minute), time.Hour)))

	sender := &fakeSender{}
	p := newTestProber(t, sender, store)

	require.True(t, p.Probe(context.Background(), false))
	require.EqualValues(t, 0, sender.calls.Load())
}

func TestProbe_StaleVerdictProbesOnce(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveCapability(context.Background(),
		cachepurge.NewCapability(true, testNow.Add(-2*time.Hour), time.Hour)))

	sender := &fakeSender{resp: transport.Response{StatusCode: http.StatusMethodNotAllowed}}
	p := newTestProber(t, sender, store)

	require.False(t, p.Probe(context.Background(), false))
	require.EqualValues(t, 1, sender.calls.Load())

	c := p.Cached(context.Background())
	require.Equal(t, cachepurge.CapabilityUnavailable, c.State)
	require.Equal(t, testNow, c.CheckedAt)
}

func TestProbe_ForceIgnoresFreshVerdict(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveCapability(context.Background(),
		cachepurge.NewCapability(false, testNow.Add(-time.Minute), time.Hour)))

	sender := &fakeSender{resp: transport.Response{StatusCode: http.StatusOK, Body: "Successful purge"}}
	p := newTestProber(t, sender, store)

	require.True(t, p.Recheck(context.Background()))
	require.EqualValues(t, 1, sender.calls.Load())
	require.Equal(t, "/", sender.lastURI)
	require.Equal(t, "example.com", sender.lastHost)
}

func TestProbe_CancelledCallerStoresRealVerdict(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{resp: transport.Response{StatusCode: http.StatusOK, Body: "<h1>Successful purge</h1>"}}
	p := newTestProber(t, sender, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.True(t, p.Probe(ctx, true))
	require.Equal(t, cachepurge.CapabilityAvailable, p.Cached(context.Background()).State)

	require.True(t, p.Probe(context.Background(), false))
	require.EqualValues(t, 1, sender.calls.Load())
}

func TestProbe_Classification(t *testing.T) {
	tests := []struct {
		name string
		resp transport.Response
		err  error
		want bool
	}{
		{"200 signature", transport.Response{StatusCode: 200, Body: "Successful purge"}, nil, true},
		{"412 signature", transport.Response{StatusCode: 412, Body: "412 Precondition Failed"}, nil, true},
		{"bare 200", transport.Response{StatusCode: 200, Body: "hello"}, nil, false},
		{"404", transport.Response{StatusCode: 404}, nil, false},
		{"405", transport.Response{StatusCode: 405}, nil, false},
		{"transport error", transport.Response{}, &transport.Error{Err: errors.New("refused")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			p := newTestProber(t, &fakeSender{resp: tt.resp, err: tt.err}, store)

			require.Equal(t, tt.want, p.Probe(context.Background(), false))

			c := p.Cached(context.Background())
			require.True(t, c.Fresh(testNow))
			require.Equal(t, tt.want, c.Available())
		})
	}
}

func TestProbe_ConcurrentCallsCoalesce(t *testing.T) {
	sender := &fakeSender{
		resp:  transport.Response{StatusCode: 200, Body: "Successful purge"},
		delay: 50 * time.Millisecond,
	}
	p := newTestProber(t, sender, NewMemoryStore())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, p.Probe(context.Background(), true))
		}()
	}
	wg.Wait()

	require.Less(t, sender.calls.Load(), int32(8))
}

func TestNew_InvalidSite(t *testing.T) {
	_, err := New(&fakeSender{}, NewMemoryStore(), "not a url")
	require.ErrorIs(t, err, cachepurge.ErrInvalidTarget)
}
