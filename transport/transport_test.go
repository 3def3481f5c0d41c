package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachepurge "github.com/wolfeidau/cache-purge"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_LoopbackRequestShape(t *testing.T) {
	var (
		gotMethod string
		gotHost   string
		gotURI    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHost = r.Host
		gotURI = r.RequestURI
		_, _ = io.WriteString(w, "<html><h1>Successful purge</h1></html>")
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithLogger(newTestLogger()))
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), "/hello/*?p=1", "example.com", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Body, SignaturePurged)

	require.Equal(t, MethodPurge, gotMethod)
	require.Equal(t, "example.com", gotHost)
	require.Equal(t, "/hello/*?p=1", gotURI)
}

func TestSend_DoesNotFollowRedirects(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Redirect(w, r, "https://example.com/", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithLogger(newTestLogger()))
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), "/*", "example.com", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	require.Equal(t, 1, calls)
}

func TestSend_TransportErrorMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c, err := New(addr, WithLogger(newTestLogger()))
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "/*", "example.com", time.Second)
	require.Error(t, err)
	require.ErrorIs(t, err, cachepurge.ErrTransport)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	require.Equal(t, "example.com", terr.Host)
}

func TestSend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithLogger(newTestLogger()))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Send(context.Background(), "/*", "example.com", 50*time.Millisecond)
	require.ErrorIs(t, err, cachepurge.ErrTransport)
	require.Less(t, time.Since(start), time.Second)
}

func TestNew_RejectsRelativeLoopback(t *testing.T) {
	_, err := New("127.0.0.1")
	require.Error(t, err)

	c, err := New("")
	require.NoError(t, err)
	require.Equal(t, DefaultLoopbackURL, c.base.String())
}

func TestASCIIHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"example.com:8443", "example.com:8443"},
		{"bücher.example", "xn--bcher-kva.example"},
		{"bücher.example:80", "xn--bcher-kva.example:80"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ASCIIHost(tt.in))
		})
	}
}
