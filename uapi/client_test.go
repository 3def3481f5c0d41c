package uapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachepurge "github.com/wolfeidau/cache-purge"
)

var testConfig = Config{Hostname: "cpanel.example.com", Username: "alice", APIKey: "SECRET"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(testConfig,
		WithBaseURL(srv.URL),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestClearCache_Success(t *testing.T) {
	var gotPath, gotAuth, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth, gotMethod = r.URL.Path, r.Header.Get("Authorization"), r.Method
		_, _ = io.WriteString(w, `{"status":1,"errors":null,"messages":null,"data":null}`)
	})

	res, err := c.ClearCache(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, MessageCachePurged, res.Message)

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/execute/NginxCaching/clear_cache", gotPath)
	require.Equal(t, "cpanel alice:SECRET", gotAuth)
}

func TestEnableDisableCache(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, `{"status":1}`)
	})

	res, err := c.EnableCache(context.Background())
	require.NoError(t, err)
	require.Equal(t, MessageCacheEnabled, res.Message)

	res, err = c.DisableCache(context.Background())
	require.NoError(t, err)
	require.Equal(t, MessageCacheDisabled, res.Message)

	require.Equal(t, []string{"/execute/NginxCaching/enable_cache", "/execute/NginxCaching/disable_cache"}, paths)
}

func TestExecute_ResponseHandling(t *testing.T) {
	long := strings.Repeat("x", 1500)

	tests := []struct {
		name    string
		status  int
		body    string
		success bool
		message string
	}{
		{"messages joined", 200, `{"status":1,"messages":["one","two"]}`, true, "one, two"},
		{"default message", 200, `{"status":1}`, true, "Request successful"},
		{"empty body", 200, "", false, "Empty response from server"},
		{"non json", 500, "<html>oops</html>", false, "API Error: <html>oops</html>"},
		{"non json truncated", 200, long, false, "API Error: " + long[:1000]},
		{"error status", 403, `{"errors":["Access denied"]}`, false, "API Error (Code 403): Access denied"},
		{"error status no errors", 500, `{}`, false, "API Error (Code 500): Unknown error occurred"},
		{"200 with errors", 200, `{"status":0,"errors":["a","b"]}`, false, "API Error (Code 200): a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			res, err := c.Execute(context.Background(), EndpointClearCache, nil)
			require.Equal(t, tt.success, res.Success)
			require.Equal(t, tt.message, res.Message)
			if tt.success {
				require.NoError(t, err)
				return
			}
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestExecute_NotConfigured(t *testing.T) {
	c := New(Config{})

	res, err := c.ClearCache(context.Background())
	require.ErrorIs(t, err, cachepurge.ErrNotConfigured)
	require.True(t, IsNotConfigured(err))
	require.False(t, res.Success)
	require.Equal(t, MessageNotConfigured, res.Message)
}

func TestExecute_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(testConfig, WithBaseURL(addr), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	res, err := c.ClearCache(context.Background())
	require.ErrorIs(t, err, cachepurge.ErrTransport)
	require.True(t, strings.HasPrefix(res.Message, "Connection Error: "))
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		success bool
		message string
	}{
		{"number", `{"status":1,"data":{"megabytes_used":1234.4}}`, true, "Saved Config & Tested OK. Disk Usage: 1,234 MB"},
		{"string", `{"status":1,"data":{"megabytes_used":"987654"}}`, true, "Saved Config & Tested OK. Disk Usage: 987,654 MB"},
		{"no data", `{"status":1,"data":{}}`, false, "API appears to have connected, but no data retrieved?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/execute/Quota/get_quota_info", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			})

			res, err := c.TestConnection(context.Background())
			require.Equal(t, tt.success, err == nil)
			require.Equal(t, tt.message, res.Message)
		})
	}
}

func TestFormatThousands(t *testing.T) {
	require.Equal(t, "0", formatThousands(0))
	require.Equal(t, "999", formatThousands(999))
	require.Equal(t, "1,000", formatThousands(1000))
	require.Equal(t, "12,345,678", formatThousands(12345678))
	require.Equal(t, "-1,000", formatThousands(-1000))
}

func TestEndpointURL_DefaultsToHostname(t *testing.T) {
	c := New(testConfig)
	require.Equal(t, "https://cpanel.example.com:2083/execute/NginxCaching/clear_cache", c.endpointURL(EndpointClearCache))
}
