// Package transport sends single PURGE requests to the NGINX cache module
// listening on the loopback interface and classifies its responses.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/telemetry"
)

const (
	// MethodPurge is the HTTP method understood by the cache purge module.
	MethodPurge = "PURGE"

	// DefaultLoopbackURL is where PURGE requests are sent. The public
	// hostname is never used; the site domain travels in the Host header.
	DefaultLoopbackURL = "http://127.0.0.1"

	// DefaultPurgeTimeout bounds a single purge request.
	DefaultPurgeTimeout = 10 * time.Second

	// DefaultProbeTimeout bounds a capability probe.
	DefaultProbeTimeout = 5 * time.Second

	// maxBodySize caps how much of a response body is read for signature matching.
	maxBodySize = 64 << 10
)

// Response is the raw result of a PURGE request.
type Response struct {
	StatusCode int
	Body       string
}

// Error is a network, DNS or TLS failure. It matches cachepurge.ErrTransport.
type Error struct {
	Host string
	URI  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("purge %s%s: %v", e.Host, e.URI, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is cachepurge.ErrTransport.
func (e *Error) Is(target error) bool {
	return target == cachepurge.ErrTransport
}

// Client sends PURGE requests to the loopback proxy.
type Client struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The client's redirect policy is
// left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client targeting loopbackURL. An empty loopbackURL uses
// DefaultLoopbackURL.
func New(loopbackURL string, opts ...Option) (*Client, error) {
	if loopbackURL == "" {
		loopbackURL = DefaultLoopbackURL
	}
	base, err := url.Parse(strings.TrimSuffix(loopbackURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing loopback url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("loopback url %q must be absolute", loopbackURL)
	}

	c := &Client{
		base:   base,
		client: newHTTPClient(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transport")
	return c, nil
}

func newHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // loopback only
	return &http.Client{
		Transport: telemetry.NewInstrumentedTransport(tr, telemetry.TargetLoopback),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Send issues PURGE requestURI with the given Host header. A zero timeout
// uses DefaultPurgeTimeout. Transport failures are returned as *Error and
// are never retried.
func (c *Client) Send(ctx context.Context, requestURI, host string, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = DefaultPurgeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}

	req, err := http.NewRequestWithContext(ctx, MethodPurge, c.base.String()+requestURI, nil)
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	req.Host = ASCIIHost(host)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("purge request failed", "host", host, "uri", requestURI, "error", err)
		return Response{}, &Error{Host: host, URI: requestURI, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Response{}, &Error{Host: host, URI: requestURI, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.logger.Debug("purge request",
		"host", host,
		"uri", requestURI,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// ASCIIHost converts an internationalized host (optionally with a port) to
// its ASCII form. Hosts that fail conversion are returned unchanged.
func ASCIIHost(host string) string {
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		name, port = host, ""
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return host
	}
	if port != "" {
		return net.JoinHostPort(ascii, port)
	}
	return ascii
}
