// Package uapi is a client for the cPanel UAPI endpoints that control the
// account's NGINX cache.
package uapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/telemetry"
)

const (
	// DefaultPort is the cPanel HTTPS port.
	DefaultPort = 2083

	// DefaultTimeout is the default timeout for UAPI requests.
	DefaultTimeout = 30 * time.Second

	// maxBodySize caps how much of a response is read.
	maxBodySize = 1 << 20

	// errorBodyPrefix is how much of an unparsable body is echoed in errors.
	errorBodyPrefix = 1000
)

// UAPI endpoints.
const (
	EndpointClearCache   = "NginxCaching/clear_cache"
	EndpointEnableCache  = "NginxCaching/enable_cache"
	EndpointDisableCache = "NginxCaching/disable_cache"
	EndpointQuotaInfo    = "Quota/get_quota_info"
)

// MessageNotConfigured is reported when no credentials are set.
const MessageNotConfigured = "API configuration is not set. Please configure the plugin settings."

// Config holds the cPanel account credentials.
type Config struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

// IsSet reports whether any credential has been configured.
func (c Config) IsSet() bool {
	return c.Hostname != "" || c.Username != "" || c.APIKey != ""
}

// envelope is the JSON body returned by every UAPI call.
type envelope struct {
	Status   int             `json:"status"`
	Errors   []string        `json:"errors"`
	Messages []string        `json:"messages"`
	Data     json.RawMessage `json:"data"`
}

// Result is the outcome of a UAPI call. Message is always suitable for
// showing to the user.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError is returned when the server answered but the call failed.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client calls UAPI endpoints on a cPanel server.
type Client struct {
	cfg     Config
	baseURL string // overrides https://{hostname}:2083 when set
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the server URL derived from the hostname.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
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

// New creates a UAPI client for cfg.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, telemetry.TargetUAPI),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "uapi")
	return c
}

func (c *Client) endpointURL(endpoint string) string {
	base := c.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s:%d", c.cfg.Hostname, DefaultPort)
	}
	return base + "/execute/" + endpoint
}

// Execute calls endpoint with params. The returned Result always carries a
// user-facing message; err is non-nil whenever Success is false.
func (c *Client) Execute(ctx context.Context, endpoint string, params url.Values) (Result, error) {
	res, err := c.execute(ctx, endpoint, params)
	telemetry.RecordUAPI(ctx, endpoint, err == nil)
	if err != nil {
		c.logger.Warn("uapi request failed", "endpoint", endpoint, "error", err)
	} else {
		c.logger.Info("uapi request", "endpoint", endpoint, "message", res.Message)
	}
	return res, err
}

func (c *Client) execute(ctx context.Context, endpoint string, params url.Values) (Result, error) {
	if !c.cfg.IsSet() {
		return Result{Message: MessageNotConfigured}, fmt.Errorf("uapi: %w", cachepurge.ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint), strings.NewReader(params.Encode()))
	if err != nil {
		return Result{Message: "Internal Error: " + err.Error()}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "cpanel "+c.cfg.Username+":"+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Message: "Connection Error: " + err.Error()}, fmt.Errorf("%w: %w", cachepurge.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{Message: "Connection Error: " + err.Error()}, fmt.Errorf("%w: reading body: %w", cachepurge.ErrTransport, err)
	}

	return parseResponse(resp.StatusCode, body)
}

func parseResponse(status int, body []byte) (Result, error) {
	fail := func(msg string) (Result, error) {
		return Result{Message: msg}, &APIError{StatusCode: status, Message: msg}
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return fail("Empty response from server")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		prefix := string(body)
		if len(prefix) > errorBodyPrefix {
			prefix = prefix[:errorBodyPrefix]
		}
		return fail("API Error: " + prefix)
	}

	if status != http.StatusOK || len(env.Errors) > 0 {
		msg := "Unknown error occurred"
		if len(env.Errors) > 0 {
			msg = strings.Join(env.Errors, ", ")
		}
		return fail(fmt.Sprintf("API Error (Code %d): %s", status, msg))
	}

	msg := "Request successful"
	if len(env.Messages) > 0 {
		msg = strings.Join(env.Messages, ", ")
	}
	return Result{Success: true, Message: msg, Data: env.Data}, nil
}

// IsNotConfigured reports whether err is caused by missing credentials.
func IsNotConfigured(err error) bool {
	return errors.Is(err, cachepurge.ErrNotConfigured)
}
