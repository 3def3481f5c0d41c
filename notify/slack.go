// Package notify posts purge failure alerts to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/telemetry"
)

const (
	// DefaultTimeout bounds a single webhook post.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxTries is how often a post is attempted before giving up.
	DefaultMaxTries = 3
)

// Event is a failed top-level purge request.
type Event struct {
	Kind      string
	RequestID string
	Message   string
	Time      time.Time
}

// Slack sends Block Kit messages to an incoming webhook.
type Slack struct {
	webhookURL string
	siteName   string
	siteURL    string
	client     *http.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Slack notifier.
type Option func(*Slack)

// WithSite sets the site name and URL shown in messages.
func WithSite(name, url string) Option {
	return func(s *Slack) {
		s.siteName = name
		s.siteURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Slack) {
		s.client = hc
	}
}

// WithMaxTries sets the number of delivery attempts.
func WithMaxTries(n uint) Option {
	return func(s *Slack) {
		s.maxTries = max(n, 1)
	}
}

// WithBackOff sets the retry policy between attempts. newBackOff is called
// once per post, so stateful policies are never shared.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Slack) {
		s.newBackOff = newBackOff
	}
}

func defaultBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}

// WithNow sets the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Slack) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Slack) {
		s.logger = logger
	}
}

// New creates a notifier. An empty webhookURL yields a disabled notifier.
func New(webhookURL string, opts ...Option) *Slack {
	s := &Slack{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, telemetry.TargetWebhook),
		},
		maxTries:   DefaultMaxTries,
		newBackOff: defaultBackOff,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.siteName == "" {
		s.siteName = s.siteURL
	}
	s.logger = s.logger.With("component", "notify")
	return s
}

// Enabled reports whether a webhook is configured.
func (s *Slack) Enabled() bool {
	return s != nil && s.webhookURL != ""
}

// PurgeFailed posts an alert for a failed purge request. It is a no-op when
// no webhook is configured.
func (s *Slack) PurgeFailed(ctx context.Context, ev Event) error {
	if !s.Enabled() {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	return s.post(ctx, s.failureMessage(ev))
}

// SendTest posts a test message so the webhook can be verified.
func (s *Slack) SendTest(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("slack webhook: %w", cachepurge.ErrNotConfigured)
	}
	return s.post(ctx, s.testMessage())
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("slack webhook returned HTTP %d: %s", e.code, e.body)
}

func (s *Slack) post(ctx context.Context, msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return struct{}{}, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &statusError{code: resp.StatusCode, body: string(body)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return struct{}{}, serr
		}
		return struct{}{}, backoff.Permanent(serr)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxTries),
	)
	if err != nil {
		s.logger.Warn("slack notification failed", "error", err)
		return fmt.Errorf("posting slack message: %w", err)
	}
	return nil
}
