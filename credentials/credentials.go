// Package credentials renders a credentials template (cPanel account, Slack
// webhook, admin token) and decodes the result. The rendered document may be
// JSON or YAML.
package credentials

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/template"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// maxDocumentSize caps both the template and its rendered output.
const maxDocumentSize = 1 << 20

// Credentials holds all resolved credential values.
type Credentials struct {
	AuthToken string        `json:"auth_token,omitempty"`
	CPanel    *CPanelConfig `json:"cpanel,omitempty" validate:"omitempty"`
	Slack     *SlackConfig  `json:"slack,omitempty" validate:"omitempty"`
}

// CPanelConfig holds the cPanel account used for full cache purges.
type CPanelConfig struct {
	Hostname string `json:"hostname" validate:"required,hostname_rfc1123|ip"`
	Username string `json:"username" validate:"required"`
	APIKey   string `json:"api_key" validate:"required"`
}

// SlackConfig holds the incoming webhook for failure alerts.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" validate:"omitempty,url"`
}

// Validate checks that any configured section is complete.
func (c *Credentials) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid credentials: %w", err)
	}
	return nil
}

// HasCPanel reports whether a cPanel account is configured.
func (c *Credentials) HasCPanel() bool {
	return c != nil && c.CPanel != nil
}

// SlackWebhookURL returns the configured webhook, or "".
func (c *Credentials) SlackWebhookURL() string {
	if c == nil || c.Slack == nil {
		return ""
	}
	return c.Slack.WebhookURL
}

// Resolver renders a credentials template and decodes the result.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider exposes a secret provider to templates as function name.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a resolver with the built-in template functions.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile resolves the credentials template at path.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer func() { _ = f.Close() }()

	creds, err := r.ResolveReader(ctx, f)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("credentials resolved", "path", path,
		"cpanel", creds.HasCPanel(),
		"slack", creds.SlackWebhookURL() != "",
		"auth_token", creds.AuthToken != "")
	return creds, nil
}

// ResolveReader resolves a credentials template read from reader.
func (r *Resolver) ResolveReader(ctx context.Context, reader io.Reader) (*Credentials, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxDocumentSize)
	}

	rendered, err := r.render(ctx, string(data))
	if err != nil {
		return nil, err
	}

	creds, err := decode(rendered)
	if err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *Resolver) render(ctx context.Context, src string) ([]byte, error) {
	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(r.funcs(ctx)).
		Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	if buf.Len() > maxDocumentSize {
		return nil, fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxDocumentSize)
	}
	return buf.Bytes(), nil
}

// decode parses a rendered document. YAML is a superset of JSON so one
// parser serves both, and numeric scalars are accepted for string fields.
func decode(doc []byte) (*Credentials, error) {
	raw, err := yaml.Parser().Unmarshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decoding rendered credentials: %w", err)
	}
	if len(raw) == 0 {
		return &Credentials{}, nil
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(raw, ""), nil); err != nil {
		return nil, fmt.Errorf("loading rendered credentials: %w", err)
	}

	var creds Credentials
	if err := k.UnmarshalWithConf("", &creds, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decoding rendered credentials: %w", err)
	}
	return &creds, nil
}
