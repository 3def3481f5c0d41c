// Package enumerate computes the cached URLs affected by a content change.
package enumerate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	cachepurge "github.com/wolfeidau/cache-purge"
)

const (
	// DefaultRESTPrefix is the path prefix of the CMS REST API.
	DefaultRESTPrefix = "wp-json"
	// DefaultFeedBase is the path of the default syndication feed.
	DefaultFeedBase = "feed"
	// NamedFeed is the additional feed purged alongside the default one.
	NamedFeed = "rss2"
)

// Site describes the URL layout of the site being purged.
type Site struct {
	// URL is the site root, e.g. https://example.com/.
	URL string
	// PostsPageURL is the designated posts listing page, if distinct from the root.
	PostsPageURL string
	RESTPrefix   string
	FeedBase     string
}

// Extension contributes additional URLs for a change.
type Extension interface {
	URLs(ctx context.Context, change cachepurge.ContentChange) []string
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(ctx context.Context, change cachepurge.ContentChange) []string

// URLs implements Extension.
func (f ExtensionFunc) URLs(ctx context.Context, change cachepurge.ContentChange) []string {
	return f(ctx, change)
}

// Enumerator computes purge URL sets.
type Enumerator struct {
	home       string // site root with exactly one trailing slash
	site       Site
	extensions []Extension
	logger     *slog.Logger
}

// Option configures an Enumerator.
type Option func(*Enumerator)

// WithExtension registers extensions, run in registration order after the
// built-in sources.
func WithExtension(ext ...Extension) Option {
	return func(e *Enumerator) {
		e.extensions = append(e.extensions, ext...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enumerator) {
		e.logger = logger
	}
}

// New creates an Enumerator for site.
func New(site Site, opts ...Option) (*Enumerator, error) {
	if _, err := cachepurge.ParseTarget(site.URL); err != nil {
		return nil, fmt.Errorf("parsing site url: %w", err)
	}
	if site.RESTPrefix == "" {
		site.RESTPrefix = DefaultRESTPrefix
	}
	if site.FeedBase == "" {
		site.FeedBase = DefaultFeedBase
	}

	e := &Enumerator{
		home:   strings.TrimRight(site.URL, "/") + "/",
		site:   site,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "enumerate")
	return e, nil
}

// Home returns the site root with a trailing slash.
func (e *Enumerator) Home() string {
	return e.home
}

// Enumerate returns the deduplicated URLs invalidated by change, in a
// deterministic order. Links the CMS could not resolve contribute nothing.
func (e *Enumerator) Enumerate(ctx context.Context, change cachepurge.ContentChange) []string {
	var urls []string
	add := func(u ...string) { urls = append(urls, u...) }

	if change.Permalink != "" {
		add(change.Permalink, untrailingSlash(change.Permalink))
	}

	add(e.home, untrailingSlash(e.home))

	if e.site.PostsPageURL != "" {
		add(e.site.PostsPageURL)
	}

	for _, term := range change.Terms {
		add(term.Link)
	}

	add(change.AuthorURL)

	add(e.dateArchives(change)...)

	if !change.IsBuiltinType() {
		add(change.ArchiveURL)
	}

	feed := e.link(e.site.FeedBase)
	add(feed, feed+NamedFeed+"/")

	if change.ID > 0 {
		add(e.restURL(change))
	}

	add(change.ExtraURLs...)

	for _, ext := range e.extensions {
		add(ext.URLs(ctx, change)...)
	}

	out := cachepurge.DedupeURLs(urls)
	e.logger.Debug("enumerated purge urls", "id", change.ID, "type", change.PostType(), "count", len(out))
	return out
}

func (e *Enumerator) dateArchives(change cachepurge.ContentChange) []string {
	if change.PublishedAt.IsZero() {
		return nil
	}
	y, m, d := change.PublishedAt.Date()
	year := e.link(strconv.Itoa(y))
	month := fmt.Sprintf("%s%02d/", year, int(m))
	day := fmt.Sprintf("%s%02d/", month, d)
	return []string{year, month, day}
}

func (e *Enumerator) restURL(change cachepurge.ContentChange) string {
	return fmt.Sprintf("%swp/v2/%s/%d", e.link(e.site.RESTPrefix), change.PostType(), change.ID)
}

// link joins path under the site root with a trailing slash.
func (e *Enumerator) link(path string) string {
	return e.home + strings.Trim(path, "/") + "/"
}

func untrailingSlash(u string) string {
	return strings.TrimRight(u, "/")
}
