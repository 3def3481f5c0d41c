package cachepurge

import (
	"fmt"
	"net/url"
	"strings"
)

// WildcardSuffix is appended to purge paths so every cached variant of a
// resource (gzip, br, identity) is invalidated together.
const WildcardSuffix = "/*"

// Target is a single URL to be purged, decomposed into the parts the
// loopback PURGE request needs.
type Target struct {
	RawURL string
	Host   string
	Path   string
	Query  string
}

// ParseTarget decomposes rawURL into a Target. The host must be present
// since it becomes the Host header of the loopback request.
func ParseTarget(rawURL string) (Target, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Target{}, fmt.Errorf("%w: empty URL", ErrInvalidTarget)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("%w: %q has no host", ErrInvalidTarget, rawURL)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	return Target{
		RawURL: rawURL,
		Host:   u.Host,
		Path:   path,
		Query:  u.RawQuery,
	}, nil
}

// WildcardPath returns the path with any trailing slash trimmed and the
// wildcard suffix appended. The site root becomes "/*".
func (t Target) WildcardPath() string {
	return strings.TrimRight(t.Path, "/") + WildcardSuffix
}

// RequestURI returns the wildcard path followed by the query string, if any.
func (t Target) RequestURI() string {
	if t.Query == "" {
		return t.WildcardPath()
	}
	return t.WildcardPath() + "?" + t.Query
}

// String returns the original URL.
func (t Target) String() string {
	return t.RawURL
}
