package cachepurge

import "time"

// Default post types that are covered by the site root and posts page and
// therefore have no archive of their own.
const (
	PostTypePost = "post"
	PostTypePage = "page"
)

// Term is a taxonomy membership of a content item, with the archive link the
// host CMS resolved for it. Category and post_tag are ordinary taxonomies.
type Term struct {
	Taxonomy string `json:"taxonomy"`
	Slug     string `json:"slug,omitempty"`
	Link     string `json:"link"`
}

// ContentChange describes a content item that was published, updated or
// transitioned. It is supplied by the host CMS; links the CMS could not
// resolve are left empty.
type ContentChange struct {
	ID          int64     `json:"id" validate:"required,gt=0"`
	Type        string    `json:"type,omitempty"`
	Title       string    `json:"title,omitempty"`
	Permalink   string    `json:"permalink,omitempty" validate:"omitempty,url"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	AuthorURL   string    `json:"author_url,omitempty"`
	ArchiveURL  string    `json:"archive_url,omitempty"`
	Terms       []Term    `json:"terms,omitempty"`

	// ExtraURLs are additional URLs the CMS wants purged for this change.
	ExtraURLs []string `json:"extra_urls,omitempty"`
}

// PostType returns the content type, defaulting to "post".
func (c ContentChange) PostType() string {
	if c.Type == "" {
		return PostTypePost
	}
	return c.Type
}

// IsBuiltinType reports whether the content is a default post or page.
func (c ContentChange) IsBuiltinType() bool {
	t := c.PostType()
	return t == PostTypePost || t == PostTypePage
}
