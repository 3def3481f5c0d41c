// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// requestIDKey is the context key for the request id.
	requestIDKey contextKey = "request_id"
)

// PurgeMode records which purge path served a request.
type PurgeMode string

const (
	PurgeSelective PurgeMode = "selective"
	PurgeFull      PurgeMode = "full"
	PurgeNone      PurgeMode = "none"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Endpoint  string
	PurgeMode PurgeMode
	Fallback  bool
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{PurgeMode: PurgeNone}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetEndpoint sets the endpoint name for logging and metrics.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetPurgeMode records the final purge mode and whether a fallback happened.
func SetPurgeMode(r *http.Request, mode PurgeMode, fallback bool) {
	if tags := GetTags(r); tags != nil {
		tags.PurgeMode = mode
		tags.Fallback = fallback
	}
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "" when none was set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
