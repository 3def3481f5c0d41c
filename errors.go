// Package cachepurge holds the data model shared by the selective NGINX
// cache-purge subsystem: purge targets, per-URL results, batch summaries,
// content-change events and the capability verdict of the upstream proxy.
package cachepurge

import "errors"

var (
	// ErrTransport marks network, DNS or TLS failures reaching the loopback
	// proxy or the UAPI host.
	ErrTransport = errors.New("transport error")

	// ErrSignatureMismatch is returned when a response was received but did not
	// carry the purge module's signature.
	ErrSignatureMismatch = errors.New("purge module signature mismatch")

	// ErrNotConfigured is returned when a required collaborator (UAPI
	// credentials, capability verdict) has not been configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidTarget is returned for empty or unparsable purge URLs.
	ErrInvalidTarget = errors.New("invalid purge target")

	// ErrNotFound is returned by stores when no value has been written.
	ErrNotFound = errors.New("not found")
)
