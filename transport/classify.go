package transport

import (
	"net/http"
	"strings"
)

// Response signatures of the cache purge module. These strings are part of
// the module's wire contract.
const (
	SignaturePurged    = "Successful purge"
	SignatureNotCached = "Precondition Failed"
)

// Outcome classifies a PURGE response.
type Outcome int

const (
	// OutcomeUnexpected is any response without a module signature.
	OutcomeUnexpected Outcome = iota
	// OutcomePurged is a 200 carrying the success signature.
	OutcomePurged
	// OutcomeNotCached is a 412 carrying the precondition signature; the
	// module is present but the resource was not cached.
	OutcomeNotCached
	// OutcomeModuleMissing is a 404 or 301 without a signature.
	OutcomeModuleMissing
	// OutcomeMethodNotAllowed is a 405 without a signature.
	OutcomeMethodNotAllowed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePurged:
		return "purged"
	case OutcomeNotCached:
		return "not_cached"
	case OutcomeModuleMissing:
		return "module_missing"
	case OutcomeMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "unexpected"
	}
}

// ModulePresent reports whether the response proves the purge module answered.
func (o Outcome) ModulePresent() bool {
	return o == OutcomePurged || o == OutcomeNotCached
}

// Classify maps a response to an Outcome. A status code alone is never
// enough for a positive outcome; the body must carry the signature.
func Classify(resp Response) Outcome {
	switch resp.StatusCode {
	case http.StatusOK:
		if strings.Contains(resp.Body, SignaturePurged) {
			return OutcomePurged
		}
	case http.StatusPreconditionFailed:
		if strings.Contains(resp.Body, SignatureNotCached) {
			return OutcomeNotCached
		}
	case http.StatusNotFound, http.StatusMovedPermanently:
		return OutcomeModuleMissing
	case http.StatusMethodNotAllowed:
		return OutcomeMethodNotAllowed
	}
	return OutcomeUnexpected
}
