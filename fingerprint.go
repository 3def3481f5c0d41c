package cachepurge

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the size of a BLAKE3 fingerprint in bytes.
const FingerprintSize = 32

// Fingerprint identifies a purge request by its kind and URL set.
type Fingerprint [FingerprintSize]byte

// String returns the hex-encoded fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ShortString returns a shortened hex representation for logs.
func (f Fingerprint) ShortString() string {
	return hex.EncodeToString(f[:8])
}

// IsZero returns true if the fingerprint is all zeros.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// FingerprintRequest hashes a request kind together with its URLs. The URL
// order does not matter and duplicates are ignored, so two requests that would
// purge the same set produce the same fingerprint.
func FingerprintRequest(kind string, urls []string) Fingerprint {
	sorted := DedupeURLs(urls)
	sort.Strings(sorted)

	h := blake3.New()
	_, _ = h.Write([]byte(kind))
	for _, u := range sorted {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(u))
	}

	var f Fingerprint
	h.Sum(f[:0])
	return f
}

// DedupeURLs drops empty strings and exact duplicates, keeping first-seen order.
func DedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
