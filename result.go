package cachepurge

import "fmt"

// Result is the outcome of purging a single URL or of a wildcard purge.
type Result struct {
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"` // zero when no response was received
	Message string `json:"message"`
}

// Summary aggregates the per-URL results of a batch purge.
//
// Purged + Failed always equals len(Results).
type Summary struct {
	Purged  int               `json:"purged"`
	Failed  int               `json:"failed"`
	Results map[string]Result `json:"urls"`
}

// NewSummary returns an empty summary ready for Add.
func NewSummary() Summary {
	return Summary{Results: make(map[string]Result)}
}

// Add records the result for url, replacing any earlier result for the same
// URL so the count invariant holds.
func (s *Summary) Add(url string, r Result) {
	if s.Results == nil {
		s.Results = make(map[string]Result)
	}
	if prev, ok := s.Results[url]; ok {
		if prev.Success {
			s.Purged--
		} else {
			s.Failed--
		}
	}
	s.Results[url] = r
	if r.Success {
		s.Purged++
	} else {
		s.Failed++
	}
}

// Success reports whether no URL in the batch failed. An empty batch is a
// success.
func (s Summary) Success() bool {
	return s.Failed == 0
}

// Message returns a one-line description of the batch.
func (s Summary) Message() string {
	if len(s.Results) == 0 {
		return "No URLs to purge"
	}
	return fmt.Sprintf("Purged %d URLs, %d failed", s.Purged, s.Failed)
}
