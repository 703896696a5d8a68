package trending

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailure is returned when a scrape produced no usable rows
	// or the extraction collaborator failed outright.
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrInvalidChain is returned for chain identifiers that fail validation.
	ErrInvalidChain = errors.New("invalid chain")
)

// ExtractionFailure describes a failed lookup. It matches ErrExtractionFailure
// and, when set, the underlying cause.
type ExtractionFailure struct {
	Chain    string
	Rows     int   // raw rows considered
	Rejected int   // rows dropped during validation
	Cause    error // extractor error, nil when all rows were rejected
}

func (e *ExtractionFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failure for chain %q: %v", e.Chain, e.Cause)
	}
	return fmt.Sprintf("extraction failure for chain %q: no valid rows (%d considered, %d rejected)",
		e.Chain, e.Rows, e.Rejected)
}

func (e *ExtractionFailure) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExtractionFailure}
	}
	return []error{ErrExtractionFailure, e.Cause}
}
