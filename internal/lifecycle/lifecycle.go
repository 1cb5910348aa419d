// Package lifecycle defines the curation record status machine:
//
//	pending -> hashed -> {primary | duplicate} -> scored -> ready_for_export
//
// failed is terminal and reachable from every state. Only maintenance resets
// move a record backwards.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusHashed         Status = "hashed"
	StatusPrimary        Status = "primary"
	StatusDuplicate      Status = "duplicate"
	StatusScored         Status = "scored"
	StatusReadyForExport Status = "ready_for_export"
	StatusFailed         Status = "failed"
)

const maxArticleIDLength = 256

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrMalformedArticleID = errors.New("malformed article_id")
	ErrMissingArticleID   = errors.New("article_id is required")
)

var allStatuses = []Status{
	StatusPending,
	StatusHashed,
	StatusPrimary,
	StatusDuplicate,
	StatusScored,
	StatusReadyForExport,
	StatusFailed,
}

var forward = map[Status][]Status{
	StatusPending:        {StatusHashed},
	StatusHashed:         {StatusPrimary, StatusDuplicate},
	StatusPrimary:        {StatusScored, StatusDuplicate},
	StatusScored:         {StatusReadyForExport, StatusDuplicate},
	StatusReadyForExport: {StatusDuplicate},
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func Parse(raw string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range allStatuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

func (s Status) String() string { return string(s) }

// IsClusterRoot reports whether a record in this status heads its cluster.
// scored and ready_for_export records are primaries that progressed further.
func (s Status) IsClusterRoot() bool {
	switch s {
	case StatusPrimary, StatusScored, StatusReadyForExport:
		return true
	default:
		return false
	}
}

// IsResolved reports whether dedup resolution has completed for the record.
func (s Status) IsResolved() bool {
	return s == StatusDuplicate || s.IsClusterRoot()
}

// CanTransition reports whether from -> to is a legal forward move.
// Re-asserting the current status is allowed and is a no-op for callers.
// root -> duplicate exists only for the exact-hash takeover, where an
// earlier-inserted record claims an existing cluster.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition with an error naming the move.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateArticleID separates recoverable problems (blank id, retried once
// upstream fills it) from unrecoverable ones (control characters, embedded
// whitespace, oversize) that move the record to failed.
func ValidateArticleID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingArticleID
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: invalid utf-8", ErrMalformedArticleID)
	}
	if len(id) > maxArticleIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrMalformedArticleID, maxArticleIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrMalformedArticleID)
		}
	}
	return nil
}
