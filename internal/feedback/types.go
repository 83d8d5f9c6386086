// Package feedback records the accept/reject decisions users make on
// assistant-suggested cohort changes. The log is an audit trail and the raw
// material for evaluating suggestion quality over time.
package feedback

import (
	"context"
	"io"
	"time"
)

// Verdict is the user's decision on a suggested change.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Entry is one recorded decision.
type Entry struct {
	ID       int64   `json:"id,omitempty"`
	CohortID string  `json:"cohort_id"`
	Prompt   string  `json:"prompt"`            // user message that produced the suggestion
	Summary  string  `json:"summary,omitempty"` // assistant's description of the change
	Verdict  Verdict `json:"verdict"`
	Notes    string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store persists the decision log.
type Store interface {
	// Save appends a decision and assigns its id.
	Save(ctx context.Context, entry *Entry) error

	// ListByCohort returns a cohort's decisions, newest first.
	ListByCohort(ctx context.Context, cohortID string, limit, offset int) ([]*Entry, error)

	// Count returns the total number of recorded decisions.
	Count(ctx context.Context) (int64, error)

	// Delete removes a decision by id.
	Delete(ctx context.Context, id int64) error

	// ExportJSON writes the full log as JSON.
	ExportJSON(ctx context.Context, w io.Writer) error

	Close() error
}

// Export is the JSON export envelope.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Entries    []*Entry  `json:"entries"`
}
