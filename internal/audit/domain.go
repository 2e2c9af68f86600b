// Package audit keeps the append-only period closing log. Entries capture
// who did what to a period, with opaque before/after state snapshots.
package audit

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Action enumerates period lifecycle actions recorded in the log.
type Action string

const (
	ActionCreated             Action = "Created"
	ActionClosed              Action = "Closed"
	ActionReopened            Action = "Reopened"
	ActionPermanentlyClosed   Action = "Permanently Closed"
	ActionTransactionModified Action = "Transaction Modified"
)

// KnownAction reports whether the value is a recognised action type.
func KnownAction(a Action) bool {
	switch a {
	case ActionCreated, ActionClosed, ActionReopened, ActionPermanentlyClosed, ActionTransactionModified:
		return true
	default:
		return false
	}
}

// Entry is one log record to append. Snapshots are opaque JSON payloads and
// are stored byte-structurally; their shape intentionally varies per action.
type Entry struct {
	// Key deduplicates retried appends. Assigned when empty.
	Key             string          `json:"key"`
	PeriodRef       string          `json:"period_ref"`
	Action          Action          `json:"action"`
	Actor           string          `json:"actor"`
	Reason          string          `json:"reason,omitempty"`
	Before          json.RawMessage `json:"before_snapshot,omitempty"`
	After           json.RawMessage `json:"after_snapshot,omitempty"`
	TransactionRef  string          `json:"transaction_ref,omitempty"`
	TransactionKind string          `json:"transaction_kind,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// Validate ensures an entry is well formed before it is persisted.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.PeriodRef) == "" {
		return errors.New("audit: period reference required")
	}
	if !KnownAction(e.Action) {
		return errors.New("audit: unknown action type")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("audit: actor required")
	}
	if e.Action == ActionTransactionModified && strings.TrimSpace(e.TransactionRef) == "" {
		return errors.New("audit: transaction reference required for transaction modifications")
	}
	for _, snap := range []json.RawMessage{e.Before, e.After} {
		if len(snap) > 0 && !json.Valid(snap) {
			return errors.New("audit: snapshot is not valid JSON")
		}
	}
	return nil
}

// Stored is a persisted log entry.
type Stored struct {
	ID int64 `json:"id"`
	Entry
}

// Filter narrows a log query. Zero values match everything; when both
// PeriodRef and Action are set they must both match.
type Filter struct {
	PeriodRef string
	Action    Action
	Limit     int
	Offset    int
}

// Page is one window of log entries with the total match count.
type Page struct {
	Entries    []Stored `json:"entries"`
	TotalCount int      `json:"total_count"`
}
