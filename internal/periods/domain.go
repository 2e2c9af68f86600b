// Package periods owns the accounting period lifecycle. Its service is the
// only writer of period status; every transition goes through the legal
// transition table and leaves an audit log entry.
package periods

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
	"github.com/ledgerdesk/ledgerdesk/internal/validation"
)

// Status enumerates period lifecycle stages.
type Status string

const (
	StatusOpen              Status = "Open"
	StatusClosed            Status = "Closed"
	StatusPermanentlyClosed Status = "Permanently Closed"
)

// PeriodType classifies the fiscal interval length.
type PeriodType string

const (
	TypeMonthly   PeriodType = "Monthly"
	TypeQuarterly PeriodType = "Quarterly"
	TypeYearly    PeriodType = "Yearly"
)

// Transition names used in rejections and audit records.
const (
	TransitionClose            = "close"
	TransitionReopen           = "reopen"
	TransitionPermanentlyClose = "permanently_close"
)

// legalTransitions is the full transition table. Permanently closed periods
// accept nothing.
var legalTransitions = map[Status][]Status{
	StatusOpen:              {StatusClosed},
	StatusClosed:            {StatusOpen, StatusPermanentlyClosed},
	StatusPermanentlyClosed: {},
}

// CanTransition reports whether the edge from→to is legal.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Period is the parsed view of the backend's Accounting Period record.
type Period struct {
	Name           string     `json:"name"`
	Label          string     `json:"label,omitempty"`
	Company        string     `json:"company"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	Type           PeriodType `json:"period_type"`
	Status         Status     `json:"status"`
	ClosedBy       string     `json:"closed_by,omitempty"`
	ClosedOn       *time.Time `json:"closed_on,omitempty"`
	ClosingJournal string     `json:"closing_journal,omitempty"`
}

func fromGateway(doc gateway.Period) Period {
	period := Period{
		Name:           doc.Name,
		Label:          doc.Label,
		Company:        doc.Company,
		StartDate:      doc.StartDate.Time,
		EndDate:        doc.EndDate.Time,
		Type:           PeriodType(doc.PeriodType),
		Status:         Status(doc.Status),
		ClosedBy:       doc.ClosedBy,
		ClosingJournal: doc.ClosingJournal,
	}
	if doc.ClosedOn != "" {
		if t, err := time.Parse(time.RFC3339, doc.ClosedOn); err == nil {
			period.ClosedOn = &t
		}
	}
	return period
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	Name      string
	Label     string
	Company   string
	StartDate time.Time
	EndDate   time.Time
	Type      PeriodType
	Actor     string
}

// Validate ensures the create input is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("periods: name required")
	}
	if strings.TrimSpace(in.Company) == "" {
		return errors.New("periods: company required")
	}
	if strings.TrimSpace(in.Actor) == "" {
		return errors.New("periods: actor required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return errors.New("periods: start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return errors.New("periods: start date cannot be after end date")
	}
	switch in.Type {
	case TypeMonthly, TypeQuarterly, TypeYearly:
	default:
		return fmt.Errorf("periods: unknown period type %q", in.Type)
	}
	return nil
}

// OverrideInput identifies a posted transaction being modified inside a
// closed period.
type OverrideInput struct {
	PeriodName      string
	Company         string
	Actor           string
	TransactionRef  string
	TransactionKind string
	Reason          string
}

// Validate checks the mandatory override fields.
func (in OverrideInput) Validate() error {
	if strings.TrimSpace(in.TransactionRef) == "" || strings.TrimSpace(in.TransactionKind) == "" {
		return errors.New("periods: transaction reference and kind required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return ErrReasonRequired
	}
	if strings.TrimSpace(in.Actor) == "" {
		return errors.New("periods: actor required")
	}
	return nil
}

// ErrReasonRequired is returned when a reopen or override carries no reason.
var ErrReasonRequired = errors.New("periods: reason required")

// ErrPeriodNotFound indicates the backend has no such period.
var ErrPeriodNotFound = errors.New("periods: period not found")

// ErrWrongCompany indicates the period belongs to a different company.
var ErrWrongCompany = errors.New("periods: period does not belong to company")

// ErrTransitionInFlight indicates another transition currently holds the
// period lock.
var ErrTransitionInFlight = errors.New("periods: another transition is in progress for this period")

// ErrReconcileNeeded wraps the case where the closing journal was written
// but the status update failed; an operator must reconcile.
var ErrReconcileNeeded = errors.New("periods: closing journal written but status update failed")

// InvalidTransitionError rejects an illegal transition. Blocking carries
// every failing error-severity validation result so callers can surface all
// of them at once.
type InvalidTransitionError struct {
	Current   Status
	Attempted string
	Blocking  []validation.Result
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Blocking) > 0 {
		return fmt.Sprintf("periods: cannot %s period in status %q: %d validation checks blocking", e.Attempted, e.Current, len(e.Blocking))
	}
	return fmt.Sprintf("periods: cannot %s period in status %q", e.Attempted, e.Current)
}
