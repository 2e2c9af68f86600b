package periods

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerdesk/ledgerdesk/internal/audit"
	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
	"github.com/ledgerdesk/ledgerdesk/internal/validation"
)

// Gateway is the slice of the ledger backend used by the state machine.
type Gateway interface {
	GetPeriod(ctx context.Context, name string) (gateway.Period, error)
	CreatePeriod(ctx context.Context, period gateway.Period) (gateway.Period, error)
	UpdatePeriod(ctx context.Context, name string, patch gateway.PeriodPatch) (gateway.Period, error)
	MakeClosingEntry(ctx context.Context, company, periodName string) (string, error)
}

// Validator runs closing-readiness checks for a period.
type Validator interface {
	Validate(ctx context.Context, scope validation.Scope, cfg validation.Config) (validation.Report, error)
}

// AuditLog appends lifecycle entries.
type AuditLog interface {
	Append(ctx context.Context, entry audit.Entry) (audit.Stored, error)
}

// RetryQueue re-delivers audit entries whose synchronous append failed.
type RetryQueue interface {
	EnqueueAuditRetry(ctx context.Context, entry audit.Entry) error
}

// Metrics records transition outcomes. Implemented by observability.
type Metrics interface {
	TransitionApplied(action string)
	AuditWriteFailed()
}

// Service is the period state machine. Its transition methods are the only
// writers of period status.
type Service struct {
	gw       Gateway
	engine   Validator
	auditLog AuditLog
	retries  RetryQueue
	locks    *Locker
	metrics  Metrics
	logger   *slog.Logger
	checks   validation.Config
	now      func() time.Time
}

// NewService constructs the state machine. retries and metrics may be nil.
func NewService(gw Gateway, engine Validator, auditLog AuditLog, locks *Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = NewLocker(nil)
	}
	return &Service{
		gw:       gw,
		engine:   engine,
		auditLog: auditLog,
		locks:    locks,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetryQueue wires the background audit retry queue.
func (s *Service) WithRetryQueue(queue RetryQueue) {
	s.retries = queue
}

// WithMetrics wires transition counters.
func (s *Service) WithMetrics(metrics Metrics) {
	s.metrics = metrics
}

// WithChecks overrides the validation config applied during Close.
func (s *Service) WithChecks(cfg validation.Config) {
	s.checks = cfg
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get loads a period and checks company ownership.
func (s *Service) Get(ctx context.Context, name, company string) (Period, error) {
	doc, err := s.gw.GetPeriod(ctx, name)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	period := fromGateway(doc)
	if company != "" && period.Company != company {
		return Period{}, ErrWrongCompany
	}
	return period, nil
}

// Create registers a new period on the backend and audits the creation.
func (s *Service) Create(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	doc, err := s.gw.CreatePeriod(ctx, gateway.Period{
		Name:       in.Name,
		Label:      in.Label,
		Company:    in.Company,
		StartDate:  gateway.DateOf(in.StartDate),
		EndDate:    gateway.DateOf(in.EndDate),
		PeriodType: string(in.Type),
		Status:     string(StatusOpen),
	})
	if err != nil {
		return Period{}, err
	}
	period := fromGateway(doc)
	s.appendAudit(ctx, audit.Entry{
		PeriodRef: period.Name,
		Action:    audit.ActionCreated,
		Actor:     in.Actor,
		After:     statusSnapshot(map[string]any{"status": string(StatusOpen), "company": period.Company}),
	})
	return period, nil
}

// Validate runs the closing-readiness checks for a period without touching
// its status. A non-nil overrides config replaces the service-level check
// config for this run only.
func (s *Service) Validate(ctx context.Context, name, company string, overrides validation.Config) (validation.Report, error) {
	period, err := s.Get(ctx, name, company)
	if err != nil {
		return validation.Report{}, err
	}
	cfg := s.checks
	if overrides != nil {
		cfg = overrides
	}
	return s.engine.Validate(ctx, scopeFor(period), cfg)
}

// Close transitions an open period to Closed. It re-validates, writes the
// closing journal through the backend, updates status, and audits. Any
// error-severity validation failure rejects the transition with the full
// blocking list; warnings do not block.
func (s *Service) Close(ctx context.Context, name, company, actor string) (Period, error) {
	if strings.TrimSpace(actor) == "" {
		return Period{}, fmt.Errorf("periods: actor required")
	}
	release, err := s.locks.Acquire(ctx, name)
	if err != nil {
		return Period{}, err
	}
	defer release()

	period, err := s.Get(ctx, name, company)
	if err != nil {
		return Period{}, err
	}
	if !CanTransition(period.Status, StatusClosed) {
		return Period{}, &InvalidTransitionError{Current: period.Status, Attempted: TransitionClose}
	}

	report, err := s.engine.Validate(ctx, scopeFor(period), s.checks)
	if err != nil {
		return Period{}, fmt.Errorf("periods: validation run failed: %w", err)
	}
	var blocking []validation.Result
	for _, res := range report.Results {
		if !res.Passed && res.Severity == validation.SeverityError {
			blocking = append(blocking, res)
		}
	}
	if len(blocking) > 0 {
		return Period{}, &InvalidTransitionError{Current: period.Status, Attempted: TransitionClose, Blocking: blocking}
	}

	journal, err := s.gw.MakeClosingEntry(ctx, period.Company, period.Name)
	if err != nil {
		return Period{}, fmt.Errorf("periods: closing journal: %w", err)
	}

	closedOn := s.now().UTC()
	patch := gateway.PeriodPatch{
		Status:         ptr(string(StatusClosed)),
		ClosedBy:       ptr(actor),
		ClosedOn:       ptr(closedOn.Format(time.RFC3339)),
		ClosingJournal: ptr(journal),
	}
	doc, err := s.gw.UpdatePeriod(ctx, period.Name, patch)
	if err != nil {
		// The journal exists on the backend but the period still reads
		// Open. Surface the journal reference so an operator can
		// reconcile; nothing is audited for an uncommitted transition.
		return Period{}, fmt.Errorf("%w: journal %s: %v", ErrReconcileNeeded, journal, err)
	}
	updated := fromGateway(doc)

	s.appendAudit(ctx, audit.Entry{
		PeriodRef: period.Name,
		Action:    audit.ActionClosed,
		Actor:     actor,
		Before:    statusSnapshot(map[string]any{"status": string(period.Status)}),
		After: statusSnapshot(map[string]any{
			"status":          string(StatusClosed),
			"closed_by":       actor,
			"closing_journal": journal,
		}),
	})
	s.countTransition(TransitionClose)
	return updated, nil
}

// Reopen transitions a closed period back to Open. The reason is mandatory
// and recorded in the audit trail.
func (s *Service) Reopen(ctx context.Context, name, company, actor, reason string) (Period, error) {
	if strings.TrimSpace(reason) == "" {
		return Period{}, ErrReasonRequired
	}
	if strings.TrimSpace(actor) == "" {
		return Period{}, fmt.Errorf("periods: actor required")
	}
	release, err := s.locks.Acquire(ctx, name)
	if err != nil {
		return Period{}, err
	}
	defer release()

	period, err := s.Get(ctx, name, company)
	if err != nil {
		return Period{}, err
	}
	if !CanTransition(period.Status, StatusOpen) {
		return Period{}, &InvalidTransitionError{Current: period.Status, Attempted: TransitionReopen}
	}

	doc, err := s.gw.UpdatePeriod(ctx, period.Name, gateway.PeriodPatch{Status: ptr(string(StatusOpen))})
	if err != nil {
		return Period{}, err
	}
	updated := fromGateway(doc)

	s.appendAudit(ctx, audit.Entry{
		PeriodRef: period.Name,
		Action:    audit.ActionReopened,
		Actor:     actor,
		Reason:    reason,
		Before:    statusSnapshot(map[string]any{"status": string(period.Status)}),
		After:     statusSnapshot(map[string]any{"status": string(StatusOpen)}),
	})
	s.countTransition(TransitionReopen)
	return updated, nil
}

// PermanentlyClose makes a closed period terminal. Any later transition
// attempt on the period is rejected deterministically.
func (s *Service) PermanentlyClose(ctx context.Context, name, company, actor string) (Period, error) {
	if strings.TrimSpace(actor) == "" {
		return Period{}, fmt.Errorf("periods: actor required")
	}
	release, err := s.locks.Acquire(ctx, name)
	if err != nil {
		return Period{}, err
	}
	defer release()

	period, err := s.Get(ctx, name, company)
	if err != nil {
		return Period{}, err
	}
	if !CanTransition(period.Status, StatusPermanentlyClosed) {
		return Period{}, &InvalidTransitionError{Current: period.Status, Attempted: TransitionPermanentlyClose}
	}

	doc, err := s.gw.UpdatePeriod(ctx, period.Name, gateway.PeriodPatch{Status: ptr(string(StatusPermanentlyClosed))})
	if err != nil {
		return Period{}, err
	}
	updated := fromGateway(doc)

	s.appendAudit(ctx, audit.Entry{
		PeriodRef: period.Name,
		Action:    audit.ActionPermanentlyClosed,
		Actor:     actor,
		Before:    statusSnapshot(map[string]any{"status": string(period.Status)}),
		After:     statusSnapshot(map[string]any{"status": string(StatusPermanentlyClosed)}),
	})
	s.countTransition(TransitionPermanentlyClose)
	return updated, nil
}

// OverrideTransaction records an administrative modification of a posted
// transaction inside a closed period. Period status is untouched; the
// action exists so the audit trail explains the out-of-band change.
func (s *Service) OverrideTransaction(ctx context.Context, in OverrideInput) (audit.Stored, error) {
	if err := in.Validate(); err != nil {
		return audit.Stored{}, err
	}
	period, err := s.Get(ctx, in.PeriodName, in.Company)
	if err != nil {
		return audit.Stored{}, err
	}
	if period.Status != StatusClosed {
		return audit.Stored{}, &InvalidTransitionError{Current: period.Status, Attempted: "override_transaction"}
	}
	entry := audit.Entry{
		PeriodRef:       period.Name,
		Action:          audit.ActionTransactionModified,
		Actor:           in.Actor,
		Reason:          in.Reason,
		TransactionRef:  in.TransactionRef,
		TransactionKind: in.TransactionKind,
	}
	stored, err := s.auditLog.Append(ctx, entry)
	if err != nil {
		return audit.Stored{}, fmt.Errorf("periods: record transaction override: %w", err)
	}
	return stored, nil
}

// appendAudit writes the audit entry for a committed transition. Failures
// are non-fatal for the transition itself: the status already changed on
// the backend, so the entry is logged, counted, and handed to the retry
// queue instead of failing the caller.
func (s *Service) appendAudit(ctx context.Context, entry audit.Entry) {
	if s.auditLog == nil {
		return
	}
	_, err := s.auditLog.Append(ctx, entry)
	if err == nil {
		return
	}
	s.logger.Error("audit write failed after committed transition",
		slog.String("period", entry.PeriodRef),
		slog.String("action", string(entry.Action)),
		slog.Any("error", err),
	)
	if s.metrics != nil {
		s.metrics.AuditWriteFailed()
	}
	if s.retries != nil {
		if err := s.retries.EnqueueAuditRetry(ctx, entry); err != nil {
			s.logger.Error("enqueue audit retry", slog.Any("error", err))
		}
	}
}

func (s *Service) countTransition(action string) {
	if s.metrics != nil {
		s.metrics.TransitionApplied(action)
	}
}

func scopeFor(period Period) validation.Scope {
	return validation.Scope{
		PeriodName: period.Name,
		Company:    period.Company,
		StartDate:  gateway.DateOf(period.StartDate),
		EndDate:    gateway.DateOf(period.EndDate),
	}
}

func statusSnapshot(state map[string]any) json.RawMessage {
	data, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	return data
}

func ptr(value string) *string {
	return &value
}
