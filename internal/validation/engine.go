package validation

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// checkConcurrency bounds parallel backend round trips per validation run.
const checkConcurrency = 4

// Config toggles individual checks by name. A nil config or an absent key
// leaves the check enabled.
type Config map[string]bool

// Enabled reports whether the named check should run.
func (c Config) Enabled(name string) bool {
	if c == nil {
		return true
	}
	enabled, ok := c[name]
	if !ok {
		return true
	}
	return enabled
}

// Report aggregates the outcome of one validation run. Results keep the
// registry declaration order regardless of completion order.
type Report struct {
	AllPassed bool     `json:"all_passed"`
	Results   []Result `json:"validations"`
}

// Engine composes the enabled check set and runs it against the backend.
type Engine struct {
	reader LedgerReader
	logger *slog.Logger
}

// NewEngine constructs a validation engine.
func NewEngine(reader LedgerReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reader: reader, logger: logger}
}

// Validate runs every enabled check concurrently and joins the results.
// A check's internal failure never aborts the others; it is absorbed into
// that check's result per its fallback policy.
func (e *Engine) Validate(ctx context.Context, scope Scope, cfg Config) (Report, error) {
	if e == nil || e.reader == nil {
		return Report{}, fmt.Errorf("validation: engine not configured")
	}
	if scope.PeriodName == "" || scope.Company == "" {
		return Report{}, fmt.Errorf("validation: period and company required")
	}
	if scope.StartDate.After(scope.EndDate.Time) {
		return Report{}, fmt.Errorf("validation: start date after end date")
	}

	enabled := make([]check, 0, len(registry))
	for _, c := range registry {
		if cfg.Enabled(c.name) {
			enabled = append(enabled, c)
		}
	}

	results := make([]Result, len(enabled))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(checkConcurrency)
	for i, c := range enabled {
		group.Go(func() error {
			results[i] = e.runOne(groupCtx, c, scope)
			return nil
		})
	}
	// Workers never return errors; failures are folded into results.
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{AllPassed: true, Results: results}
	for _, res := range results {
		if !res.Passed {
			report.AllPassed = false
			break
		}
	}
	return report, nil
}

func (e *Engine) runOne(ctx context.Context, c check, scope Scope) Result {
	details, err := c.run(ctx, e.reader, scope)
	if err != nil {
		e.logger.Warn("validation check failed to complete",
			slog.String("check", c.name),
			slog.String("period", scope.PeriodName),
			slog.Any("error", err),
		)
		if c.fallback == fallbackFailClosed {
			return Result{
				Check:    c.name,
				Passed:   false,
				Severity: c.severity,
				Message:  fmt.Sprintf("Check could not complete: %v", err),
				Details:  []RecordRef{},
			}
		}
		return Result{
			Check:    c.name,
			Passed:   true,
			Severity: c.severity,
			Message:  fmt.Sprintf("Check skipped, no data available: %v", err),
			Details:  []RecordRef{},
		}
	}
	if details == nil {
		details = []RecordRef{}
	}
	res := Result{
		Check:    c.name,
		Passed:   len(details) == 0,
		Severity: c.severity,
		Message:  c.okMsg,
		Details:  details,
	}
	if !res.Passed {
		res.Message = fmt.Sprintf("%s (%d found)", c.failMsg, len(details))
	}
	return res
}
