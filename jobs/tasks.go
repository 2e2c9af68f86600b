package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerdesk/ledgerdesk/internal/audit"
	jobmetrics "github.com/ledgerdesk/ledgerdesk/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRetry replays an audit entry whose synchronous write
	// failed after a committed period transition.
	TaskTypeAuditRetry = "audit:retry"
	// TaskTypeExportsPrune removes aged report artefacts from the export
	// directory.
	TaskTypeExportsPrune = "exports:prune"
)

// AuditRetryPayload carries the full audit entry so the worker can replay
// the write without consulting the ledger backend.
type AuditRetryPayload struct {
	Entry audit.Entry `json:"entry"`
}

// NewAuditRetryTask constructs an Asynq task for a failed audit write.
func NewAuditRetryTask(payload AuditRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRetry, data), nil
}

type auditAppender interface {
	Append(ctx context.Context, entry audit.Entry) (audit.Stored, error)
}

// NewAuditRetryHandler builds the handler that replays audit entries.
// Appends are idempotent on the entry key, so redelivery is harmless.
func NewAuditRetryHandler(svc auditAppender, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("audit_retry")
		var payload AuditRetryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("audit retry payload malformed", slog.Any("error", err))
			return tracker.End(asynq.SkipRetry)
		}
		if err := payload.Entry.Validate(); err != nil {
			logger.Error("audit retry entry invalid", slog.Any("error", err))
			return tracker.End(asynq.SkipRetry)
		}
		if _, err := svc.Append(ctx, payload.Entry); err != nil {
			logger.Warn("audit retry failed",
				slog.String("period", payload.Entry.PeriodRef),
				slog.String("action", string(payload.Entry.Action)),
				slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("audit entry recovered",
			slog.String("period", payload.Entry.PeriodRef),
			slog.String("action", string(payload.Entry.Action)))
		return tracker.End(nil)
	}
}

// ExportsPrunePayload configures artefact pruning.
type ExportsPrunePayload struct {
	Dir    string `json:"dir"`
	MaxAge string `json:"max_age"`
}

// NewExportsPruneTask constructs the nightly artefact pruning task.
func NewExportsPruneTask(payload ExportsPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExportsPrune, data), nil
}

const defaultExportMaxAge = 30 * 24 * time.Hour

// NewExportsPruneHandler builds the handler that removes aged artefacts.
func NewExportsPruneHandler(logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("exports_prune")
		var payload ExportsPrunePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		if payload.Dir == "" {
			return tracker.End(asynq.SkipRetry)
		}
		maxAge := defaultExportMaxAge
		if payload.MaxAge != "" {
			parsed, err := time.ParseDuration(payload.MaxAge)
			if err == nil && parsed > 0 {
				maxAge = parsed
			}
		}
		removed, err := pruneDir(payload.Dir, time.Now().Add(-maxAge))
		if err != nil {
			logger.Warn("exports prune", slog.Any("error", err))
			return tracker.End(err)
		}
		if removed > 0 {
			logger.Info("exports pruned", slog.Int("removed", removed), slog.String("dir", payload.Dir))
		}
		return tracker.End(nil)
	}
}

func pruneDir(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
