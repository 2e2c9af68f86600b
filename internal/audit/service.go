package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository is the storage contract for log entries. No update or delete
// operation exists; the log is append-only.
type Repository interface {
	Insert(ctx context.Context, entry Entry) (Stored, error)
	Select(ctx context.Context, filter Filter) ([]Stored, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// Service coordinates appends and filtered retrieval of the closing log.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs an audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Append validates and persists one entry. Appending the same entry key
// twice returns the originally stored row.
func (s *Service) Append(ctx context.Context, entry Entry) (Stored, error) {
	if s == nil || s.repo == nil {
		return Stored{}, fmt.Errorf("audit: service not configured")
	}
	if err := entry.Validate(); err != nil {
		return Stored{}, err
	}
	if entry.Key == "" {
		entry.Key = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	return s.repo.Insert(ctx, entry)
}

// Query returns one page of entries, newest first. Filters are conjunctive
// and the reported total always reflects the full filtered set.
func (s *Service) Query(ctx context.Context, filter Filter) (Page, error) {
	if s == nil || s.repo == nil {
		return Page{}, fmt.Errorf("audit: service not configured")
	}
	if filter.Action != "" && !KnownAction(filter.Action) {
		return Page{}, fmt.Errorf("audit: unknown action filter %q", filter.Action)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	entries, err := s.repo.Select(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []Stored{}
	}
	return Page{Entries: entries, TotalCount: total}, nil
}
