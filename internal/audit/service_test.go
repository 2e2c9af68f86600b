package audit

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memoryRepo mimics the Postgres repository: append-only, unique entry
// keys, newest-first ordering.
type memoryRepo struct {
	rows   []Stored
	nextID int64
}

func (r *memoryRepo) Insert(ctx context.Context, entry Entry) (Stored, error) {
	for _, row := range r.rows {
		if row.Key == entry.Key {
			return row, nil
		}
	}
	r.nextID++
	stored := Stored{ID: r.nextID, Entry: entry}
	r.rows = append(r.rows, stored)
	return stored, nil
}

func (r *memoryRepo) matches(filter Filter) []Stored {
	out := make([]Stored, 0, len(r.rows))
	for _, row := range r.rows {
		if filter.PeriodRef != "" && row.PeriodRef != filter.PeriodRef {
			continue
		}
		if filter.Action != "" && row.Action != filter.Action {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}

func (r *memoryRepo) Select(ctx context.Context, filter Filter) ([]Stored, error) {
	out := r.matches(filter)
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) Count(ctx context.Context, filter Filter) (int, error) {
	return len(r.matches(filter)), nil
}

func testClock() func() time.Time {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	return func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}
}

func newTestService() (*Service, *memoryRepo) {
	repo := &memoryRepo{}
	svc := NewService(repo)
	svc.WithNow(testClock())
	return svc, repo
}

func TestAppendAssignsKeyAndTimestamp(t *testing.T) {
	svc, _ := newTestService()

	stored, err := svc.Append(context.Background(), Entry{
		PeriodRef: "FY2024-M02",
		Action:    ActionClosed,
		Actor:     "controller@acme.test",
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored.Key)
	require.False(t, stored.OccurredAt.IsZero())
}

func TestAppendIsIdempotentOnKey(t *testing.T) {
	svc, repo := newTestService()

	entry := Entry{
		Key:       "retry-abc",
		PeriodRef: "FY2024-M02",
		Action:    ActionClosed,
		Actor:     "controller@acme.test",
	}
	first, err := svc.Append(context.Background(), entry)
	require.NoError(t, err)
	second, err := svc.Append(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.rows, 1)
}

func TestAppendValidatesEntry(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Append(context.Background(), Entry{Action: ActionClosed, Actor: "x"})
	require.Error(t, err)

	_, err = svc.Append(context.Background(), Entry{PeriodRef: "p", Action: "Exploded", Actor: "x"})
	require.Error(t, err)

	_, err = svc.Append(context.Background(), Entry{
		PeriodRef: "p",
		Action:    ActionTransactionModified,
		Actor:     "x",
		Reason:    "fix",
	})
	require.Error(t, err, "transaction modification without a transaction ref")

	_, err = svc.Append(context.Background(), Entry{
		PeriodRef: "p",
		Action:    ActionClosed,
		Actor:     "x",
		After:     json.RawMessage(`{not json`),
	})
	require.Error(t, err)
}

func TestSnapshotsSurviveRoundTrip(t *testing.T) {
	svc, _ := newTestService()

	before := json.RawMessage(`{"status":"Open","nested":{"a":[1,2,3]}}`)
	after := json.RawMessage(`{"status":"Closed","closed_by":"controller@acme.test"}`)
	stored, err := svc.Append(context.Background(), Entry{
		PeriodRef: "FY2024-M02",
		Action:    ActionClosed,
		Actor:     "controller@acme.test",
		Before:    before,
		After:     after,
	})
	require.NoError(t, err)

	page, err := svc.Query(context.Background(), Filter{PeriodRef: "FY2024-M02"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.JSONEq(t, string(before), string(page.Entries[0].Before))
	require.JSONEq(t, string(after), string(page.Entries[0].After))
	require.Equal(t, stored.ID, page.Entries[0].ID)
}

func seedEntries(t *testing.T, svc *Service, n int) {
	t.Helper()
	actions := []Action{ActionClosed, ActionReopened}
	for i := 0; i < n; i++ {
		period := "FY2024-M01"
		if i%2 == 1 {
			period = "FY2024-M02"
		}
		_, err := svc.Append(context.Background(), Entry{
			PeriodRef: period,
			Action:    actions[i%2],
			Actor:     "controller@acme.test",
			Reason:    "cycle",
		})
		require.NoError(t, err)
	}
}

func TestQueryPaginationIsDisjointWithStableTotal(t *testing.T) {
	svc, _ := newTestService()
	seedEntries(t, svc, 25)

	seen := make(map[int64]bool)
	var pages []Page
	for offset := 0; offset < 25; offset += 10 {
		page, err := svc.Query(context.Background(), Filter{Limit: 10, Offset: offset})
		require.NoError(t, err)
		require.Equal(t, 25, page.TotalCount)
		for _, entry := range page.Entries {
			require.False(t, seen[entry.ID], "entry %d appeared twice", entry.ID)
			seen[entry.ID] = true
		}
		pages = append(pages, page)
	}
	require.Len(t, seen, 25)
	require.Len(t, pages[0].Entries, 10)
	require.Len(t, pages[2].Entries, 5)
}

func TestQueryNewestFirst(t *testing.T) {
	svc, _ := newTestService()
	seedEntries(t, svc, 5)

	page, err := svc.Query(context.Background(), Filter{})
	require.NoError(t, err)
	for i := 1; i < len(page.Entries); i++ {
		require.False(t, page.Entries[i-1].OccurredAt.Before(page.Entries[i].OccurredAt))
	}
}

func TestQueryFiltersAreConjunctive(t *testing.T) {
	svc, _ := newTestService()
	seedEntries(t, svc, 10)

	page, err := svc.Query(context.Background(), Filter{PeriodRef: "FY2024-M02", Action: ActionReopened})
	require.NoError(t, err)
	require.Equal(t, 5, page.TotalCount)
	for _, entry := range page.Entries {
		require.Equal(t, "FY2024-M02", entry.PeriodRef)
		require.Equal(t, ActionReopened, entry.Action)
	}
}

func TestQueryClampsLimit(t *testing.T) {
	svc, _ := newTestService()
	seedEntries(t, svc, 3)

	page, err := svc.Query(context.Background(), Filter{Limit: 5000})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)

	_, err = svc.Query(context.Background(), Filter{Action: "Nope"})
	require.Error(t, err)
}

func TestQueryOffsetBeyondEnd(t *testing.T) {
	svc, _ := newTestService()
	seedEntries(t, svc, 3)

	page, err := svc.Query(context.Background(), Filter{Offset: 50})
	require.NoError(t, err)
	require.Empty(t, page.Entries)
	require.Equal(t, 3, page.TotalCount)
}

func TestExportCSVStreamsAllPages(t *testing.T) {
	svc, _ := newTestService()
	seedEntries(t, svc, 120)

	data, err := svc.ExportCSV(context.Background(), Filter{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 121)
	require.Equal(t, "occurred_at,period,action,actor,reason,transaction_ref,transaction_kind", lines[0])
	require.Contains(t, lines[1], "FY2024-M0")
}
