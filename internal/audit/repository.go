package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

const entryColumns = `id, entry_key, period_ref, action, actor, reason, before_snapshot, after_snapshot, transaction_ref, transaction_kind, occurred_at`

// PGRepository persists log entries in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository over the shared pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends one entry. A duplicate entry key returns the row stored by
// the first append, making retried appends idempotent.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) (Stored, error) {
	if r == nil || r.pool == nil {
		return Stored{}, fmt.Errorf("audit: repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO period_closing_logs
			(entry_key, period_ref, action, actor, reason, before_snapshot, after_snapshot, transaction_ref, transaction_kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+entryColumns,
		entry.Key,
		entry.PeriodRef,
		string(entry.Action),
		entry.Actor,
		nullText(entry.Reason),
		nullJSON(entry.Before),
		nullJSON(entry.After),
		nullText(entry.TransactionRef),
		nullText(entry.TransactionKind),
		entry.OccurredAt,
	)
	stored, err := scanEntry(row)
	if err == nil {
		return stored, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return r.byKey(ctx, entry.Key)
	}
	return Stored{}, err
}

func (r *PGRepository) byKey(ctx context.Context, key string) (Stored, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM period_closing_logs WHERE entry_key = $1`, key)
	return scanEntry(row)
}

// Select returns one page of entries matching the filter, newest first.
func (r *PGRepository) Select(ctx context.Context, filter Filter) ([]Stored, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + entryColumns + ` FROM period_closing_logs` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Stored
	for rows.Next() {
		stored, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, stored)
	}
	return entries, rows.Err()
}

// Count returns the total number of entries matching the filter.
func (r *PGRepository) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := buildWhere(filter)
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM period_closing_logs`+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func buildWhere(filter Filter) (string, []any) {
	var clauses []string
	var args []any
	if filter.PeriodRef != "" {
		args = append(args, filter.PeriodRef)
		clauses = append(clauses, "period_ref = $"+strconv.Itoa(len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		clauses = append(clauses, "action = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEntry(row pgx.Row) (Stored, error) {
	var stored Stored
	var reason, txnRef, txnKind pgtype.Text
	var before, after []byte
	var occurredAt pgtype.Timestamptz
	err := row.Scan(
		&stored.ID,
		&stored.Key,
		&stored.PeriodRef,
		&stored.Action,
		&stored.Actor,
		&reason,
		&before,
		&after,
		&txnRef,
		&txnKind,
		&occurredAt,
	)
	if err != nil {
		return Stored{}, err
	}
	stored.Reason = reason.String
	stored.TransactionRef = txnRef.String
	stored.TransactionKind = txnKind.String
	stored.Before = before
	stored.After = after
	if occurredAt.Valid {
		stored.OccurredAt = occurredAt.Time
	}
	return stored, nil
}

func nullText(value string) pgtype.Text {
	if strings.TrimSpace(value) == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
