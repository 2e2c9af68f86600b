package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"
)

// exportFetchSize bounds each page pulled while streaming an export.
const exportFetchSize = maxPageSize

// ExportCSV writes every entry matching the filter as CSV, newest first.
func (s *Service) ExportCSV(ctx context.Context, filter Filter) ([]byte, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("audit: service not configured")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	header := []string{"occurred_at", "period", "action", "actor", "reason", "transaction_ref", "transaction_kind"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	filter.Limit = exportFetchSize
	filter.Offset = 0
	for {
		entries, err := s.repo.Select(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			record := []string{
				entry.OccurredAt.UTC().Format(time.RFC3339),
				entry.PeriodRef,
				string(entry.Action),
				entry.Actor,
				entry.Reason,
				entry.TransactionRef,
				entry.TransactionKind,
			}
			if err := writer.Write(record); err != nil {
				return nil, err
			}
		}
		if len(entries) < exportFetchSize {
			break
		}
		filter.Offset += exportFetchSize
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
