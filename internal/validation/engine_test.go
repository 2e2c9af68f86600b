package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
)

type stubLedger struct {
	listFn func(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error)
	bankFn func(ctx context.Context, company string, asOf gateway.Date) ([]gateway.Document, error)
}

func (s *stubLedger) List(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, kind, q)
}

func (s *stubLedger) UnclearedBankEntries(ctx context.Context, company string, asOf gateway.Date) ([]gateway.Document, error) {
	if s.bankFn == nil {
		return nil, nil
	}
	return s.bankFn(ctx, company, asOf)
}

func testScope() Scope {
	return Scope{
		PeriodName: "FY2024-M02",
		Company:    "Acme",
		StartDate:  gateway.NewDate(2024, 2, 1),
		EndDate:    gateway.NewDate(2024, 2, 29),
	}
}

func TestValidateAllChecksPass(t *testing.T) {
	engine := NewEngine(&stubLedger{}, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.True(t, report.AllPassed)
	require.Len(t, report.Results, len(registry))
	for _, res := range report.Results {
		require.True(t, res.Passed, "check %s", res.Check)
		require.Empty(t, res.Details, "check %s", res.Check)
	}
}

func TestValidateResultsKeepDeclarationOrder(t *testing.T) {
	engine := NewEngine(&stubLedger{}, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.Equal(t, CheckNames(), resultNames(report.Results))
}

func TestDraftPurchaseInvoiceInsidePeriodFails(t *testing.T) {
	ledger := &stubLedger{
		listFn: func(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error) {
			if kind == gateway.KindPurchaseInvoice && filtersWant(q, "docstatus", gateway.DocStatusDraft) {
				return []gateway.Document{{
					Name:        "PINV-0042",
					DocStatus:   gateway.DocStatusDraft,
					Status:      "Draft",
					PostingDate: gateway.NewDate(2024, 2, 15),
				}}, nil
			}
			return nil, nil
		},
	}
	engine := NewEngine(ledger, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.False(t, report.AllPassed)

	res := resultFor(t, report, CheckPurchaseInvoicesProcessed)
	require.False(t, res.Passed)
	require.Equal(t, SeverityError, res.Severity)
	require.Len(t, res.Details, 1)
	require.Equal(t, "PINV-0042", res.Details[0].Name)
	require.Equal(t, "2024-02-15", res.Details[0].PostingDate)

	// The umbrella draft check reports the same record.
	umbrella := resultFor(t, report, CheckNoDraftTransactions)
	require.False(t, umbrella.Passed)
}

func TestDraftOutsidePeriodWindowIsIgnored(t *testing.T) {
	ledger := &stubLedger{
		listFn: func(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error) {
			// The backend applies the posting_date range filters; a correct
			// query for February must carry them.
			requireRange(t, q, "2024-02-01", "2024-02-29")
			return nil, nil
		},
	}
	engine := NewEngine(ledger, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.True(t, report.AllPassed)
}

func TestInvoiceChecksFailClosedOnBackendError(t *testing.T) {
	boom := errors.New("backend down")
	ledger := &stubLedger{
		listFn: func(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error) {
			if kind == gateway.KindSalesInvoice || kind == gateway.KindPurchaseInvoice {
				return nil, boom
			}
			return nil, nil
		},
	}
	engine := NewEngine(ledger, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.False(t, report.AllPassed)

	sales := resultFor(t, report, CheckSalesInvoicesProcessed)
	require.False(t, sales.Passed)
	require.Contains(t, sales.Message, "could not complete")

	purchases := resultFor(t, report, CheckPurchaseInvoicesProcessed)
	require.False(t, purchases.Passed)

	// The umbrella draft check covers the same kinds but degrades to a
	// neutral pass instead.
	umbrella := resultFor(t, report, CheckNoDraftTransactions)
	require.True(t, umbrella.Passed)
	require.Contains(t, umbrella.Message, "skipped")
}

func TestAdvisoryChecksNeutralPassOnBackendError(t *testing.T) {
	ledger := &stubLedger{
		listFn: func(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error) {
			if kind == gateway.KindPayrollEntry {
				return nil, errors.New("payroll module not installed")
			}
			return nil, nil
		},
		bankFn: func(ctx context.Context, company string, asOf gateway.Date) ([]gateway.Document, error) {
			return nil, errors.New("no bank accounts configured")
		},
	}
	engine := NewEngine(ledger, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.True(t, report.AllPassed)

	payroll := resultFor(t, report, CheckPayrollRecorded)
	require.True(t, payroll.Passed)
	require.Contains(t, payroll.Message, "skipped")

	bank := resultFor(t, report, CheckBankReconciliation)
	require.True(t, bank.Passed)
}

func TestBankReconciliationFailureIsWarning(t *testing.T) {
	ledger := &stubLedger{
		bankFn: func(ctx context.Context, company string, asOf gateway.Date) ([]gateway.Document, error) {
			require.Equal(t, "Acme", company)
			require.Equal(t, "2024-02-29", asOf.String())
			return []gateway.Document{{
				Name:        "GLE-0099",
				Account:     "Bank - Acme",
				PostingDate: gateway.NewDate(2024, 2, 20),
			}}, nil
		},
	}
	engine := NewEngine(ledger, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)
	require.False(t, report.AllPassed)

	res := resultFor(t, report, CheckBankReconciliation)
	require.False(t, res.Passed)
	require.Equal(t, SeverityWarning, res.Severity)
	require.Equal(t, "Bank - Acme", res.Details[0].Account)
}

func TestUnpostedSubmittedTransactionIsReported(t *testing.T) {
	ledger := &stubLedger{
		listFn: func(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error) {
			switch {
			case kind == gateway.KindJournalEntry && filtersWant(q, "docstatus", gateway.DocStatusSubmitted):
				return []gateway.Document{
					{Name: "JV-0010", PostingDate: gateway.NewDate(2024, 2, 10)},
					{Name: "JV-0011", PostingDate: gateway.NewDate(2024, 2, 11)},
				}, nil
			case kind == gateway.KindGLEntry && filtersWant(q, "voucher_type", gateway.KindJournalEntry):
				return []gateway.Document{{VoucherNo: "JV-0010"}}, nil
			}
			return nil, nil
		},
	}
	engine := NewEngine(ledger, nil)

	report, err := engine.Validate(context.Background(), testScope(), nil)
	require.NoError(t, err)

	res := resultFor(t, report, CheckAllTransactionsPosted)
	require.False(t, res.Passed)
	require.Len(t, res.Details, 1)
	require.Equal(t, "JV-0011", res.Details[0].Name)
}

func TestConfigDisablesCheck(t *testing.T) {
	ledger := &stubLedger{
		bankFn: func(ctx context.Context, company string, asOf gateway.Date) ([]gateway.Document, error) {
			return []gateway.Document{{Name: "GLE-0099"}}, nil
		},
	}
	engine := NewEngine(ledger, nil)

	cfg := Config{CheckBankReconciliation: false}
	report, err := engine.Validate(context.Background(), testScope(), cfg)
	require.NoError(t, err)
	require.True(t, report.AllPassed)
	require.Len(t, report.Results, len(registry)-1)
	require.NotContains(t, resultNames(report.Results), CheckBankReconciliation)
}

func TestValidateRejectsIncoherentScope(t *testing.T) {
	engine := NewEngine(&stubLedger{}, nil)

	_, err := engine.Validate(context.Background(), Scope{Company: "Acme"}, nil)
	require.Error(t, err)

	scope := testScope()
	scope.StartDate = gateway.NewDate(2024, 3, 1)
	_, err = engine.Validate(context.Background(), scope, nil)
	require.Error(t, err)
}

func resultNames(results []Result) []string {
	names := make([]string, 0, len(results))
	for _, res := range results {
		names = append(names, res.Check)
	}
	return names
}

func resultFor(t *testing.T, report Report, name string) Result {
	t.Helper()
	for _, res := range report.Results {
		if res.Check == name {
			return res
		}
	}
	t.Fatalf("no result for check %s", name)
	return Result{}
}

func filtersWant(q gateway.Query, field string, value any) bool {
	for _, f := range q.Filters {
		if f.Field == field && f.Value == value {
			return true
		}
	}
	return false
}

func requireRange(t *testing.T, q gateway.Query, from, to string) {
	t.Helper()
	var gotFrom, gotTo bool
	for _, f := range q.Filters {
		if f.Field == "posting_date" && f.Op == ">=" && f.Value == from {
			gotFrom = true
		}
		if f.Field == "posting_date" && f.Op == "<=" && f.Value == to {
			gotTo = true
		}
	}
	if !gotFrom || !gotTo {
		t.Fatalf("posting_date range filters missing in %v", q.Filters)
	}
}
