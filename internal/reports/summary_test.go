package reports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
)

type stubLedger struct {
	period   gateway.Period
	rows     []gateway.AccountBalanceRow
	rowsErr  error
	getErr   error
	lastAsOf gateway.Date
}

func (s *stubLedger) GetPeriod(ctx context.Context, name string) (gateway.Period, error) {
	if s.getErr != nil {
		return gateway.Period{}, s.getErr
	}
	return s.period, nil
}

func (s *stubLedger) AccountBalances(ctx context.Context, company string, asOf gateway.Date) ([]gateway.AccountBalanceRow, error) {
	s.lastAsOf = asOf
	return s.rows, s.rowsErr
}

func closedTestPeriod() gateway.Period {
	return gateway.Period{
		Name:           "FY2024-M02",
		Company:        "Acme",
		StartDate:      gateway.NewDate(2024, 2, 1),
		EndDate:        gateway.NewDate(2024, 2, 29),
		Status:         "Closed",
		ClosingJournal: "JV-CLOSE-0001",
	}
}

func sampleRows() []gateway.AccountBalanceRow {
	return []gateway.AccountBalanceRow{
		{Account: "1100", Label: "Cash", RootType: "Asset", Debit: 9000, Credit: 1500},
		{Account: "2100", Label: "Accounts Payable", RootType: "Liability", Debit: 400, Credit: 2400},
		{Account: "3100", Label: "Share Capital", RootType: "Equity", Credit: 5000},
		{Account: "4000", Label: "Income", RootType: "Income", IsGroup: true, Credit: 8000, Debit: 250},
		{Account: "4100", Label: "Sales Revenue", RootType: "Income", Credit: 8000, Debit: 250},
		{Account: "5100", Label: "Cost of Goods Sold", RootType: "Expense", Debit: 3000, Credit: 100},
		{Account: "5200", Label: "Rent Expense", RootType: "Expense", Debit: 1200},
	}
}

func TestBuildClosingSummaryPartitionsAccounts(t *testing.T) {
	summary := BuildClosingSummary(sampleRows())

	require.Len(t, summary.Accounts, 7)
	require.Len(t, summary.NominalAccounts, 4)
	require.Len(t, summary.RealAccounts, 3)

	for _, balance := range summary.NominalAccounts {
		require.True(t, balance.IsNominal)
		require.Contains(t, []RootType{RootIncome, RootExpense}, balance.RootType)
	}
	for _, balance := range summary.RealAccounts {
		require.False(t, balance.IsNominal)
	}
}

func TestBuildClosingSummaryNetIncome(t *testing.T) {
	summary := BuildClosingSummary(sampleRows())

	// income leaf 7750 credit-balance, expenses 2900 + 1200 debit-balance.
	// The 4000 group row mirrors its child and must not double count.
	require.InDelta(t, 7750-(2900+1200), summary.NetIncome, 0.01)
}

func TestBuildClosingSummaryBalanceSigns(t *testing.T) {
	summary := BuildClosingSummary(sampleRows())

	byAccount := make(map[string]AccountBalance)
	for _, balance := range summary.Accounts {
		byAccount[balance.Account] = balance
	}
	require.InDelta(t, 7500, byAccount["1100"].Balance, 0.01)  // asset: debit-credit
	require.InDelta(t, 2000, byAccount["2100"].Balance, 0.01)  // liability: credit-debit
	require.InDelta(t, 7750, byAccount["4100"].Balance, 0.01)  // income: credit-debit
	require.InDelta(t, 2900, byAccount["5100"].Balance, 0.01)  // expense: debit-credit
}

func TestBuildClosingSummarySortsByAccount(t *testing.T) {
	rows := sampleRows()
	rows[0], rows[6] = rows[6], rows[0]
	summary := BuildClosingSummary(rows)

	for i := 1; i < len(summary.Accounts); i++ {
		require.Less(t, summary.Accounts[i-1].Account, summary.Accounts[i].Account)
	}
}

func TestNormalizeRootAcceptsRevenueAlias(t *testing.T) {
	summary := BuildClosingSummary([]gateway.AccountBalanceRow{
		{Account: "4100", Label: "Sales", RootType: "Revenue", Credit: 100},
	})
	require.Len(t, summary.NominalAccounts, 1)
	require.Equal(t, RootIncome, summary.NominalAccounts[0].RootType)
}

func TestSummarizeRequiresClosedPeriod(t *testing.T) {
	ledger := &stubLedger{period: closedTestPeriod()}
	ledger.period.Status = "Open"
	svc := NewService(ledger)

	_, err := svc.Summarize(context.Background(), "FY2024-M02", "Acme", nil)
	require.ErrorIs(t, err, ErrPeriodNotClosed)
}

func TestSummarizeChecksCompany(t *testing.T) {
	svc := NewService(&stubLedger{period: closedTestPeriod()})

	_, err := svc.Summarize(context.Background(), "FY2024-M02", "Globex", nil)
	require.ErrorIs(t, err, ErrWrongCompany)
}

func TestSummarizeDefaultsCutoffToPeriodEnd(t *testing.T) {
	ledger := &stubLedger{period: closedTestPeriod(), rows: sampleRows()}
	svc := NewService(ledger)

	summary, err := svc.Summarize(context.Background(), "FY2024-M02", "Acme", nil)
	require.NoError(t, err)
	require.Equal(t, "2024-02-29", ledger.lastAsOf.String())
	require.Equal(t, "JV-CLOSE-0001", summary.ClosingJournal)
}

func TestSummarizeIsDeterministic(t *testing.T) {
	ledger := &stubLedger{period: closedTestPeriod(), rows: sampleRows()}
	svc := NewService(ledger)

	first, err := svc.Summarize(context.Background(), "FY2024-M02", "Acme", nil)
	require.NoError(t, err)
	second, err := svc.Summarize(context.Background(), "FY2024-M02", "Acme", nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
