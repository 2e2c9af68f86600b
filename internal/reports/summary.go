// Package reports builds the closing summary for a closed accounting
// period: account balances partitioned into nominal and real accounts plus
// the period's net income.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
)

var (
	// ErrPeriodNotClosed is returned when a summary is requested for a
	// period that is still open.
	ErrPeriodNotClosed = errors.New("reports: period is not closed")
	// ErrWrongCompany is returned when the period belongs to a different
	// company than the one requested.
	ErrWrongCompany = errors.New("reports: period does not belong to company")
)

// RootType is the top-level chart-of-accounts classification.
type RootType string

const (
	RootAsset     RootType = "Asset"
	RootLiability RootType = "Liability"
	RootEquity    RootType = "Equity"
	RootIncome    RootType = "Income"
	RootExpense   RootType = "Expense"
)

// AccountBalance is one account with its aggregated balance as of the
// reporting date.
type AccountBalance struct {
	Account   string   `json:"account"`
	Name      string   `json:"account_name"`
	Type      string   `json:"account_type,omitempty"`
	RootType  RootType `json:"root_type"`
	IsGroup   bool     `json:"is_group"`
	Debit     float64  `json:"debit"`
	Credit    float64  `json:"credit"`
	Balance   float64  `json:"balance"`
	IsNominal bool     `json:"is_nominal"`
}

// ClosingSummary is the structured closing report for a period.
type ClosingSummary struct {
	Period          gateway.Period   `json:"period"`
	ClosingJournal  string           `json:"closing_journal,omitempty"`
	Accounts        []AccountBalance `json:"accounts"`
	NominalAccounts []AccountBalance `json:"nominal_accounts"`
	RealAccounts    []AccountBalance `json:"real_accounts"`
	NetIncome       float64          `json:"net_income"`
}

// Ledger is the slice of the gateway used by the reporter.
type Ledger interface {
	GetPeriod(ctx context.Context, name string) (gateway.Period, error)
	AccountBalances(ctx context.Context, company string, asOf gateway.Date) ([]gateway.AccountBalanceRow, error)
}

// Service produces closing summaries and their exports.
type Service struct {
	ledger Ledger
}

// NewService constructs a reporter.
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// Summarize fetches balances as of asOf (defaulting to the period end date)
// and classifies every account. The period must already be closed. Results
// are computed fresh on every call; nothing is cached, so repeated calls
// over unchanged ledger data return identical figures.
func (s *Service) Summarize(ctx context.Context, periodName, company string, asOf *gateway.Date) (ClosingSummary, error) {
	if s == nil || s.ledger == nil {
		return ClosingSummary{}, fmt.Errorf("reports: service not configured")
	}
	period, err := s.ledger.GetPeriod(ctx, periodName)
	if err != nil {
		return ClosingSummary{}, err
	}
	if period.Company != company {
		return ClosingSummary{}, fmt.Errorf("%w: %s is not a %s period", ErrWrongCompany, periodName, company)
	}
	if !closedStatus(period.Status) {
		return ClosingSummary{}, fmt.Errorf("%w: %s", ErrPeriodNotClosed, periodName)
	}
	cutoff := period.EndDate
	if asOf != nil && !asOf.IsZero() {
		cutoff = *asOf
	}
	rows, err := s.ledger.AccountBalances(ctx, company, cutoff)
	if err != nil {
		return ClosingSummary{}, err
	}
	summary := BuildClosingSummary(rows)
	summary.Period = period
	summary.ClosingJournal = period.ClosingJournal
	return summary, nil
}

// BuildClosingSummary classifies balance rows and computes net income.
// Group rows aggregate their children; they are classified like any other
// row but excluded from the net income sum to avoid double counting.
func BuildClosingSummary(rows []gateway.AccountBalanceRow) ClosingSummary {
	summary := ClosingSummary{
		Accounts:        make([]AccountBalance, 0, len(rows)),
		NominalAccounts: []AccountBalance{},
		RealAccounts:    []AccountBalance{},
	}
	var income, expense float64
	for _, row := range rows {
		root := normalizeRoot(row.RootType)
		balance := AccountBalance{
			Account:   row.Account,
			Name:      row.Label,
			Type:      row.Type,
			RootType:  root,
			IsGroup:   row.IsGroup,
			Debit:     row.Debit,
			Credit:    row.Credit,
			Balance:   balanceFor(root, row.Debit, row.Credit),
			IsNominal: root == RootIncome || root == RootExpense,
		}
		summary.Accounts = append(summary.Accounts, balance)
		if balance.IsNominal {
			summary.NominalAccounts = append(summary.NominalAccounts, balance)
			if !balance.IsGroup {
				switch root {
				case RootIncome:
					income += balance.Balance
				case RootExpense:
					expense += balance.Balance
				}
			}
		} else {
			summary.RealAccounts = append(summary.RealAccounts, balance)
		}
	}
	sortBalances(summary.Accounts)
	sortBalances(summary.NominalAccounts)
	sortBalances(summary.RealAccounts)
	summary.NetIncome = income - expense
	return summary
}

func sortBalances(balances []AccountBalance) {
	sort.Slice(balances, func(i, j int) bool { return balances[i].Account < balances[j].Account })
}

// balanceFor applies the conventional sign per root classification: debit
// balances for assets and expenses, credit balances for the rest.
func balanceFor(root RootType, debit, credit float64) float64 {
	switch root {
	case RootAsset, RootExpense:
		return debit - credit
	default:
		return credit - debit
	}
}

func normalizeRoot(raw string) RootType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ASSET":
		return RootAsset
	case "LIABILITY":
		return RootLiability
	case "EQUITY":
		return RootEquity
	case "INCOME", "REVENUE":
		return RootIncome
	case "EXPENSE":
		return RootExpense
	default:
		return RootType(strings.TrimSpace(raw))
	}
}

func closedStatus(status string) bool {
	switch status {
	case "Closed", "Permanently Closed":
		return true
	default:
		return false
	}
}
