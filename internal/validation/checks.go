// Package validation runs closing-readiness checks against the ledger
// backend for one accounting period.
package validation

import (
	"context"
	"fmt"

	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
)

// Severity classifies a failed check.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Check names, stable identifiers used in configs and reports.
const (
	CheckNoDraftTransactions       = "no_draft_transactions"
	CheckAllTransactionsPosted     = "all_transactions_posted"
	CheckBankReconciliation        = "bank_reconciliation"
	CheckSalesInvoicesProcessed    = "sales_invoices_processed"
	CheckPurchaseInvoicesProcessed = "purchase_invoices_processed"
	CheckInventoryPosted           = "inventory_transactions_posted"
	CheckPayrollRecorded           = "payroll_entries_recorded"
)

// fallback decides what a check reports when its backend query fails.
type fallback int

const (
	// fallbackNeutralPass converts a query failure into a pass with an
	// explanatory message. Used for advisory checks and checks over
	// record kinds that may not be configured for every company.
	fallbackNeutralPass fallback = iota
	// fallbackFailClosed converts a query failure into a failed result.
	// Used for checks that gate money-affecting postings.
	fallbackFailClosed
)

// LedgerReader is the read-only slice of the gateway used by checks.
type LedgerReader interface {
	List(ctx context.Context, kind string, q gateway.Query) ([]gateway.Document, error)
	UnclearedBankEntries(ctx context.Context, company string, asOf gateway.Date) ([]gateway.Document, error)
}

// Scope identifies the period under validation.
type Scope struct {
	PeriodName string
	Company    string
	StartDate  gateway.Date
	EndDate    gateway.Date
}

// RecordRef locates one offending record on the backend.
type RecordRef struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	PostingDate string `json:"posting_date,omitempty"`
	Status      string `json:"status,omitempty"`
	Account     string `json:"account,omitempty"`
}

// Result is the outcome of a single check. Passed is true exactly when
// Details is empty.
type Result struct {
	Check    string      `json:"check"`
	Passed   bool        `json:"passed"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`
	Details  []RecordRef `json:"details"`
}

// check pairs a name with a uniform run function. Severity and fallback are
// fixed per check type.
type check struct {
	name     string
	severity Severity
	fallback fallback
	run      func(ctx context.Context, reader LedgerReader, scope Scope) ([]RecordRef, error)
	okMsg    string
	failMsg  string
}

// draftKinds are the transaction kinds covered by the draft-transaction and
// posting-consistency checks.
var draftKinds = []string{
	gateway.KindSalesInvoice,
	gateway.KindPurchaseInvoice,
	gateway.KindJournalEntry,
	gateway.KindPaymentEntry,
}

// registry declares every check in report order.
var registry = []check{
	{
		name:     CheckNoDraftTransactions,
		severity: SeverityError,
		fallback: fallbackNeutralPass,
		run:      runNoDraftTransactions,
		okMsg:    "No draft transactions in period",
		failMsg:  "Draft transactions exist in period",
	},
	{
		name:     CheckAllTransactionsPosted,
		severity: SeverityError,
		fallback: fallbackNeutralPass,
		run:      runAllTransactionsPosted,
		okMsg:    "All submitted transactions have ledger postings",
		failMsg:  "Submitted transactions without ledger postings",
	},
	{
		name:     CheckBankReconciliation,
		severity: SeverityWarning,
		fallback: fallbackNeutralPass,
		run:      runBankReconciliation,
		okMsg:    "All bank entries reconciled",
		failMsg:  "Unreconciled bank entries at period end",
	},
	{
		name:     CheckSalesInvoicesProcessed,
		severity: SeverityError,
		fallback: fallbackFailClosed,
		run:      draftInvoiceCheck(gateway.KindSalesInvoice),
		okMsg:    "All sales invoices processed",
		failMsg:  "Draft sales invoices in period",
	},
	{
		name:     CheckPurchaseInvoicesProcessed,
		severity: SeverityError,
		fallback: fallbackFailClosed,
		run:      draftInvoiceCheck(gateway.KindPurchaseInvoice),
		okMsg:    "All purchase invoices processed",
		failMsg:  "Draft purchase invoices in period",
	},
	{
		name:     CheckInventoryPosted,
		severity: SeverityError,
		fallback: fallbackNeutralPass,
		run:      draftInvoiceCheck(gateway.KindStockEntry),
		okMsg:    "All stock movements posted",
		failMsg:  "Draft stock movements in period",
	},
	{
		name:     CheckPayrollRecorded,
		severity: SeverityError,
		fallback: fallbackNeutralPass,
		run:      draftInvoiceCheck(gateway.KindPayrollEntry),
		okMsg:    "All payroll entries recorded",
		failMsg:  "Draft payroll entries in period",
	},
}

// CheckNames returns the declared check names in report order.
func CheckNames() []string {
	names := make([]string, 0, len(registry))
	for _, c := range registry {
		names = append(names, c.name)
	}
	return names
}

func draftsInRange(ctx context.Context, reader LedgerReader, scope Scope, kind string) ([]RecordRef, error) {
	filters := append([]gateway.Filter{
		gateway.Eq("company", scope.Company),
		gateway.Eq("docstatus", gateway.DocStatusDraft),
	}, gateway.Between("posting_date", scope.StartDate, scope.EndDate)...)
	docs, err := reader.List(ctx, kind, gateway.Query{
		Filters: filters,
		Fields:  []string{"name", "posting_date", "status"},
		OrderBy: "posting_date asc",
	})
	if err != nil {
		return nil, fmt.Errorf("list draft %s: %w", kind, err)
	}
	refs := make([]RecordRef, 0, len(docs))
	for _, doc := range docs {
		refs = append(refs, RecordRef{
			Kind:        kind,
			Name:        doc.Name,
			PostingDate: doc.PostingDate.String(),
			Status:      doc.Status,
		})
	}
	return refs, nil
}

func runNoDraftTransactions(ctx context.Context, reader LedgerReader, scope Scope) ([]RecordRef, error) {
	var refs []RecordRef
	for _, kind := range draftKinds {
		found, err := draftsInRange(ctx, reader, scope, kind)
		if err != nil {
			return nil, err
		}
		refs = append(refs, found...)
	}
	return refs, nil
}

// runAllTransactionsPosted diffs submitted transactions against the GL
// voucher references in range to detect a submit/post consistency gap.
func runAllTransactionsPosted(ctx context.Context, reader LedgerReader, scope Scope) ([]RecordRef, error) {
	var refs []RecordRef
	for _, kind := range draftKinds {
		filters := append([]gateway.Filter{
			gateway.Eq("company", scope.Company),
			gateway.Eq("docstatus", gateway.DocStatusSubmitted),
		}, gateway.Between("posting_date", scope.StartDate, scope.EndDate)...)
		submitted, err := reader.List(ctx, kind, gateway.Query{
			Filters: filters,
			Fields:  []string{"name", "posting_date", "status"},
		})
		if err != nil {
			return nil, fmt.Errorf("list submitted %s: %w", kind, err)
		}
		if len(submitted) == 0 {
			continue
		}
		glFilters := append([]gateway.Filter{
			gateway.Eq("company", scope.Company),
			gateway.Eq("voucher_type", kind),
		}, gateway.Between("posting_date", scope.StartDate, scope.EndDate)...)
		entries, err := reader.List(ctx, gateway.KindGLEntry, gateway.Query{
			Filters: glFilters,
			Fields:  []string{"voucher_no"},
		})
		if err != nil {
			return nil, fmt.Errorf("list gl entries for %s: %w", kind, err)
		}
		posted := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			posted[entry.VoucherNo] = struct{}{}
		}
		for _, doc := range submitted {
			if _, ok := posted[doc.Name]; ok {
				continue
			}
			refs = append(refs, RecordRef{
				Kind:        kind,
				Name:        doc.Name,
				PostingDate: doc.PostingDate.String(),
				Status:      doc.Status,
			})
		}
	}
	return refs, nil
}

func runBankReconciliation(ctx context.Context, reader LedgerReader, scope Scope) ([]RecordRef, error) {
	entries, err := reader.UnclearedBankEntries(ctx, scope.Company, scope.EndDate)
	if err != nil {
		return nil, fmt.Errorf("uncleared bank entries: %w", err)
	}
	refs := make([]RecordRef, 0, len(entries))
	for _, entry := range entries {
		refs = append(refs, RecordRef{
			Kind:        gateway.KindGLEntry,
			Name:        entry.Name,
			PostingDate: entry.PostingDate.String(),
			Account:     entry.Account,
		})
	}
	return refs, nil
}

func draftInvoiceCheck(kind string) func(context.Context, LedgerReader, Scope) ([]RecordRef, error) {
	return func(ctx context.Context, reader LedgerReader, scope Scope) ([]RecordRef, error) {
		return draftsInRange(ctx, reader, scope, kind)
	}
}
