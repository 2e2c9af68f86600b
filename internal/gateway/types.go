package gateway

import (
	"fmt"
	"strings"
	"time"
)

// Document status codes used by the backend for transactional records.
const (
	DocStatusDraft     = 0
	DocStatusSubmitted = 1
	DocStatusCancelled = 2
)

// Transaction kinds tracked by the closing subsystem.
const (
	KindSalesInvoice    = "Sales Invoice"
	KindPurchaseInvoice = "Purchase Invoice"
	KindJournalEntry    = "Journal Entry"
	KindPaymentEntry    = "Payment Entry"
	KindStockEntry      = "Stock Entry"
	KindPayrollEntry    = "Payroll Entry"
	KindGLEntry         = "GL Entry"
)

// Date is a calendar date serialized as YYYY-MM-DD on the wire.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month, day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time.Time to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// MarshalJSON renders the date in backend wire format.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + d.Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON accepts YYYY-MM-DD or an empty string.
func (d *Date) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fmt.Errorf("gateway: parse date %q: %w", raw, err)
	}
	d.Time = t
	return nil
}

// String implements fmt.Stringer in wire format.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// Document is a generic transactional record returned by resource queries.
// Fields outside the common core stay zero for kinds that do not carry them.
type Document struct {
	Name        string  `json:"name"`
	Kind        string  `json:"doctype,omitempty"`
	Company     string  `json:"company,omitempty"`
	DocStatus   int     `json:"docstatus"`
	Status      string  `json:"status,omitempty"`
	PostingDate Date    `json:"posting_date,omitempty"`
	Account     string  `json:"account,omitempty"`
	VoucherType string  `json:"voucher_type,omitempty"`
	VoucherNo   string  `json:"voucher_no,omitempty"`
	Total       float64 `json:"grand_total,omitempty"`
}

// Period mirrors the Accounting Period record owned by the backend.
type Period struct {
	Name           string `json:"name"`
	Label          string `json:"period_label"`
	Company        string `json:"company"`
	StartDate      Date   `json:"start_date"`
	EndDate        Date   `json:"end_date"`
	PeriodType     string `json:"period_type"`
	Status         string `json:"status"`
	ClosedBy       string `json:"closed_by,omitempty"`
	ClosedOn       string `json:"closed_on,omitempty"`
	ClosingJournal string `json:"closing_journal,omitempty"`
}

// PeriodPatch carries the mutable fields of a period update. Nil pointers are
// left untouched by the backend.
type PeriodPatch struct {
	Status         *string `json:"status,omitempty"`
	ClosedBy       *string `json:"closed_by,omitempty"`
	ClosedOn       *string `json:"closed_on,omitempty"`
	ClosingJournal *string `json:"closing_journal,omitempty"`
}

// AccountBalanceRow is one chart-of-accounts row with aggregated balances as
// of a reporting date.
type AccountBalanceRow struct {
	Account  string  `json:"account"`
	Label    string  `json:"account_name"`
	Type     string  `json:"account_type"`
	RootType string  `json:"root_type"`
	IsGroup  bool    `json:"is_group"`
	Debit    float64 `json:"debit"`
	Credit   float64 `json:"credit"`
}

// Filter restricts a resource query. Op is one of =, !=, <, <=, >, >=, in.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query shapes a resource listing call.
type Query struct {
	Filters []Filter
	Fields  []string
	Limit   int
	Offset  int
	OrderBy string
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter { return Filter{Field: field, Op: "=", Value: value} }

// Between appends range filters for an inclusive date window.
func Between(field string, from, to Date) []Filter {
	return []Filter{
		{Field: field, Op: ">=", Value: from.String()},
		{Field: field, Op: "<=", Value: to.String()},
	}
}
