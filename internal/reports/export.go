package reports

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format selects the export artefact type.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatExcel Format = "excel"
)

// ExportResult points at a generated artefact with its metadata.
type ExportResult struct {
	URL         string    `json:"url"`
	Format      Format    `json:"format"`
	GeneratedAt time.Time `json:"generated_at"`
	GeneratedBy string    `json:"generated_by"`
}

// PDFRenderer converts HTML into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// ArtefactStore persists export files and returns their public URL.
type ArtefactStore interface {
	Save(name string, data []byte) (string, error)
}

// Exporter materializes closing summaries as PDF or spreadsheet files. The
// underlying figures are always the same as the JSON form; only the output
// container and embedded metadata differ.
type Exporter struct {
	reporter *Service
	pdf      PDFRenderer
	store    ArtefactStore
	now      func() time.Time
}

// NewExporter constructs an exporter.
func NewExporter(reporter *Service, pdf PDFRenderer, store ArtefactStore) *Exporter {
	return &Exporter{reporter: reporter, pdf: pdf, store: store, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (e *Exporter) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Export builds the summary and writes one artefact in the requested format.
func (e *Exporter) Export(ctx context.Context, periodName, company string, format Format, actor string) (ExportResult, error) {
	if e == nil || e.reporter == nil || e.store == nil {
		return ExportResult{}, fmt.Errorf("reports: exporter not configured")
	}
	summary, err := e.reporter.Summarize(ctx, periodName, company, nil)
	if err != nil {
		return ExportResult{}, err
	}
	generatedAt := e.now().UTC()

	var data []byte
	var ext string
	switch format {
	case FormatPDF:
		if e.pdf == nil {
			return ExportResult{}, fmt.Errorf("reports: pdf renderer not configured")
		}
		data, err = e.renderPDF(ctx, summary, generatedAt, actor)
		ext = "pdf"
	case FormatExcel:
		data, err = renderExcel(summary, generatedAt, actor)
		ext = "xlsx"
	default:
		return ExportResult{}, fmt.Errorf("reports: unsupported export format %q", format)
	}
	if err != nil {
		return ExportResult{}, err
	}

	name := fmt.Sprintf("closing-summary-%s-%s.%s", slug(periodName), uuid.NewString()[:8], ext)
	url, err := e.store.Save(name, data)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{URL: url, Format: format, GeneratedAt: generatedAt, GeneratedBy: actor}, nil
}

var amountPrinter = message.NewPrinter(language.English)

var summaryTemplate = template.Must(template.New("closing_summary").Funcs(template.FuncMap{
	"formatAmount": func(v float64) string {
		return amountPrinter.Sprintf("%.2f", v)
	},
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #222; }
h1 { font-size: 18px; margin-bottom: 0; }
h2 { font-size: 14px; margin-top: 24px; border-bottom: 1px solid #999; }
table { width: 100%; border-collapse: collapse; margin-top: 8px; }
th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
td.amount, th.amount { text-align: right; }
.meta { color: #666; font-size: 10px; margin-top: 4px; }
.total td { font-weight: bold; border-top: 2px solid #444; }
</style>
</head>
<body>
<h1>Closing Summary — {{ .Summary.Period.Name }}</h1>
<div class="meta">{{ .Summary.Period.Company }} · {{ formatDate .Summary.Period.StartDate.Time }} to {{ formatDate .Summary.Period.EndDate.Time }}{{ if .Summary.ClosingJournal }} · Closing journal {{ .Summary.ClosingJournal }}{{ end }}</div>
<div class="meta">Generated {{ .GeneratedAt.Format "02 Jan 2006 15:04 MST" }} by {{ .GeneratedBy }}</div>

<h2>Nominal Accounts</h2>
<table>
<tr><th>Account</th><th>Root Type</th><th class="amount">Debit</th><th class="amount">Credit</th><th class="amount">Balance</th></tr>
{{ range .Summary.NominalAccounts }}
<tr><td>{{ .Name }}</td><td>{{ .RootType }}</td><td class="amount">{{ formatAmount .Debit }}</td><td class="amount">{{ formatAmount .Credit }}</td><td class="amount">{{ formatAmount .Balance }}</td></tr>
{{ end }}
<tr class="total"><td colspan="4">Net Income</td><td class="amount">{{ formatAmount .Summary.NetIncome }}</td></tr>
</table>

<h2>Real Accounts</h2>
<table>
<tr><th>Account</th><th>Root Type</th><th class="amount">Debit</th><th class="amount">Credit</th><th class="amount">Balance</th></tr>
{{ range .Summary.RealAccounts }}
<tr><td>{{ .Name }}</td><td>{{ .RootType }}</td><td class="amount">{{ formatAmount .Debit }}</td><td class="amount">{{ formatAmount .Credit }}</td><td class="amount">{{ formatAmount .Balance }}</td></tr>
{{ end }}
</table>
</body>
</html>`))

type summaryTemplateData struct {
	Summary     ClosingSummary
	GeneratedAt time.Time
	GeneratedBy string
}

func (e *Exporter) renderPDF(ctx context.Context, summary ClosingSummary, generatedAt time.Time, actor string) ([]byte, error) {
	buf := &bytes.Buffer{}
	data := summaryTemplateData{Summary: summary, GeneratedAt: generatedAt, GeneratedBy: actor}
	if err := summaryTemplate.Execute(buf, data); err != nil {
		return nil, err
	}
	return e.pdf.RenderHTML(ctx, buf.String())
}

func renderExcel(summary ClosingSummary, generatedAt time.Time, actor string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	const sheet = "Closing Summary"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Creator:     actor,
		Title:       "Closing Summary " + summary.Period.Name,
		Created:     generatedAt.Format(time.RFC3339),
		Description: "Period closing summary for " + summary.Period.Company,
	})

	row := 1
	writeRow := func(values ...any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		row++
		return nil
	}

	if err := writeRow("Closing Summary", summary.Period.Name); err != nil {
		return nil, err
	}
	if err := writeRow("Company", summary.Period.Company); err != nil {
		return nil, err
	}
	if err := writeRow("Generated", generatedAt.Format(time.RFC3339), "by", actor); err != nil {
		return nil, err
	}
	row++

	sections := []struct {
		label    string
		balances []AccountBalance
	}{
		{"Nominal Accounts", summary.NominalAccounts},
		{"Real Accounts", summary.RealAccounts},
	}
	for _, section := range sections {
		if err := writeRow(section.label); err != nil {
			return nil, err
		}
		if err := writeRow("Account", "Root Type", "Debit", "Credit", "Balance"); err != nil {
			return nil, err
		}
		for _, balance := range section.balances {
			if err := writeRow(balance.Name, string(balance.RootType), balance.Debit, balance.Credit, balance.Balance); err != nil {
				return nil, err
			}
		}
		row++
	}
	if err := writeRow("Net Income", summary.NetIncome); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DiskStore writes artefacts to a directory served under a public base URL.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore constructs a disk-backed artefact store.
func NewDiskStore(dir, baseURL string) *DiskStore {
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Save writes the artefact and returns its URL.
func (s *DiskStore) Save(name string, data []byte) (string, error) {
	if s == nil || s.dir == "" {
		return "", fmt.Errorf("reports: artefact store not configured")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/" + name, nil
}

func slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '/':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
