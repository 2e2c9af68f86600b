package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestListSendsAuthAndFilterTriples(t *testing.T) {
	var gotAuth string
	var gotFilters string
	var gotFields string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotFilters = r.URL.Query().Get("filters")
		gotFields = r.URL.Query().Get("fields")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"name":"SINV-0001","docstatus":0,"posting_date":"2024-02-15"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", "secret", Options{})
	docs, err := client.List(context.Background(), KindSalesInvoice, Query{
		Filters: []Filter{
			Eq("company", "Acme"),
			Eq("docstatus", DocStatusDraft),
		},
		Fields: []string{"name", "posting_date"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotAuth != "token key:secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}

	var triples [][]any
	if err := json.Unmarshal([]byte(gotFilters), &triples); err != nil {
		t.Fatalf("filters not valid JSON: %v", err)
	}
	if len(triples) != 2 {
		t.Fatalf("expected 2 filter triples, got %d", len(triples))
	}
	if triples[0][0] != "company" || triples[0][1] != "=" || triples[0][2] != "Acme" {
		t.Fatalf("unexpected first triple: %v", triples[0])
	}
	if gotFields != `["name","posting_date"]` {
		t.Fatalf("unexpected fields %q", gotFields)
	}

	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Name != "SINV-0001" || docs[0].Kind != KindSalesInvoice {
		t.Fatalf("unexpected document %+v", docs[0])
	}
	if docs[0].PostingDate.String() != "2024-02-15" {
		t.Fatalf("unexpected posting date %s", docs[0].PostingDate)
	}
}

func TestGetJSONRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"name":"FY2024-M02","company":"Acme","status":"Open"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "s", Options{Retries: 3, Backoff: time.Millisecond})
	period, err := client.GetPeriod(context.Background(), "FY2024-M02")
	if err != nil {
		t.Fatalf("get period: %v", err)
	}
	if period.Name != "FY2024-M02" {
		t.Fatalf("unexpected period %+v", period)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWritesAreNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "s", Options{Retries: 3, Backoff: time.Millisecond})
	_, err := client.UpdatePeriod(context.Background(), "FY2024-M02", PeriodPatch{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected single attempt for write, got %d", got)
	}
}

func TestGetPeriodNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "s", Options{})
	_, err := client.GetPeriod(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMakeClosingEntryReturnsJournalRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/method/make_period_closing_entry" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["company"] != "Acme" || payload["period"] != "FY2024-M02" {
			t.Errorf("unexpected payload %v", payload)
		}
		_, _ = w.Write([]byte(`{"message":{"journal_entry":"JV-CLOSE-0042"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "s", Options{})
	journal, err := client.MakeClosingEntry(context.Background(), "Acme", "FY2024-M02")
	if err != nil {
		t.Fatalf("make closing entry: %v", err)
	}
	if journal != "JV-CLOSE-0042" {
		t.Fatalf("unexpected journal %q", journal)
	}
}

func TestClientErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"exc_type":"ValidationError"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "s", Options{})
	_, err := client.CreatePeriod(context.Background(), Period{Name: "FY2024-M02"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
}

func TestDateRoundTrip(t *testing.T) {
	d := NewDate(2024, time.February, 29)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2024-02-29"` {
		t.Fatalf("unexpected wire form %s", data)
	}
	var parsed Date
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !parsed.Equal(d.Time) {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, d)
	}
}
