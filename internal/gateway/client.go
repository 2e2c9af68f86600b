// Package gateway wraps the remote general-ledger backend's resource API.
// The backend owns the chart of accounts, transactions, postings, and the
// Accounting Period records; this package only queries and patches them.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnavailable wraps network or backend failures per the error taxonomy.
var ErrUnavailable = errors.New("gateway: backend unavailable")

// ErrNotFound indicates the requested record does not exist on the backend.
var ErrNotFound = errors.New("gateway: record not found")

// APIError carries a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: backend returned status %d: %s", e.StatusCode, e.Message)
}

// Options tunes client behavior.
type Options struct {
	Timeout time.Duration
	// Retries is the extra attempt budget for read calls. Writes are never
	// retried here.
	Retries int
	Backoff time.Duration
}

// Client talks to the ledger backend over its JSON resource API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	retries    int
	backoff    time.Duration
	httpClient *http.Client
}

// NewClient constructs a gateway client.
func NewClient(baseURL, apiKey, apiSecret string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		retries:   retries,
		backoff:   backoff,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks backend availability.
func (c *Client) Ping(ctx context.Context) error {
	return c.getJSON(ctx, "/api/method/ping", nil, nil)
}

// List runs a filtered resource query for the given record kind.
func (c *Client) List(ctx context.Context, kind string, q Query) ([]Document, error) {
	values, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []Document `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/resource/"+url.PathEscape(kind), values, &out); err != nil {
		return nil, err
	}
	for i := range out.Data {
		if out.Data[i].Kind == "" {
			out.Data[i].Kind = kind
		}
	}
	return out.Data, nil
}

// GetPeriod loads one Accounting Period record.
func (c *Client) GetPeriod(ctx context.Context, name string) (Period, error) {
	var out struct {
		Data Period `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/resource/Accounting Period/"+url.PathEscape(name), nil, &out); err != nil {
		return Period{}, err
	}
	return out.Data, nil
}

// CreatePeriod inserts a new Accounting Period record.
func (c *Client) CreatePeriod(ctx context.Context, period Period) (Period, error) {
	var out struct {
		Data Period `json:"data"`
	}
	if err := c.writeJSON(ctx, http.MethodPost, "/api/resource/Accounting Period", period, &out); err != nil {
		return Period{}, err
	}
	return out.Data, nil
}

// UpdatePeriod patches mutable fields of a period record.
func (c *Client) UpdatePeriod(ctx context.Context, name string, patch PeriodPatch) (Period, error) {
	var out struct {
		Data Period `json:"data"`
	}
	if err := c.writeJSON(ctx, http.MethodPut, "/api/resource/Accounting Period/"+url.PathEscape(name), patch, &out); err != nil {
		return Period{}, err
	}
	return out.Data, nil
}

// DeletePeriod removes a period record. Used by test fixtures only; the
// state machine never deletes periods.
func (c *Client) DeletePeriod(ctx context.Context, name string) error {
	return c.writeJSON(ctx, http.MethodDelete, "/api/resource/Accounting Period/"+url.PathEscape(name), nil, nil)
}

// MakeClosingEntry asks the backend to generate the period closing journal
// that zeroes nominal accounts into retained earnings. Returns the journal
// reference.
func (c *Client) MakeClosingEntry(ctx context.Context, company, periodName string) (string, error) {
	payload := map[string]string{
		"company": company,
		"period":  periodName,
	}
	var out struct {
		Message struct {
			JournalEntry string `json:"journal_entry"`
		} `json:"message"`
	}
	if err := c.writeJSON(ctx, http.MethodPost, "/api/method/make_period_closing_entry", payload, &out); err != nil {
		return "", err
	}
	if out.Message.JournalEntry == "" {
		return "", fmt.Errorf("gateway: closing entry response missing journal reference")
	}
	return out.Message.JournalEntry, nil
}

// AccountBalances fetches the account tree with debit/credit totals as of
// the given date.
func (c *Client) AccountBalances(ctx context.Context, company string, asOf Date) ([]AccountBalanceRow, error) {
	values := url.Values{}
	values.Set("company", company)
	values.Set("as_of", asOf.String())
	var out struct {
		Message []AccountBalanceRow `json:"message"`
	}
	if err := c.getJSON(ctx, "/api/method/account_balances", values, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// UnclearedBankEntries lists ledger entries on bank accounts dated at or
// before asOf that have no clearance date.
func (c *Client) UnclearedBankEntries(ctx context.Context, company string, asOf Date) ([]Document, error) {
	values := url.Values{}
	values.Set("company", company)
	values.Set("as_of", asOf.String())
	var out struct {
		Message []Document `json:"message"`
	}
	if err := c.getJSON(ctx, "/api/method/uncleared_bank_entries", values, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

func (c *Client) getJSON(ctx context.Context, path string, values url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff << (attempt - 1)):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		c.authorize(req)
		lastErr = c.do(req, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) writeJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func encodeQuery(q Query) (url.Values, error) {
	values := url.Values{}
	if len(q.Filters) > 0 {
		triples := make([][]any, 0, len(q.Filters))
		for _, f := range q.Filters {
			op := f.Op
			if op == "" {
				op = "="
			}
			triples = append(triples, []any{f.Field, op, f.Value})
		}
		data, err := json.Marshal(triples)
		if err != nil {
			return nil, err
		}
		values.Set("filters", string(data))
	}
	if len(q.Fields) > 0 {
		data, err := json.Marshal(q.Fields)
		if err != nil {
			return nil, err
		}
		values.Set("fields", string(data))
	}
	if q.Limit > 0 {
		values.Set("limit_page_length", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("limit_start", strconv.Itoa(q.Offset))
	}
	if q.OrderBy != "" {
		values.Set("order_by", q.OrderBy)
	}
	return values, nil
}
