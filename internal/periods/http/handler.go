// Package periodshttp exposes the accounting period closing API.
package periodshttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ledgerdesk/ledgerdesk/internal/audit"
	"github.com/ledgerdesk/ledgerdesk/internal/gateway"
	"github.com/ledgerdesk/ledgerdesk/internal/periods"
	"github.com/ledgerdesk/ledgerdesk/internal/platform/httpx"
	"github.com/ledgerdesk/ledgerdesk/internal/reports"
	"github.com/ledgerdesk/ledgerdesk/internal/validation"
)

type periodService interface {
	Get(ctx context.Context, name, company string) (periods.Period, error)
	Create(ctx context.Context, in periods.CreatePeriodInput) (periods.Period, error)
	Validate(ctx context.Context, name, company string, overrides validation.Config) (validation.Report, error)
	Close(ctx context.Context, name, company, actor string) (periods.Period, error)
	Reopen(ctx context.Context, name, company, actor, reason string) (periods.Period, error)
	PermanentlyClose(ctx context.Context, name, company, actor string) (periods.Period, error)
	OverrideTransaction(ctx context.Context, in periods.OverrideInput) (audit.Stored, error)
}

type auditService interface {
	Query(ctx context.Context, filter audit.Filter) (audit.Page, error)
	ExportCSV(ctx context.Context, filter audit.Filter) ([]byte, error)
}

type summaryService interface {
	Summarize(ctx context.Context, periodName, company string, asOf *gateway.Date) (reports.ClosingSummary, error)
}

type summaryExporter interface {
	Export(ctx context.Context, periodName, company string, format reports.Format, actor string) (reports.ExportResult, error)
}

// Handler wires the closing subsystem endpoints.
type Handler struct {
	logger   *slog.Logger
	service  periodService
	auditSvc auditService
	reporter summaryService
	exporter summaryExporter
	validate *validator.Validate
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, service periodService, auditSvc auditService, reporter summaryService, exporter summaryExporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		auditSvc: auditSvc,
		reporter: reporter,
		exporter: exporter,
		validate: validator.New(),
	}
}

type createPeriodRequest struct {
	Name       string `json:"period_name" validate:"required"`
	Label      string `json:"label"`
	Company    string `json:"company" validate:"required"`
	StartDate  string `json:"start_date" validate:"required"`
	EndDate    string `json:"end_date" validate:"required"`
	PeriodType string `json:"period_type" validate:"required,oneof=Monthly Quarterly Yearly"`
	Actor      string `json:"actor" validate:"required"`
}

type validateRequest struct {
	PeriodName string          `json:"period_name" validate:"required"`
	Company    string          `json:"company" validate:"required"`
	Checks     map[string]bool `json:"checks,omitempty"`
}

type transitionRequest struct {
	PeriodName string `json:"period_name" validate:"required"`
	Company    string `json:"company" validate:"required"`
	Actor      string `json:"actor" validate:"required"`
	Reason     string `json:"reason"`
}

type overrideRequest struct {
	PeriodName      string `json:"period_name" validate:"required"`
	Company         string `json:"company" validate:"required"`
	Actor           string `json:"actor" validate:"required"`
	TransactionRef  string `json:"transaction_ref" validate:"required"`
	TransactionKind string `json:"transaction_kind" validate:"required"`
	Reason          string `json:"reason" validate:"required"`
}

type periodResponse struct {
	Success bool           `json:"success"`
	Data    periods.Period `json:"data"`
}

type validateResponse struct {
	Success     bool                `json:"success"`
	AllPassed   bool                `json:"all_passed"`
	Validations []validation.Result `json:"validations"`
}

type rejectionResponse struct {
	Success       bool                `json:"success"`
	Error         string              `json:"error"`
	CurrentStatus periods.Status      `json:"current_status"`
	Blocking      []validation.Result `json:"blocking,omitempty"`
}

type auditLogResponse struct {
	Success    bool           `json:"success"`
	Data       []audit.Stored `json:"data"`
	TotalCount int            `json:"total_count"`
}

type summaryResponse struct {
	Success     bool                   `json:"success"`
	Data        reports.ClosingSummary `json:"data"`
	PDFURL      string                 `json:"pdf_url,omitempty"`
	ExcelURL    string                 `json:"excel_url,omitempty"`
	GeneratedAt *time.Time             `json:"generated_at,omitempty"`
	GeneratedBy string                 `json:"generated_by,omitempty"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields = append(fields, fieldErr.Field())
			}
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid or missing fields: "+strings.Join(fields, ", "))
		return false
	}
	return true
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end_date must be YYYY-MM-DD")
		return
	}
	period, err := h.service.Create(r.Context(), periods.CreatePeriodInput{
		Name:      req.Name,
		Label:     req.Label,
		Company:   req.Company,
		StartDate: start,
		EndDate:   end,
		Type:      periods.PeriodType(req.PeriodType),
		Actor:     req.Actor,
	})
	if err != nil {
		h.respondError(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, periodResponse{Success: true, Data: period})
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	company := strings.TrimSpace(r.URL.Query().Get("company"))
	period, err := h.service.Get(r.Context(), name, company)
	if err != nil {
		h.respondError(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, periodResponse{Success: true, Data: period})
}

func (h *Handler) validatePeriod(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, err := h.service.Validate(r.Context(), req.PeriodName, req.Company, validation.Config(req.Checks))
	if err != nil {
		h.respondError(w, "validate period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, validateResponse{
		Success:     true,
		AllPassed:   report.AllPassed,
		Validations: report.Results,
	})
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, req transitionRequest) (periods.Period, error) {
		return h.service.Close(ctx, req.PeriodName, req.Company, req.Actor)
	})
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, req transitionRequest) (periods.Period, error) {
		return h.service.Reopen(ctx, req.PeriodName, req.Company, req.Actor, req.Reason)
	})
}

func (h *Handler) permanentlyClosePeriod(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, req transitionRequest) (periods.Period, error) {
		return h.service.PermanentlyClose(ctx, req.PeriodName, req.Company, req.Actor)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, transitionRequest) (periods.Period, error)) {
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := apply(r.Context(), req)
	if err != nil {
		h.respondError(w, "period transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, periodResponse{Success: true, Data: period})
}

func (h *Handler) overrideTransaction(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	stored, err := h.service.OverrideTransaction(r.Context(), periods.OverrideInput{
		PeriodName:      req.PeriodName,
		Company:         req.Company,
		Actor:           req.Actor,
		TransactionRef:  req.TransactionRef,
		TransactionKind: req.TransactionKind,
		Reason:          req.Reason,
	})
	if err != nil {
		h.respondError(w, "override transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "data": stored})
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseAuditFilter(w, r)
	if !ok {
		return
	}
	page, err := h.auditSvc.Query(r.Context(), filter)
	if err != nil {
		h.respondError(w, "audit log query", err)
		return
	}
	httpx.JSON(w, http.StatusOK, auditLogResponse{
		Success:    true,
		Data:       page.Entries,
		TotalCount: page.TotalCount,
	})
}

func (h *Handler) auditLogExport(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseAuditFilter(w, r)
	if !ok {
		return
	}
	data, err := h.auditSvc.ExportCSV(r.Context(), filter)
	if err != nil {
		h.respondError(w, "audit log export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="period-closing-log.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) parseAuditFilter(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	query := r.URL.Query()
	filter := audit.Filter{
		PeriodRef: strings.TrimSpace(query.Get("period_name")),
		Action:    audit.Action(strings.TrimSpace(query.Get("action_type"))),
	}
	if filter.Action != "" && !audit.KnownAction(filter.Action) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action_type")
		return audit.Filter{}, false
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
			return audit.Filter{}, false
		}
		filter.Limit = limit
	}
	if raw := query.Get("start"); raw != "" {
		start, err := strconv.Atoi(raw)
		if err != nil || start < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start must be a non-negative integer")
			return audit.Filter{}, false
		}
		filter.Offset = start
	}
	return filter, true
}

func (h *Handler) closingSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	periodName := strings.TrimSpace(query.Get("period_name"))
	company := strings.TrimSpace(query.Get("company"))
	if periodName == "" || company == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period_name and company are required")
		return
	}
	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format == "" {
		format = "json"
	}

	summary, err := h.reporter.Summarize(r.Context(), periodName, company, nil)
	if err != nil {
		h.respondError(w, "closing summary", err)
		return
	}
	resp := summaryResponse{Success: true, Data: summary}
	switch format {
	case "json":
		// JSON responses never carry export URLs.
	case "pdf", "excel":
		actor := strings.TrimSpace(query.Get("actor"))
		if actor == "" {
			actor = "system"
		}
		result, err := h.exporter.Export(r.Context(), periodName, company, reports.Format(format), actor)
		if err != nil {
			h.respondError(w, "closing summary export", err)
			return
		}
		generatedAt := result.GeneratedAt
		resp.GeneratedAt = &generatedAt
		resp.GeneratedBy = result.GeneratedBy
		if format == "pdf" {
			resp.PDFURL = result.URL
		} else {
			resp.ExcelURL = result.URL
		}
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "format must be json, pdf, or excel")
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// respondError maps domain failures onto the API surface. Invalid
// transitions come back as structured 409 rejections enumerating every
// blocking check.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var invalid *periods.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		httpx.JSON(w, http.StatusConflict, rejectionResponse{
			Success:       false,
			Error:         invalid.Error(),
			CurrentStatus: invalid.Current,
			Blocking:      invalid.Blocking,
		})
	case errors.Is(err, periods.ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, gateway.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, periods.ErrWrongCompany),
		errors.Is(err, periods.ErrReasonRequired),
		errors.Is(err, reports.ErrWrongCompany),
		errors.Is(err, reports.ErrPeriodNotClosed):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, periods.ErrTransitionInFlight):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, periods.ErrReconcileNeeded):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Reconciliation Required", err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Ledger Backend Unavailable", "the accounting backend could not be reached")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
