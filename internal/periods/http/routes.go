package periodshttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// MountRoutes registers the closing subsystem endpoints. Report and CSV
// exports sit behind a per-IP rate limiter since each request renders an
// artefact.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Route("/accounting-period", func(r chi.Router) {
		r.Post("/", h.createPeriod)
		r.Post("/validate", h.validatePeriod)
		r.Post("/close", h.closePeriod)
		r.Post("/reopen", h.reopenPeriod)
		r.Post("/permanently-close", h.permanentlyClosePeriod)
		r.Post("/override-transaction", h.overrideTransaction)
		r.Get("/audit-log", h.auditLog)
		r.Get("/{name}", h.getPeriod)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Get("/audit-log/export.csv", h.auditLogExport)
			gr.Get("/reports/closing-summary", h.closingSummary)
		})
	})
}

func pathParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
