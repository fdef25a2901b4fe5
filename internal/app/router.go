package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/facturio/facturio/internal/convert"
	"github.com/facturio/facturio/internal/deliverynote"
	"github.com/facturio/facturio/internal/invoice"
	"github.com/facturio/facturio/internal/observability"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/receipt"
	"github.com/facturio/facturio/internal/recurring"
	"github.com/facturio/facturio/internal/series"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	SeriesHandler       *series.Handler
	InvoiceHandler      *invoice.Handler
	ProformaHandler     *proforma.Handler
	DeliveryNoteHandler *deliverynote.Handler
	ReceiptHandler      *receipt.Handler
	RecurringHandler    *recurring.Handler
	ConvertHandler      *convert.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Route("/series", params.SeriesHandler.MountRoutes)
		r.Route("/invoices", params.InvoiceHandler.MountRoutes)
		r.Route("/proformas", params.ProformaHandler.MountRoutes)
		r.Route("/delivery-notes", params.DeliveryNoteHandler.MountRoutes)
		r.Route("/receipts", params.ReceiptHandler.MountRoutes)
		r.Route("/recurring", params.RecurringHandler.MountRoutes)
		r.Route("/convert", params.ConvertHandler.MountRoutes)
	})

	return r
}
