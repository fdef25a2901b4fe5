package proforma

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/platform/httpx"
	"github.com/facturio/facturio/internal/shared"
)

var validate = validator.New()

// Handler exposes the proforma lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes attaches proforma routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.remove)
		r.Get("/events", h.events)
		r.Post("/send", h.action(h.service.Send))
		r.Post("/accept", h.action(h.service.Accept))
		r.Post("/reject", h.action(h.service.Reject))
		r.Post("/expire", h.action(h.service.Expire))
		r.Post("/restore", h.action(h.service.Restore))
		r.Post("/cancel", h.cancel)
	})
}

func requestScope(r *http.Request) (companyID, actorID uuid.UUID) {
	return shared.CompanyFromContext(r.Context()), shared.ActorFromContext(r.Context())
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.NewValidation("id", "malformed uuid")
	}
	return id, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	companyID, actorID := requestScope(r)
	p, err := h.service.Create(r.Context(), companyID, actorID, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, _ := requestScope(r)
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	f := Filter{
		Status:  document.Status(q.Get("status")),
		Number:  q.Get("number"),
		Page:    page,
		PerPage: perPage,
	}
	if raw := q.Get("clientId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidation("clientId", "malformed uuid"))
			return
		}
		f.ClientID = id
	}
	items, pagination, err := h.service.List(r.Context(), companyID, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	companyID, _ := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	p, err := h.service.Update(r.Context(), companyID, actorID, id, in)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), companyID, actorID, id); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	companyID, _ := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.Events(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

// action wraps the plain transition operations sharing one signature.
func (h *Handler) action(op func(ctx context.Context, companyID, actorID, id uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID, actorID := requestScope(r)
		id, err := parseID(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := op(r.Context(), companyID, actorID, id); err != nil {
			httpx.RespondError(w, mapNotFound(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("reason", "required, at most 500 characters"))
		return
	}
	if err := h.service.Cancel(r.Context(), companyID, actorID, id, req.Reason); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapNotFound(err error) error {
	if err == ErrNotFound {
		return shared.ErrNotFound
	}
	return err
}
