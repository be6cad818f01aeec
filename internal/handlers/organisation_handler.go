package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/middleware"
	"github.com/your-org/consolegrid/internal/usecases"
)

// OrganisationHandler backs the organisation editor
type OrganisationHandler struct {
	responder
	usecase *usecases.OrganisationUsecase
}

// NewOrganisationHandler creates a new organisation handler
func NewOrganisationHandler(usecase *usecases.OrganisationUsecase, logger *zap.Logger) *OrganisationHandler {
	return &OrganisationHandler{
		responder: responder{logger: logger},
		usecase:   usecase,
	}
}

// Register mounts the organisation routes
func (h *OrganisationHandler) Register(r chi.Router) {
	r.Route("/organisations", func(r chi.Router) {
		r.Get("/{id}", h.Get)       // GET /organisations/{id}
		r.Put("/{id}", h.Update)    // PUT /organisations/{id}
		r.Delete("/{id}", h.Delete) // DELETE /organisations/{id}
	})
}

func (h *OrganisationHandler) parseID(w http.ResponseWriter, r *http.Request, requestID string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		h.respondError(w, http.StatusBadRequest, "id must be a positive integer", requestID)
		return 0, false
	}
	return id, true
}

// Get handles GET /organisations/{id}
func (h *OrganisationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r, requestID)
	if !ok {
		return
	}

	org, err := h.usecase.Get(ctx, id)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, org, requestID)
}

// Update handles PUT /organisations/{id}
func (h *OrganisationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r, requestID)
	if !ok {
		return
	}

	var org domain.Organisation
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		h.logger.Warn("failed to decode request body",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}
	org.ID = id

	saved, err := h.usecase.Update(ctx, &org)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, saved, requestID)
}

// Delete handles DELETE /organisations/{id}
func (h *OrganisationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r, requestID)
	if !ok {
		return
	}

	if err := h.usecase.Delete(ctx, id); err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	w.Header().Set(middleware.RequestIDHeader, requestID)
	w.WriteHeader(http.StatusNoContent)
}
