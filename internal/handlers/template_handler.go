package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/middleware"
	"github.com/your-org/consolegrid/internal/usecases"
)

// TemplateHandler creates email templates
type TemplateHandler struct {
	responder
	usecase *usecases.TemplateUsecase
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(usecase *usecases.TemplateUsecase, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		responder: responder{logger: logger},
		usecase:   usecase,
	}
}

// Register mounts the template routes
func (h *TemplateHandler) Register(r chi.Router) {
	r.Post("/email-templates", h.Create)
}

type createTemplateBody struct {
	Subject string `json:"subject"`
	Active  bool   `json:"active"`
}

// Create handles POST /email-templates
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var body createTemplateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	created, err := h.usecase.Create(ctx, body.Subject, body.Active)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusCreated, created, requestID)
}
