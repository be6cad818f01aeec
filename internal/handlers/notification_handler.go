package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/middleware"
)

const defaultNotificationLimit = 20

// NotificationSource lists recent notifications, newest first
type NotificationSource interface {
	Recent(limit int) []domain.Notification
}

// NotificationHandler lets the console poll for toasts
type NotificationHandler struct {
	responder
	feed NotificationSource
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(feed NotificationSource, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		responder: responder{logger: logger},
		feed:      feed,
	}
}

// Register mounts the notification routes
func (h *NotificationHandler) Register(r chi.Router) {
	r.Get("/notifications", h.List)
}

// List handles GET /notifications?limit=N
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	limit := defaultNotificationLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer", requestID)
			return
		}
		limit = n
	}

	h.respondJSON(w, http.StatusOK, h.feed.Recent(limit), requestID)
}
