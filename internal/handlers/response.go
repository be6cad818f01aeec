package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/graphql"
	"github.com/your-org/consolegrid/internal/middleware"
)

// SessionHeader identifies the console session a grid position belongs to
const SessionHeader = "X-Console-Session"

// responder carries the JSON helpers shared by every handler
type responder struct {
	logger *zap.Logger
}

// respondJSON sends a JSON response
func (h responder) respondJSON(w http.ResponseWriter, status int, data any, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(middleware.RequestIDHeader, requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError sends an error response
func (h responder) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}

// statusFor maps usecase errors onto HTTP status codes
func statusFor(err error) int {
	var queryErr *graphql.QueryError
	var transportErr *graphql.TransportError
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnknownGrid),
		errors.Is(err, domain.ErrUnknownFilter):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &queryErr), errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sessionID reads the console session from the header, cookie or query
func sessionID(r *http.Request) string {
	if s := r.Header.Get(SessionHeader); s != "" {
		return s
	}
	if c, err := r.Cookie("console_session"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("session")
}
