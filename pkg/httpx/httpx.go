// Package httpx holds the JSON plumbing shared by HTTP handlers. Handlers
// map core results onto the wire here and nowhere else.
package httpx

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"agentidentity/pkg/domain"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps a core error kind onto its status code. Persistence
// failures report 503 so callers can tell "rejected" from "unknown".
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidName), errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthorizedReport):
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, domain.ErrIdentityNotFound):
		WriteError(w, http.StatusNotFound, "IDENTITY_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrParentNotFound):
		WriteError(w, http.StatusNotFound, "PARENT_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateIdentity):
		WriteError(w, http.StatusConflict, "DUPLICATE_IDENTITY", err.Error(), nil)
	case errors.Is(err, domain.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", err.Error(), nil)
	case errors.Is(err, domain.ErrPersistence):
		WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}

// ClientIP extracts the originating IP, honoring X-Forwarded-For behind a
// proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
