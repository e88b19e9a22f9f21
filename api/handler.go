package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// Handler serves admission checks for remote callers
type Handler struct {
	rate   windowfence.RateLimiter
	failed windowfence.FailedLimiter
	logger *logrus.Logger
}

// NewHandler creates a new API handler. Either limiter may be nil, in which
// case its endpoints answer 404.
func NewHandler(rate windowfence.RateLimiter, failed windowfence.FailedLimiter, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		rate:   rate,
		failed: failed,
		logger: logger,
	}
}

// Mount registers the admission routes on r
func (h *Handler) Mount(r chi.Router) {
	r.Post("/check", h.CheckRateLimit)
	r.Route("/lockout", func(r chi.Router) {
		r.Post("/check", h.CheckLockout)
		r.Post("/fail", h.FailUp)
		r.Post("/reset", h.ResetLockout)
	})
}

// CheckRequest represents the incoming rate limit check request
type CheckRequest struct {
	ClientID string `json:"client_id"`          // Required: unique identifier (user ID, API key, IP)
	Endpoint string `json:"endpoint,omitempty"` // Optional: protected endpoint, limits are per endpoint
}

// LockoutRequest identifies the caller of a lockout operation
type LockoutRequest struct {
	ClientID string `json:"client_id"`
}

// CheckResponse represents a limiter decision
type CheckResponse struct {
	Allowed      bool   `json:"allowed"`                  // Whether request is allowed
	Key          string `json:"key"`                      // Storage key that was checked
	Count        int64  `json:"count"`                    // Calls or failures in the window
	Remaining    int64  `json:"remaining"`                // Calls left before denial
	Limit        int64  `json:"limit"`                    // Configured limit
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"` // Milliseconds until retry (if blocked)
	ResetAt      int64  `json:"reset_at,omitempty"`       // Unix timestamp when the window ends
	Message      string `json:"message,omitempty"`        // Denial message
	Degraded     bool   `json:"degraded,omitempty"`       // Store failed, decided by the failure mode
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CheckRateLimit handles POST /check requests
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	if h.rate == nil {
		h.sendError(w, http.StatusNotFound, "limiter_disabled", "Rate limiting is disabled")
		return
	}

	var req CheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_client_id", "client_id is required")
		return
	}

	d, err := h.rate.Check(r.Context(), windowfence.Identity{Caller: req.ClientID, Endpoint: req.Endpoint})
	h.sendDecision(w, d, err)
}

// CheckLockout handles POST /lockout/check requests
func (h *Handler) CheckLockout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lockoutIdentity(w, r)
	if !ok {
		return
	}

	d, err := h.failed.Check(r.Context(), id)
	h.sendDecision(w, d, err)
}

// FailUp handles POST /lockout/fail requests
func (h *Handler) FailUp(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lockoutIdentity(w, r)
	if !ok {
		return
	}

	if err := h.failed.FailUp(r.Context(), id); err != nil {
		h.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetLockout handles POST /lockout/reset requests
func (h *Handler) ResetLockout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lockoutIdentity(w, r)
	if !ok {
		return
	}

	if err := h.failed.Reset(r.Context(), id); err != nil {
		h.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lockoutIdentity(w http.ResponseWriter, r *http.Request) (windowfence.Identity, bool) {
	if h.failed == nil {
		h.sendError(w, http.StatusNotFound, "limiter_disabled", "Failure lockout is disabled")
		return windowfence.Identity{}, false
	}

	var req LockoutRequest
	if !h.decode(w, r, &req) {
		return windowfence.Identity{}, false
	}
	if req.ClientID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_client_id", "client_id is required")
		return windowfence.Identity{}, false
	}
	return windowfence.Identity{Caller: req.ClientID}, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}

// sendDecision answers 200 on allow and the error policy status on deny
func (h *Handler) sendDecision(w http.ResponseWriter, d *windowfence.Decision, err error) {
	if d == nil {
		h.sendStoreError(w, err)
		return
	}

	resp := CheckResponse{
		Allowed:      d.Allowed,
		Key:          d.Key,
		Count:        d.Count,
		Remaining:    d.Remaining,
		Limit:        d.Limit,
		RetryAfterMs: d.RetryAfter.Milliseconds(),
		Degraded:     d.Degraded,
	}
	if !d.ResetAt.IsZero() {
		resp.ResetAt = d.ResetAt.Unix()
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusTooManyRequests
		resp.Message = err.Error()

		var limitErr *windowfence.LimitExceededError
		var coder interface{ StatusCode() int }
		switch {
		case errors.As(err, &limitErr):
			status = limitErr.StatusCode
			resp.Message = limitErr.Message
		case errors.As(err, &coder):
			status = coder.StatusCode()
		}
	}

	h.sendJSON(w, status, resp)
}

func (h *Handler) sendStoreError(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Error("admission check failed")

	if errors.Is(err, windowfence.ErrBackendUnavailable) {
		h.sendError(w, http.StatusServiceUnavailable, "backend_unavailable", "Limiter backend unavailable")
		return
	}
	h.sendError(w, http.StatusInternalServerError, "internal_error", "Admission check failed")
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Debug("failed to write response")
	}
}
