package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// errorBody is the JSON body of error responses
type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// statusCoder is implemented by application errors built by an error factory
type statusCoder interface {
	StatusCode() int
}

// WriteError translates a limiter error to an HTTP response.
//   - LimitExceededError: its status code and message
//   - errors with a StatusCode() int method: that status and the error text
//   - ErrBackendUnavailable: 503
//   - anything else: 500
func WriteError(w http.ResponseWriter, err error) {
	var (
		limitErr *windowfence.LimitExceededError
		coder    statusCoder
	)

	switch {
	case errors.As(err, &limitErr):
		body := errorBody{Error: "limit_exceeded", Message: limitErr.Message}
		if limitErr.RetryAfter > 0 {
			body.RetryAfterMs = limitErr.RetryAfter.Milliseconds()
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(limitErr.RetryAfter), 10))
			}
		}
		writeJSON(w, limitErr.StatusCode, body)

	case errors.As(err, &coder):
		writeJSON(w, coder.StatusCode(), errorBody{Error: "limit_exceeded", Message: err.Error()})

	case errors.Is(err, windowfence.ErrBackendUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   "backend_unavailable",
			Message: "Rate limiting backend unavailable. Please try again later.",
		})

	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "internal_error",
			Message: http.StatusText(http.StatusInternalServerError),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
