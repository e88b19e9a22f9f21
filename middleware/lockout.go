package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// Lockout wraps handlers, typically login endpoints, with failure lockout.
// Locked out callers are rejected before the handler runs. Otherwise the
// response status decides: a failure status records a failure and a 2xx
// status clears the caller's failures.
func Lockout(limiter windowfence.FailedLimiter, config Config) func(http.Handler) http.Handler {
	config = config.withDefaults()

	failure := make(map[int]bool, len(config.FailureStatuses))
	for _, status := range config.FailureStatuses {
		failure[status] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := config.identity(r)

			if _, err := limiter.Check(r.Context(), id); err != nil {
				WriteError(w, err)
				return
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			// A client hanging up must not erase its failure
			ctx := context.WithoutCancel(r.Context())
			status := sw.Status()

			var err error
			switch {
			case failure[status]:
				err = limiter.FailUp(ctx, id)
			case status >= 200 && status < 300:
				err = limiter.Reset(ctx, id)
			}
			if err != nil {
				config.Logger.WithFields(logrus.Fields{
					"caller": id.Caller,
					"status": status,
					"error":  err,
				}).Warn("failed to update lockout")
			}
		})
	}
}

// statusWriter records the status code written by a handler
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Status returns the written status, 200 when the handler wrote nothing
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
