package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// Config for the HTTP middlewares
type Config struct {
	KeyExtractor    KeyExtractor               // Optional: caller identity (defaults to ExtractIP)
	RouteFunc       func(*http.Request) string // Optional: endpoint of a request (defaults to r.URL.Path)
	Logger          *logrus.Logger             // Optional: defaults to the logrus standard logger
	FailureStatuses []int                      // Optional: statuses counted as failures by Lockout (defaults to 401, 403)
}

func (c Config) withDefaults() Config {
	if c.KeyExtractor == nil {
		c.KeyExtractor = ExtractIP()
	}
	if c.RouteFunc == nil {
		c.RouteFunc = func(r *http.Request) string { return r.URL.Path }
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if len(c.FailureStatuses) == 0 {
		c.FailureStatuses = []int{http.StatusUnauthorized, http.StatusForbidden}
	}
	return c
}

// identity extracts the caller of a request. A request without a usable
// identity gets an empty caller, which the limiters treat as unknown.
func (c Config) identity(r *http.Request) windowfence.Identity {
	caller, err := c.KeyExtractor(r)
	if err != nil {
		c.Logger.WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"error": err,
		}).Debug("no caller identity")
		caller = ""
	}
	return windowfence.Identity{Caller: caller, Endpoint: c.RouteFunc(r)}
}

// RateLimit wraps handlers with request rate limiting.
//
// Headers set on every counted request:
//   - X-RateLimit-Limit: Maximum requests allowed in the window
//   - X-RateLimit-Remaining: Remaining requests in current window
//   - X-RateLimit-Reset: Time when the window ends (Unix timestamp)
//   - Retry-After: Seconds to wait before retrying (when rate limited)
func RateLimit(limiter windowfence.RateLimiter, config Config) func(http.Handler) http.Handler {
	config = config.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Check(r.Context(), config.identity(r))
			if d != nil && !d.Skipped {
				setHeaders(w, d)
			}
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, d *windowfence.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed && d.RetryAfter > 0 {
		h.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
	}
}

// retryAfterSeconds rounds up so clients never retry early
func retryAfterSeconds(d time.Duration) int64 {
	sec := int64((d + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}
