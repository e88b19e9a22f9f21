package windowfence

import (
	"github.com/KanavDutta/windowfence/middleware"
	wf "github.com/KanavDutta/windowfence/pkg/windowfence"
)

// Re-export main types for convenience
type (
	Config        = wf.Config
	Identity      = wf.Identity
	Decision      = wf.Decision
	Option        = wf.Option
	RateLimiter   = wf.RateLimiter
	FailedLimiter = wf.FailedLimiter
	Limiters      = wf.Limiters
)

// ErrLimitExceeded matches every denial from the default error policy
var ErrLimitExceeded = wf.ErrLimitExceeded

var (
	// NewRateLimiter creates a fixed window rate limiter
	NewRateLimiter = wf.NewRateLimiter

	// NewFailedLimiter creates a failure lockout limiter
	NewFailedLimiter = wf.NewFailedLimiter

	// Open builds both limiters from a Config
	Open = wf.Open

	// RateLimit and Lockout are the net/http middlewares
	RateLimit = middleware.RateLimit
	Lockout   = middleware.Lockout
)
