// Package windowfence provides fixed window rate limiting and failure lockout
// for Go services, backed by process memory or a shared Redis server.
//
// Two limiters are provided. A RateLimiter counts every call per caller and
// endpoint and denies calls over the limit until the window ends. A
// FailedLimiter counts only reported failures per caller and locks the caller
// out for one window once the limit is reached.
//
// # Quick Start
//
//	limiter, err := windowfence.NewRateLimiter(3, time.Minute)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id := windowfence.Identity{Caller: "10.0.0.1", Endpoint: "/search"}
//	if _, err := limiter.Check(ctx, id); err != nil {
//	    // errors.Is(err, windowfence.ErrLimitExceeded)
//	}
//
// # Failure Lockout
//
//	lockout, _ := windowfence.NewFailedLimiter(5, 15*time.Minute)
//
//	err := lockout.Track(ctx, id, func(ctx context.Context) error {
//	    return checkPassword(ctx, user, password)
//	})
//
// Track checks the lockout, runs the function and records a failure when it
// returns an error or clears the failures when it succeeds. FailUp and Reset
// can be called directly when the outcome is known elsewhere.
//
// # Shared Backend
//
// Passing a Redis client makes every instance share the same counts:
//
//	limiter, _ := windowfence.NewRateLimiter(100, time.Minute,
//	    windowfence.WithRedis(client),
//	    windowfence.WithFailureMode(windowfence.FailOpen),
//	)
//
// Each key is a hash holding the window start and the count, expiring one
// window after the last write. The default read-then-write update can
// under-count by one under concurrent calls for the same key; WithAtomic runs
// the whole check in a single Lua script instead.
//
// # Configuration
//
// Example YAML configuration:
//
//	rate_limit:
//	  limit: 100
//	  window_seconds: 60
//	  enabled: true
//
//	failed_limit:
//	  limit: 5
//	  window_seconds: 300
//	  message: "Too many failed logins"
//	  enabled: true
//
//	store:
//	  backend: redis
//	  failure_mode: open
//	  redis:
//	    host: localhost
//	    port: 6379
//
//	key_extractor: "ip-proxy"
//
// Open builds both limiters from a Config.
package windowfence
