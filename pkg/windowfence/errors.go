package windowfence

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KanavDutta/windowfence/core"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidLimit is returned when the limit is not positive
	ErrInvalidLimit = core.ErrInvalidLimit

	// ErrInvalidWindow is returned when the window is shorter than one second
	ErrInvalidWindow = core.ErrInvalidWindow

	// ErrLimitExceeded matches every error produced by the default error policy
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrBackendUnavailable wraps store failures when the failure mode is raise
	ErrBackendUnavailable = errors.New("limiter backend unavailable")
)

const (
	// DefaultStatusCode is the status carried by denials unless configured otherwise
	DefaultStatusCode = http.StatusTooManyRequests

	// DefaultRateMessage is the rate limiter denial message
	DefaultRateMessage = "Rate Limit Exceed"
)

// DefaultLockoutMessage returns the lockout denial message for a window
func DefaultLockoutMessage(window time.Duration) string {
	return fmt.Sprintf("Access is limited for %d seconds", int64(window/time.Second))
}

// LimitExceededError is the error returned on denial when no factory is configured.
type LimitExceededError struct {
	Kind       Kind
	Key        string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Is makes errors.Is(err, ErrLimitExceeded) hold
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// ErrorFactory builds the error returned to the caller on denial
type ErrorFactory func(statusCode int, message string) error

// ErrorPolicy decides what a denial looks like to the caller.
// A nil Factory produces a *LimitExceededError.
type ErrorPolicy struct {
	Factory    ErrorFactory
	StatusCode int
	Message    string
}

// withDefaults fills unset fields, the message depending on the limiter kind
func (p ErrorPolicy) withDefaults(kind Kind, window time.Duration) ErrorPolicy {
	if p.StatusCode == 0 {
		p.StatusCode = DefaultStatusCode
	}
	if p.Message == "" {
		if kind == KindFailed {
			p.Message = DefaultLockoutMessage(window)
		} else {
			p.Message = DefaultRateMessage
		}
	}
	return p
}

func (p ErrorPolicy) build(kind Kind, d *Decision) error {
	if p.Factory != nil {
		if err := p.Factory(p.StatusCode, p.Message); err != nil {
			return err
		}
	}
	return &LimitExceededError{
		Kind:       kind,
		Key:        d.Key,
		StatusCode: p.StatusCode,
		Message:    p.Message,
		RetryAfter: d.RetryAfter,
	}
}
