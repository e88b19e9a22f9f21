package windowfence

// Kind separates the key spaces of the two limiters
type Kind string

const (
	// KindRate prefixes request rate keys
	KindRate Kind = "default"

	// KindFailed prefixes failure lockout keys
	KindFailed Kind = "failed"
)

// Identity is what the surrounding adapter knows about a call.
// Caller is required; Endpoint is only used by the rate limiter.
type Identity struct {
	Caller   string
	Endpoint string
}

// BuildKey derives the storage key for a call.
//
// Rate keys are per endpoint ("default:{caller}:{endpoint}"), lockout keys are
// per caller ("failed:{caller}"). An empty caller yields the empty key, which
// limiters treat as "identity unknown".
func BuildKey(kind Kind, caller, endpoint string) string {
	if caller == "" {
		return ""
	}
	if kind == KindFailed || endpoint == "" {
		return string(kind) + ":" + caller
	}
	return string(kind) + ":" + caller + ":" + endpoint
}

// Key returns the key of the identity for a limiter kind
func (id Identity) Key(kind Kind) string {
	return BuildKey(kind, id.Caller, id.Endpoint)
}
