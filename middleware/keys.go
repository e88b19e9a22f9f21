package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// ErrKeyExtractionFailed is returned when no caller identity can be found in a request
var ErrKeyExtractionFailed = errors.New("failed to extract key from request")

// KeyExtractor returns the caller identity of a request. The result becomes
// the caller part of the limiter key.
type KeyExtractor func(*http.Request) (string, error)

func missing(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrKeyExtractionFailed, fmt.Sprintf(format, args...))
}

// ExtractIP identifies callers by the host part of r.RemoteAddr.
func ExtractIP() KeyExtractor {
	return remoteIP
}

// ExtractIPWithProxy prefers the first X-Forwarded-For address, then
// X-Real-IP, then r.RemoteAddr. Clients can set these headers themselves, so
// use it only behind a proxy that overwrites them.
func ExtractIPWithProxy() KeyExtractor {
	return func(r *http.Request) (string, error) {
		// The first X-Forwarded-For entry is the original client
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
			if ip := strings.TrimSpace(candidate); ip != "" {
				return ip, nil
			}
		}
		return remoteIP(r)
	}
}

func remoteIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port, e.g. a unix socket or a hand-built request
		host = r.RemoteAddr
	}
	if host == "" {
		return "", missing("empty IP address")
	}
	return host, nil
}

// ExtractHeader identifies callers by the value of the named header, such as
// an API key. Keys look like "header:X-API-Key:<value>".
func ExtractHeader(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(name)
		if value == "" {
			return "", missing("header %s not found or empty", name)
		}
		return "header:" + name + ":" + value, nil
	}
}

// ExtractBearer identifies callers by their "Authorization: Bearer" token.
// Keys look like "bearer:<token>".
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", missing("Authorization header not found")
		}

		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", missing("invalid Authorization header format")
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", missing("empty bearer token")
		}
		return "bearer:" + token, nil
	}
}

// ExtractCookie identifies callers by a session cookie.
// Keys look like "cookie:<name>:<value>".
func ExtractCookie(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil {
			return "", missing("cookie %s not found: %v", name, err)
		}
		if cookie.Value == "" {
			return "", missing("cookie %s has empty value", name)
		}
		return "cookie:" + name + ":" + cookie.Value, nil
	}
}

// ExtractStatic puts every request under one key, one limit for everybody.
func ExtractStatic(key string) KeyExtractor {
	return func(*http.Request) (string, error) {
		if key == "" {
			return "", missing("static key is empty")
		}
		return key, nil
	}
}

// ExtractComposite asks each extractor in turn and keeps the first identity.
// When all fail the last error is returned.
//
//	extractor := ExtractComposite(ExtractHeader("X-API-Key"), ExtractIPWithProxy())
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		err := missing("no extractors provided")
		for _, extract := range extractors {
			key, extractErr := extract(r)
			if extractErr == nil && key != "" {
				return key, nil
			}
			if extractErr != nil {
				err = extractErr
			}
		}
		return "", err
	}
}

var (
	plainExtractors = map[string]func() KeyExtractor{
		"":         ExtractIP,
		"ip":       ExtractIP,
		"ip-proxy": ExtractIPWithProxy,
		"bearer":   ExtractBearer,
	}
	namedExtractors = map[string]func(string) KeyExtractor{
		"header": ExtractHeader,
		"cookie": ExtractCookie,
		"static": ExtractStatic,
	}
)

// ParseKeyExtractorConfig builds the extractor named by the key_extractor
// setting: "ip" (also the empty string), "ip-proxy", "bearer", or one of
// "header:<name>", "cookie:<name>", "static:<key>".
func ParseKeyExtractorConfig(config string) (KeyExtractor, error) {
	kind, arg, hasArg := strings.Cut(config, ":")

	if build, ok := plainExtractors[kind]; ok && !hasArg {
		return build(), nil
	}
	build, ok := namedExtractors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key extractor %q", windowfence.ErrInvalidConfig, config)
	}
	if arg == "" {
		return nil, fmt.Errorf("%w: %s extractor requires format '%s:name'", windowfence.ErrInvalidConfig, kind, kind)
	}
	return build(arg), nil
}
