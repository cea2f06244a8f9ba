package core

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// ScopeGranularity selects how much of a request URL identifies the resource a
// token is cached for.
type ScopeGranularity string

const (
	// ScopePath caches per origin and path, e.g. https://api.example.com/resource.
	ScopePath ScopeGranularity = "path"

	// ScopeOrigin caches per origin, sharing one token across all paths.
	ScopeOrigin ScopeGranularity = "origin"
)

// ParseScopeGranularity accepts "path" or "origin"; empty means ScopePath.
func ParseScopeGranularity(s string) (ScopeGranularity, error) {
	switch ScopeGranularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopePath:
		return ScopePath, nil
	case ScopeOrigin:
		return ScopeOrigin, nil
	default:
		return "", fmt.Errorf("unknown scope granularity %q", s)
	}
}

// ScopeFromURL derives the cache scope of a request URL. Scheme and host are
// lowercased, default ports dropped, query and fragment ignored.
func ScopeFromURL(u *url.URL, granularity ScopeGranularity) (string, error) {
	if u == nil {
		return "", fmt.Errorf("%w: nil url", ErrInvalidScope)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidScope, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidScope)
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	origin := scheme + "://" + host
	if granularity == ScopeOrigin {
		return origin, nil
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return origin + cleaned, nil
}

// ScopeFromString parses raw and derives its scope.
func ScopeFromString(raw string, granularity ScopeGranularity) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	return ScopeFromURL(u, granularity)
}

// ValidateScope checks that scope is already in normalised form.
func ValidateScope(scope string) error {
	if scope == "" {
		return fmt.Errorf("%w: empty scope", ErrInvalidScope)
	}
	u, err := url.Parse(scope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("%w: scope must not carry query, fragment or userinfo", ErrInvalidScope)
	}
	granularity := ScopePath
	if u.Path == "" {
		granularity = ScopeOrigin
	}
	normalised, err := ScopeFromURL(u, granularity)
	if err != nil {
		return err
	}
	if normalised != scope {
		return fmt.Errorf("%w: %q is not normalised (want %q)", ErrInvalidScope, scope, normalised)
	}
	return nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
