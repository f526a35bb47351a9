package ratelimit

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker decides whether a browser Origin may open a WebSocket.
// Patterns are exact origins, "scheme://host:*" for any port, or
// "scheme://*.domain" for any subdomain. "*" allows everything.
type OriginChecker struct {
	patterns     []string
	allowMissing bool
}

// NewOriginChecker creates a checker. allowMissing admits requests without an
// Origin header, which is what non-browser agents send.
func NewOriginChecker(patterns []string, allowMissing bool) *OriginChecker {
	return &OriginChecker{patterns: patterns, allowMissing: allowMissing}
}

// Allowed reports whether origin matches a pattern.
func (o *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return o.allowMissing
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, p := range o.patterns {
		if matchOrigin(p, u) {
			return true
		}
	}
	return false
}

// Check adapts Allowed to websocket.Upgrader.CheckOrigin.
func (o *OriginChecker) Check(r *http.Request) bool {
	return o.Allowed(r.Header.Get("Origin"))
}

func matchOrigin(pattern string, u *url.URL) bool {
	if pattern == "*" {
		return true
	}
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok || !strings.EqualFold(scheme, u.Scheme) {
		return false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	patHost, patPort, hasPort := strings.Cut(strings.ToLower(rest), ":")
	switch {
	case strings.HasPrefix(patHost, "*."):
		if !strings.HasSuffix(host, patHost[1:]) {
			return false
		}
	case patHost != host:
		return false
	}
	if !hasPort {
		return port == ""
	}
	return patPort == "*" || patPort == port
}
