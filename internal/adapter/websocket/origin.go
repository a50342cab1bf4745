package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open the live feed.
type OriginPolicy struct {
	allowed        map[string]struct{}
	allowLocalhost bool
}

// NewOriginPolicy allows the origin of appURL plus every extra origin.
// Entries that do not parse as scheme://host are ignored.
func NewOriginPolicy(appURL string, allowLocalhost bool, extra ...string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}), allowLocalhost: allowLocalhost}
	for _, raw := range append([]string{appURL}, extra...) {
		if origin := extractOrigin(raw); origin != "" {
			p.allowed[origin] = struct{}{}
		}
	}
	return p
}

// Allows reports whether an Origin header value is accepted. Non-browser
// clients send no Origin and are always accepted.
func (p *OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[strings.ToLower(origin)]; ok {
		return true
	}
	return p.allowLocalhost && isLocalhostOrigin(origin)
}

// CheckOrigin plugs the policy into websocket.Upgrader.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.Allows(origin) {
		return true
	}
	slog.WarnContext(r.Context(), "WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
