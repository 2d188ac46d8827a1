package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a live channel or read
// API responses.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string, log *slog.Logger) originPolicy {
	normalized, allowAll := normalizeOrigins(origins, log)
	policy := originPolicy{
		allowAll: allowAll,
		allowed:  make(map[string]struct{}, len(normalized)),
	}
	for _, origin := range normalized {
		policy.allowed[origin] = struct{}{}
	}
	return policy
}

func normalizeOrigins(origins []string, log *slog.Logger) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// checkOrigin is the websocket upgrader's origin check. Requests without an
// Origin header come from non-browser clients and are let through.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.origins.allows(origin) {
		return true
	}

	s.log.Warn("blocked websocket connection from disallowed origin", "origin", origin)
	return false
}
