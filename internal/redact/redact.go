// Package redact masks secret-shaped values before they reach logs: the
// tokens this orchestrator handles on behalf of callers and workers
// (Runpod keys, HF tokens, AWS credentials, internal webhook secrets).
package redact

import "strings"

// sensitiveKeys are config/env/JSON key names whose values are always
// masked regardless of shape.
var sensitiveKeys = []string{
	"password", "secret", "token", "key", "credential", "authorization", "bearer",
}

// ContainsSensitiveKey reports whether key looks like it names a secret.
func ContainsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeys {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Value masks a secret value for logging, keeping only a short prefix so an
// operator can still tell two different secrets apart.
func Value(v string) string {
	if len(v) <= 12 {
		return "****"
	}
	return v[:8] + "****"
}

// Bearer strips a "Bearer " prefix, then masks the remainder.
func Bearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	return Value(strings.TrimPrefix(authHeader, "Bearer "))
}

// URL masks any `secret=...` or `token=...` query parameter embedded in a
// URL before it's logged, e.g. the VISGATE_WEBHOOK callback URL which
// carries the internal secret as a query string.
func URL(u string) string {
	idx := strings.IndexAny(u, "?")
	if idx < 0 {
		return u
	}
	base, query := u[:idx], u[idx+1:]
	parts := strings.Split(query, "&")
	for i, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) == 2 && ContainsSensitiveKey(kv[0]) {
			parts[i] = kv[0] + "=" + Value(kv[1])
		}
	}
	return base + "?" + strings.Join(parts, "&")
}
