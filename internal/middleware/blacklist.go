package middleware

import (
	"context"
	"net/http"

	"ubipay/pkg/logger"
)

// IPBlacklist is satisfied by the risk engine.
type IPBlacklist interface {
	IsIPBlacklisted(ctx context.Context, ip string) (bool, error)
}

// BlockBlacklistedIPs rejects requests from blacklisted addresses with 403.
// A lookup failure rejects with 503.
func BlockBlacklistedIPs(list IPBlacklist, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			hit, err := list.IsIPBlacklisted(r.Context(), ip)
			if err != nil {
				log.Error("Blacklist lookup failed", map[string]interface{}{"ip": ip, "error": err.Error()})
				jsonError(w, http.StatusServiceUnavailable, "Service unavailable")
				return
			}
			if hit {
				log.Warn("Blacklisted IP rejected", map[string]interface{}{"ip": ip, "path": r.URL.Path})
				jsonError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
