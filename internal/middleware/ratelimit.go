package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/cache"
)

const bulkWindow = time.Minute

// RateLimitBulk allows limit requests per client IP per minute. The counter
// lives in Redis so every backend instance shares it. When Redis is
// unreachable requests pass through. A limit of zero disables the check.
func RateLimitBulk(cacheClient cache.Client, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ip := clientIP(r)
			count, err := cacheClient.IncrWithTTL(r.Context(), "bulk:"+ip, bulkWindow)
			if err != nil {
				log.WithError(err).Warn("rate limit counter unavailable")
			}
			if err == nil && count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(bulkWindow.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
