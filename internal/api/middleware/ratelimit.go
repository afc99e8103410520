package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/snapforge/snapforge-api/internal/api/shared"
	"github.com/snapforge/snapforge-api/internal/ratelimit"
)

// AdmissionController decides whether a client request may proceed.
// Satisfied by *ratelimit.Limiter.
type AdmissionController interface {
	Allow(ctx context.Context, clientID string) ratelimit.Result
}

// RateLimitResponse is the body returned with 429 responses.
type RateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimit returns middleware that enforces the per-client admission
// policy on every request it wraps. Allowed or not, each response carries
// the X-RateLimit-* headers describing the client's remaining budget.
func RateLimit(limiter AdmissionController) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Allow(r.Context(), clientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				shared.RespondWithJSON(w, r, http.StatusTooManyRequests, RateLimitResponse{
					Error:      "Too many requests, please try again later",
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP identifies the caller for rate limiting purposes. Behind a
// proxy the leftmost X-Forwarded-For entry is the original client;
// otherwise the connection's remote address is used.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
