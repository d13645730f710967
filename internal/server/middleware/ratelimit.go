package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/cptrest/cptrest/internal/apierr"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded("rate_limited", "Too many requests. Try again later.")),
	)
}

// RateLimitByAdmin returns an HTTP middleware that limits requests per
// authenticated administrator. It must run after RequireAdmin. The window
// counter is approximate under concurrent requests.
func RateLimitByAdmin(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p := GetAdmin(r.Context()); p != nil {
				return "admin:" + strconv.FormatInt(p.AdminID, 10), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded("key_rate_limited",
			"Too many API keys generated recently. Try again later.")),
	)
}

func limitExceeded(code, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeAuthError(w, apierr.RateLimited(code, msg))
	}
}
