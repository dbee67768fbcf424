// Package mw provides HTTP middleware for the timetable service.
package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByIP returns a middleware that rate limits by client IP.
// A requestsPerMinute of 0 or less disables limiting.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByIPExcept rate limits by client IP but passes requests matched
// by exempt straight through without counting them. Health probes run on a
// schedule and would otherwise burn the per-IP budget.
func RateLimitByIPExcept(requestsPerMinute int, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	limiter := httprate.NewRateLimiter(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }
