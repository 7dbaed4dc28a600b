package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// KeyFunc derives the rate-limit key for a request, typically the
// authenticated principal's key_id or, for unauthenticated paths, the
// caller's IP (spec.md §6.5's MAX_REQUESTS_PER_MINUTE fallback).
type KeyFunc func(r *http.Request) string

// Middleware returns chi-compatible middleware enforcing limits for
// every request, keyed by keyFn. Counter errors are logged and treated
// as permit — the limiter never blocks a request on its own failure
// (spec.md §4.I).
func Middleware(limiter Limiter, limits Limits, keyFn KeyFunc, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			result, err := limiter.Check(key, limits)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, failing open")
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// setHeaders writes the per-window headers of spec.md §6.3 for every
// window, not only the violated one.
func setHeaders(w http.ResponseWriter, result Result) {
	for _, win := range []Window{WindowMinute, WindowHour, WindowDay} {
		status, ok := result.Windows[win]
		if !ok {
			continue
		}
		suffix := windowHeaderSuffix(win)
		w.Header().Set("X-RateLimit-Limit-"+suffix, strconv.Itoa(status.Limit))
		w.Header().Set("X-RateLimit-Remaining-"+suffix, strconv.Itoa(status.Remaining))
		w.Header().Set("X-RateLimit-Reset-"+suffix, strconv.FormatInt(status.ResetAt.Unix(), 10))
	}
}

func windowHeaderSuffix(w Window) string {
	switch w {
	case WindowMinute:
		return "Minute"
	case WindowHour:
		return "Hour"
	default:
		return "Day"
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, result Result) {
	w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter/time.Second)))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  "RATE_LIMIT_EXCEEDED",
		"window": string(result.Violated),
	})
}
