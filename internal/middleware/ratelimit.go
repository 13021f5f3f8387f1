package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimit caps how many requests one caller may make per window, counting
// in Redis so every replica shares the budget. It must run after
// AuthMiddleware. A nil client or a non-positive limit disables it.
func RateLimit(client *redis.Client, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if client == nil || limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := RateLimitKey(caller)
			count, err := client.Incr(r.Context(), key).Result()
			if err != nil {
				// fail open, the ledger itself does not depend on redis
				log.Printf("Rate limit check failed for %s: %v", caller, err)
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				if err := client.Expire(r.Context(), key, window).Err(); err != nil {
					log.Printf("Rate limit expiry failed for %s: %v", caller, err)
				}
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit-count, 10))

			next.ServeHTTP(w, r)
		})
	}
}

func RateLimitKey(caller string) string {
	return fmt.Sprintf("ledger:ratelimit:%s", caller)
}
