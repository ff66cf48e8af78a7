package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/austindbirch/taskhook/internal/auth"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/metrics"
)

const tooManyRequests = "Too many requests, please try again later"

// Middleware rejects requests once the caller exceeds the rule for the
// request path. The bucket key is the caller identity joined with the path.
func Middleware(l *Limiter, p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromRequest(r)
			rule := p.RuleFor(r.URL.Path)

			if !l.Allow(identity+":"+r.URL.Path, rule.Max, rule.Window) {
				metrics.RecordRateLimited(rule.Class)
				logging.WithContext(r.Context()).
					WithIdentity(identity).
					WithField("path", r.URL.Path).
					WithField("class", rule.Class).
					Warn("rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": tooManyRequests})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
