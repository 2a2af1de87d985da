package api

import (
	"net/http"
	"strconv"
	"time"
)

// rateLimited admits requests while the per-client budget lasts.
// The key is the JWT subject when present, otherwise the client IP.
// Limiter failures admit the request.
func (h *Handler) rateLimited(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:unknown"
		if sub, ok := Subject(r.Context()); ok {
			key = "sub:" + sub
		} else if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
			key = "ip:" + ip.String()
		}

		ok, retryAfter, err := h.limiter.Allow(r.Context(), key, h.now())
		if err != nil {
			h.log.Warn("ratelimit.error", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			h.log.Info("chat.rate_limited", "key", key, "retry_after_ms", retryAfter.Milliseconds())
			writeRateLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
