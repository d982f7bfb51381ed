package quota

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

// ClientKey identifies the client a request is accounted to.
type ClientKey func(r *http.Request) string

// RemoteIP keys requests by the host part of RemoteAddr, so all ports of
// one device share a bucket.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware allows rpm requests per minute per client and
// answers the rest with 429 and Retry-After. rpm=0 disables limiting.
func RateLimitMiddleware(limiter *RateLimiter, rpm int, key ClientKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			ok, wait := limiter.Take(k, rpm)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimitHit()
			retryAfter := RetryAfterSeconds(wait)
			logging.WithContext(r.Context()).Warn("rate limited",
				zap.String("client", k),
				zap.String("path", r.URL.Path),
				zap.Int("retry_after", retryAfter))

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{
				Error: "too many attempts, retry in " + strconv.Itoa(retryAfter) + "s",
				Code:  http.StatusTooManyRequests,
				Kind:  protocol.KindRateLimited,
			})
		})
	}
}
