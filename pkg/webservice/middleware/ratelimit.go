package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/util"
	"github.com/laniot/laniot-signer/pkg/webservice/response"
)

type RateLimiterParams struct {
	Logger         *logging.Logger
	ResponseWriter response.HttpWriter
	// Maximum number of requests admitted per client within Window
	MaxRequests int
	Window      time.Duration
	// Generates the rate limiting key for a request, the client address
	// when nil
	KeyFunc func(r *http.Request) string
}

// RateLimiter admits a bounded number of requests per client using one
// leaky bucket per key.
type RateLimiter struct {
	logger      *logging.Logger
	writer      response.HttpWriter
	buckets     *util.KeyedLeakyBucket
	keyFunc     func(r *http.Request) string
	maxRequests int
	window      time.Duration
}

func NewRateLimiter(params *RateLimiterParams) *RateLimiter {
	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	writer := params.ResponseWriter
	if writer == nil {
		writer = response.NewResponseWriter(logger)
	}
	keyFunc := params.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientAddressFunc(false)
	}
	return &RateLimiter{
		logger:      logger,
		writer:      writer,
		buckets:     util.NewKeyedLeakyBucket(params.MaxRequests, params.Window),
		keyFunc:     keyFunc,
		maxRequests: params.MaxRequests,
		window:      params.Window,
	}
}

// MiddlewareFunc wraps next with the rate limiting policy. The signature
// matches mux.MiddlewareFunc.
func (rl *RateLimiter) MiddlewareFunc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyFunc(r)
		w.Header().Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", rl.maxRequests, int(rl.window.Seconds())))
		if rl.buckets.AllowRequest(key) {
			next.ServeHTTP(w, r)
			return
		}
		rl.logger.Security(logging.SecurityLogEntry{
			Severity:        logging.SeverityLow,
			Category:        logging.CategoryNetworkSecurity,
			Description:     "rate limit exceeded",
			Details:         r.Method + " " + r.URL.Path,
			Source:          logging.SourceNetwork,
			OffenderAddress: key,
		})
		retryAfter := int(math.Ceil(rl.window.Seconds() / float64(max(rl.maxRequests, 1))))
		w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		rl.writer.Error(w, r, http.StatusTooManyRequests, response.ErrorRateLimited, nil)
	})
}

// ClientAddressFunc returns a function resolving the client IP address of
// a request. With trustProxy set, the address appended by the nearest
// reverse proxy to X-Forwarded-For is used when present.
func ClientAddressFunc(trustProxy bool) func(r *http.Request) string {
	return func(r *http.Request) string {
		if trustProxy {
			if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
				hops := strings.Split(forwarded[len(forwarded)-1], ",")
				if hop := strings.TrimSpace(hops[len(hops)-1]); hop != "" {
					return hop
				}
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
