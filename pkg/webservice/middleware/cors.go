package middleware

import (
	"net/http"
	"strings"
)

// CORSOptions defines the settings for CORS configuration
type CORSOptions struct {
	AllowedOrigins   []string // List of allowed origins, "*" reflects any origin
	AllowedMethods   []string // List of allowed methods (e.g., GET, POST)
	AllowedHeaders   []string // List of allowed headers
	AllowCredentials bool     // Whether to allow credentials (cookies, authorization headers)
	PreflightStatus  int      // Status returned to OPTIONS requests, 204 when unset
}

// Reflects the request origin and allows credentials
func DefaultCORSOptions() CORSOptions {
	return CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Origin",
			"X-Requested-With",
			"Content-Type",
			"Accept",
			"Authorization",
		},
		AllowCredentials: true,
		PreflightStatus:  http.StatusOK,
	}
}

// CORSMiddleware creates a new CORS middleware with the given options
func CORSMiddleware(options CORSOptions) func(http.Handler) http.Handler {
	preflightStatus := options.PreflightStatus
	if preflightStatus == 0 {
		preflightStatus = http.StatusNoContent
	}
	methods := strings.Join(options.AllowedMethods, ",")
	headers := strings.Join(options.AllowedHeaders, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			if origin != "" && isAllowedOrigin(origin, options.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if options.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(preflightStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedOrigin checks if the given origin is in the list of allowed origins
func isAllowedOrigin(origin string, allowedOrigins []string) bool {
	for _, allowedOrigin := range allowedOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}
	return false
}
