package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/laniot/laniot-signer/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger(slog.LevelDebug, nil, nil)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestClientAddressFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:43210"
	r.Header.Add("X-Forwarded-For", "203.0.113.5, 198.51.100.2")

	assert.Equal(t, "198.51.100.2", ClientAddressFunc(true)(r))
	assert.Equal(t, "192.0.2.10", ClientAddressFunc(false)(r))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "192.0.2.10", ClientAddressFunc(true)(r))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientAddressFunc(false)(r))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := BearerToken(r)
	assert.Equal(t, ErrAuthorizationHeaderRequired, err)

	r.Header.Set("Authorization", "bearer abc ")
	token, err := BearerToken(r)
	assert.Nil(t, err)
	assert.Equal(t, "abc", token)

	r.Header.Set("Authorization", "Token abc")
	_, err = BearerToken(r)
	assert.Equal(t, ErrAuthorizationHeaderRequired, err)
}

func TestBearerTokenMiddleware(t *testing.T) {
	auth := NewAuthenticator(&AuthParams{Logger: quietLogger(), Token: "abc"})

	verify := func(header string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/sign", nil)
		r.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		auth.Verify(w, r, okHandler)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, verify("Bearer abc"))
	assert.Equal(t, http.StatusUnauthorized, verify("Bearer abcd"))
	assert.Equal(t, http.StatusUnauthorized, verify("Bearer ab"))
	assert.Equal(t, http.StatusUnauthorized, verify(""))
}

func TestCORSMiddleware(t *testing.T) {
	options := DefaultCORSOptions()
	options.AllowedOrigins = []string{"https://console.example.com"}
	handler := CORSMiddleware(options)(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	r.Header.Set("Origin", "https://console.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	// Preflight never reaches the wrapped handler
	options.PreflightStatus = 0
	handler = CORSMiddleware(options)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached handler")
	}))
	r = httptest.NewRequest(http.MethodOptions, "/", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterParams{
		Logger:      quietLogger(),
		MaxRequests: 2,
		Window:      time.Hour,
	})
	handler := limiter.MiddlewareFunc(okHandler)

	request := func(remoteAddr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}
	assert.Equal(t, http.StatusOK, request("192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, request("192.0.2.1:1001").Code)
	w := request("192.0.2.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1800", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, request("192.0.2.2:1000").Code)
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	handler := func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 16)))
	BodyLimit(8)(httptest.NewRecorder(), r, handler)
	var maxBytesErr *http.MaxBytesError
	assert.True(t, errors.As(readErr, &maxBytesErr))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abc"))
	BodyLimit(8)(httptest.NewRecorder(), r, handler)
	assert.Nil(t, readErr)
}
