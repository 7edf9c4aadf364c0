package middleware

import (
	"net/http"
	"time"

	"github.com/codegangsta/negroni"

	"github.com/laniot/laniot-signer/pkg/logging"
)

// AccessLogger records one structured entry per request, similar to the
// combined log format.
type AccessLogger struct {
	logger        *logging.Logger
	clientAddress func(r *http.Request) string
}

func NewAccessLogger(logger *logging.Logger, clientAddress func(r *http.Request) string) *AccessLogger {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if clientAddress == nil {
		clientAddress = ClientAddressFunc(false)
	}
	return &AccessLogger{logger: logger, clientAddress: clientAddress}
}

func (l *AccessLogger) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)

	status, size := 0, 0
	if res, ok := w.(negroni.ResponseWriter); ok {
		status, size = res.Status(), res.Size()
	}
	l.logger.Info("http",
		"remote_address", l.clientAddress(r),
		"method", r.Method,
		"path", r.URL.Path,
		"proto", r.Proto,
		"status", status,
		"size", size,
		"referer", r.Referer(),
		"user_agent", r.UserAgent(),
		"duration", time.Since(start).String())
}
