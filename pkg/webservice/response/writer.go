package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/laniot/laniot-signer/pkg/logging"
)

const (
	ErrorUnauthorized     = "unauthorized"
	ErrorInvalidRequest   = "invalid_request"
	ErrorIPNotAllowed     = "ip_not_allowed"
	ErrorSignFailed       = "sign_failed"
	ErrorRateLimited      = "rate_limited"
	ErrorPayloadTooLarge  = "payload_too_large"
	ErrorNotFound         = "not_found"
	ErrorMethodNotAllowed = "method_not_allowed"
)

type HttpWriter interface {
	Write(w http.ResponseWriter, r *http.Request, status int, response interface{})
	WriteYaml(w http.ResponseWriter, status int, response interface{})
	WriteJson(w http.ResponseWriter, status int, response interface{})
	Success200(w http.ResponseWriter, r *http.Request, payload interface{})
	Error(w http.ResponseWriter, r *http.Request, status int, code string, details interface{})
}

// ErrorResponse is the body of every non-2xx response. Code is a stable,
// machine readable identifier such as "invalid_request".
type ErrorResponse struct {
	Error   string      `yaml:"error" json:"error"`
	Details interface{} `yaml:"details,omitempty" json:"details,omitempty"`
}

type ResponseWriter struct {
	logger *logging.Logger
}

func NewResponseWriter(logger *logging.Logger) HttpWriter {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &ResponseWriter{logger: logger}
}

// Writes a response to the http client using the client accept header to determine whether to use a JSON or YAML
// serializer and content-type header. Default is JSON if a valid header can not be found.
func (writer *ResponseWriter) Write(w http.ResponseWriter, r *http.Request, status int, response interface{}) {
	acceptHeader := strings.ToLower(r.Header.Get("accept"))
	if i := strings.IndexByte(acceptHeader, ';'); i >= 0 {
		acceptHeader = strings.TrimSpace(acceptHeader[:i])
	}
	if acceptHeader == "application/yaml" || acceptHeader == "text/yaml" {
		writer.WriteYaml(w, status, response)
		return
	}
	writer.WriteJson(w, status, response)
}

// Writes a response to the http client using an application/yaml content-type header and YAML serializer
func (writer *ResponseWriter) WriteYaml(w http.ResponseWriter, status int, response interface{}) {
	yamlResponse, err := yaml.Marshal(response)
	if err != nil {
		writer.logger.Error(err, "type", reflect.TypeOf(response).String())
		errBytes, _ := yaml.Marshal(ErrorResponse{
			Error: fmt.Sprintf("YamlWriter failed to marshal response entity %s", reflect.TypeOf(response))})
		http.Error(w, string(errBytes), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(status)
	w.Write(yamlResponse)

	writer.logResponse(w, status)
}

// Writes a response to the http client using an application/json content-type header and JSON serializer
func (writer *ResponseWriter) WriteJson(w http.ResponseWriter, status int, response interface{}) {
	jsonResponse, err := json.Marshal(response)
	if err != nil {
		writer.logger.Error(err, "type", reflect.TypeOf(response).String())
		errBytes, _ := json.Marshal(ErrorResponse{
			Error: fmt.Sprintf("ResponseWriter failed to marshal response entity %s", reflect.TypeOf(response))})
		http.Error(w, string(errBytes), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonResponse)

	writer.logResponse(w, status)
}

func (writer *ResponseWriter) Success200(w http.ResponseWriter, r *http.Request, payload interface{}) {
	writer.logRequest(r)
	writer.Write(w, r, http.StatusOK, payload)
}

func (writer *ResponseWriter) Error(w http.ResponseWriter, r *http.Request, status int, code string, details interface{}) {
	writer.logRequest(r, "status", status, "error", code)
	writer.Write(w, r, status, ErrorResponse{
		Error:   code,
		Details: details})
}

// Response bodies may carry device private keys and are never logged
func (writer *ResponseWriter) logResponse(w http.ResponseWriter, status int) {
	writer.logger.Debug("response",
		"content_type", w.Header().Get("Content-Type"),
		"status", status)
}

func (writer *ResponseWriter) logRequest(r *http.Request, args ...any) {
	writer.logger.Debug("request", append([]any{
		"url", r.URL.Path,
		"method", r.Method,
		"remote_address", r.RemoteAddr,
		"request_uri", r.RequestURI}, args...)...)
}
