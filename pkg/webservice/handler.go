package webservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/letsencrypt/validator/v10"

	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/signer"
	"github.com/laniot/laniot-signer/pkg/util"
	"github.com/laniot/laniot-signer/pkg/webservice/response"
)

type SignHandler struct {
	logger          *logging.Logger
	writer          response.HttpWriter
	signer          LeafSigner
	validate        *validator.Validate
	allowPrivateIPs bool
	defaultDays     int
	clientAddress   func(r *http.Request) string
}

func NewSignHandler(
	logger *logging.Logger,
	writer response.HttpWriter,
	leafSigner LeafSigner,
	allowPrivateIPs bool,
	defaultDays int,
	clientAddress func(r *http.Request) string) *SignHandler {

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &SignHandler{
		logger:          logger,
		writer:          writer,
		signer:          leafSigner,
		validate:        validate,
		allowPrivateIPs: allowPrivateIPs,
		defaultDays:     defaultDays,
		clientAddress:   clientAddress,
	}
}

// Sign issues a device key and leaf certificate chain for the requested
// device.
func (h *SignHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writer.Error(w, r, http.StatusRequestEntityTooLarge, response.ErrorPayloadTooLarge, nil)
			return
		}
		h.writer.Error(w, r, http.StatusBadRequest, response.ErrorInvalidRequest, &ValidationDetails{
			FormErrors:  []string{"request body must be a JSON object"},
			FieldErrors: map[string][]string{},
		})
		return
	}

	if details := h.validateRequest(&req); details != nil {
		h.writer.Error(w, r, http.StatusBadRequest, response.ErrorInvalidRequest, details)
		return
	}

	if !h.allowPrivateIPs && util.IsPrivateIPv4(req.IP) {
		h.logger.Security(logging.SecurityLogEntry{
			Severity:        logging.SeverityLow,
			Category:        logging.CategoryPolicyViolation,
			Description:     "signing request for a private address rejected",
			Details:         req.IP,
			Source:          logging.SourceSigner,
			OffenderAddress: h.clientAddress(r),
			OffenderID:      req.DeviceID,
		})
		h.writer.Error(w, r, http.StatusBadRequest, response.ErrorIPNotAllowed, nil)
		return
	}

	signingRequest := &signer.SigningRequest{
		DeviceID: req.DeviceID,
		IP:       req.IP,
		Days:     signer.ResolveDays(req.Days, h.defaultDays),
	}
	if req.DNS != nil {
		signingRequest.DNS = *req.DNS
	}

	result, err := h.signer.SignLeaf(r.Context(), signingRequest)
	if err != nil {
		h.logger.Error(err, "device", req.DeviceID)
		h.writer.Error(w, r, http.StatusInternalServerError, response.ErrorSignFailed, nil)
		return
	}

	h.writer.Success200(w, r, SignResponse{
		DeviceKeyPEM: string(result.DeviceKeyPEM),
		ServerCrtPEM: string(result.ChainPEM),
	})
}

// Returns nil when the request passes validation
func (h *SignHandler) validateRequest(req *SignRequest) *ValidationDetails {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	details := &ValidationDetails{
		FormErrors:  []string{},
		FieldErrors: map[string][]string{},
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		details.FormErrors = append(details.FormErrors, err.Error())
		return details
	}
	for _, fieldErr := range validationErrs {
		rule := fieldErr.Tag()
		if fieldErr.Param() != "" {
			rule = fmt.Sprintf("%s=%s", rule, fieldErr.Param())
		}
		field := fieldErr.Field()
		details.FieldErrors[field] = append(details.FieldErrors[field],
			fmt.Sprintf("failed %s validation", rule))
	}
	return details
}

func (h *SignHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.writer.Success200(w, r, HealthResponse{OK: true, Service: "laniot-signer"})
}

func (h *SignHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writer.Success200(w, r, HealthResponse{OK: true})
}

func (h *SignHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writer.Error(w, r, http.StatusNotFound, response.ErrorNotFound, nil)
}

func (h *SignHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writer.Error(w, r, http.StatusMethodNotAllowed, response.ErrorMethodNotAllowed, nil)
}
