package webservice

import (
	"context"

	"github.com/laniot/laniot-signer/pkg/signer"
)

// LeafSigner issues device leaf certificates. *signer.Signer satisfies it.
type LeafSigner interface {
	SignLeaf(ctx context.Context, req *signer.SigningRequest) (*signer.Result, error)
}

type SignRequest struct {
	DeviceID string  `json:"device_id" yaml:"device_id" validate:"required,min=3,max=64"`
	IP       string  `json:"ip" yaml:"ip" validate:"required,ipv4"`
	DNS      *string `json:"dns,omitempty" yaml:"dns,omitempty" validate:"omitempty,min=1,max=253"`
	Days     *int    `json:"days,omitempty" yaml:"days,omitempty" validate:"omitempty,min=1,max=365"`
}

type SignResponse struct {
	DeviceKeyPEM string `json:"device_key_pem" yaml:"device_key_pem"`
	ServerCrtPEM string `json:"server_crt_pem" yaml:"server_crt_pem"`
}

// ValidationDetails lists request problems that are not tied to a field
// in FormErrors and the failed rules of each field in FieldErrors.
type ValidationDetails struct {
	FormErrors  []string            `json:"formErrors" yaml:"formErrors"`
	FieldErrors map[string][]string `json:"fieldErrors" yaml:"fieldErrors"`
}

type HealthResponse struct {
	OK      bool   `json:"ok" yaml:"ok"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
}
