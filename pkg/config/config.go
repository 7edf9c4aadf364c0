package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/letsencrypt/validator/v10"
	"github.com/spf13/viper"
)

const (
	Name = "laniot-signer"

	DefaultPort         = 8080
	DefaultDays         = 7
	DefaultRateRequests = 5
	DefaultRateWindow   = time.Minute
	DefaultMaxBodyBytes = 64 << 10
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Debug      bool       `yaml:"debug" json:"debug" mapstructure:"debug"`
	LogDir     string     `yaml:"log-dir" json:"log_dir" mapstructure:"log-dir"`
	Signer     Signer     `yaml:"signer" json:"signer" mapstructure:"signer"`
	WebService WebService `yaml:"webservice" json:"webservice" mapstructure:"webservice"`
	Workspace  Workspace  `yaml:"workspace" json:"workspace" mapstructure:"workspace"`
}

// Intermediate CA material may be inline content in any supported
// encoding or a path to a certificate / key file.
type Signer struct {
	DefaultDays             int      `yaml:"default-days" json:"default_days" mapstructure:"default-days" validate:"min=1"`
	IntermediateCert        string   `yaml:"intermediate-cert" json:"-" mapstructure:"intermediate-cert"`
	IntermediateKey         string   `yaml:"intermediate-key" json:"-" mapstructure:"intermediate-key"`
	IntermediateKeyPassword string   `yaml:"intermediate-key-password" json:"-" mapstructure:"intermediate-key-password"`
	Lint                    bool     `yaml:"lint" json:"lint" mapstructure:"lint"`
	SkipLints               []string `yaml:"skip-lints" json:"skip_lints" mapstructure:"skip-lints"`
}

type WebService struct {
	AllowPrivateIPs bool          `yaml:"allow-private-ips" json:"allow_private_ips" mapstructure:"allow-private-ips"`
	JWT             JWT           `yaml:"jwt" json:"jwt" mapstructure:"jwt"`
	ListenAddress   string        `yaml:"listen" json:"listen" mapstructure:"listen" validate:"omitempty,ip"`
	MaxBodyBytes    int64         `yaml:"max-body-bytes" json:"max_body_bytes" mapstructure:"max-body-bytes" validate:"min=1"`
	Port            int           `yaml:"port" json:"port" mapstructure:"port" validate:"min=1,max=65535"`
	RateLimit       RateLimit     `yaml:"rate-limit" json:"rate_limit" mapstructure:"rate-limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" json:"shutdown_timeout" mapstructure:"shutdown-timeout"`
	TLSCert         string        `yaml:"tls-cert" json:"tls_cert" mapstructure:"tls-cert" validate:"required_with=TLSKey"`
	TLSKey          string        `yaml:"tls-key" json:"-" mapstructure:"tls-key" validate:"required_with=TLSCert"`
	Token           string        `yaml:"token" json:"-" mapstructure:"token"`
	TrustProxy      bool          `yaml:"trust-proxy" json:"trust_proxy" mapstructure:"trust-proxy"`
}

// When Secret is set, bearer tokens are HS256 JSON Web Tokens instead of
// the static token.
type JWT struct {
	Audience string `yaml:"audience" json:"audience" mapstructure:"audience"`
	Issuer   string `yaml:"issuer" json:"issuer" mapstructure:"issuer"`
	Secret   string `yaml:"secret" json:"-" mapstructure:"secret" validate:"omitempty,min=32"`
}

type RateLimit struct {
	Requests int           `yaml:"requests" json:"requests" mapstructure:"requests" validate:"min=1"`
	Window   time.Duration `yaml:"window" json:"window" mapstructure:"window"`
}

type Workspace struct {
	BaseDir string `yaml:"base-dir" json:"base_dir" mapstructure:"base-dir"`
}

// Environment variables understood by earlier deployments of the signer.
// They take precedence over SIGNER_ prefixed names.
var legacyEnv = map[string][]string{
	"webservice.port":                  {"PORT", "SIGNER_PORT"},
	"webservice.token":                 {"SIGNER_TOKEN"},
	"webservice.allow-private-ips":     {"ALLOW_PRIVATE_IPS"},
	"webservice.jwt.secret":            {"SIGNER_JWT_SECRET"},
	"signer.default-days":              {"DEFAULT_DAYS", "SIGNER_DEFAULT_DAYS"},
	"signer.intermediate-cert":         {"DEV_INT_CRT", "SIGNER_INTERMEDIATE_CERT"},
	"signer.intermediate-key":          {"DEV_INT_KEY", "SIGNER_INTERMEDIATE_KEY"},
	"signer.intermediate-key-password": {"SIGNER_INTERMEDIATE_KEY_PASSWORD"},
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log-dir", "")
	v.SetDefault("signer.default-days", DefaultDays)
	v.SetDefault("signer.intermediate-cert", "")
	v.SetDefault("signer.intermediate-key", "")
	v.SetDefault("signer.intermediate-key-password", "")
	v.SetDefault("signer.lint", false)
	v.SetDefault("signer.skip-lints", []string{})
	v.SetDefault("webservice.allow-private-ips", true)
	v.SetDefault("webservice.jwt.audience", Name)
	v.SetDefault("webservice.jwt.issuer", "")
	v.SetDefault("webservice.jwt.secret", "")
	v.SetDefault("webservice.listen", "")
	v.SetDefault("webservice.max-body-bytes", DefaultMaxBodyBytes)
	v.SetDefault("webservice.port", DefaultPort)
	v.SetDefault("webservice.rate-limit.requests", DefaultRateRequests)
	v.SetDefault("webservice.rate-limit.window", DefaultRateWindow)
	v.SetDefault("webservice.shutdown-timeout", 10*time.Second)
	v.SetDefault("webservice.tls-cert", "")
	v.SetDefault("webservice.tls-key", "")
	v.SetDefault("webservice.token", "")
	v.SetDefault("webservice.trust-proxy", true)
	v.SetDefault("workspace.base-dir", "")
}

// Load reads config.yaml from the given directories (a missing file is not
// an error), overlays the environment and validates the result.
func Load(v *viper.Viper, configDirs ...string) (*Config, error) {
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range configDirs {
		if dir != "" {
			v.AddConfigPath(dir)
		}
	}
	v.AddConfigPath(fmt.Sprintf("$HOME/.%s/", Name))
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	v.SetEnvPrefix("SIGNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
