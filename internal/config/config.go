// Package config provides the typed runtime configuration for diodelink.
// The configuration is populated once at startup from the environment and is
// read-only afterwards.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for all configuration variables, e.g.
// DIODELINK_API_URL.
const envPrefix = "diodelink"

// Config holds every runtime setting of the client. Fields map to environment
// variables via envconfig tags.
type Config struct {
	// APIBaseURL is the base URL of the transfer gateway API.
	APIBaseURL string `envconfig:"API_URL" default:"http://localhost:8080/api/v1" validate:"required,url"`

	// TransferableMaxSize is the largest accepted file size in bytes.
	// Uploads larger than this are rejected before any network call.
	TransferableMaxSize uint64 `envconfig:"TRANSFERABLE_MAX_SIZE" default:"54975581388800" validate:"gt=0"`

	// APITimeout bounds one metadata round trip. Upload part and finalize
	// requests run without a timeout: the gateway may take long to accept or
	// assemble large objects.
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"30s" validate:"gt=0"`

	// ToastLifetime is how long a user-facing notification stays visible.
	// The notification sink forwards it with every event it publishes.
	ToastLifetime time.Duration `envconfig:"TOAST_LIFETIME" default:"5s" validate:"gt=0"`

	// LoginPath is the session-refresh endpoint used by the transport
	// pipeline's 401 recovery.
	LoginPath string `envconfig:"LOGIN_PATH" default:"/user/login/" validate:"required"`

	// RecipientPublicKey is the gateway's base64-encoded public key used to
	// wrap per-upload symmetric keys. Required for encrypted uploads only.
	RecipientPublicKey string `envconfig:"RECIPIENT_PUBLIC_KEY"`

	// DevRemoteUser, when set, is injected as the X-Remote-User header on
	// login requests. Development convenience only: in production the reverse
	// proxy sets this header.
	DevRemoteUser string `envconfig:"DEV_REMOTE_USER"`

	// Verbose enables debug logging.
	Verbose bool `envconfig:"VERBOSE" default:"false"`
}

// Load reads the configuration from the environment, after loading an
// optional .env file, and validates it.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration from environment: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
