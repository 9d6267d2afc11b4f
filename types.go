package beacon

import (
	"errors"
	"fmt"

	"github.com/Tap30/beacon-go/adapters"
)

// Re-export adapter types for convenience
type (
	Beacon        = adapters.Beacon
	HTTPAdapter   = adapters.HTTPAdapter
	HTTPResponse  = adapters.HTTPResponse
	LoggerAdapter = adapters.LoggerAdapter
	LogLevel      = adapters.LogLevel
)

// Environment selects which endpoint the client talks to.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
)

var (
	// ErrInvalidArgument is returned for programmer errors such as tracking a
	// reserved event kind through TrackEvent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPulseRunning is returned when a pulse is started twice.
	ErrPulseRunning = errors.New("pulse already running")
)

// HTTPError describes a beacon the endpoint answered with a non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("beacon rejected with status %d", e.Status)
	}
	return fmt.Sprintf("beacon rejected with status %d: %s", e.Status, e.Body)
}

type ClientConfig struct {
	// Host supplies the user id and device metadata. Required.
	Host Host
	// Endpoint is the production ingestion URL. It may already carry a
	// query string, e.g. a routing key.
	Endpoint string
	// DevEndpoint is used in development; defaults to Endpoint.
	DevEndpoint string
	// Environment defaults to production.
	Environment Environment
	// AllowInsecure permits plain http endpoints, for local development.
	AllowInsecure bool
	HTTPAdapter   HTTPAdapter
	// LoggerAdapter receives diagnostics. Defaults to a no-op logger in
	// production and a WARN print logger in development.
	LoggerAdapter LoggerAdapter
}
