package otel

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

type OTLPProtocol string

const (
	ProtocolGRPC OTLPProtocol = "grpc"
	ProtocolHTTP OTLPProtocol = "http"
)

// Config configures the OpenTelemetry provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	OTLPEndpoint string
	OTLPProtocol OTLPProtocol

	// Insecure disables transport security towards the collector. Rejected
	// when Environment is production.
	Insecure  bool
	TLSConfig *tls.Config

	// TraceSampleRate is clamped to [0, 1].
	TraceSampleRate float64

	LogLevel  observability.LogLevel
	LogFormat observability.LogFormat

	ResourceAttributes map[string]string
}

func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:     serviceName,
		ServiceVersion:  "unknown",
		Environment:     "development",
		OTLPEndpoint:    "localhost:4317",
		OTLPProtocol:    ProtocolGRPC,
		TraceSampleRate: 1.0,
		LogLevel:        observability.LogLevelInfo,
		LogFormat:       observability.LogFormatJSON,
	}
}

// ParseProtocol accepts the values of OTEL_EXPORTER_OTLP_PROTOCOL. Anything
// unknown falls back to gRPC.
func ParseProtocol(protocol string) OTLPProtocol {
	switch strings.ToLower(protocol) {
	case "http", "http/protobuf":
		return ProtocolHTTP
	default:
		return ProtocolGRPC
	}
}

func (c *Config) isProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.OTLPEndpoint == "" {
		errs = append(errs, errors.New("otlp endpoint is required"))
	}
	if c.Insecure && c.isProduction() {
		errs = append(errs, fmt.Errorf("insecure otlp connections are not allowed in %s", c.Environment))
	}
	if c.TLSConfig != nil && c.TLSConfig.MinVersion > 0 && c.TLSConfig.MinVersion < tls.VersionTLS12 {
		errs = append(errs, errors.New("minimum tls version must be 1.2 or higher"))
	}

	return errors.Join(errs...)
}
