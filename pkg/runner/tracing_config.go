package runner

import (
	"context"

	"go.uber.org/zap"

	internaltracing "github.com/wehubfusion/Daedalus/internal/tracing"
)

// TracingConfig is the public tracing configuration exposed to Runner
// clients. It mirrors the internal configuration while keeping the setup
// implementation private.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRatio    float64
}

// DefaultTracingConfig returns a development-friendly tracing configuration.
func DefaultTracingConfig(serviceName string) TracingConfig {
	return fromInternalConfig(internaltracing.DefaultConfig(serviceName))
}

func (c TracingConfig) toInternalConfig() internaltracing.Config {
	return internaltracing.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTLPEndpoint,
		SampleRatio:    c.SampleRatio,
	}
}

func fromInternalConfig(cfg internaltracing.Config) TracingConfig {
	return TracingConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.SampleRatio,
	}
}

// SetupTracing installs the global tracer provider for run spans and returns
// its shutdown function. Call it once at process start; the runner creates
// spans whether or not a provider is installed.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	return internaltracing.Setup(ctx, cfg.toInternalConfig(), logger)
}

// ShutdownTracing flushes and stops the tracer provider.
func ShutdownTracing(shutdown func(context.Context) error, logger *zap.Logger) error {
	return internaltracing.Shutdown(shutdown, logger)
}
