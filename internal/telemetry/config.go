// Package telemetry provides OpenTelemetry instrumentation for the scroll sync server.
// Traces and metrics go to an OTLP collector; metrics may also be scraped by Prometheus.
package telemetry

import (
	"errors"
	"fmt"

	"github.com/stacklok/scroll-sync-server/internal/versions"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "scroll-sync"

	// DefaultEndpoint is the default OTLP HTTP endpoint
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling ratio
	DefaultSampling = 0.05
)

// Config is the telemetry section of the server configuration
type Config struct {
	// Enabled turns on telemetry providers. When false everything is a no-op.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies the service. Defaults to "scroll-sync".
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the build version when empty
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as "host:port"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of traces kept, from 0.0 to 1.0. Zero means DefaultSampling.
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Prometheus serves metrics on /metrics in addition to pushing them over OTLP
	Prometheus bool `yaml:"prometheus,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using the build version if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return versions.GetVersionInfo().Version
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio, or DefaultSampling when unset
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// TracingEnabled reports whether spans should be exported
func (c *Config) TracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

// MetricsEnabled reports whether metrics should be collected
func (c *Config) MetricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// PrometheusEnabled reports whether the /metrics scrape endpoint should be served
func (c *Config) PrometheusEnabled() bool {
	return c.MetricsEnabled() && c.Metrics.Prometheus
}

// Validate validates the telemetry configuration. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled {
		if s := c.Tracing.Sampling; s < 0 || s > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", s))
		}
	}
	return errors.Join(errs...)
}
