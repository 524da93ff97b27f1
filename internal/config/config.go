// Package config provides configuration loading and management for the scroll sync server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/scroll-sync-server/internal/telemetry"
)

// Authentication modes
const (
	// AuthModeAnonymous attributes every request to a single shared user
	AuthModeAnonymous = "anonymous"

	// AuthModeJWT requires an HS256 bearer token whose subject is the user id
	AuthModeJWT = "jwt"
)

// EnvPrefix is the prefix of every environment variable the server reads
const EnvPrefix = "SCROLL_SYNC"

// Environment variables holding the JWT signing secret, in priority order
const (
	EnvJWTSecret       = "SCROLL_SYNC_JWT_SECRET"
	EnvLegacyJWTSecret = "JWT_SECRET"
)

// Defaults applied to unset fields
const (
	DefaultAddress           = ":8080"
	DefaultRequestTimeout    = 10 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second
	DefaultSweepInterval     = 15 * time.Second
	DefaultSendBuffer        = 64
	DefaultKeepAliveInterval = 25 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Sync      SyncConfig        `yaml:"sync"`
	Auth      AuthConfig        `yaml:"auth"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the HTTP listener settings. Durations use Go syntax ("10s", "1m").
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`

	// RequestTimeout bounds ordinary requests. Push streams are exempt.
	RequestTimeout  string `yaml:"requestTimeout,omitempty"`
	ReadTimeout     string `yaml:"readTimeout,omitempty"`
	IdleTimeout     string `yaml:"idleTimeout,omitempty"`
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"`

	// AllowedOrigins restricts WebSocket upgrades. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// SyncConfig defines session and heartbeat behaviour
type SyncConfig struct {
	// HeartbeatTimeout is how long a client may stay silent before it is told the main window is gone
	HeartbeatTimeout string `yaml:"heartbeatTimeout,omitempty"`

	// SweepInterval is how often every user is checked for stale clients. "0" disables the sweeper.
	SweepInterval string `yaml:"sweepInterval,omitempty"`

	// SendBuffer is the number of events queued per connection before it is dropped as too slow
	SendBuffer int `yaml:"sendBuffer,omitempty"`

	// KeepAliveInterval is how often an idle event stream receives a comment line
	KeepAliveInterval string `yaml:"keepAliveInterval,omitempty"`
}

// AuthConfig defines how callers are identified
type AuthConfig struct {
	// Mode is "anonymous" (default) or "jwt"
	Mode string `yaml:"mode,omitempty"`

	// PublicPaths bypass authentication. Health routes are always public.
	PublicPaths []string `yaml:"publicPaths,omitempty"`

	JWT *JWTConfig `yaml:"jwt,omitempty"`
}

// JWTConfig defines bearer token verification
type JWTConfig struct {
	// SecretFile is the path to a file holding the HS256 signing secret
	SecretFile string `yaml:"secretFile,omitempty"`

	// Issuer, when set, must match the token's iss claim
	Issuer string `yaml:"issuer,omitempty"`

	// Audience, when set, must be present in the token's aud claim
	Audience string `yaml:"audience,omitempty"`
}

// GetSecret returns the JWT signing secret using the following priority:
// 1. Read from SecretFile if specified
// 2. Read from SCROLL_SYNC_JWT_SECRET
// 3. Read from JWT_SECRET
//
// The secret from file will have leading/trailing whitespace trimmed.
func (j *JWTConfig) GetSecret() (string, error) {
	if j != nil && j.SecretFile != "" {
		data, err := os.ReadFile(filepath.Clean(j.SecretFile))
		if err != nil {
			return "", fmt.Errorf("failed to read JWT secret from file %s: %w", j.SecretFile, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("JWT secret file %s is empty", j.SecretFile)
		}
		return secret, nil
	}

	for _, env := range []string{EnvJWTSecret, EnvLegacyJWTSecret} {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}

	return "", fmt.Errorf(
		"no JWT secret configured: set auth.jwt.secretFile or the %s environment variable", EnvJWTSecret,
	)
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{}
}

// LoadConfig loads configuration. Without WithConfigPath the defaults are returned.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate reports every problem found in the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	durations := []struct {
		field string
		value string
	}{
		{"server.requestTimeout", c.Server.RequestTimeout},
		{"server.readTimeout", c.Server.ReadTimeout},
		{"server.idleTimeout", c.Server.IdleTimeout},
		{"server.shutdownTimeout", c.Server.ShutdownTimeout},
		{"sync.heartbeatTimeout", c.Sync.HeartbeatTimeout},
		{"sync.sweepInterval", c.Sync.SweepInterval},
		{"sync.keepAliveInterval", c.Sync.KeepAliveInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", d.field, err))
			continue
		}
		if parsed < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.field))
		}
	}

	if c.Sync.HeartbeatTimeout != "" {
		if d, err := time.ParseDuration(c.Sync.HeartbeatTimeout); err == nil && d == 0 {
			errs = append(errs, fmt.Errorf("sync.heartbeatTimeout must be positive"))
		}
	}

	if c.Sync.SendBuffer < 0 {
		errs = append(errs, fmt.Errorf("sync.sendBuffer must not be negative, got %d", c.Sync.SendBuffer))
	}

	errs = append(errs, c.Auth.validate())

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func (a *AuthConfig) validate() error {
	switch a.GetMode() {
	case AuthModeAnonymous:
		return nil
	case AuthModeJWT:
		if _, err := a.JWT.GetSecret(); err != nil {
			return fmt.Errorf("auth.jwt: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeAnonymous, AuthModeJWT, a.Mode)
	}
}

// GetMode returns the auth mode, defaulting to anonymous
func (a *AuthConfig) GetMode() string {
	if a.Mode == "" {
		return AuthModeAnonymous
	}
	return a.Mode
}

// GetAddress returns the listen address, using ":8080" if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultAddress
	}
	return s.Address
}

// GetRequestTimeout returns the per-request timeout for non-streaming routes
func (s *ServerConfig) GetRequestTimeout() time.Duration {
	return parseDuration(s.RequestTimeout, DefaultRequestTimeout)
}

// GetReadTimeout returns the server read timeout
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, DefaultReadTimeout)
}

// GetIdleTimeout returns the keep-alive idle timeout
func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return parseDuration(s.IdleTimeout, DefaultIdleTimeout)
}

// GetShutdownTimeout returns how long graceful shutdown may take
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeout, DefaultShutdownTimeout)
}

// GetHeartbeatTimeout returns the staleness threshold
func (s *SyncConfig) GetHeartbeatTimeout() time.Duration {
	d := parseDuration(s.HeartbeatTimeout, DefaultHeartbeatTimeout)
	if d <= 0 {
		return DefaultHeartbeatTimeout
	}
	return d
}

// GetSweepInterval returns the periodic sweep interval. Zero means disabled.
func (s *SyncConfig) GetSweepInterval() time.Duration {
	return parseDuration(s.SweepInterval, DefaultSweepInterval)
}

// GetSendBuffer returns the per-connection event queue size
func (s *SyncConfig) GetSendBuffer() int {
	if s.SendBuffer <= 0 {
		return DefaultSendBuffer
	}
	return s.SendBuffer
}

// GetKeepAliveInterval returns the SSE keep-alive interval
func (s *SyncConfig) GetKeepAliveInterval() time.Duration {
	d := parseDuration(s.KeepAliveInterval, DefaultKeepAliveInterval)
	if d <= 0 {
		return DefaultKeepAliveInterval
	}
	return d
}

// parseDuration returns def for empty or invalid values; Validate reports the latter
func parseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return def
	}
	return d
}
