// Package config loads client defaults from YAML files and environment
// variables. Nothing here is required to build a client; the loader exists
// for applications that configure endpoints, retries, and telemetry
// outside their code.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Endpoint EndpointConfig `koanf:"endpoint"`
	Auth     AuthConfig     `koanf:"auth"`
	Retry    RetryConfig    `koanf:"retry"`
	Upload   UploadConfig   `koanf:"upload"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
	GRPC     GRPCConfig     `koanf:"grpc"`
}

// EndpointConfig overrides where requests go.
type EndpointConfig struct {
	// Override replaces the service default endpoint.
	Override string `koanf:"override"`
	// UniverseDomain forces a universe other than googleapis.com.
	UniverseDomain string `koanf:"universe_domain"`
	// Project is the default project, falling back to
	// GOOGLE_CLOUD_PROJECT.
	Project string `koanf:"project"`
}

// AuthConfig tunes credential discovery.
type AuthConfig struct {
	// CredentialsFile overrides GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string `koanf:"credentials_file"`
	// QuotaProject adds the x-goog-user-project header.
	QuotaProject string `koanf:"quota_project"`
	// Scopes replaces the default cloud-platform scope.
	Scopes []string `koanf:"scopes"`
}

// RetryConfig sets the client-wide retry defaults.
type RetryConfig struct {
	// AttemptLimit bounds attempts per call; zero means unlimited.
	AttemptLimit int `koanf:"attempt_limit"`
	// TimeLimit bounds total time per call; zero means unlimited.
	TimeLimit time.Duration `koanf:"time_limit"`
	// AttemptTimeout bounds each attempt.
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	// InitialBackoff and MaxBackoff shape the exponential backoff.
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// UploadConfig sets the storage writer defaults.
type UploadConfig struct {
	ResumableThreshold  int64 `koanf:"resumable_threshold"`
	ResumableBufferSize int64 `koanf:"resumable_buffer_size"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig enables Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// TracingConfig enables OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	SampleRate float64 `koanf:"sample_rate"`
}

// GRPCConfig tunes the gRPC transport.
type GRPCConfig struct {
	// SubchannelCount sizes the channel pool.
	SubchannelCount int `koanf:"subchannel_count"`
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Retry.AttemptLimit < 0 {
		return fmt.Errorf("retry.attempt_limit must not be negative")
	}
	if c.Upload.ResumableBufferSize < 0 || c.Upload.ResumableThreshold < 0 {
		return fmt.Errorf("upload sizes must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	if c.GRPC.SubchannelCount < 0 {
		return fmt.Errorf("grpc.subchannel_count must not be negative")
	}
	return nil
}
