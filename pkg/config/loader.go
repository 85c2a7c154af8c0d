package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "GCLOUD_"
	configEnvVar = "GCLOUD_CONFIG_PATH"
)

// Loader loads configuration from defaults, an optional YAML file, and
// environment variables, in increasing precedence.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader builds a loader with the default search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"gcloud.yaml",
			"config/gcloud.yaml",
			"/etc/gcloud/config.yaml",
		},
		envPrefix: envPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths replaces the file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix replaces the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load resolves the configuration: defaults, then the config file, then
// environment variables.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := l.loadConfigFile(); err != nil {
		// The file is optional.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Well-known Google environment variables fill fields the defaults,
	// file, and GCLOUD_ environment left empty.
	if cfg.Endpoint.Project == "" {
		cfg.Endpoint.Project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if cfg.Auth.CredentialsFile == "" {
		cfg.Auth.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"retry.attempt_limit":   0,
		"retry.time_limit":      time.Duration(0),
		"retry.attempt_timeout": time.Duration(0),
		"retry.initial_backoff": time.Second,
		"retry.max_backoff":     time.Minute,

		"upload.resumable_threshold":   int64(16 * 1024 * 1024),
		"upload.resumable_buffer_size": int64(8 * 1024 * 1024),

		"log.level":  "info",
		"log.format": "json",
		"log.output": "stdout",

		"metrics.enabled":   false,
		"metrics.namespace": "gcloud",

		"tracing.enabled":     false,
		"tracing.sample_rate": 1.0,

		"grpc.subchannel_count": 1,
	}
	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	paths := l.configPaths
	if p := os.Getenv(configEnvVar); p != "" {
		paths = append([]string{p}, paths...)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("no config file found in %v", paths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
}
