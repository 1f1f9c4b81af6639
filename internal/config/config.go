// Package config provides YAML configuration loading with validation and
// environment variable substitution for the resilienced daemon.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Admin     AdminConfig      `yaml:"admin" json:"admin"`
	Defaults  PolicyConfig     `yaml:"defaults" json:"defaults"`
	Upstreams []UpstreamConfig `yaml:"upstreams" json:"upstreams"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS termination settings for the daemon listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool       `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string   `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
	Auth        AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig holds JWT bearer authentication settings for the admin API.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	JWTSecret string   `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// PolicyConfig groups the resilience policy settings applied to every
// upstream unless overridden per upstream.
type PolicyConfig struct {
	Breaker  BreakerConfig   `yaml:"breaker" json:"breaker"`
	Retry    *RetryConfig    `yaml:"retry" json:"retry,omitempty"`
	Bulkhead *BulkheadConfig `yaml:"bulkhead" json:"bulkhead,omitempty"`
}

// BreakerConfig holds circuit breaker settings. Zero values fall back to
// the circuitbreaker package defaults.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold" json:"success_threshold"`
	ResetTimeout       time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	HalfOpenMaxCalls   int           `yaml:"half_open_max_calls" json:"half_open_max_calls"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold" json:"error_rate_threshold"`
	WindowSize         int           `yaml:"window_size" json:"window_size"`
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Jitter     bool          `yaml:"jitter" json:"jitter"`
}

// BulkheadConfig holds concurrency limiter settings.
type BulkheadConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	MaxQueue      int           `yaml:"max_queue" json:"max_queue"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// UpstreamConfig defines a single guarded upstream probed by the daemon.
type UpstreamConfig struct {
	Name          string          `yaml:"name" json:"name"`
	URL           string          `yaml:"url" json:"url"`
	ProbeInterval time.Duration   `yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  time.Duration   `yaml:"probe_timeout" json:"probe_timeout"`
	Breaker       *BreakerConfig  `yaml:"breaker" json:"breaker,omitempty"`
	Retry         *RetryConfig    `yaml:"retry" json:"retry,omitempty"`
	Bulkhead      *BulkheadConfig `yaml:"bulkhead" json:"bulkhead,omitempty"`
}

// ValidLogLevels are the accepted logging.level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	for i := range cfg.Upstreams {
		if cfg.Upstreams[i].ProbeInterval == 0 {
			cfg.Upstreams[i].ProbeInterval = 10 * time.Second
		}
		if cfg.Upstreams[i].ProbeTimeout == 0 {
			cfg.Upstreams[i].ProbeTimeout = 3 * time.Second
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	// TLS validation
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	// Logging validation
	if !ValidLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
		if cfg.Admin.Auth.Enabled {
			if cfg.Admin.Auth.JWTSecret == "" {
				return fmt.Errorf("admin.auth.jwt_secret is required when admin auth is enabled")
			}
			if cfg.Admin.Auth.Issuer == "" {
				return fmt.Errorf("admin.auth.issuer is required when admin auth is enabled")
			}
			if cfg.Admin.Auth.Audience == "" {
				return fmt.Errorf("admin.auth.audience is required when admin auth is enabled")
			}
		}
	}

	if err := validatePolicies("defaults", cfg.Defaults.Breaker, cfg.Defaults.Retry, cfg.Defaults.Bulkhead); err != nil {
		return err
	}

	if len(cfg.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream must be configured")
	}

	seen := make(map[string]bool)
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstreams[%d].name is required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("duplicate upstream name: %s", u.Name)
		}
		seen[u.Name] = true

		if u.URL == "" {
			return fmt.Errorf("upstreams[%d].url is required", i)
		}
		parsed, err := url.Parse(u.URL)
		if err != nil {
			return fmt.Errorf("upstreams[%d].url: invalid URL: %w", i, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("upstreams[%d].url: scheme must be http or https, got %q", i, parsed.Scheme)
		}
		if parsed.Host == "" {
			return fmt.Errorf("upstreams[%d].url: host is required", i)
		}

		if u.ProbeInterval <= 0 {
			return fmt.Errorf("upstreams[%d].probe_interval must be positive", i)
		}
		if u.ProbeTimeout <= 0 {
			return fmt.Errorf("upstreams[%d].probe_timeout must be positive", i)
		}

		breaker := cfg.Defaults.Breaker
		if u.Breaker != nil {
			breaker = *u.Breaker
		}
		if err := validatePolicies(fmt.Sprintf("upstreams[%d]", i), breaker, u.Retry, u.Bulkhead); err != nil {
			return err
		}
	}

	return nil
}

// validatePolicies covers what YAML can get wrong syntactically; the
// library constructors re-validate semantically on construction, so an
// invalid combination can never reach a live breaker either way.
func validatePolicies(where string, b BreakerConfig, r *RetryConfig, bh *BulkheadConfig) error {
	if b.FailureThreshold < 0 {
		return fmt.Errorf("%s: breaker.failure_threshold must be non-negative", where)
	}
	if b.SuccessThreshold < 0 {
		return fmt.Errorf("%s: breaker.success_threshold must be non-negative", where)
	}
	if b.ResetTimeout < 0 {
		return fmt.Errorf("%s: breaker.reset_timeout must be non-negative", where)
	}
	if b.HalfOpenMaxCalls < 0 {
		return fmt.Errorf("%s: breaker.half_open_max_calls must be non-negative", where)
	}
	if b.ErrorRateThreshold < 0 || b.ErrorRateThreshold > 1 {
		return fmt.Errorf("%s: breaker.error_rate_threshold must be in [0, 1]", where)
	}
	if b.WindowSize < 0 {
		return fmt.Errorf("%s: breaker.window_size must be non-negative", where)
	}
	if r != nil {
		if r.MaxRetries < 0 {
			return fmt.Errorf("%s: retry.max_retries must be non-negative", where)
		}
		if r.BaseDelay <= 0 {
			return fmt.Errorf("%s: retry.base_delay must be positive", where)
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			return fmt.Errorf("%s: retry.multiplier must be at least 1", where)
		}
		if r.MaxDelay < 0 {
			return fmt.Errorf("%s: retry.max_delay must be non-negative", where)
		}
	}
	if bh != nil {
		if bh.MaxConcurrent < 1 {
			return fmt.Errorf("%s: bulkhead.max_concurrent must be positive", where)
		}
		if bh.MaxQueue < 0 {
			return fmt.Errorf("%s: bulkhead.max_queue must be non-negative", where)
		}
		if bh.Timeout < 0 {
			return fmt.Errorf("%s: bulkhead.timeout must be non-negative", where)
		}
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Admin.Auth.Enabled && strings.Contains(cfg.Admin.Auth.JWTSecret, "${") {
		warnings = append(warnings, "admin.auth.jwt_secret contains unresolved environment variable")
	}
	return warnings
}
