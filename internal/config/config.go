// Package config defines the processor configuration, loaded from a YAML
// file with flag overrides applied on top.
package config

import "time"

// Config holds all configuration for the signal processor.
type Config struct {
	// Kubeconfig is the path to a kubeconfig file. Empty means in-cluster
	// configuration.
	Kubeconfig string `yaml:"kubeconfig"`

	// LogLevel is the logging level (debug, info, warn, error, fatal).
	LogLevel string `yaml:"log_level"`

	// MetricsAddr is the listen address for the Prometheus endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// Workers is the number of concurrent reconcile workers.
	Workers int `yaml:"workers"`

	// ResyncInterval is the period between active work item scans.
	ResyncInterval time.Duration `yaml:"resync_interval"`

	// MaxRetries bounds reconcile attempts per item before terminal failure.
	MaxRetries int `yaml:"max_retries"`

	// AttemptTimeout bounds a single reconciliation attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// EnrichmentTimeout bounds the topology enrichment stage.
	EnrichmentTimeout time.Duration `yaml:"enrichment_timeout"`

	// PolicyPath is the path to the customer Rego policy. Empty disables
	// policy inference and custom labels.
	PolicyPath string `yaml:"policy_path"`

	// PolicyEvaluationTimeout bounds one policy evaluation.
	PolicyEvaluationTimeout time.Duration `yaml:"policy_evaluation_timeout"`

	// FallbackMatrixPath is the path to a YAML severity-to-priority matrix.
	// Empty uses the built-in matrix.
	FallbackMatrixPath string `yaml:"fallback_matrix_path"`

	// AuditLogPath is the JSONL audit sink. Empty disables auditing.
	AuditLogPath string `yaml:"audit_log_path"`

	// CacheSize is the topology read cache capacity in entries. Zero
	// disables the cache.
	CacheSize int `yaml:"cache_size"`

	// CacheTTL is the topology read cache entry lifetime.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns the configuration used when no file or flags override it.
func Default() *Config {
	return &Config{
		LogLevel:                "info",
		MetricsAddr:             ":9090",
		Workers:                 4,
		ResyncInterval:          30 * time.Second,
		MaxRetries:              5,
		AttemptTimeout:          30 * time.Second,
		EnrichmentTimeout:       10 * time.Second,
		PolicyEvaluationTimeout: 3 * time.Second,
		CacheSize:               512,
		CacheTTL:                30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return NewConfigError("LogLevel must be one of debug, info, warn, error, fatal")
	}

	if c.MetricsAddr == "" {
		return NewConfigError("MetricsAddr must not be empty")
	}
	if c.Workers < 1 {
		return NewConfigError("Workers must be at least 1")
	}
	if c.MaxRetries < 1 {
		return NewConfigError("MaxRetries must be at least 1")
	}
	if c.ResyncInterval < time.Second {
		return NewConfigError("ResyncInterval must be at least 1s")
	}
	if c.AttemptTimeout < time.Second {
		return NewConfigError("AttemptTimeout must be at least 1s")
	}
	if c.EnrichmentTimeout < time.Second {
		return NewConfigError("EnrichmentTimeout must be at least 1s")
	}
	if c.EnrichmentTimeout > c.AttemptTimeout {
		return NewConfigError("EnrichmentTimeout must not exceed AttemptTimeout")
	}
	if c.PolicyEvaluationTimeout < 100*time.Millisecond {
		return NewConfigError("PolicyEvaluationTimeout must be at least 100ms")
	}
	if c.CacheSize < 0 {
		return NewConfigError("CacheSize must not be negative")
	}

	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

func (e *ConfigError) Error() string {
	return "config error: " + e.message
}
