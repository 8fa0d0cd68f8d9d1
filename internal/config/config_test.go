package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ResyncInterval)
	assert.Equal(t, 512, cfg.CacheSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
workers: 8
resync_interval: 1m
policy_path: /etc/kubernaut/policy.rego
audit_log_path: /var/log/kubernaut/audit.jsonl
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.ResyncInterval)
	assert.Equal(t, "/etc/kubernaut/policy.rego", cfg.PolicyPath)
	assert.Equal(t, "/var/log/kubernaut/audit.jsonl", cfg.AuditLogPath)

	// Untouched keys keep their defaults.
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := writeConfig(t, "workers: [not a number\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValuesFailValidation(t *testing.T) {
	path := writeConfig(t, "workers: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Workers must be at least 1")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "LogLevel",
		},
		{
			name:    "empty metrics addr",
			mutate:  func(c *Config) { c.MetricsAddr = "" },
			wantErr: "MetricsAddr",
		},
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.MaxRetries = 0 },
			wantErr: "MaxRetries",
		},
		{
			name:    "sub-second resync",
			mutate:  func(c *Config) { c.ResyncInterval = 100 * time.Millisecond },
			wantErr: "ResyncInterval",
		},
		{
			name: "enrichment timeout exceeds attempt timeout",
			mutate: func(c *Config) {
				c.AttemptTimeout = 5 * time.Second
				c.EnrichmentTimeout = 10 * time.Second
			},
			wantErr: "EnrichmentTimeout must not exceed AttemptTimeout",
		},
		{
			name:    "policy evaluation timeout too small",
			mutate:  func(c *Config) { c.PolicyEvaluationTimeout = 10 * time.Millisecond },
			wantErr: "PolicyEvaluationTimeout",
		},
		{
			name:    "negative cache size",
			mutate:  func(c *Config) { c.CacheSize = -1 },
			wantErr: "CacheSize",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigError_Message(t *testing.T) {
	err := NewConfigError("Workers must be at least 1")
	assert.Equal(t, "config error: Workers must be at least 1", err.Error())
}
