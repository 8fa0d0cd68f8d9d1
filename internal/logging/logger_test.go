package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetPackageLevels(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		packageLogMutex.Lock()
		packageLogLevels = make(map[string]LogLevel)
		packageLogMutex.Unlock()
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"error", ERROR},
		{"FATAL", FATAL},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, err := parseLevel("verbose")
	assert.Error(t, err)
}

func TestPackageLogLevels(t *testing.T) {
	resetPackageLevels(t)
	require.NoError(t, SetPackageLogLevels(map[string]string{
		"policy.*":      "debug",
		"policy.engine": "error",
		"controller":    "warn",
	}))

	// Exact match wins over the wildcard.
	assert.Equal(t, ERROR, GetPackageLogLevel("policy.engine"))
	// Wildcard covers the rest of the subtree.
	assert.Equal(t, DEBUG, GetPackageLogLevel("policy.watcher"))
	assert.Equal(t, WARN, GetPackageLogLevel("controller"))
	// No override configured.
	assert.Equal(t, LogLevel(-1), GetPackageLogLevel("orchestrator"))
}

func TestSetPackageLogLevels_InvalidLevel(t *testing.T) {
	resetPackageLevels(t)
	err := SetPackageLogLevels(map[string]string{"detect": "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detect")
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("policy.engine", "policy.*"))
	assert.True(t, matchesPattern("policy.engine", "policy.engine"))
	assert.False(t, matchesPattern("policy", "policy.*"))
	assert.False(t, matchesPattern("policyengine", "policy.*"))
	assert.False(t, matchesPattern("detect", "policy.*"))
}

func TestWithFields_LoggerIsImmutable(t *testing.T) {
	base := GetLogger("test")
	derived := base.WithField("work_item", "kubernaut-system/sp-1")
	derived2 := derived.WithFields(Field("phase", "Enriching"))

	assert.Empty(t, base.fields)
	assert.Len(t, derived.fields, 1)
	assert.Len(t, derived2.fields, 2)
	assert.Equal(t, "Enriching", derived2.fields["phase"])
}

func TestGetLogger_InheritsGlobalLevel(t *testing.T) {
	require.NoError(t, Initialize("warn"))
	logger := GetLogger("test")
	assert.False(t, logger.shouldLog(INFO))
	assert.True(t, logger.shouldLog(ERROR))

	require.NoError(t, Initialize("info"))
}
