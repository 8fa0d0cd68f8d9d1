package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `package signals.custom

labels["compliance"] = ["pci-dss", "sox"] {
	input.environment == "production"
}

labels["cost-center"] = [unit] {
	unit := input.topology.namespace.labels["cost-center"]
}

classify["environment"] = "production" {
	input.signal.labels["region"] == "us-east-1"
}

classify["priority"] = "P1" {
	input.characteristics.stateful
}
`

func newTestEngine(t *testing.T, source string) *Engine {
	t.Helper()
	e, err := New(Config{})
	require.NoError(t, err)
	if source != "" {
		require.NoError(t, e.Load(source))
	}
	return e
}

func productionInput() Input {
	return Input{
		Signal:          &signal.Signal{Labels: map[string]string{"region": "us-east-1"}},
		Topology:        &signal.TopologyContext{},
		Characteristics: &signal.DetectedCharacteristics{Stateful: true},
		Environment:     "production",
	}
}

func TestEngine_DefaultPolicyYieldsEmptyOutput(t *testing.T) {
	e := newTestEngine(t, "")

	labels, err := e.Evaluate(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Empty(t, labels)

	inference, err := e.Classify(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Equal(t, &Inference{}, inference)
}

func TestEngine_EvaluateCustomLabels(t *testing.T) {
	e := newTestEngine(t, testPolicy)

	labels, err := e.Evaluate(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"pci-dss", "sox"}, labels["compliance"])
}

func TestEngine_EvaluateConditionalRuleNotTriggered(t *testing.T) {
	e := newTestEngine(t, testPolicy)

	input := productionInput()
	input.Environment = "staging"
	labels, err := e.Evaluate(context.Background(), input)
	require.NoError(t, err)
	assert.NotContains(t, labels, "compliance")
}

func TestEngine_Classify(t *testing.T) {
	e := newTestEngine(t, testPolicy)

	inference, err := e.Classify(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Equal(t, "production", inference.Environment)
	assert.Equal(t, "P1", inference.Priority)
	assert.Empty(t, inference.BusinessUnit)
}

func TestEngine_ReservedPrefixKeysNeverEscape(t *testing.T) {
	source := `package signals.custom

labels["kubernaut.io/priority"] = ["P0"] { true }

labels["signals.kubernaut.io/env"] = ["prod"] { true }

labels["allowed"] = ["yes"] { true }
`
	e := newTestEngine(t, source)

	labels, err := e.Evaluate(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"yes"}, labels["allowed"])
	assert.NotContains(t, labels, "kubernaut.io/priority")
	assert.NotContains(t, labels, "signals.kubernaut.io/env")
}

func TestEngine_LoadRejectsWrongPackage(t *testing.T) {
	e := newTestEngine(t, "")

	err := e.Load("package other.place\n\nlabels := {}\n")
	require.Error(t, err)
	assert.Equal(t, signal.CategoryPolicy, signal.CategoryOf(err))
	assert.Contains(t, err.Error(), "data.signals.custom")
}

func TestEngine_LoadRejectsMalformedSource(t *testing.T) {
	e := newTestEngine(t, "")

	err := e.Load("this is not rego {{{")
	require.Error(t, err)
	assert.Equal(t, signal.CategoryPolicy, signal.CategoryOf(err))
}

func TestEngine_FailedLoadKeepsPreviousPolicy(t *testing.T) {
	e := newTestEngine(t, testPolicy)

	require.Error(t, e.Load("package signals.custom\n\nbroken {{{"))

	// The previously loaded policy must keep serving evaluations.
	labels, err := e.Evaluate(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"pci-dss", "sox"}, labels["compliance"])
}

func TestEngine_UnsafeBuiltinsRejectedAtCompile(t *testing.T) {
	source := `package signals.custom

labels["exfil"] = [resp.body.x] {
	resp := http.send({"method": "get", "url": "http://example.com"})
}
`
	e := newTestEngine(t, "")
	err := e.Load(source)
	require.Error(t, err)
	assert.Equal(t, signal.CategoryPolicy, signal.CategoryOf(err))
}

func TestEngine_ClassifyRejectsNonStringField(t *testing.T) {
	source := `package signals.custom

classify["priority"] = 1 { true }
`
	e := newTestEngine(t, source)

	_, err := e.Classify(context.Background(), productionInput())
	require.Error(t, err)
	assert.Equal(t, signal.CategoryPolicy, signal.CategoryOf(err))
}

func TestEngine_EvaluateRejectsNonArrayLabelValue(t *testing.T) {
	source := `package signals.custom

labels["bad"] = "scalar" { true }
`
	e := newTestEngine(t, source)

	_, err := e.Evaluate(context.Background(), productionInput())
	require.Error(t, err)
	assert.Equal(t, signal.CategoryPolicy, signal.CategoryOf(err))
}

func TestEngine_LoadFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.rego")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0644))

	e, err := New(Config{Path: path})
	require.NoError(t, err)

	labels, err := e.Evaluate(context.Background(), productionInput())
	require.NoError(t, err)
	assert.Contains(t, labels, "compliance")
}

func TestEngine_NewFailsOnMissingPolicyFile(t *testing.T) {
	_, err := New(Config{Path: filepath.Join(t.TempDir(), "missing.rego")})
	require.Error(t, err)
	assert.Equal(t, signal.CategoryPolicy, signal.CategoryOf(err))
}
