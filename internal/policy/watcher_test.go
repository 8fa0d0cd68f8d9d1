package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watcherPolicyV1 = `package signals.custom

labels["version"] = ["v1"] { true }
`

const watcherPolicyV2 = `package signals.custom

labels["version"] = ["v2"] { true }
`

func policyVersion(t *testing.T, e *Engine) string {
	t.Helper()
	labels, err := e.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	if len(labels["version"]) == 0 {
		return ""
	}
	return labels["version"][0]
}

func startWatcher(t *testing.T, path string, e *Engine) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{FilePath: path, DebounceMillis: 50}, e)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.rego")
	require.NoError(t, os.WriteFile(path, []byte(watcherPolicyV1), 0644))

	e, err := New(Config{Path: path})
	require.NoError(t, err)
	require.Equal(t, "v1", policyVersion(t, e))

	startWatcher(t, path, e)

	require.NoError(t, os.WriteFile(path, []byte(watcherPolicyV2), 0644))

	assert.Eventually(t, func() bool {
		return policyVersion(t, e) == "v2"
	}, 5*time.Second, 50*time.Millisecond, "engine should pick up the rewritten policy")
}

func TestWatcher_MalformedUpdateKeepsServingOldPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.rego")
	require.NoError(t, os.WriteFile(path, []byte(watcherPolicyV1), 0644))

	e, err := New(Config{Path: path})
	require.NoError(t, err)

	startWatcher(t, path, e)

	require.NoError(t, os.WriteFile(path, []byte("package signals.custom\n\nbroken {{{"), 0644))

	// The reload attempt fails; evaluations keep using the last working
	// policy the whole time.
	assert.Never(t, func() bool {
		return policyVersion(t, e) != "v1"
	}, 1*time.Second, 100*time.Millisecond)

	// A subsequent good write recovers.
	require.NoError(t, os.WriteFile(path, []byte(watcherPolicyV2), 0644))
	assert.Eventually(t, func() bool {
		return policyVersion(t, e) == "v2"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_RequiresFilePathAndEngine(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{}, nil)
	assert.Error(t, err)

	e, err := New(Config{})
	require.NoError(t, err)
	_, err = NewWatcher(WatcherConfig{}, e)
	assert.Error(t, err)
}
