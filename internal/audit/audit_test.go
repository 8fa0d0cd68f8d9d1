package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestFileEmitter_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	e, err := NewFileEmitter(Config{Path: path})
	require.NoError(t, err)

	item := &signal.WorkItem{Namespace: "kubernaut-system", Name: "sp-1"}
	result := &signal.Result{CorrelationID: "corr-1", Degraded: true}
	e.Emit(EnrichmentCompleted(item, result))
	e.Emit(ClassificationCompleted(item, result))
	require.NoError(t, e.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeEnrichmentCompleted, events[0].Type)
	assert.Equal(t, "corr-1", events[0].CorrelationID)
	assert.Equal(t, "kubernaut-system/sp-1", events[0].WorkItem)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, true, events[0].Data["degraded"])

	assert.Equal(t, EventTypeClassificationCompleted, events[1].Type)
}

func TestFileEmitter_CloseDrainsBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	e, err := NewFileEmitter(Config{Path: path, BufferSize: 64})
	require.NoError(t, err)

	item := &signal.WorkItem{Namespace: "kubernaut-system", Name: "sp-1"}
	result := &signal.Result{CorrelationID: "corr-1"}
	for i := 0; i < 50; i++ {
		e.Emit(EnrichmentCompleted(item, result))
	}
	require.NoError(t, e.Close())

	assert.Len(t, readEvents(t, path), 50)
}

func TestFileEmitter_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	e, err := NewFileEmitter(Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	// The second Close reports the already-closed file but must not panic
	// or deadlock.
	_ = e.Close()
}

func TestFileEmitter_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	item := &signal.WorkItem{Namespace: "kubernaut-system", Name: "sp-1"}
	result := &signal.Result{CorrelationID: "corr-1"}

	e, err := NewFileEmitter(Config{Path: path})
	require.NoError(t, err)
	e.Emit(EnrichmentCompleted(item, result))
	require.NoError(t, e.Close())

	e, err = NewFileEmitter(Config{Path: path})
	require.NoError(t, err)
	e.Emit(ClassificationCompleted(item, result))
	require.NoError(t, e.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeEnrichmentCompleted, events[0].Type)
	assert.Equal(t, EventTypeClassificationCompleted, events[1].Type)
}

func TestFileEmitter_DropsOnFullBuffer(t *testing.T) {
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_dropped_total"})

	// No writer goroutine, so the one-slot buffer fills and stays full.
	e := &FileEmitter{
		events:  make(chan Event, 1),
		dropped: dropped,
		logger:  logging.GetLogger("audit.emitter"),
	}
	for i := 0; i < 10; i++ {
		e.Emit(Event{Type: EventTypeEnrichmentCompleted, WorkItem: "kubernaut-system/sp-1"})
	}

	assert.Equal(t, 9.0, testutil.ToFloat64(dropped))
	assert.Len(t, e.events, 1)
}

func TestFileEmitter_EmitAfterCloseIsDropped(t *testing.T) {
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_dropped_after_close_total"})
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	e, err := NewFileEmitter(Config{Path: path, DroppedCounter: dropped})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// A late emit must neither panic nor write; the event is counted as
	// dropped.
	e.Emit(Event{Type: EventTypeEnrichmentCompleted, WorkItem: "kubernaut-system/sp-1"})

	assert.Equal(t, 1.0, testutil.ToFloat64(dropped))
	assert.Empty(t, readEvents(t, path))
}

func TestFileEmitter_InvalidPathFails(t *testing.T) {
	_, err := NewFileEmitter(Config{Path: filepath.Join(t.TempDir(), "missing", "audit.jsonl")})
	assert.Error(t, err)
}

func TestReconciliationFailed_CarriesFailureFields(t *testing.T) {
	item := &signal.WorkItem{
		Namespace:       "kubernaut-system",
		Name:            "sp-1",
		FailureReason:   "enrichment failed",
		FailureCategory: signal.CategoryTransient,
	}
	event := ReconciliationFailed(item, "corr-9")

	assert.Equal(t, EventTypeReconciliationFailed, event.Type)
	assert.Equal(t, "corr-9", event.CorrelationID)
	assert.Equal(t, "enrichment failed", event.Data["reason"])
	assert.Equal(t, string(signal.CategoryTransient), event.Data["category"])
}
