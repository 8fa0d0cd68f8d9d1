package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jordigilh/kubernaut-sub006/internal/audit"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/jordigilh/kubernaut-sub006/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

type stubEnricher struct {
	tc *signal.TopologyContext
}

func (s *stubEnricher) Enrich(ctx context.Context, item *signal.WorkItem) *signal.TopologyContext {
	if s.tc != nil {
		return s.tc
	}
	return &signal.TopologyContext{
		Namespace: &signal.ObjectMeta{Name: "payments-prod"},
	}
}

type stubChains struct {
	chain signal.OwnerChain
}

func (s *stubChains) Build(ctx context.Context, namespace, kind, name string) signal.OwnerChain {
	return s.chain
}

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, tc *signal.TopologyContext, chain signal.OwnerChain) *signal.DetectedCharacteristics {
	return &signal.DetectedCharacteristics{NetworkIsolated: true}
}

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics) *signal.ClassificationResult {
	r := &signal.ClassificationResult{
		Environment: signal.ClassifiedValue{Value: "production", Confidence: 0.8, Source: signal.SourcePatternMatch},
		Priority:    signal.ClassifiedValue{Value: "P1", Confidence: 0.4, Source: signal.SourceDefault},
	}
	r.ComputeOverall()
	return r
}

func (stubClassifier) CustomLabels(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics, environment string) map[string][]string {
	return map[string][]string{"compliance": {"pci-dss"}}
}

// recordingEmitter captures audit events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// conflictingStore injects a fixed number of conflicts before delegating.
type conflictingStore struct {
	store.Interface
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) UpdateStatus(ctx context.Context, item *signal.WorkItem) error {
	c.mu.Lock()
	inject := c.conflicts > 0
	if inject {
		c.conflicts--
	}
	c.mu.Unlock()
	if inject {
		return apierrors.NewConflict(schema.GroupResource{Resource: "signalprocessings"}, item.Name, errors.New("stale"))
	}
	return c.Interface.UpdateStatus(ctx, item)
}

func pendingItem(name string) *signal.WorkItem {
	return &signal.WorkItem{
		ID:        "uid-" + name,
		Namespace: "kubernaut-system",
		Name:      name,
		Phase:     signal.PhasePending,
		Signal: signal.Signal{
			Type:     "prometheus-alert",
			Severity: "critical",
			Target:   signal.TargetRef{Kind: "Pod", Namespace: "payments-prod", Name: "web-0"},
		},
	}
}

func newTestOrchestrator(st store.Interface, emitter audit.Emitter) *Orchestrator {
	return New(st, &stubEnricher{}, &stubChains{}, stubDetector{}, stubClassifier{}, emitter, nil, Config{})
}

func TestReconcile_DrivesItemToComplete(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Add(pendingItem("sp-1"))
	emitter := &recordingEmitter{}
	o := newTestOrchestrator(mem, emitter)
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	require.NoError(t, o.Reconcile(context.Background(), key))

	item, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseComplete, item.Phase)

	require.NotNil(t, item.Result)
	assert.NotEmpty(t, item.Result.CorrelationID)
	require.NotNil(t, item.Result.Topology)
	assert.Equal(t, "payments-prod", item.Result.Topology.Namespace.Name)
	require.NotNil(t, item.Result.Characteristics)
	assert.True(t, item.Result.Characteristics.NetworkIsolated)
	require.NotNil(t, item.Result.Classification)
	assert.Equal(t, "production", item.Result.Classification.Environment.Value)
	assert.Equal(t, []string{"pci-dss"}, item.Result.CustomLabels["compliance"])
	require.NotNil(t, item.Result.CompletedAt)

	assert.Equal(t, []audit.EventType{
		audit.EventTypeEnrichmentCompleted,
		audit.EventTypeClassificationCompleted,
	}, emitter.types())
}

func TestReconcile_TerminalItemIsNoOp(t *testing.T) {
	mem := store.NewMemoryStore()
	item := pendingItem("sp-1")
	item.Phase = signal.PhaseComplete
	mem.Add(item)
	emitter := &recordingEmitter{}
	o := newTestOrchestrator(mem, emitter)

	require.NoError(t, o.Reconcile(context.Background(), store.Key{Namespace: "kubernaut-system", Name: "sp-1"}))

	// No writes, no events.
	assert.Empty(t, emitter.types())
	got, err := mem.Get(context.Background(), store.Key{Namespace: "kubernaut-system", Name: "sp-1"})
	require.NoError(t, err)
	assert.Equal(t, item.ResourceVersion, got.ResourceVersion)
}

func TestReconcile_MissingItemIsNoOp(t *testing.T) {
	o := newTestOrchestrator(store.NewMemoryStore(), audit.NopEmitter{})

	err := o.Reconcile(context.Background(), store.Key{Namespace: "kubernaut-system", Name: "vanished"})
	assert.NoError(t, err)
}

func TestReconcile_RecoversFromWriteConflicts(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Add(pendingItem("sp-1"))
	st := &conflictingStore{Interface: mem, conflicts: 2}
	o := newTestOrchestrator(st, audit.NopEmitter{})
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	require.NoError(t, o.Reconcile(context.Background(), key))

	item, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseComplete, item.Phase)
}

func TestReconcile_AbandonsWhenConcurrentWriterFinished(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Add(pendingItem("sp-1"))
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	// Every write conflicts; the fresh read shows another writer already
	// drove the item terminal.
	st := &conflictingStore{Interface: mem, conflicts: 100}
	fresh, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	fresh.Phase = signal.PhaseComplete
	require.NoError(t, mem.UpdateStatus(context.Background(), fresh))

	o := newTestOrchestrator(st, audit.NopEmitter{})
	assert.NoError(t, o.Reconcile(context.Background(), key))
}

func TestReconcile_DegradedEnrichmentStillCompletes(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Add(pendingItem("sp-1"))
	enricher := &stubEnricher{tc: &signal.TopologyContext{
		Degraded:      true,
		MissingFields: []string{"namespace"},
	}}
	o := New(mem, enricher, &stubChains{}, stubDetector{}, stubClassifier{}, audit.NopEmitter{}, nil, Config{})
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	require.NoError(t, o.Reconcile(context.Background(), key))

	item, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseComplete, item.Phase)
	assert.True(t, item.Result.Degraded)
	assert.Contains(t, item.Result.Topology.MissingFields, "namespace")
}

func TestMarkFailed_SetsTerminalFailureState(t *testing.T) {
	mem := store.NewMemoryStore()
	item := pendingItem("sp-1")
	item.Phase = signal.PhaseEnriching
	mem.Add(item)
	emitter := &recordingEmitter{}
	o := newTestOrchestrator(mem, emitter)
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	cause := signal.NewCategoryError(signal.CategoryTransient, errors.New("apiserver flapping"), "enrichment failed")
	require.NoError(t, o.MarkFailed(context.Background(), key, 5, cause))

	got, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseFailed, got.Phase)
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, signal.CategoryTransient, got.FailureCategory)
	assert.Contains(t, got.FailureReason, "enrichment failed")
	assert.Equal(t, []audit.EventType{audit.EventTypeReconciliationFailed}, emitter.types())
}

func TestMarkFailed_TerminalItemIsNoOp(t *testing.T) {
	mem := store.NewMemoryStore()
	item := pendingItem("sp-1")
	item.Phase = signal.PhaseComplete
	mem.Add(item)
	o := newTestOrchestrator(mem, audit.NopEmitter{})

	err := o.MarkFailed(context.Background(), store.Key{Namespace: "kubernaut-system", Name: "sp-1"}, 3, errors.New("late failure"))
	require.NoError(t, err)

	got, err := mem.Get(context.Background(), store.Key{Namespace: "kubernaut-system", Name: "sp-1"})
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseComplete, got.Phase)
}

func TestReconcile_ResumesFromIntermediatePhase(t *testing.T) {
	// A processor crash can leave an item parked mid-pipeline; the next
	// attempt re-runs the stateless stages and fast-forwards the phase
	// writes it already did.
	mem := store.NewMemoryStore()
	item := pendingItem("sp-1")
	item.Phase = signal.PhaseCategorizing
	mem.Add(item)
	o := newTestOrchestrator(mem, audit.NopEmitter{})
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	require.NoError(t, o.Reconcile(context.Background(), key))

	got, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseComplete, got.Phase)
	require.NotNil(t, got.Result.Classification)
}

func TestReconcile_ReusesExistingCorrelationID(t *testing.T) {
	mem := store.NewMemoryStore()
	item := pendingItem("sp-1")
	item.Phase = signal.PhaseEnriching
	item.Result = &signal.Result{CorrelationID: "corr-existing"}
	mem.Add(item)
	o := newTestOrchestrator(mem, audit.NopEmitter{})
	key := store.Key{Namespace: "kubernaut-system", Name: "sp-1"}

	require.NoError(t, o.Reconcile(context.Background(), key))

	got, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "corr-existing", got.Result.CorrelationID)
}
