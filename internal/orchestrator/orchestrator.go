// Package orchestrator drives the reconciliation state machine for one
// work item: Pending -> Enriching -> Classifying -> Categorizing ->
// Complete, with Failed reachable from any non-terminal phase. Terminal
// phases are absorbing; reconciling a terminal item is a no-op.
//
// One attempt runs synchronously end to end under a deadline-bound
// context. Attempts for different items run concurrently; attempts for the
// same item never race on the persisted status because every write is an
// optimistic-concurrency update with bounded conflict retries.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jordigilh/kubernaut-sub006/internal/audit"
	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/metrics"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/jordigilh/kubernaut-sub006/internal/store"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/retry"
)

// Config holds orchestrator configuration.
type Config struct {
	// AttemptTimeout bounds one whole reconciliation attempt.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{AttemptTimeout: 30 * time.Second}
}

// errSupersededByTerminal aborts an attempt that lost a write race against
// a writer that drove the item terminal. Not an error for the caller.
var errSupersededByTerminal = errors.New("work item reached a terminal phase concurrently")

// ChainBuilder is the owner-chain contract the orchestrator depends on.
type ChainBuilder interface {
	Build(ctx context.Context, namespace, kind, name string) signal.OwnerChain
}

// Enricher is the topology-enrichment contract.
type Enricher interface {
	Enrich(ctx context.Context, item *signal.WorkItem) *signal.TopologyContext
}

// Detector is the characteristic-detection contract.
type Detector interface {
	Detect(ctx context.Context, tc *signal.TopologyContext, chain signal.OwnerChain) *signal.DetectedCharacteristics
}

// Classifier is the classification contract.
type Classifier interface {
	Classify(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics) *signal.ClassificationResult
	CustomLabels(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics, environment string) map[string][]string
}

// Orchestrator sequences enrichment, detection and classification and
// persists the result.
type Orchestrator struct {
	store      store.Interface
	enricher   Enricher
	chains     ChainBuilder
	detector   Detector
	classifier Classifier
	audit      audit.Emitter
	metrics    *metrics.Metrics
	cfg        Config
	logger     *logging.Logger
}

// New creates an orchestrator.
func New(st store.Interface, enricher Enricher, chains ChainBuilder, detector Detector, classifier Classifier, auditEmitter audit.Emitter, m *metrics.Metrics, cfg Config) *Orchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if auditEmitter == nil {
		auditEmitter = audit.NopEmitter{}
	}
	return &Orchestrator{
		store:      st,
		enricher:   enricher,
		chains:     chains,
		detector:   detector,
		classifier: classifier,
		audit:      auditEmitter,
		metrics:    m,
		cfg:        cfg,
		logger:     logging.GetLogger("orchestrator"),
	}
}

// Reconcile runs one attempt for the given work item. A returned error is
// retryable at the caller's discretion (workqueue backoff); nil means the
// item needs no further work right now.
func (o *Orchestrator) Reconcile(ctx context.Context, key store.Key) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	item, err := o.store.Get(ctx, key)
	if err != nil {
		if apierrors.IsNotFound(err) {
			// The item vanished; nothing to reconcile.
			o.logger.Debug("Work item %s/%s not found, skipping", key.Namespace, key.Name)
			return nil
		}
		return o.categorize(err, "failed to fetch work item")
	}

	if item.Phase.Terminal() {
		o.logger.Debug("Work item %s/%s already %s, no-op", key.Namespace, key.Name, item.Phase)
		return nil
	}

	logger := o.logger.WithFields(
		logging.Field("work_item", key.Namespace+"/"+key.Name),
		logging.Field("signal_type", item.Signal.Type),
		logging.Field("severity", item.Signal.Severity),
	)

	if item.Result == nil {
		item.Result = &signal.Result{CorrelationID: uuid.NewString()}
	}
	result := item.Result

	err = o.runPipeline(ctx, item, result, logger)
	if errors.Is(err, errSupersededByTerminal) {
		return nil
	}
	return err
}

// runPipeline executes the phase sequence. Each stage's output feeds the
// next; phase transitions are persisted as they happen so observers see
// progress and a crashed attempt resumes from a consistent phase.
func (o *Orchestrator) runPipeline(ctx context.Context, item *signal.WorkItem, result *signal.Result, logger *logging.Logger) error {
	// Enriching: topology snapshot plus owner chain.
	if err := o.transition(ctx, item, signal.PhaseEnriching); err != nil {
		return err
	}

	started := time.Now()
	tc := o.enricher.Enrich(ctx, item)
	target := item.Signal.Target
	var chain signal.OwnerChain
	if target.Namespace != "" {
		chain = o.chains.Build(ctx, target.Namespace, target.Kind, target.Name)
	}
	result.Topology = tc
	result.OwnerChain = chain
	result.Degraded = tc.Degraded
	o.observePhase(signal.PhaseEnriching, started, tc.Degraded)

	if err := o.transition(ctx, item, signal.PhaseClassifying); err != nil {
		return err
	}
	o.audit.Emit(audit.EnrichmentCompleted(item, result))
	logger.Info("Enrichment complete: degraded=%v, owner_chain=%d", tc.Degraded, len(chain))

	// Classifying: deterministic characteristic detection.
	started = time.Now()
	chars := o.detector.Detect(ctx, tc, chain)
	result.Characteristics = chars
	o.observePhase(signal.PhaseClassifying, started, len(chars.FailedDetections) > 0)

	if err := o.transition(ctx, item, signal.PhaseCategorizing); err != nil {
		return err
	}

	// Categorizing: the confidence cascade plus custom label evaluation.
	started = time.Now()
	classification := o.classifier.Classify(ctx, &item.Signal, tc, chain, chars)
	result.Classification = classification
	result.CustomLabels = o.classifier.CustomLabels(ctx, &item.Signal, tc, chain, chars, classification.Environment.Value)
	now := time.Now().UTC()
	result.CompletedAt = &now
	o.observePhase(signal.PhaseCategorizing, started, false)

	if err := o.transition(ctx, item, signal.PhaseComplete); err != nil {
		return err
	}
	o.audit.Emit(audit.ClassificationCompleted(item, result))
	logger.Info("Classification complete: environment=%s (%s), priority=%s (%s), confidence=%.2f",
		classification.Environment.Value, classification.Environment.Source,
		classification.Priority.Value, classification.Priority.Source,
		classification.Overall)

	return nil
}

// MarkFailed drives an item to the terminal Failed phase after the retry
// budget is exhausted or an unrecoverable error occurred.
func (o *Orchestrator) MarkFailed(ctx context.Context, key store.Key, attempts int, cause error) error {
	item, err := o.store.Get(ctx, key)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return o.categorize(err, "failed to fetch work item for failure marking")
	}
	if item.Phase.Terminal() {
		return nil
	}

	item.Attempts = attempts
	item.FailureReason = cause.Error()
	item.FailureCategory = signal.CategoryOf(cause)

	if err := o.transition(ctx, item, signal.PhaseFailed); err != nil {
		if errors.Is(err, errSupersededByTerminal) {
			return nil
		}
		return err
	}

	correlationID := ""
	if item.Result != nil {
		correlationID = item.Result.CorrelationID
	}
	o.audit.Emit(audit.ReconciliationFailed(item, correlationID))
	o.logger.WarnWithFields("work item failed terminally",
		logging.Field("work_item", key.Namespace+"/"+key.Name),
		logging.Field("attempts", attempts),
		logging.Field("category", string(item.FailureCategory)),
		logging.Field("reason", item.FailureReason),
	)
	return nil
}

// transition validates, applies and persists a phase change. An item
// resuming after a crash may already sit at or past the requested phase;
// those calls are skipped so the stateless stages can simply re-run. On a
// write conflict the item is re-read and the write retried with the fresh
// resource version, a small bounded number of times; if a concurrent
// writer drove the item terminal, the attempt is abandoned.
func (o *Orchestrator) transition(ctx context.Context, item *signal.WorkItem, next signal.Phase) error {
	if next != signal.PhaseFailed {
		if item.Phase == next || next.Before(item.Phase) {
			return nil
		}
	}
	if !item.Phase.CanTransition(next) {
		return signal.NewCategoryError(signal.CategoryInternal, nil,
			"illegal phase transition %s -> %s", item.Phase, next)
	}
	item.Phase = next

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		err := o.store.UpdateStatus(ctx, item)
		if apierrors.IsConflict(err) {
			if o.metrics != nil {
				o.metrics.StatusConflicts.Inc()
			}
			fresh, getErr := o.store.Get(ctx, store.Key{Namespace: item.Namespace, Name: item.Name})
			if getErr != nil {
				return getErr
			}
			if fresh.Phase.Terminal() {
				return errSupersededByTerminal
			}
			// Keep our computed status, take the fresh concurrency token.
			item.ResourceVersion = fresh.ResourceVersion
		}
		return err
	})
	if err == nil || errors.Is(err, errSupersededByTerminal) {
		return err
	}
	if apierrors.IsConflict(err) {
		return signal.NewCategoryError(signal.CategoryConflict, err,
			"status write for phase %s kept conflicting", next)
	}
	return o.categorize(err, "status write for phase "+string(next)+" failed")
}

// categorize maps a Kubernetes API error onto the failure taxonomy.
func (o *Orchestrator) categorize(err error, reason string) error {
	category := signal.CategoryInternal
	switch {
	case apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err) ||
		errors.Is(err, context.DeadlineExceeded):
		category = signal.CategoryTransient
	case apierrors.IsConflict(err):
		category = signal.CategoryConflict
	}
	return signal.NewCategoryError(category, err, "%s", reason)
}

func (o *Orchestrator) observePhase(phase signal.Phase, started time.Time, degraded bool) {
	if o.metrics == nil {
		return
	}
	outcome := "success"
	if degraded {
		outcome = "degraded"
	}
	o.metrics.PhaseOutcomes.WithLabelValues(string(phase), outcome).Inc()
	o.metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(started).Seconds())
}
