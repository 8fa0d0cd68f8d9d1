// Package audit emits reconciliation events to a JSONL sink. Emission is
// fire-and-forget: events go through a bounded buffer and a background
// writer, and a full buffer drops the event with a counter bump and a log
// line. Audit failures never block or fail a reconciliation.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/prometheus/client_golang/prometheus"
)

// EventType identifies an audit event.
type EventType string

const (
	// EventTypeEnrichmentCompleted marks completion of topology enrichment.
	EventTypeEnrichmentCompleted EventType = "enrichment_completed"
	// EventTypeClassificationCompleted marks completion of classification.
	EventTypeClassificationCompleted EventType = "classification_completed"
	// EventTypeReconciliationFailed marks a work item reaching Failed.
	EventTypeReconciliationFailed EventType = "reconciliation_failed"
)

// Event is a single audit record.
type Event struct {
	Timestamp     time.Time              `json:"timestamp"`
	Type          EventType              `json:"type"`
	CorrelationID string                 `json:"correlation_id"`
	WorkItem      string                 `json:"work_item"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// Emitter is the audit contract the orchestrator depends on.
type Emitter interface {
	Emit(event Event)
}

// NopEmitter discards all events. Used in tests and when auditing is
// disabled.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}

// Config holds emitter configuration.
type Config struct {
	// Path is the JSONL output file, created or appended to.
	Path string

	// BufferSize bounds the in-flight event queue. Default 256.
	BufferSize int

	// DroppedCounter counts events dropped on a full buffer. May be nil.
	DroppedCounter prometheus.Counter
}

// FileEmitter writes events to a JSONL file from a background goroutine.
type FileEmitter struct {
	file    *os.File
	events  chan Event
	dropped prometheus.Counter
	logger  *logging.Logger

	// mu serializes Emit against Close so no send can race the channel
	// close. Emit takes the read side; Close takes the write side once.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewFileEmitter opens the sink file and starts the writer goroutine.
func NewFileEmitter(cfg Config) (*FileEmitter, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", cfg.Path, err)
	}

	e := &FileEmitter{
		file:    file,
		events:  make(chan Event, cfg.BufferSize),
		dropped: cfg.DroppedCounter,
		logger:  logging.GetLogger("audit.emitter"),
		done:    make(chan struct{}),
	}
	go e.writeLoop()
	return e, nil
}

// Emit queues an event. A full buffer or an already closed emitter drops
// the event: the reconciliation path must never block or panic on the
// audit sink.
func (e *FileEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(event, "emitter closed")
		return
	}

	select {
	case e.events <- event:
	default:
		e.drop(event, "buffer full")
	}
}

func (e *FileEmitter) drop(event Event, cause string) {
	if e.dropped != nil {
		e.dropped.Inc()
	}
	e.logger.Warn("Dropping %s audit event for %s: %s", event.Type, event.WorkItem, cause)
}

// Close drains buffered events and closes the sink.
func (e *FileEmitter) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.events)
		<-e.done
	})
	return e.file.Close()
}

func (e *FileEmitter) writeLoop() {
	defer close(e.done)

	encoder := json.NewEncoder(e.file)
	for event := range e.events {
		if err := encoder.Encode(event); err != nil {
			e.logger.Warn("Failed to write audit event: %v", err)
		}
	}
}

// EnrichmentCompleted builds the enrichment-completed event for an item.
func EnrichmentCompleted(item *signal.WorkItem, result *signal.Result) Event {
	return Event{
		Type:          EventTypeEnrichmentCompleted,
		CorrelationID: result.CorrelationID,
		WorkItem:      item.Namespace + "/" + item.Name,
		Data: map[string]interface{}{
			"degraded":          result.Degraded,
			"owner_chain_depth": len(result.OwnerChain),
		},
	}
}

// ClassificationCompleted builds the classification-completed event.
func ClassificationCompleted(item *signal.WorkItem, result *signal.Result) Event {
	data := map[string]interface{}{}
	if result.Classification != nil {
		data["environment"] = result.Classification.Environment.Value
		data["environment_source"] = string(result.Classification.Environment.Source)
		data["priority"] = result.Classification.Priority.Value
		data["priority_source"] = string(result.Classification.Priority.Source)
		data["overall_confidence"] = result.Classification.Overall
	}
	return Event{
		Type:          EventTypeClassificationCompleted,
		CorrelationID: result.CorrelationID,
		WorkItem:      item.Namespace + "/" + item.Name,
		Data:          data,
	}
}

// ReconciliationFailed builds the terminal-failure event.
func ReconciliationFailed(item *signal.WorkItem, correlationID string) Event {
	return Event{
		Type:          EventTypeReconciliationFailed,
		CorrelationID: correlationID,
		WorkItem:      item.Namespace + "/" + item.Name,
		Data: map[string]interface{}{
			"reason":   item.FailureReason,
			"category": string(item.FailureCategory),
		},
	}
}

var _ Emitter = (*FileEmitter)(nil)
var _ Emitter = NopEmitter{}
