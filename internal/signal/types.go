// Package signal defines the data model for the signal enrichment and
// categorization pipeline: the WorkItem tracked through the phase state
// machine, the topology snapshot fetched for it, and the classification
// record produced from it.
package signal

import (
	"time"
)

// Signal is the immutable raw payload attached to a WorkItem by the
// upstream gateway. It is never mutated by this controller.
type Signal struct {
	// Type identifies the originating signal source, e.g. "prometheus-alert".
	Type string `json:"type"`

	// Severity is the severity string carried by the signal, e.g. "critical".
	Severity string `json:"severity"`

	// Target identifies the cluster resource the signal fired for.
	Target TargetRef `json:"target"`

	// Labels are signal-level key/value labels.
	Labels map[string]string `json:"labels,omitempty"`

	// Annotations are signal-level key/value annotations.
	Annotations map[string]string `json:"annotations,omitempty"`
}

// TargetRef identifies the resource a signal fired for.
// Namespace is empty for cluster-scoped kinds.
type TargetRef struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// WorkItem is the unit of work. It is created once by the upstream gateway
// and mutated only by the orchestrator. Once the phase is terminal the item
// is never mutated again.
type WorkItem struct {
	// ID is the unique identifier of the work item.
	ID string `json:"id"`

	// Namespace and Name locate the backing status object.
	Namespace string `json:"namespace"`
	Name      string `json:"name"`

	// ResourceVersion is the optimistic-concurrency token of the backing
	// object. Status writes carry it and fail on conflict.
	ResourceVersion string `json:"resourceVersion,omitempty"`

	// Signal is the immutable raw payload.
	Signal Signal `json:"signal"`

	// Phase is the current state-machine phase.
	Phase Phase `json:"phase"`

	// Attempts counts completed reconciliation attempts that ended in a
	// retryable error. Used to bound the retry budget.
	Attempts int `json:"attempts,omitempty"`

	// Result holds the enrichment output. Nil until enrichment has run.
	Result *Result `json:"result,omitempty"`

	// FailureReason is a human-readable reason, set when Phase is Failed.
	FailureReason string `json:"failureReason,omitempty"`

	// FailureCategory is the machine-checkable error category, set when
	// Phase is Failed.
	FailureCategory ErrorCategory `json:"failureCategory,omitempty"`
}

// Result is the enrichment and classification record attached to a
// WorkItem. It becomes immutable once the item reaches a terminal phase.
type Result struct {
	// CorrelationID ties audit events for one reconciliation together.
	CorrelationID string `json:"correlationId,omitempty"`

	Topology        *TopologyContext         `json:"topology,omitempty"`
	OwnerChain      OwnerChain               `json:"ownerChain,omitempty"`
	Characteristics *DetectedCharacteristics `json:"characteristics,omitempty"`
	Classification  *ClassificationResult    `json:"classification,omitempty"`

	// CustomLabels is the sanitized extensible-label output of customer
	// policy evaluation: category key to a small ordered list of values.
	CustomLabels map[string][]string `json:"customLabels,omitempty"`

	// Degraded indicates that one or more non-critical sub-fetches failed
	// and the record is partial.
	Degraded bool `json:"degraded,omitempty"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ObjectMeta is the subset of Kubernetes object metadata carried in the
// topology snapshot. Only the fields the detectors and classifiers read.
type ObjectMeta struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// PodSnapshot is the pod view captured during enrichment.
type PodSnapshot struct {
	ObjectMeta `json:",inline"`
	NodeName   string `json:"nodeName,omitempty"`
	Phase      string `json:"phase,omitempty"`
}

// WorkloadSnapshot is the owning-workload view captured during enrichment.
type WorkloadSnapshot struct {
	ObjectMeta `json:",inline"`
	Kind       string `json:"kind"`
	Replicas   int64  `json:"replicas,omitempty"`
}

// NodeSnapshot is the node view captured during enrichment.
type NodeSnapshot struct {
	ObjectMeta `json:",inline"`
	Ready      bool `json:"ready"`
}

// TopologyContext is the cluster snapshot fetched once per WorkItem.
// Optional fields are nil when the corresponding fetch failed or was not
// applicable for the signal's target kind; Degraded is set when a fetch
// that was attempted failed.
type TopologyContext struct {
	Namespace *ObjectMeta       `json:"namespace,omitempty"`
	Pod       *PodSnapshot      `json:"pod,omitempty"`
	Workload  *WorkloadSnapshot `json:"workload,omitempty"`
	Node      *NodeSnapshot     `json:"node,omitempty"`

	// Degraded is set when at least one attempted sub-fetch failed.
	Degraded bool `json:"degraded,omitempty"`

	// MissingFields names the sub-fetches that failed, for diagnostics.
	MissingFields []string `json:"missingFields,omitempty"`
}

// NamespaceLabels returns the namespace labels, or nil when the namespace
// snapshot is missing. Convenience for classifiers.
func (tc *TopologyContext) NamespaceLabels() map[string]string {
	if tc == nil || tc.Namespace == nil {
		return nil
	}
	return tc.Namespace.Labels
}

// NamespaceName returns the namespace name, or "" when missing.
func (tc *TopologyContext) NamespaceName() string {
	if tc == nil || tc.Namespace == nil {
		return ""
	}
	return tc.Namespace.Name
}

// MaxOwnerChainDepth bounds owner-chain traversal. Chains longer than this
// are truncated; real ownership graphs are rarely deeper than two.
const MaxOwnerChainDepth = 5

// OwnerChainEntry identifies one ancestor in the ownership graph.
// Namespace is empty for cluster-scoped owners.
type OwnerChainEntry struct {
	Namespace string `json:"namespace,omitempty"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
}

// OwnerChain is the ordered ancestor list of a resource, nearest owner
// first. It never contains the source resource itself and its length is
// bounded by MaxOwnerChainDepth.
type OwnerChain []OwnerChainEntry

// ContainsKind reports whether any ancestor in the chain has the given kind.
func (c OwnerChain) ContainsKind(kind string) bool {
	for _, e := range c {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Characteristic names used in DetectedCharacteristics.FailedDetections.
const (
	CharacteristicGitOpsManaged     = "gitopsManaged"
	CharacteristicHelmManaged       = "helmManaged"
	CharacteristicMeshInjected      = "meshInjected"
	CharacteristicStateful          = "stateful"
	CharacteristicPDBProtected      = "pdbProtected"
	CharacteristicAutoscalerEnabled = "autoscalerEnabled"
	CharacteristicNetworkIsolated   = "networkIsolated"
)

// DetectedCharacteristics is the set of deterministic facts computed about
// the target's cluster environment. A false value means "checked, not
// present"; a name in FailedDetections means "could not check". A
// characteristic is never both false-by-check and listed as failed: a
// failed query forces the false default and records the failure marker
// instead.
type DetectedCharacteristics struct {
	GitOpsManaged bool   `json:"gitopsManaged"`
	GitOpsTool    string `json:"gitopsTool,omitempty"`

	HelmManaged bool `json:"helmManaged"`

	MeshInjected bool   `json:"meshInjected"`
	MeshName     string `json:"meshName,omitempty"`

	Stateful bool `json:"stateful"`

	PDBProtected      bool `json:"pdbProtected"`
	AutoscalerEnabled bool `json:"autoscalerEnabled"`
	NetworkIsolated   bool `json:"networkIsolated"`

	// FailedDetections names characteristics whose backing query failed.
	// Their value fields hold the false/unset default.
	FailedDetections []string `json:"failedDetections,omitempty"`
}

// Failed reports whether the named characteristic could not be determined.
func (d *DetectedCharacteristics) Failed(name string) bool {
	for _, f := range d.FailedDetections {
		if f == name {
			return true
		}
	}
	return false
}
