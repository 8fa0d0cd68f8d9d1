package signal

// ClassificationSource names the confidence tier that produced a value.
type ClassificationSource string

const (
	// SourceExplicitLabel means a known label carried a valid value.
	SourceExplicitLabel ClassificationSource = "explicit-label"
	// SourcePatternMatch means a structural convention determined the value.
	SourcePatternMatch ClassificationSource = "pattern-match"
	// SourcePolicyInference means customer policy evaluation filled the value.
	SourcePolicyInference ClassificationSource = "policy-inference"
	// SourceDefault means the safe fallback value was assigned.
	SourceDefault ClassificationSource = "default"
)

// Confidence values per tier. The cascade guarantees the first tier able to
// determine a value is the one used, so confidences are strictly ordered.
const (
	ConfidenceExplicitLabel   = 1.0
	ConfidencePatternMatch    = 0.8
	ConfidencePolicyInference = 0.6
	ConfidenceDefault         = 0.4
)

// ConfidenceFor returns the confidence assigned to a tier.
func ConfidenceFor(source ClassificationSource) float64 {
	switch source {
	case SourceExplicitLabel:
		return ConfidenceExplicitLabel
	case SourcePatternMatch:
		return ConfidencePatternMatch
	case SourcePolicyInference:
		return ConfidencePolicyInference
	default:
		return ConfidenceDefault
	}
}

// Priority is the fixed ordinal priority set, P0 highest.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ValidPriority reports whether p is a member of the fixed priority set.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// ClassifiedValue is one classified dimension with its provenance.
type ClassifiedValue struct {
	Value      string               `json:"value"`
	Confidence float64              `json:"confidence"`
	Source     ClassificationSource `json:"source"`
}

// BusinessClassification groups the business-dimension fields. Confidence
// is tracked per field; Confidence holds the weighted mean across fields.
type BusinessClassification struct {
	BusinessUnit ClassifiedValue `json:"businessUnit"`
	Owner        ClassifiedValue `json:"owner"`
	Criticality  ClassifiedValue `json:"criticality"`
	SLATier      ClassifiedValue `json:"slaTier"`

	// Confidence is the weighted mean of the per-field confidences.
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is the complete classification record for one
// WorkItem. Overall is the arithmetic mean of the environment, priority and
// business confidences.
type ClassificationResult struct {
	Environment ClassifiedValue        `json:"environment"`
	Priority    ClassifiedValue        `json:"priority"`
	Business    BusinessClassification `json:"business"`

	// Overall is the arithmetic mean of per-dimension confidences.
	Overall float64 `json:"overall"`
}

// ComputeOverall recomputes the aggregate confidence from the dimension
// confidences currently set on the result.
func (r *ClassificationResult) ComputeOverall() {
	r.Overall = (r.Environment.Confidence + r.Priority.Confidence + r.Business.Confidence) / 3
}
