// Package classify assigns environment, priority and business
// classification to an enriched signal through a four-tier confidence
// cascade: explicit label (1.0), naming pattern (0.8), policy inference
// (0.6), safe default (0.4). Each dimension independently stops at the
// first tier that can determine its value, so the recorded confidence is
// always the tier that actually produced the value.
package classify

import (
	"context"
	"strings"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/metrics"
	"github.com/jordigilh/kubernaut-sub006/internal/policy"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
)

// Label keys consulted by the explicit-label tier, most specific first.
const (
	environmentLabel      = "environment"
	environmentShortLabel = "env"
	priorityLabel         = "priority"
	businessUnitLabel     = "business-unit"
	ownerLabel            = "owner"
	teamLabel             = "team"
	criticalityLabel      = "criticality"
	slaTierLabel          = "sla-tier"
)

// knownEnvironments is the valid value set for the explicit-label tier.
// Values outside it fall through to the next tier rather than being
// trusted at confidence 1.0.
var knownEnvironments = map[string]bool{
	"production":  true,
	"staging":     true,
	"development": true,
	"testing":     true,
}

// Safe defaults for the final tier.
const (
	defaultEnvironment  = "unknown"
	defaultBusinessUnit = "unknown"
	defaultOwner        = "unknown"
	defaultCriticality  = "medium"
	defaultSLATier      = "standard"
)

// Business-field weights for the aggregate confidence. Unit and
// criticality drive remediation decisions, so they weigh more.
const (
	weightBusinessUnit = 0.3
	weightOwner        = 0.2
	weightCriticality  = 0.3
	weightSLATier      = 0.2
)

// Evaluator is the policy engine contract the classifier depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (map[string][]string, error)
	Classify(ctx context.Context, input policy.Input) (*policy.Inference, error)
}

// Classifier runs the confidence cascade.
type Classifier struct {
	engine  Evaluator
	matrix  FallbackMatrix
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// New creates a classifier. A nil matrix selects the built-in severity
// fallback matrix; metrics may be nil.
func New(engine Evaluator, matrix FallbackMatrix, m *metrics.Metrics) *Classifier {
	if matrix == nil {
		matrix = DefaultFallbackMatrix()
	}
	return &Classifier{
		engine:  engine,
		matrix:  matrix,
		metrics: m,
		logger:  logging.GetLogger("classify.classifier"),
	}
}

// Classify produces the full classification record. It never returns an
// error: policy failures degrade individual dimensions to lower tiers, and
// the priority fallback matrix guarantees a priority value for any input.
func (c *Classifier) Classify(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics) *signal.ClassificationResult {
	result := &signal.ClassificationResult{}

	baseInput := policy.Input{
		Signal:          sig,
		Topology:        tc,
		OwnerChain:      chain,
		Characteristics: chars,
	}

	result.Environment = c.classifyEnvironment(ctx, sig, tc, baseInput)

	// Priority and business inference see the classified environment.
	envInput := baseInput
	envInput.Environment = result.Environment.Value
	inference := c.infer(ctx, envInput)

	result.Priority = c.classifyPriority(sig, inference)
	result.Business = c.classifyBusiness(sig, tc, inference)
	result.ComputeOverall()

	c.observe("environment", result.Environment)
	c.observe("priority", result.Priority)
	c.observe("businessUnit", result.Business.BusinessUnit)
	c.observe("owner", result.Business.Owner)
	c.observe("criticality", result.Business.Criticality)
	c.observe("slaTier", result.Business.SLATier)

	return result
}

// CustomLabels evaluates the extensible-label policy. Evaluation failures
// degrade to an empty mapping; the reconciliation never fails on them.
func (c *Classifier) CustomLabels(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics, environment string) map[string][]string {
	labels, err := c.engine.Evaluate(ctx, policy.Input{
		Signal:          sig,
		Topology:        tc,
		OwnerChain:      chain,
		Characteristics: chars,
		Environment:     environment,
	})
	if err != nil {
		c.logger.Warn("Custom label evaluation failed, continuing without custom labels: %v", err)
		return map[string][]string{}
	}
	return labels
}

// infer runs the policy classification query once and shares the result
// across dimensions. A nil return means the policy tier is unavailable.
func (c *Classifier) infer(ctx context.Context, input policy.Input) *policy.Inference {
	inference, err := c.engine.Classify(ctx, input)
	if err != nil {
		c.logger.Warn("Policy classification failed, affected dimensions fall back: %v", err)
		return nil
	}
	return inference
}

// classifyEnvironment applies the cascade to the environment dimension.
func (c *Classifier) classifyEnvironment(ctx context.Context, sig *signal.Signal, tc *signal.TopologyContext, input policy.Input) signal.ClassifiedValue {
	// Tier 1: explicit label on the signal or the namespace.
	if env, ok := explicitEnvironment(sig.Labels); ok {
		return classified(env, signal.SourceExplicitLabel)
	}
	if env, ok := explicitEnvironment(tc.NamespaceLabels()); ok {
		return classified(env, signal.SourceExplicitLabel)
	}

	// Tier 2: namespace naming convention.
	if env, ok := environmentFromPattern(tc.NamespaceName()); ok {
		return classified(env, signal.SourcePatternMatch)
	}

	// Tier 3: policy inference. Environment runs its own inference pass
	// because later dimensions want the classified environment as input.
	if inference := c.infer(ctx, input); inference != nil && inference.Environment != "" {
		return classified(inference.Environment, signal.SourcePolicyInference)
	}

	// Tier 4: safe default.
	return classified(defaultEnvironment, signal.SourceDefault)
}

// classifyPriority applies the priority cascade. The default tier is the
// severity-only fallback matrix, which cannot fail, so the orchestrator
// always receives a concrete priority.
func (c *Classifier) classifyPriority(sig *signal.Signal, inference *policy.Inference) signal.ClassifiedValue {
	// Tier 1: explicit label. No naming pattern encodes priority, so the
	// pattern tier is skipped for this dimension.
	if raw, ok := sig.Labels[priorityLabel]; ok {
		if p := signal.Priority(strings.ToUpper(raw)); signal.ValidPriority(p) {
			return classified(string(p), signal.SourceExplicitLabel)
		}
	}

	// Tier 3: policy inference over environment plus topology labels.
	if inference != nil && inference.Priority != "" {
		if p := signal.Priority(strings.ToUpper(inference.Priority)); signal.ValidPriority(p) {
			return classified(string(p), signal.SourcePolicyInference)
		}
		c.logger.Warn("Policy produced invalid priority %q, using severity fallback", inference.Priority)
	}

	// Tier 4: severity-only fallback matrix.
	return classified(string(c.matrix.Lookup(sig.Severity)), signal.SourceDefault)
}

// classifyBusiness applies the cascade per business field and computes the
// weighted aggregate confidence.
func (c *Classifier) classifyBusiness(sig *signal.Signal, tc *signal.TopologyContext, inference *policy.Inference) signal.BusinessClassification {
	labelSets := businessLabelSets(sig, tc)

	infer := func(pick func(*policy.Inference) string) string {
		if inference == nil {
			return ""
		}
		return pick(inference)
	}

	b := signal.BusinessClassification{
		BusinessUnit: c.classifyBusinessField(labelSets, []string{businessUnitLabel},
			businessUnitFromPattern(tc.NamespaceName()),
			infer(func(i *policy.Inference) string { return i.BusinessUnit }),
			defaultBusinessUnit),
		Owner: c.classifyBusinessField(labelSets, []string{ownerLabel, teamLabel},
			"",
			infer(func(i *policy.Inference) string { return i.Owner }),
			defaultOwner),
		Criticality: c.classifyBusinessField(labelSets, []string{criticalityLabel},
			"",
			infer(func(i *policy.Inference) string { return i.Criticality }),
			defaultCriticality),
		SLATier: c.classifyBusinessField(labelSets, []string{slaTierLabel},
			"",
			infer(func(i *policy.Inference) string { return i.SLATier }),
			defaultSLATier),
	}

	b.Confidence = weightBusinessUnit*b.BusinessUnit.Confidence +
		weightOwner*b.Owner.Confidence +
		weightCriticality*b.Criticality.Confidence +
		weightSLATier*b.SLATier.Confidence

	return b
}

// classifyBusinessField walks one field through the four tiers.
func (c *Classifier) classifyBusinessField(labelSets []map[string]string, labelKeys []string, patternValue, inferredValue, defaultValue string) signal.ClassifiedValue {
	for _, labels := range labelSets {
		for _, key := range labelKeys {
			if v, ok := labels[key]; ok && v != "" {
				return classified(v, signal.SourceExplicitLabel)
			}
		}
	}
	if patternValue != "" {
		return classified(patternValue, signal.SourcePatternMatch)
	}
	if inferredValue != "" {
		return classified(inferredValue, signal.SourcePolicyInference)
	}
	return classified(defaultValue, signal.SourceDefault)
}

func (c *Classifier) observe(dimension string, v signal.ClassifiedValue) {
	if c.metrics == nil {
		return
	}
	c.metrics.ClassificationConfidence.WithLabelValues(dimension).Observe(v.Confidence)
	c.metrics.ClassificationSource.WithLabelValues(dimension, string(v.Source)).Inc()
}

func classified(value string, source signal.ClassificationSource) signal.ClassifiedValue {
	return signal.ClassifiedValue{
		Value:      value,
		Confidence: signal.ConfidenceFor(source),
		Source:     source,
	}
}

// explicitEnvironment checks a label set for a valid environment value.
func explicitEnvironment(labels map[string]string) (string, bool) {
	for _, key := range []string{environmentLabel, environmentShortLabel} {
		if v, ok := labels[key]; ok {
			v = strings.ToLower(v)
			if knownEnvironments[v] {
				return v, true
			}
		}
	}
	return "", false
}

// environmentFromPattern derives the environment from namespace naming
// conventions like "payments-prod" or "dev-tooling".
func environmentFromPattern(namespace string) (string, bool) {
	if namespace == "" {
		return "", false
	}
	patterns := []struct {
		affix string
		env   string
	}{
		{"prod", "production"},
		{"staging", "staging"},
		{"stage", "staging"},
		{"stg", "staging"},
		{"dev", "development"},
		{"test", "testing"},
		{"qa", "testing"},
	}
	for _, p := range patterns {
		if strings.HasPrefix(namespace, p.affix+"-") || strings.HasSuffix(namespace, "-"+p.affix) {
			return p.env, true
		}
	}
	return "", false
}

// environmentAffixes are the trailing segments recognized by the
// "<unit>-<environment>" namespace convention.
var environmentAffixes = map[string]bool{
	"prod": true, "staging": true, "stage": true, "stg": true,
	"dev": true, "test": true, "qa": true,
}

// businessUnitFromPattern takes the leading namespace segment as the unit
// when the namespace follows the "<unit>-<environment>" convention:
// "payments-prod" yields "payments", "foo-bar" yields nothing.
func businessUnitFromPattern(namespace string) string {
	idx := strings.LastIndexByte(namespace, '-')
	if idx <= 0 {
		return ""
	}
	if !environmentAffixes[namespace[idx+1:]] {
		return ""
	}
	return namespace[:idx]
}

// businessLabelSets yields the label sets the explicit tier consults, most
// specific first.
func businessLabelSets(sig *signal.Signal, tc *signal.TopologyContext) []map[string]string {
	sets := []map[string]string{}
	if len(sig.Labels) > 0 {
		sets = append(sets, sig.Labels)
	}
	if tc.Workload != nil && len(tc.Workload.Labels) > 0 {
		sets = append(sets, tc.Workload.Labels)
	}
	if labels := tc.NamespaceLabels(); len(labels) > 0 {
		sets = append(sets, labels)
	}
	return sets
}
