// Package policy evaluates customer-authored Rego policy against the
// enriched signal context. The customer module is compiled together with a
// fixed security module the customer cannot override; all output is read
// through the security module, which strips keys under reserved prefixes.
//
// The compiled policy is the only mutable shared state in the pipeline. It
// is swapped atomically under a read/write lock: evaluations hold the read
// lock, hot reload holds the write lock only for the pointer swap, never
// for compilation. A failed recompile keeps the previous working policy.
package policy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/metrics"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

// customPackagePath is the package every customer policy module must
// declare. The security module reads customer output from this path.
const customPackagePath = "data.signals.custom"

// securityModuleSource is the fixed wrapper module. Customers never see or
// override it. It intersects customer label output with the allowed key
// space: any key under a reserved prefix is dropped before the result
// leaves the evaluator. The prefixes must stay in sync with
// reservedPrefixes in sanitize.go.
const securityModuleSource = `package signals.security

labels[key] = values {
	values := data.signals.custom.labels[key]
	not reserved(key)
}

reserved(key) {
	startswith(key, "kubernaut.io/")
}

reserved(key) {
	startswith(key, "signals.kubernaut.io/")
}

classify[field] = value {
	value := data.signals.custom.classify[field]
}
`

// defaultCustomSource is used when no policy file is configured. It yields
// empty output, so every classification dimension falls through to the
// default tier.
const defaultCustomSource = `package signals.custom

labels := {}

classify := {}
`

const (
	labelsQuery   = "data.signals.security.labels"
	classifyQuery = "data.signals.security.classify"
)

// unsafeBuiltins are disabled during compilation. Policy evaluation must
// not reach the network or inspect the runtime.
var unsafeBuiltins = map[string]struct{}{
	"http.send":   {},
	"opa.runtime": {},
}

// Config holds policy engine configuration.
type Config struct {
	// Path is the customer policy file. Empty selects the built-in
	// empty-output default module.
	Path string

	// EvaluationTimeout is the hard per-evaluation deadline.
	EvaluationTimeout time.Duration

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{EvaluationTimeout: 3 * time.Second}
}

// preparedPolicy is the immutable compiled-evaluation form. Swapped as a
// unit so in-flight evaluations against the old policy finish unaffected.
type preparedPolicy struct {
	labels   rego.PreparedEvalQuery
	classify rego.PreparedEvalQuery
}

// Inference is the classification output of one policy evaluation. Empty
// fields mean the policy declined to fill the dimension.
type Inference struct {
	Environment  string
	Priority     string
	BusinessUnit string
	Owner        string
	Criticality  string
	SLATier      string
}

// Engine compiles and evaluates the customer policy.
type Engine struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.RWMutex
	current *preparedPolicy
}

// New creates an engine and loads the initial policy. A malformed policy at
// startup is a construction failure; there is no previous working policy to
// fall back to yet.
func New(cfg Config) (*Engine, error) {
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = DefaultConfig().EvaluationTimeout
	}

	e := &Engine{
		cfg:    cfg,
		logger: logging.GetLogger("policy.engine"),
	}

	if cfg.Path == "" {
		if err := e.Load(defaultCustomSource); err != nil {
			return nil, fmt.Errorf("failed to compile built-in default policy: %w", err)
		}
		e.logger.Info("No policy file configured, using built-in default (all dimensions fall back)")
		return e, nil
	}

	if err := e.LoadFile(); err != nil {
		return nil, err
	}
	return e, nil
}

// Load compiles the given customer policy source together with the
// security module and atomically swaps it in. Compilation happens off-lock;
// the write lock is held only for the pointer swap.
func (e *Engine) Load(source string) error {
	module, err := ast.ParseModule("custom.rego", source)
	if err != nil {
		return signal.NewCategoryError(signal.CategoryPolicy, err, "policy source does not parse")
	}
	if got := module.Package.Path.String(); got != customPackagePath {
		return signal.NewCategoryError(signal.CategoryPolicy, nil,
			"policy package must be %s, got %s", customPackagePath, got)
	}

	prepared, err := e.prepare(source)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.current = prepared
	e.mu.Unlock()

	e.logger.Info("Policy compiled and activated")
	return nil
}

// LoadFile reads the configured policy file and loads it.
func (e *Engine) LoadFile() error {
	data, err := os.ReadFile(e.cfg.Path)
	if err != nil {
		return signal.NewCategoryError(signal.CategoryPolicy, err, "failed to read policy file %s", e.cfg.Path)
	}
	if err := e.Load(string(data)); err != nil {
		return err
	}
	e.logger.Info("Policy loaded from %s", e.cfg.Path)
	return nil
}

// prepare compiles both prepared queries from the module pair.
func (e *Engine) prepare(customSource string) (*preparedPolicy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prepared := &preparedPolicy{}
	for _, q := range []struct {
		query string
		dst   *rego.PreparedEvalQuery
	}{
		{labelsQuery, &prepared.labels},
		{classifyQuery, &prepared.classify},
	} {
		r := rego.New(
			rego.Query(q.query),
			rego.Module("custom.rego", customSource),
			rego.Module("security.rego", securityModuleSource),
			rego.UnsafeBuiltins(unsafeBuiltins),
			rego.StrictBuiltinErrors(true),
		)
		pq, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, signal.NewCategoryError(signal.CategoryPolicy, err, "policy compilation failed for %s", q.query)
		}
		*q.dst = pq
	}
	return prepared, nil
}

// Evaluate runs the extensible-label query under the evaluation timeout and
// returns the sanitized category-to-values mapping. Evaluation errors and
// timeouts surface to the caller, which falls back to default-tier
// classification; they never abort the reconciliation.
func (e *Engine) Evaluate(ctx context.Context, input Input) (map[string][]string, error) {
	value, err := e.evalWithInput(ctx, "labels", input, func(p *preparedPolicy) rego.PreparedEvalQuery { return p.labels })
	if err != nil {
		return nil, err
	}
	if value == nil {
		return map[string][]string{}, nil
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, signal.NewCategoryError(signal.CategoryPolicy, nil,
			"policy labels output must be an object, got %T", value)
	}

	raw := make(map[string][]string, len(obj))
	for key, v := range obj {
		items, ok := v.([]interface{})
		if !ok {
			return nil, signal.NewCategoryError(signal.CategoryPolicy, nil,
				"policy label %q must map to an array of strings, got %T", key, v)
		}
		values := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, signal.NewCategoryError(signal.CategoryPolicy, nil,
					"policy label %q contains a non-string value of type %T", key, item)
			}
			values = append(values, s)
		}
		raw[key] = values
	}

	return e.sanitize(raw), nil
}

// Classify runs the classification query and returns the dimensions the
// policy chose to fill. Unknown fields are ignored; non-string values are a
// policy configuration error.
func (e *Engine) Classify(ctx context.Context, input Input) (*Inference, error) {
	value, err := e.evalWithInput(ctx, "classify", input, func(p *preparedPolicy) rego.PreparedEvalQuery { return p.classify })
	if err != nil {
		return nil, err
	}
	inf := &Inference{}
	if value == nil {
		return inf, nil
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, signal.NewCategoryError(signal.CategoryPolicy, nil,
			"policy classify output must be an object, got %T", value)
	}

	for field, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, signal.NewCategoryError(signal.CategoryPolicy, nil,
				"policy classify field %q must be a string, got %T", field, v)
		}
		switch field {
		case "environment":
			inf.Environment = s
		case "priority":
			inf.Priority = s
		case "businessUnit":
			inf.BusinessUnit = s
		case "owner":
			inf.Owner = s
		case "criticality":
			inf.Criticality = s
		case "slaTier":
			inf.SLATier = s
		default:
			e.logger.Debug("Ignoring unknown classify field %q", field)
		}
	}
	return inf, nil
}

// evalWithInput runs one prepared query under the read lock and the
// evaluation timeout.
func (e *Engine) evalWithInput(ctx context.Context, name string, input Input, pick func(*preparedPolicy) rego.PreparedEvalQuery) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil, signal.NewCategoryError(signal.CategoryPolicy, nil, "no policy loaded")
	}
	pq := pick(e.current)

	rs, err := pq.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		e.observeEvaluation(name, "error")
		if ctx.Err() != nil {
			return nil, signal.NewCategoryError(signal.CategoryTransient, err, "policy evaluation timed out")
		}
		return nil, signal.NewCategoryError(signal.CategoryPolicy, err, "policy evaluation failed")
	}

	e.observeEvaluation(name, "success")
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	return rs[0].Expressions[0].Value, nil
}

func (e *Engine) observeEvaluation(query, outcome string) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.PolicyEvaluations.WithLabelValues(query, outcome).Inc()
	}
}
