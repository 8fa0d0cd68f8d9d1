package classify

import (
	"fmt"
	"os"
	"strings"

	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"gopkg.in/yaml.v3"
)

// FallbackMatrix maps a severity string to a priority without consulting
// environment or policy. It is the guaranteed-to-succeed final path of
// priority assignment: any severity, including unknown ones, resolves to a
// concrete priority.
type FallbackMatrix map[string]signal.Priority

// matrixDefaultKey is the catch-all entry for unrecognized severities.
const matrixDefaultKey = "default"

// DefaultFallbackMatrix returns the built-in severity matrix. Deliberately
// conservative: a severity-only view of the world never assigns P0, which
// is reserved for the policy path that also sees the environment.
func DefaultFallbackMatrix() FallbackMatrix {
	return FallbackMatrix{
		"critical":       signal.PriorityP1,
		"error":          signal.PriorityP2,
		"warning":        signal.PriorityP2,
		"info":           signal.PriorityP3,
		matrixDefaultKey: signal.PriorityP3,
	}
}

// Lookup resolves a severity to a priority. It cannot fail: unknown
// severities resolve via the default entry, and a matrix missing a default
// resolves to P3.
func (m FallbackMatrix) Lookup(severity string) signal.Priority {
	if p, ok := m[strings.ToLower(severity)]; ok {
		return p
	}
	if p, ok := m[matrixDefaultKey]; ok {
		return p
	}
	return signal.PriorityP3
}

// LoadFallbackMatrix reads a severity matrix override from a YAML file of
// the form {severity: priority}. Entries are validated against the fixed
// priority set; missing entries fall back to the built-in defaults.
func LoadFallbackMatrix(path string) (FallbackMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback matrix %s: %w", path, err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse fallback matrix %s: %w", path, err)
	}

	matrix := DefaultFallbackMatrix()
	for severity, priority := range raw {
		p := signal.Priority(strings.ToUpper(priority))
		if !signal.ValidPriority(p) {
			return nil, fmt.Errorf("fallback matrix %s: invalid priority %q for severity %q", path, priority, severity)
		}
		matrix[strings.ToLower(severity)] = p
	}
	return matrix, nil
}
