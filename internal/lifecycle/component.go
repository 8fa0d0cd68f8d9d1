package lifecycle

import "context"

// Component is the lifecycle contract for long-running parts of the
// processor. The manager starts components in dependency order and stops
// them in reverse.
type Component interface {
	// Start initializes and starts the component. Must be safe to call
	// once per process; returns an error if initialization fails.
	Start(ctx context.Context) error

	// Stop gracefully stops the component, finishing in-flight work
	// within the context deadline.
	Stop(ctx context.Context) error

	// Name returns the component name used in logs and errors.
	Name() string
}
