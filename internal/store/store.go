// Package store persists WorkItems. The canonical backend is a namespaced
// custom resource accessed through the dynamic client; an in-memory
// implementation with the same optimistic-concurrency semantics backs
// tests.
package store

import (
	"context"

	"github.com/jordigilh/kubernaut-sub006/internal/signal"
)

// Key locates a work item's backing object.
type Key struct {
	Namespace string
	Name      string
}

// Interface is the WorkItem persistence contract. UpdateStatus performs an
// optimistic-concurrency write: the item's ResourceVersion must match the
// stored one, otherwise the write fails with a conflict error recognized
// by k8s.io/apimachinery/pkg/api/errors.IsConflict.
type Interface interface {
	// Get fetches a work item. Not-found surfaces via errors.IsNotFound.
	Get(ctx context.Context, key Key) (*signal.WorkItem, error)

	// UpdateStatus writes the item's status fields (phase, attempts,
	// result, failure info) using the item's ResourceVersion as the
	// concurrency token.
	UpdateStatus(ctx context.Context, item *signal.WorkItem) error

	// ListActive returns the keys of all items in a non-terminal phase.
	ListActive(ctx context.Context) ([]Key, error)
}
