package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var signalProcessingGR = schema.GroupResource{
	Group:    SignalProcessingGVR.Group,
	Resource: SignalProcessingGVR.Resource,
}

// MemoryStore is an in-memory Interface implementation with the same
// optimistic-concurrency behavior as the Kubernetes-backed store. It
// fabricates standard apimachinery status errors so callers exercise the
// exact IsNotFound/IsConflict paths they hit in production.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[Key]*signal.WorkItem
	version int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[Key]*signal.WorkItem{}}
}

// Add seeds a work item, assigning an initial resource version.
func (s *MemoryStore) Add(item *signal.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	stored := deepCopy(item)
	stored.ResourceVersion = strconv.Itoa(s.version)
	s.items[Key{Namespace: item.Namespace, Name: item.Name}] = stored
	item.ResourceVersion = stored.ResourceVersion
}

// Delete removes a work item, simulating out-of-band deletion.
func (s *MemoryStore) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Get returns a deep copy of the stored item.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*signal.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, apierrors.NewNotFound(signalProcessingGR, key.Name)
	}
	return deepCopy(item), nil
}

// UpdateStatus writes the item back if its resource version matches.
func (s *MemoryStore) UpdateStatus(ctx context.Context, item *signal.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Namespace: item.Namespace, Name: item.Name}
	stored, ok := s.items[key]
	if !ok {
		return apierrors.NewNotFound(signalProcessingGR, key.Name)
	}
	if stored.ResourceVersion != item.ResourceVersion {
		return apierrors.NewConflict(signalProcessingGR, key.Name,
			fmt.Errorf("resource version %s does not match %s", item.ResourceVersion, stored.ResourceVersion))
	}

	s.version++
	updated := deepCopy(item)
	updated.ResourceVersion = strconv.Itoa(s.version)
	s.items[key] = updated
	item.ResourceVersion = updated.ResourceVersion
	return nil
}

// ListActive returns keys of items in non-terminal phases.
func (s *MemoryStore) ListActive(ctx context.Context) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.items))
	for key, item := range s.items {
		if !item.Phase.Terminal() {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// deepCopy clones via JSON; the WorkItem graph is plain data.
func deepCopy(item *signal.WorkItem) *signal.WorkItem {
	data, err := json.Marshal(item)
	if err != nil {
		panic(fmt.Sprintf("work item not serializable: %v", err))
	}
	out := &signal.WorkItem{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("work item not deserializable: %v", err))
	}
	return out
}

var _ Interface = (*MemoryStore)(nil)
