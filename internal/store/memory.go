package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/labels"

	"drover/internal/resource"
)

// MemoryStore is an in-process Store implementation.
//
// It backs the framework's own tests and the serve command's demonstration
// wiring; production deployments implement Store against a real document
// store. All accepted writes are stamped with a single monotonically
// increasing sequence, which is what ChangesSince cursors refer to.
type MemoryStore struct {
	mu sync.RWMutex

	// resources maps "namespace/name" to the stored document.
	resources map[string]*resource.Resource

	// written maps "namespace/name" to the sequence of its last write.
	written map[string]int64

	// seq is the sequence of the most recent accepted write.
	seq int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*resource.Resource),
		written:   make(map[string]int64),
	}
}

var _ Store = (*MemoryStore)(nil)

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, namespace, name string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.resources[resource.Key(namespace, name)]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", resource.Key(namespace, name), ErrNotFound)
	}
	return res.DeepCopy(), nil
}

// List implements Store. Results are sorted by key for deterministic output.
func (s *MemoryStore) List(ctx context.Context, namespace string, selector labels.Selector) ([]*resource.Resource, error) {
	if selector == nil {
		selector = labels.Everything()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*resource.Resource
	for _, res := range s.resources {
		if namespace != "" && res.Metadata.Namespace != namespace {
			continue
		}
		if !selector.Matches(labels.Set(res.Metadata.Labels)) {
			continue
		}
		out = append(out, res.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, res *resource.Resource) (*resource.Resource, error) {
	if res.Metadata.Name == "" {
		return nil, fmt.Errorf("create: resource name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := res.Key()
	if _, exists := s.resources[key]; exists {
		return nil, fmt.Errorf("create %s: %w", key, ErrAlreadyExists)
	}

	stored := res.DeepCopy()
	stored.Metadata.UID = uuid.NewString()
	stored.Metadata.CreationTimestamp = time.Now()
	stored.Metadata.Generation = 1
	stored.Metadata.ResourceVersion = 1
	stored.Metadata.DeletionTimestamp = nil

	s.commit(key, stored)
	return stored.DeepCopy(), nil
}

// Update implements Store. The write is accepted only if expectedVersion
// matches the stored version; at most one of several racing writers against
// the same version can win.
func (s *MemoryStore) Update(ctx context.Context, res *resource.Resource, expectedVersion int64) (*resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := res.Key()
	current, ok := s.resources[key]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", key, ErrNotFound)
	}
	if current.Metadata.ResourceVersion != expectedVersion {
		return nil, &ConflictError{
			Key:             key,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current.Metadata.ResourceVersion,
		}
	}

	stored := res.DeepCopy()
	// Server-controlled fields survive whatever the caller sent.
	stored.Metadata.UID = current.Metadata.UID
	stored.Metadata.CreationTimestamp = current.Metadata.CreationTimestamp
	stored.Metadata.Generation = current.Metadata.Generation
	if !reflect.DeepEqual(stored.Spec, current.Spec) {
		stored.Metadata.Generation++
	}
	stored.Metadata.ResourceVersion = current.Metadata.ResourceVersion + 1

	s.commit(key, stored)
	return stored.DeepCopy(), nil
}

// Delete implements Store. A resource with finalizers is soft-deleted: its
// deletion timestamp is set and the document remains until the finalizers
// are cleared and Delete is called again.
func (s *MemoryStore) Delete(ctx context.Context, namespace, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resource.Key(namespace, name)
	current, ok := s.resources[key]
	if !ok {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}

	if len(current.Metadata.Finalizers) > 0 {
		if current.Metadata.DeletionTimestamp == nil {
			stored := current.DeepCopy()
			now := time.Now()
			stored.Metadata.DeletionTimestamp = &now
			stored.Metadata.ResourceVersion++
			s.commit(key, stored)
		}
		return fmt.Errorf("delete %s: %w", key, ErrFinalizersPresent)
	}

	delete(s.resources, key)
	delete(s.written, key)
	return nil
}

// ChangesSince implements Store. Each resource appears at most once, ordered
// by its last write, and only when that write happened after cursor.
func (s *MemoryStore) ChangesSince(ctx context.Context, cursor int64) ([]Change, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var changes []Change
	for key, seq := range s.written {
		if seq <= cursor {
			continue
		}
		changes = append(changes, Change{Resource: s.resources[key].DeepCopy(), Sequence: seq})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Sequence < changes[j].Sequence })

	newCursor := cursor
	for _, c := range changes {
		newCursor = c.Sequence
	}
	return changes, newCursor, nil
}

// commit records an accepted write. Callers must hold the write lock.
func (s *MemoryStore) commit(key string, stored *resource.Resource) {
	s.seq++
	s.resources[key] = stored
	s.written[key] = s.seq
}
