package store

import (
	"context"

	"k8s.io/apimachinery/pkg/labels"

	"drover/internal/resource"
)

// Store persists resource documents with version-checked writes and
// incremental "changes since cursor" reads.
//
// All methods return copies; mutating a returned resource never affects the
// stored document until the copy is written back through Update.
type Store interface {
	// Get returns the resource with the given identity, or ErrNotFound.
	Get(ctx context.Context, namespace, name string) (*resource.Resource, error)

	// List returns resources in the namespace (all namespaces when empty)
	// whose labels match the selector. A nil selector matches everything.
	List(ctx context.Context, namespace string, selector labels.Selector) ([]*resource.Resource, error)

	// Create stores a new resource, assigning its UID, creation timestamp
	// and initial resource version. Returns ErrAlreadyExists if the
	// identity is taken.
	Create(ctx context.Context, res *resource.Resource) (*resource.Resource, error)

	// Update performs a conditional write: it succeeds only if the stored
	// resource version equals expectedVersion, and returns the stored copy
	// with its incremented version. A mismatch returns a ConflictError.
	Update(ctx context.Context, res *resource.Resource, expectedVersion int64) (*resource.Resource, error)

	// Delete removes the resource. While finalizers are present it instead
	// sets the deletion timestamp (if unset) and returns
	// ErrFinalizersPresent; the document stays in the store until the
	// controller clears the finalizers and deletes it again.
	Delete(ctx context.Context, namespace, name string) error

	// ChangesSince returns the resources written after the given cursor,
	// at most once each in write order, together with the cursor that
	// covers them all. Cursor 0 means "from the beginning".
	ChangesSince(ctx context.Context, cursor int64) ([]Change, int64, error)
}

// Change is a single entry in a ChangesSince result. Sequence is the cursor
// position of the resource's last write; a watcher that has fully processed
// the change may advance its bookmark to Sequence.
type Change struct {
	Resource *resource.Resource
	Sequence int64
}

// BookmarkStore persists watch cursors under watcher-specific keys so a
// restarted watcher can resume where it left off.
type BookmarkStore interface {
	// Get returns the cursor stored under key. The second return is false
	// when no bookmark has been written yet.
	Get(ctx context.Context, key string) (int64, bool, error)

	// Set persists the cursor under key, replacing any previous value.
	Set(ctx context.Context, key string, cursor int64) error
}
