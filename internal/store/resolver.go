package store

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"drover/internal/resource"
)

// DefaultConflictRetries is how many conditional-write attempts
// UpdateWithRetry makes before surfacing the conflict to the caller.
const DefaultConflictRetries = 5

// ConflictResolver layers retry-with-fresh-copy logic over Store updates.
//
// Read-modify-write races — concurrent controller instances, leader
// re-elections, direct external spec edits — are absorbed here, so
// reconciliation logic can assume "my write either lands or I get a clear
// signal to retry".
type ConflictResolver struct {
	store   Store
	backoff wait.Backoff
}

// NewConflictResolver creates a resolver with the given retry budget.
// retries <= 0 selects DefaultConflictRetries.
func NewConflictResolver(s Store, retries int) *ConflictResolver {
	if retries <= 0 {
		retries = DefaultConflictRetries
	}
	return &ConflictResolver{
		store: s,
		backoff: wait.Backoff{
			Steps:    retries,
			Duration: 10 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
		},
	}
}

// Update issues a single conditional write. A version mismatch comes back as
// a ConflictError the caller can test with IsConflict.
func (r *ConflictResolver) Update(ctx context.Context, res *resource.Resource, expectedVersion int64) (*resource.Resource, error) {
	return r.store.Update(ctx, res, expectedVersion)
}

// UpdateWithRetry fetches the current stored resource, applies mutate to the
// fresh copy and writes it back conditionally. On conflict the whole
// fetch-mutate-write cycle is retried with backoff, up to the configured
// budget; exhaustion returns the final conflict.
//
// mutate must be safe to run multiple times; it sees a different fresh copy
// on every attempt.
func (r *ConflictResolver) UpdateWithRetry(ctx context.Context, namespace, name string, mutate func(*resource.Resource) error) (*resource.Resource, error) {
	var updated *resource.Resource

	err := retry.OnError(r.backoff, IsConflict, func() error {
		current, err := r.store.Get(ctx, namespace, name)
		if err != nil {
			return err
		}
		expected := current.Metadata.ResourceVersion
		if err := mutate(current); err != nil {
			return fmt.Errorf("apply mutation to %s: %w", current.Key(), err)
		}
		updated, err = r.store.Update(ctx, current, expected)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
