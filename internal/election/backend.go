package election

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Backend provides atomic, expiring, compare-and-swap lock records.
//
// Implementations must guarantee that at most one identity holds a given
// lock at any instant, modulo TTL expiry and clock skew between processes.
type Backend interface {
	// Acquire attempts to take the lock for identity with the given TTL.
	// It returns true when the lock was taken (including re-acquiring a
	// lock the identity already holds). A held, unexpired lock owned by
	// someone else returns false without error.
	Acquire(ctx context.Context, lock, identity string, ttl time.Duration) (bool, error)

	// Renew extends the TTL of a lock the identity currently holds. It
	// returns false when the lock is held by someone else, expired, or
	// absent; renewing never steals a lock.
	Renew(ctx context.Context, lock, identity string, ttl time.Duration) (bool, error)

	// Release drops the lock if the identity holds it.
	Release(ctx context.Context, lock, identity string) (bool, error)

	// Holder returns the identity currently holding the lock, if any.
	Holder(ctx context.Context, lock string) (string, bool, error)
}

type lease struct {
	holder    string
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend. It coordinates goroutines within
// one process and backs the election tests; multi-process deployments
// implement Backend against a shared coordination service.
type MemoryBackend struct {
	mu     sync.Mutex
	leases map[string]lease
	clock  clock.Clock
}

// NewMemoryBackend creates a backend using the real clock.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithClock(clock.RealClock{})
}

// NewMemoryBackendWithClock creates a backend with an injected clock so
// tests can control lease expiry deterministically.
func NewMemoryBackendWithClock(c clock.Clock) *MemoryBackend {
	return &MemoryBackend{
		leases: make(map[string]lease),
		clock:  c,
	}
}

var _ Backend = (*MemoryBackend)(nil)

// Acquire implements Backend.
func (b *MemoryBackend) Acquire(ctx context.Context, lock, identity string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if l, ok := b.leases[lock]; ok && l.holder != identity && now.Before(l.expiresAt) {
		return false, nil
	}
	b.leases[lock] = lease{holder: identity, expiresAt: now.Add(ttl)}
	return true, nil
}

// Renew implements Backend.
func (b *MemoryBackend) Renew(ctx context.Context, lock, identity string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	l, ok := b.leases[lock]
	if !ok || l.holder != identity || !now.Before(l.expiresAt) {
		return false, nil
	}
	b.leases[lock] = lease{holder: identity, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements Backend.
func (b *MemoryBackend) Release(ctx context.Context, lock, identity string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.leases[lock]
	if !ok || l.holder != identity {
		return false, nil
	}
	delete(b.leases, lock)
	return true, nil
}

// Holder implements Backend.
func (b *MemoryBackend) Holder(ctx context.Context, lock string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.leases[lock]
	if !ok || !b.clock.Now().Before(l.expiresAt) {
		return "", false, nil
	}
	return l.holder, true, nil
}
