package election

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"drover/pkg/logging"
)

// Config holds the tunables of a leader elector.
type Config struct {
	// LockName is the coordination backend key the elector competes for.
	LockName string

	// Identity names this participant. Defaults to hostname plus a random
	// suffix so two processes on one host never collide.
	Identity string

	// LeaseDuration is the TTL written on acquire and renew. A lease that
	// is not renewed within this window is up for grabs.
	LeaseDuration time.Duration

	// RenewDeadline is the safety margin: if no renewal has succeeded
	// within this window the elector steps down rather than risk the
	// lease expiring under two simultaneous holders. Must be shorter
	// than LeaseDuration.
	RenewDeadline time.Duration

	// RetryPeriod is the interval between acquire attempts while not
	// leading and between renew attempts while leading.
	RetryPeriod time.Duration

	// MaxRenewFailures is the number of consecutive failed renewals
	// tolerated before a proactive step-down.
	MaxRenewFailures int

	// OnStartedLeading fires exactly once per acquisition. The context is
	// cancelled when leadership is lost.
	OnStartedLeading func(ctx context.Context)

	// OnStoppedLeading fires on voluntary step-down or involuntary loss.
	OnStoppedLeading func()

	// Clock is injectable for tests; nil selects the real clock.
	Clock clock.WithTicker
}

func (c *Config) applyDefaults() {
	if c.Identity == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "drover"
		}
		c.Identity = host + "-" + uuid.NewString()[:8]
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = 15 * time.Second
	}
	if c.RenewDeadline == 0 {
		c.RenewDeadline = 10 * time.Second
	}
	if c.RetryPeriod == 0 {
		c.RetryPeriod = 2 * time.Second
	}
	if c.MaxRenewFailures == 0 {
		c.MaxRenewFailures = 3
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
}

func (c *Config) validate() error {
	if c.LockName == "" {
		return fmt.Errorf("lock name must not be empty")
	}
	if c.RenewDeadline >= c.LeaseDuration {
		return fmt.Errorf("renew deadline (%v) must be shorter than lease duration (%v)",
			c.RenewDeadline, c.LeaseDuration)
	}
	if c.RetryPeriod >= c.RenewDeadline {
		return fmt.Errorf("retry period (%v) must be shorter than renew deadline (%v)",
			c.RetryPeriod, c.RenewDeadline)
	}
	return nil
}

// Elector acquires, renews and releases a lease on a coordination backend
// and exposes the leadership state consumers gate mutating work on.
//
// Backend errors during acquire or renew are treated fail-safe as "not
// leader": the elector never assumes leadership on an ambiguous failure.
type Elector struct {
	cfg     Config
	backend Backend

	mu     sync.RWMutex
	leader bool
}

// New creates an elector. The configuration is defaulted and validated once
// here; Run never re-reads it.
func New(backend Backend, cfg Config) (*Elector, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid election config: %w", err)
	}
	return &Elector{cfg: cfg, backend: backend}, nil
}

// Identity returns this participant's identity.
func (e *Elector) Identity() string {
	return e.cfg.Identity
}

// IsLeader reports whether this elector currently holds the lease. It is
// the single gate consumers use before performing mutating work.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leader
}

// Run drives the acquire/renew loop until the context is cancelled. A held
// lease is released on the way out.
func (e *Elector) Run(ctx context.Context) {
	logging.Info("Election", "%s competing for lock %q", e.cfg.Identity, e.cfg.LockName)

	for {
		if e.tryAcquire(ctx) {
			e.lead(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-e.cfg.Clock.After(e.cfg.RetryPeriod):
		}
	}
}

func (e *Elector) tryAcquire(ctx context.Context) bool {
	ok, err := e.backend.Acquire(ctx, e.cfg.LockName, e.cfg.Identity, e.cfg.LeaseDuration)
	if err != nil {
		logging.Warn("Election", "%s acquire failed, staying follower: %v", e.cfg.Identity, err)
		return false
	}
	return ok
}

// lead runs the renew loop while leadership holds, firing the callbacks
// around it. It returns once leadership is lost or the context ends.
func (e *Elector) lead(ctx context.Context) {
	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.setLeader(true)
	logging.Info("Election", "%s acquired lock %q", e.cfg.Identity, e.cfg.LockName)
	if e.cfg.OnStartedLeading != nil {
		go e.cfg.OnStartedLeading(leadCtx)
	}

	e.renewLoop(ctx)

	cancel()
	e.setLeader(false)
	// Best effort: an expired or stolen lease makes this a no-op.
	if _, err := e.backend.Release(context.Background(), e.cfg.LockName, e.cfg.Identity); err != nil {
		logging.Warn("Election", "%s release failed: %v", e.cfg.Identity, err)
	}
	logging.Info("Election", "%s stopped leading lock %q", e.cfg.Identity, e.cfg.LockName)
	if e.cfg.OnStoppedLeading != nil {
		e.cfg.OnStoppedLeading()
	}
}

func (e *Elector) renewLoop(ctx context.Context) {
	lastRenew := e.cfg.Clock.Now()
	failures := 0

	ticker := e.cfg.Clock.NewTicker(e.cfg.RetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		ok, err := e.backend.Renew(ctx, e.cfg.LockName, e.cfg.Identity, e.cfg.LeaseDuration)
		switch {
		case err != nil:
			failures++
			logging.Warn("Election", "%s renew error (%d consecutive): %v", e.cfg.Identity, failures, err)
		case !ok:
			// The backend says we no longer hold the lease. Nothing to
			// wait out; step down immediately.
			logging.Warn("Election", "%s lost lock %q", e.cfg.Identity, e.cfg.LockName)
			return
		default:
			lastRenew = e.cfg.Clock.Now()
			failures = 0
		}

		if failures >= e.cfg.MaxRenewFailures {
			logging.Warn("Election", "%s stepping down after %d failed renewals", e.cfg.Identity, failures)
			return
		}
		if e.cfg.Clock.Since(lastRenew) >= e.cfg.RenewDeadline {
			logging.Warn("Election", "%s renew deadline %v exceeded, stepping down", e.cfg.Identity, e.cfg.RenewDeadline)
			return
		}
	}
}

func (e *Elector) setLeader(leader bool) {
	e.mu.Lock()
	e.leader = leader
	e.mu.Unlock()
}
