package controller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"drover/internal/resource"
	"drover/internal/store"
	"drover/pkg/logging"
	pkgstrings "drover/pkg/strings"
)

// Condition types recorded by the controller.
const (
	// ConditionReconciled reports the outcome of the latest phase handler.
	ConditionReconciled = "Reconciled"

	// ConditionFinalized reports progress of the finalizer protocol.
	ConditionFinalized = "Finalized"
)

// PhaseHandler reconciles a resource that is currently in one phase.
//
// Handlers mutate res.Status (next phase, domain fields, conditions) and the
// controller persists the result with a version-checked write. Handlers must
// be idempotent: delivery is at-least-once, so re-invocation on an
// already-applied side effect must be a no-op.
//
// A returned error is classified by the controller: TerminalError stops
// automatic retries and moves the resource to the Failed phase; everything
// else is treated as transient and answered with a bounded requeue.
type PhaseHandler func(ctx context.Context, res *resource.Resource) (Result, error)

// Finalizer is a named cleanup obligation owned by a controller. Finalize is
// called during deletion; once it succeeds the obligation is removed from
// the resource's metadata. Finalize must tolerate repetition.
type Finalizer interface {
	Name() string
	Finalize(ctx context.Context, res *resource.Resource) error
}

// Config describes a controller. Handler tables and finalizers are built
// once here and injected; there is no global registration.
type Config struct {
	// Name tags log lines, e.g. "InstanceController".
	Name string

	// InitialPhase is assigned to resources observed with an empty phase.
	InitialPhase resource.Phase

	// Handlers is the exhaustive dispatch table over the controller's
	// closed phase set. The Failed phase must not have a handler; the
	// controller never dispatches it.
	Handlers map[resource.Phase]PhaseHandler

	// Finalizers run in order during deletion.
	Finalizers []Finalizer

	// FinalizerRequeue bounds the wait after a failed finalizer attempt.
	// Defaults to 10s.
	FinalizerRequeue time.Duration

	// DefaultRequeue is used for transient failures that do not suggest
	// their own wait. Defaults to 15s.
	DefaultRequeue time.Duration

	// Metrics receives per-phase outcome counters. Optional.
	Metrics *Metrics
}

// Controller drives resources toward their desired state by dispatching
// phase handlers, and owns the finalizer protocol that gates physical
// deletion.
type Controller struct {
	cfg      Config
	store    store.Store
	resolver *store.ConflictResolver
}

// New validates the configuration and builds a controller.
func New(s store.Store, resolver *store.ConflictResolver, cfg Config) (*Controller, error) {
	if cfg.Name == "" {
		cfg.Name = "Controller"
	}
	if cfg.FinalizerRequeue == 0 {
		cfg.FinalizerRequeue = 10 * time.Second
	}
	if cfg.DefaultRequeue == 0 {
		cfg.DefaultRequeue = 15 * time.Second
	}

	if cfg.InitialPhase == "" {
		return nil, fmt.Errorf("%s: initial phase must be set", cfg.Name)
	}
	if _, ok := cfg.Handlers[cfg.InitialPhase]; !ok {
		return nil, fmt.Errorf("%s: no handler for initial phase %q", cfg.Name, cfg.InitialPhase)
	}
	if _, ok := cfg.Handlers[resource.PhaseFailed]; ok {
		return nil, fmt.Errorf("%s: the %q phase is reserved and must not have a handler", cfg.Name, resource.PhaseFailed)
	}
	for phase, handler := range cfg.Handlers {
		if handler == nil {
			return nil, fmt.Errorf("%s: nil handler for phase %q", cfg.Name, phase)
		}
	}
	seen := make(map[string]bool, len(cfg.Finalizers))
	for _, f := range cfg.Finalizers {
		if f.Name() == "" {
			return nil, fmt.Errorf("%s: finalizer with empty name", cfg.Name)
		}
		if seen[f.Name()] {
			return nil, fmt.Errorf("%s: duplicate finalizer %q", cfg.Name, f.Name())
		}
		seen[f.Name()] = true
	}

	return &Controller{cfg: cfg, store: s, resolver: resolver}, nil
}

// Name returns the controller's log tag.
func (c *Controller) Name() string { return c.cfg.Name }

// Reconcile runs one reconciliation pass over the observed resource.
//
// The finalizer protocol is evaluated first on every invocation, independent
// of phase. Only when no deletion is pending does control reach the phase
// dispatch table. A non-nil returned error is always transient: the caller
// must not advance its bookmark past the resource. Terminal failures are
// absorbed here (phase set to Failed) and reported as a Done result.
func (c *Controller) Reconcile(ctx context.Context, res *resource.Resource) (Result, error) {
	if res.Metadata.Deleting() {
		return c.finalize(ctx, res)
	}

	res, err := c.ensureFinalizers(ctx, res)
	if err != nil {
		return Result{}, err
	}

	if res.Status.Phase == "" {
		return c.initializePhase(ctx, res)
	}
	if res.Status.Phase == resource.PhaseFailed {
		// Halted pending manual intervention.
		return Failed("Halted"), nil
	}

	handler, ok := c.cfg.Handlers[res.Status.Phase]
	if !ok {
		return c.failTerminal(ctx, res, "UnknownPhase",
			fmt.Sprintf("no handler for phase %q", res.Status.Phase))
	}

	c.cfg.Metrics.recordAttempt(res.Status.Phase)
	phase := res.Status.Phase
	result, err := handler(ctx, res)

	switch {
	case err == nil:
		if _, perr := c.persistStatus(ctx, res); perr != nil {
			c.cfg.Metrics.recordTransientFailure(phase)
			return Result{}, fmt.Errorf("persist status of %s: %w", res.Key(), perr)
		}
		c.cfg.Metrics.recordSuccess(phase)
		return result, nil

	case IsTerminal(err):
		var terminal *TerminalError
		errors.As(err, &terminal)
		c.cfg.Metrics.recordTerminalFailure(phase)
		return c.failTerminal(ctx, res, terminal.Reason, err.Error())

	default:
		retryAfter := c.cfg.DefaultRequeue
		reason := "TransientFailure"
		var transient *TransientError
		if errors.As(err, &transient) {
			reason = transient.Reason
			if transient.RetryAfter > 0 {
				retryAfter = transient.RetryAfter
			}
		}
		c.cfg.Metrics.recordTransientFailure(phase)
		logging.Warn(c.cfg.Name, "transient failure reconciling %s in phase %s: %v", res.Key(), phase, err)

		res.Status.SetCondition(resource.Condition{
			Type:    ConditionReconciled,
			Status:  resource.ConditionFalse,
			Reason:  reason,
			Message: pkgstrings.TruncateMessage(err.Error(), pkgstrings.DefaultMessageMaxLen),
		})
		if _, perr := c.persistStatus(ctx, res); perr != nil {
			logging.Warn(c.cfg.Name, "failed to record transient condition on %s: %v", res.Key(), perr)
		}
		return RequeueAfter(retryAfter, reason), err
	}
}

// initializePhase persists the configured initial phase. The write itself
// surfaces as a new change, so the first real handler pass happens on the
// next observation.
func (c *Controller) initializePhase(ctx context.Context, res *resource.Resource) (Result, error) {
	_, err := c.resolver.UpdateWithRetry(ctx, res.Metadata.Namespace, res.Metadata.Name,
		func(fresh *resource.Resource) error {
			if fresh.Status.Phase != "" {
				return errUnchanged
			}
			fresh.Status.Phase = c.cfg.InitialPhase
			return nil
		})
	if err != nil && !errors.Is(err, errUnchanged) {
		return Result{}, fmt.Errorf("initialize phase of %s: %w", res.Key(), err)
	}
	logging.Debug(c.cfg.Name, "initialized %s to phase %s", res.Key(), c.cfg.InitialPhase)
	return Result{Reason: "PhaseInitialized"}, nil
}

// ensureFinalizers registers the controller's cleanup obligations on a live
// resource before any side-effecting phase work happens, so a deletion
// requested at any later point cannot bypass them.
func (c *Controller) ensureFinalizers(ctx context.Context, res *resource.Resource) (*resource.Resource, error) {
	missing := false
	for _, f := range c.cfg.Finalizers {
		if !res.Metadata.HasFinalizer(f.Name()) {
			missing = true
			break
		}
	}
	if !missing {
		return res, nil
	}

	updated, err := c.resolver.UpdateWithRetry(ctx, res.Metadata.Namespace, res.Metadata.Name,
		func(fresh *resource.Resource) error {
			if fresh.Metadata.Deleting() {
				// Too late to take on new obligations.
				return errUnchanged
			}
			changed := false
			for _, f := range c.cfg.Finalizers {
				if fresh.Metadata.AddFinalizer(f.Name()) {
					changed = true
				}
			}
			if !changed {
				return errUnchanged
			}
			return nil
		})
	if errors.Is(err, errUnchanged) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ensure finalizers on %s: %w", res.Key(), err)
	}
	return updated, nil
}

// finalize runs the finalizer protocol: each owned finalizer is invoked in
// order, removed from metadata on success, and only once the finalizer list
// is empty may the physical delete proceed.
func (c *Controller) finalize(ctx context.Context, res *resource.Resource) (Result, error) {
	for _, f := range c.cfg.Finalizers {
		if !res.Metadata.HasFinalizer(f.Name()) {
			continue
		}

		if err := f.Finalize(ctx, res); err != nil {
			logging.Warn(c.cfg.Name, "finalizer %s failed on %s: %v", f.Name(), res.Key(), err)
			res.Status.SetCondition(resource.Condition{
				Type:    ConditionFinalized,
				Status:  resource.ConditionFalse,
				Reason:  "FinalizeFailed",
				Message: pkgstrings.TruncateMessage(fmt.Sprintf("finalizer %s: %v", f.Name(), err), pkgstrings.DefaultMessageMaxLen),
			})
			if _, perr := c.persistStatus(ctx, res); perr != nil {
				logging.Warn(c.cfg.Name, "failed to record finalizer condition on %s: %v", res.Key(), perr)
			}
			return RequeueAfter(c.cfg.FinalizerRequeue, "FinalizeFailed"),
				Transient("FinalizeFailed", err)
		}

		name := f.Name()
		updated, err := c.resolver.UpdateWithRetry(ctx, res.Metadata.Namespace, res.Metadata.Name,
			func(fresh *resource.Resource) error {
				fresh.Metadata.RemoveFinalizer(name)
				return nil
			})
		if err != nil {
			return Result{}, fmt.Errorf("remove finalizer %s from %s: %w", name, res.Key(), err)
		}
		res = updated
		logging.Debug(c.cfg.Name, "cleared finalizer %s on %s", name, res.Key())
	}

	if len(res.Metadata.Finalizers) > 0 {
		// Obligations owned by someone else remain; not ours to clear.
		return Complete(), nil
	}

	if err := c.store.Delete(ctx, res.Metadata.Namespace, res.Metadata.Name); err != nil && !store.IsNotFound(err) {
		return Result{}, fmt.Errorf("delete %s: %w", res.Key(), err)
	}
	logging.Info(c.cfg.Name, "deleted %s", res.Key())
	return Complete(), nil
}

// failTerminal moves the resource to the Failed phase with an audit
// condition and halts automatic retries.
func (c *Controller) failTerminal(ctx context.Context, res *resource.Resource, reason, message string) (Result, error) {
	logging.Error(c.cfg.Name, nil, "terminal failure on %s: %s: %s", res.Key(), reason, message)

	res.Status.Phase = resource.PhaseFailed
	res.Status.SetCondition(resource.Condition{
		Type:    ConditionReconciled,
		Status:  resource.ConditionFalse,
		Reason:  reason,
		Message: pkgstrings.TruncateMessage(message, pkgstrings.DefaultMessageMaxLen),
	})
	if _, err := c.persistStatus(ctx, res); err != nil {
		return Result{}, fmt.Errorf("persist terminal failure of %s: %w", res.Key(), err)
	}
	return Failed(reason), nil
}

// errUnchanged short-circuits read-modify-write cycles that would not change
// the stored document, so steady-state resources generate no write churn.
var errUnchanged = errors.New("resource unchanged")

// persistStatus writes res.Status onto a fresh copy of the stored resource.
// Only status is carried over; concurrent spec or metadata edits survive.
func (c *Controller) persistStatus(ctx context.Context, res *resource.Resource) (*resource.Resource, error) {
	desired := res.DeepCopy().Status
	updated, err := c.resolver.UpdateWithRetry(ctx, res.Metadata.Namespace, res.Metadata.Name,
		func(fresh *resource.Resource) error {
			if reflect.DeepEqual(fresh.Status, desired) {
				return errUnchanged
			}
			fresh.Status = desired
			return nil
		})
	if errors.Is(err, errUnchanged) {
		return res, nil
	}
	return updated, err
}
