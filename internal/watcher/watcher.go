package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/apimachinery/pkg/util/wait"

	"drover/internal/controller"
	"drover/internal/resource"
	"drover/internal/store"
	"drover/pkg/logging"
)

// Reconciler is what the watcher drives. Satisfied by *controller.Controller.
type Reconciler interface {
	Reconcile(ctx context.Context, res *resource.Resource) (controller.Result, error)
}

// Leadership gates mutating work. Satisfied by *election.Elector. The
// AlwaysLeader stub serves single-instance deployments and tests.
type Leadership interface {
	IsLeader() bool
}

// AlwaysLeader is a Leadership that always grants the gate.
type AlwaysLeader struct{}

func (AlwaysLeader) IsLeader() bool { return true }

// Config holds the tunables of a watch loop.
type Config struct {
	// Name is the bookmark key; two watchers sharing a name share watch
	// progress, so give every logical watcher its own.
	Name string

	// PollInterval is the cadence of ChangesSince polls. Defaults to 2s.
	PollInterval time.Duration

	// StartFromOldest controls where a watcher with no persisted bookmark
	// begins: true replays the full change history, false starts at the
	// current head and only sees new writes.
	StartFromOldest bool
}

// Watcher is a single cooperative polling loop: discover resources changed
// since the bookmark, reconcile them while this process holds leadership,
// and advance the bookmark only after each reconciliation fully completes.
//
// Because a crash can land between a reconciliation's side effect and the
// bookmark write, the same resource may be observed again after restart;
// the controller's idempotence requirement exists for exactly this reason.
type Watcher struct {
	cfg        Config
	store      store.Store
	bookmarks  store.BookmarkStore
	reconciler Reconciler
	leadership Leadership

	cursor int64

	// notBefore implements bounded requeues: the watcher does not advance
	// past a resource before its earliest next attempt.
	notBefore map[string]time.Time
}

// New builds a watcher. leadership may be nil for single-instance use.
func New(s store.Store, bookmarks store.BookmarkStore, r Reconciler, leadership Leadership, cfg Config) (*Watcher, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("watcher name must not be empty")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if leadership == nil {
		leadership = AlwaysLeader{}
	}
	return &Watcher{
		cfg:        cfg,
		store:      s,
		bookmarks:  bookmarks,
		reconciler: r,
		leadership: leadership,
		notBefore:  make(map[string]time.Time),
	}, nil
}

// Cursor returns the last fully processed sequence.
func (w *Watcher) Cursor() int64 { return w.cursor }

// Run polls until the context is cancelled. Shutdown is cooperative: it is
// honored between poll cycles and between individual resources, never in
// the middle of a reconciliation.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.loadBookmark(ctx); err != nil {
		return err
	}
	logging.Info("Watcher", "%s starting at cursor %d, polling every %v", w.cfg.Name, w.cursor, w.cfg.PollInterval)

	wait.JitterUntilWithContext(ctx, w.pollOnce, w.cfg.PollInterval, 0.1, true)

	logging.Info("Watcher", "%s stopped at cursor %d", w.cfg.Name, w.cursor)
	return nil
}

// loadBookmark restores the persisted cursor, or applies the start policy
// when this watcher has never run before.
func (w *Watcher) loadBookmark(ctx context.Context) error {
	cursor, found, err := w.bookmarks.Get(ctx, w.cfg.Name)
	if err != nil {
		return fmt.Errorf("load bookmark %s: %w", w.cfg.Name, err)
	}
	if found {
		w.cursor = cursor
		return nil
	}
	if w.cfg.StartFromOldest {
		w.cursor = 0
		return nil
	}
	// Skip history: position at the current head without processing it.
	_, head, err := w.store.ChangesSince(ctx, 0)
	if err != nil {
		return fmt.Errorf("read change head: %w", err)
	}
	w.cursor = head
	return nil
}

// pollOnce fetches and processes one batch of changes.
func (w *Watcher) pollOnce(ctx context.Context) {
	changes, _, err := w.store.ChangesSince(ctx, w.cursor)
	if err != nil {
		logging.Warn("Watcher", "%s failed to poll changes: %v", w.cfg.Name, err)
		return
	}
	if len(changes) == 0 {
		return
	}

	if !w.leadership.IsLeader() {
		// Hot standby: keep polling so a takeover starts warm, but
		// perform no mutation and leave the bookmark alone.
		logging.Debug("Watcher", "%s observed %d changes as follower", w.cfg.Name, len(changes))
		return
	}

	for _, change := range changes {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !w.leadership.IsLeader() {
			// Leadership lost mid-cycle; stop mutating immediately.
			return
		}
		if !w.handle(ctx, change) {
			// Bookmark ordering is strict: nothing later in this batch
			// may be marked processed before this resource is.
			return
		}
	}
}

// handle reconciles one change and, on success, advances the bookmark past
// it. It returns false when the watcher must stop advancing.
func (w *Watcher) handle(ctx context.Context, change store.Change) bool {
	key := change.Resource.Key()

	if next, ok := w.notBefore[key]; ok && time.Now().Before(next) {
		return false
	}

	result, err := w.reconciler.Reconcile(ctx, change.Resource)
	if err != nil {
		logging.Warn("Watcher", "%s reconcile of %s failed: %v", w.cfg.Name, key, err)
		if result.RequeueAfter > 0 {
			w.notBefore[key] = time.Now().Add(result.RequeueAfter)
		}
		return false
	}

	delete(w.notBefore, key)
	if result.RequeueAfter > 0 && !result.Done {
		w.notBefore[key] = time.Now().Add(result.RequeueAfter)
	}

	w.cursor = change.Sequence
	if err := w.persistBookmark(ctx); err != nil {
		// The reconciliation landed; losing the bookmark only means the
		// resource is reprocessed after a restart, which handlers must
		// tolerate anyway.
		logging.Warn("Watcher", "%s failed to persist bookmark at %d: %v", w.cfg.Name, w.cursor, err)
	}
	return true
}

// persistBookmark writes the cursor with a short retry budget; bookmark
// storage hiccups should not force reprocessing on the next restart.
func (w *Watcher) persistBookmark(ctx context.Context) error {
	op := func() error {
		return w.bookmarks.Set(ctx, w.cfg.Name, w.cursor)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}
