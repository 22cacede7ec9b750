package watcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drover/internal/controller"
	"drover/internal/resource"
	"drover/internal/store"
)

// stubReconciler records every delivery and delegates to fn when set.
type stubReconciler struct {
	calls []string
	fn    func(res *resource.Resource) (controller.Result, error)
}

func (s *stubReconciler) Reconcile(ctx context.Context, res *resource.Resource) (controller.Result, error) {
	s.calls = append(s.calls, res.Key())
	if s.fn != nil {
		return s.fn(res)
	}
	return controller.Complete(), nil
}

// toggleLeadership flips between leader and follower from the test.
type toggleLeadership struct{ leader atomic.Bool }

func (t *toggleLeadership) IsLeader() bool { return t.leader.Load() }

func mustCreate(t *testing.T, s *store.MemoryStore, name string) *resource.Resource {
	t.Helper()
	created, err := s.Create(context.Background(), &resource.Resource{
		Metadata: resource.Metadata{Namespace: "lab", Name: name},
		Spec:     resource.Spec{"size": "large"},
	})
	require.NoError(t, err)
	return created
}

func TestNewRequiresName(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := New(s, store.NewMemoryBookmarkStore(), &stubReconciler{}, nil, Config{})
	assert.Error(t, err)
}

func TestLoadBookmarkStartPolicies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, "worker-1")
	mustCreate(t, s, "worker-2")

	// No bookmark, StartFromOldest: the full history is replayed.
	oldest, err := New(s, store.NewMemoryBookmarkStore(), &stubReconciler{}, nil,
		Config{Name: "replayer", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, oldest.loadBookmark(ctx))
	assert.Equal(t, int64(0), oldest.Cursor())

	// No bookmark, head start: pre-existing writes are skipped.
	head, err := New(s, store.NewMemoryBookmarkStore(), &stubReconciler{}, nil,
		Config{Name: "skipper"})
	require.NoError(t, err)
	require.NoError(t, head.loadBookmark(ctx))
	assert.Equal(t, int64(2), head.Cursor())

	// A persisted bookmark wins over either policy.
	bookmarks := store.NewMemoryBookmarkStore()
	require.NoError(t, bookmarks.Set(ctx, "resumer", 1))
	resumed, err := New(s, bookmarks, &stubReconciler{}, nil,
		Config{Name: "resumer", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, resumed.loadBookmark(ctx))
	assert.Equal(t, int64(1), resumed.Cursor())
}

func TestPollOnceAdvancesBookmark(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, "worker-1")
	mustCreate(t, s, "worker-2")

	bookmarks := store.NewMemoryBookmarkStore()
	rec := &stubReconciler{}
	w, err := New(s, bookmarks, rec, nil, Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, w.loadBookmark(ctx))

	w.pollOnce(ctx)

	assert.Equal(t, []string{"lab/worker-1", "lab/worker-2"}, rec.calls)
	assert.Equal(t, int64(2), w.Cursor())

	cursor, ok, err := bookmarks.Get(ctx, "drover")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), cursor, "bookmark is persisted after each success")

	// Nothing new: no redelivery.
	w.pollOnce(ctx)
	assert.Len(t, rec.calls, 2)
}

func TestFollowerObservesWithoutMutating(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, "worker-1")

	bookmarks := store.NewMemoryBookmarkStore()
	rec := &stubReconciler{}
	gate := &toggleLeadership{}
	w, err := New(s, bookmarks, rec, gate, Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, w.loadBookmark(ctx))

	w.pollOnce(ctx)
	assert.Empty(t, rec.calls, "followers reconcile nothing")
	assert.Equal(t, int64(0), w.Cursor(), "followers hold their bookmark")
	_, ok, err := bookmarks.Get(ctx, "drover")
	require.NoError(t, err)
	assert.False(t, ok)

	// Promotion: the same change is processed on the next cycle.
	gate.leader.Store(true)
	w.pollOnce(ctx)
	assert.Equal(t, []string{"lab/worker-1"}, rec.calls)
	assert.Equal(t, int64(1), w.Cursor())
}

func TestFailureHoldsBookmarkAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, "worker-1")
	mustCreate(t, s, "worker-2")

	fail := true
	rec := &stubReconciler{fn: func(res *resource.Resource) (controller.Result, error) {
		if fail && res.Metadata.Name == "worker-1" {
			return controller.Result{}, errors.New("dependency down")
		}
		return controller.Complete(), nil
	}}
	w, err := New(s, store.NewMemoryBookmarkStore(), rec, nil,
		Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, w.loadBookmark(ctx))

	w.pollOnce(ctx)

	// worker-1 failed, so worker-2 must not be marked processed either:
	// the bookmark may never skip an unprocessed change.
	assert.Equal(t, []string{"lab/worker-1"}, rec.calls)
	assert.Equal(t, int64(0), w.Cursor())

	fail = false
	w.pollOnce(ctx)
	assert.Equal(t, []string{"lab/worker-1", "lab/worker-1", "lab/worker-2"}, rec.calls)
	assert.Equal(t, int64(2), w.Cursor())
}

func TestRequeueGateDelaysRedelivery(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, "worker-1")

	rec := &stubReconciler{fn: func(*resource.Resource) (controller.Result, error) {
		return controller.RequeueAfter(time.Hour, "ProviderThrottled"), errors.New("rate limited")
	}}
	w, err := New(s, store.NewMemoryBookmarkStore(), rec, nil,
		Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, w.loadBookmark(ctx))

	w.pollOnce(ctx)
	require.Len(t, rec.calls, 1)

	// Within the requeue window the resource is not retried at all.
	w.pollOnce(ctx)
	w.pollOnce(ctx)
	assert.Len(t, rec.calls, 1)
	assert.Equal(t, int64(0), w.Cursor())
}

// flakyBookmarks drops writes while failing is set, simulating a crash
// window between a reconciliation side effect and the bookmark write.
type flakyBookmarks struct {
	store.BookmarkStore
	failing bool
}

func (f *flakyBookmarks) Set(ctx context.Context, key string, cursor int64) error {
	if f.failing {
		return errors.New("bookmark storage unavailable")
	}
	return f.BookmarkStore.Set(ctx, key, cursor)
}

func TestCrashBeforeBookmarkReprocessesIdempotently(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, "worker-1")

	var sideEffects atomic.Int32
	applied := make(map[string]bool)
	rec := &stubReconciler{fn: func(res *resource.Resource) (controller.Result, error) {
		if !applied[res.Key()] {
			applied[res.Key()] = true
			sideEffects.Add(1)
		}
		return controller.Complete(), nil
	}}

	bookmarks := &flakyBookmarks{BookmarkStore: store.NewMemoryBookmarkStore(), failing: true}
	w, err := New(s, bookmarks, rec, nil, Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, w.loadBookmark(ctx))

	// The side effect lands but the bookmark write is lost.
	w.pollOnce(ctx)
	require.Len(t, rec.calls, 1)
	require.Equal(t, int32(1), sideEffects.Load())

	// "Restart": a fresh watcher over the same stores resumes from the
	// stale (absent) bookmark and redelivers the change.
	bookmarks.failing = false
	restarted, err := New(s, bookmarks, rec, nil, Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, restarted.loadBookmark(ctx))
	require.Equal(t, int64(0), restarted.Cursor())

	restarted.pollOnce(ctx)
	assert.Len(t, rec.calls, 2, "at-least-once: the change is delivered again")
	assert.Equal(t, int32(1), sideEffects.Load(), "idempotent handlers absorb the redelivery")
	assert.Equal(t, int64(1), restarted.Cursor())
}

// TestWatcherDrivesControllerLifecycle runs the real controller under the
// watcher loop and checks a resource reaches steady state through repeated
// polls, each status write surfacing as a fresh change.
func TestWatcherDrivesControllerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	resolver := store.NewConflictResolver(s, 0)

	ctrl, err := controller.New(s, resolver, controller.Config{
		Name:         "InstanceController",
		InitialPhase: "Pending",
		Handlers: map[resource.Phase]controller.PhaseHandler{
			"Pending": func(ctx context.Context, res *resource.Resource) (controller.Result, error) {
				res.Status.Phase = "Ready"
				return controller.Complete(), nil
			},
			"Ready": func(ctx context.Context, res *resource.Resource) (controller.Result, error) {
				return controller.Complete(), nil
			},
		},
	})
	require.NoError(t, err)

	w, err := New(s, store.NewMemoryBookmarkStore(), ctrl, nil,
		Config{Name: "drover", StartFromOldest: true})
	require.NoError(t, err)
	require.NoError(t, w.loadBookmark(ctx))

	mustCreate(t, s, "worker-1")
	for i := 0; i < 5; i++ {
		w.pollOnce(ctx)
	}

	final, err := s.Get(ctx, "lab", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, resource.Phase("Ready"), final.Status.Phase)

	// Steady state: the cursor settles and further polls change nothing.
	settled := w.Cursor()
	w.pollOnce(ctx)
	assert.Equal(t, settled, w.Cursor())
}
