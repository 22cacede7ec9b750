package election

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig returns tunables short enough for tests but with the
// retry < deadline < lease ordering intact.
func fastConfig(identity string) Config {
	return Config{
		LockName:      "drover/leader",
		Identity:      identity,
		LeaseDuration: 200 * time.Millisecond,
		RenewDeadline: 120 * time.Millisecond,
		RetryPeriod:   25 * time.Millisecond,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	backend := NewMemoryBackend()

	_, err := New(backend, Config{})
	assert.Error(t, err, "empty lock name")

	cfg := fastConfig("node-a")
	cfg.RenewDeadline = cfg.LeaseDuration
	_, err = New(backend, cfg)
	assert.Error(t, err, "deadline must be under lease duration")

	cfg = fastConfig("node-a")
	cfg.RetryPeriod = cfg.RenewDeadline
	_, err = New(backend, cfg)
	assert.Error(t, err, "retry period must be under deadline")

	cfg = Config{LockName: "drover/leader"}
	e, err := New(backend, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, e.Identity(), "identity is defaulted")
}

func TestElectorSingleLeader(t *testing.T) {
	backend := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(backend, fastConfig("node-a"))
	require.NoError(t, err)
	b, err := New(backend, fastConfig("node-b"))
	require.NoError(t, err)

	go a.Run(ctx)
	go b.Run(ctx)

	require.Eventually(t, func() bool {
		return a.IsLeader() || b.IsLeader()
	}, 2*time.Second, 10*time.Millisecond, "someone must win")

	// Leadership stays exclusive while both keep running.
	for i := 0; i < 10; i++ {
		assert.False(t, a.IsLeader() && b.IsLeader(), "two leaders at once")
		time.Sleep(20 * time.Millisecond)
	}

	holder, held, err := backend.Holder(ctx, "drover/leader")
	require.NoError(t, err)
	require.True(t, held)
	if a.IsLeader() {
		assert.Equal(t, "node-a", holder)
	} else {
		assert.Equal(t, "node-b", holder)
	}
}

func TestElectorFailover(t *testing.T) {
	backend := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var aStarted, aStopped atomic.Int32
	cfgA := fastConfig("node-a")
	cfgA.OnStartedLeading = func(context.Context) { aStarted.Add(1) }
	cfgA.OnStoppedLeading = func() { aStopped.Add(1) }

	a, err := New(backend, cfgA)
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(ctx)
	go a.Run(ctxA)

	require.Eventually(t, a.IsLeader, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return aStarted.Load() == 1 },
		time.Second, 10*time.Millisecond)

	b, err := New(backend, fastConfig("node-b"))
	require.NoError(t, err)
	go b.Run(ctx)

	// While a leads and renews, b stays a follower.
	time.Sleep(150 * time.Millisecond)
	assert.False(t, b.IsLeader())

	// Stop a: it releases the lease on the way out and b takes over well
	// within a lease duration.
	cancelA()
	require.Eventually(t, b.IsLeader, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return aStopped.Load() == 1 },
		time.Second, 10*time.Millisecond)
	assert.False(t, a.IsLeader())
}

// stubBackend scripts backend behavior per call.
type stubBackend struct {
	acquire func() (bool, error)
	renew   func() (bool, error)
}

func (s *stubBackend) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return s.acquire()
}

func (s *stubBackend) Renew(context.Context, string, string, time.Duration) (bool, error) {
	return s.renew()
}

func (s *stubBackend) Release(context.Context, string, string) (bool, error) {
	return true, nil
}

func (s *stubBackend) Holder(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func TestElectorBackendErrorsMeanNotLeader(t *testing.T) {
	backend := &stubBackend{
		acquire: func() (bool, error) { return false, errors.New("backend unreachable") },
		renew:   func() (bool, error) { return false, errors.New("backend unreachable") },
	}

	var started atomic.Int32
	cfg := fastConfig("node-a")
	cfg.OnStartedLeading = func(context.Context) { started.Add(1) }

	e, err := New(backend, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	assert.False(t, e.IsLeader())
	assert.Zero(t, started.Load(), "ambiguous backend failures never grant leadership")
}

func TestElectorStepsDownOnLostLease(t *testing.T) {
	backend := &stubBackend{
		acquire: func() (bool, error) { return true, nil },
		// The backend reports the lease held by someone else.
		renew: func() (bool, error) { return false, nil },
	}

	var stopped atomic.Int32
	cfg := fastConfig("node-a")
	cfg.OnStoppedLeading = func() { stopped.Add(1) }

	e, err := New(backend, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	require.Eventually(t, func() bool { return stopped.Load() >= 1 },
		2*time.Second, 10*time.Millisecond, "losing the lease triggers a step-down")
}

func TestElectorStepsDownAfterRenewFailures(t *testing.T) {
	var renews atomic.Int32
	backend := &stubBackend{
		acquire: func() (bool, error) { return true, nil },
		renew: func() (bool, error) {
			renews.Add(1)
			return false, errors.New("backend flapping")
		},
	}

	var stopped atomic.Int32
	cfg := fastConfig("node-a")
	cfg.MaxRenewFailures = 2
	cfg.OnStoppedLeading = func() { stopped.Add(1) }

	e, err := New(backend, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	require.Eventually(t, func() bool { return stopped.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, renews.Load(), int32(2))
}

func TestOnStartedLeadingContextCancelledOnLoss(t *testing.T) {
	backend := &stubBackend{
		acquire: func() (bool, error) { return true, nil },
		renew:   func() (bool, error) { return false, nil },
	}

	leadCtxDone := make(chan struct{})
	cfg := fastConfig("node-a")
	cfg.OnStartedLeading = func(ctx context.Context) {
		<-ctx.Done()
		close(leadCtxDone)
	}

	e, err := New(backend, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	select {
	case <-leadCtxDone:
	case <-time.After(2 * time.Second):
		t.Fatal("leadership context was not cancelled after the lease was lost")
	}
}
