package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"drover/internal/config"
	"drover/internal/controller"
	"drover/internal/election"
	"drover/internal/resource"
	"drover/internal/store"
	"drover/internal/watcher"
	"drover/pkg/logging"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a drover control loop with the built-in instance controller",
	Long: `Starts the control loop against the in-process store and coordination
backend: a leader elector, a change watcher, and a demonstration controller
that drives resources Pending -> Provisioning -> Ready and honors a cleanup
finalizer on deletion. Real deployments swap in store and backend
implementations for their infrastructure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "drover.yaml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	logging.Init(logging.ParseLevel(cfg.Logging.Level), os.Stdout)
	logging.Info("Bootstrap", "drover %s starting", rootCmd.Version)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.NewMemoryStore()
	resolver := store.NewConflictResolver(st, cfg.Controller.ConflictRetries)

	var bookmarks store.BookmarkStore
	if cfg.Watcher.BookmarkDir != "" {
		bookmarks, err = store.NewFileBookmarkStore(cfg.Watcher.BookmarkDir)
		if err != nil {
			return err
		}
	} else {
		bookmarks = store.NewMemoryBookmarkStore()
	}

	ctrl, err := controller.New(st, resolver, controller.Config{
		Name:             "InstanceController",
		InitialPhase:     phasePending,
		Handlers:         instanceHandlers(),
		Finalizers:       []controller.Finalizer{cleanupFinalizer{}},
		FinalizerRequeue: cfg.Controller.FinalizerRequeue.Std(),
		DefaultRequeue:   cfg.Controller.DefaultRequeue.Std(),
		Metrics:          controller.NewMetrics(),
	})
	if err != nil {
		return err
	}

	elector, err := election.New(election.NewMemoryBackend(), election.Config{
		LockName:         cfg.Election.LockName,
		Identity:         cfg.Election.Identity,
		LeaseDuration:    cfg.Election.LeaseDuration.Std(),
		RenewDeadline:    cfg.Election.RenewDeadline.Std(),
		RetryPeriod:      cfg.Election.RetryPeriod.Std(),
		MaxRenewFailures: cfg.Election.MaxRenewFailures,
	})
	if err != nil {
		return err
	}

	w, err := watcher.New(st, bookmarks, ctrl, elector, watcher.Config{
		Name:            cfg.Watcher.Name,
		PollInterval:    cfg.Watcher.PollInterval.Std(),
		StartFromOldest: cfg.Watcher.StartFromOldest,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		elector.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return w.Run(gctx)
	})

	err = g.Wait()
	logging.Info("Bootstrap", "drover stopped")
	return err
}

// The built-in instance controller: a minimal, generic lifecycle that
// exercises the full framework. Domain deployments register their own
// phases and finalizers instead.
const (
	phasePending      resource.Phase = "Pending"
	phaseProvisioning resource.Phase = "Provisioning"
	phaseReady        resource.Phase = "Ready"

	cleanupFinalizerName = "cleanup.drover.dev"
)

func instanceHandlers() map[resource.Phase]controller.PhaseHandler {
	return map[resource.Phase]controller.PhaseHandler{
		phasePending:      handlePending,
		phaseProvisioning: handleProvisioning,
		phaseReady:        handleReady,
	}
}

func handlePending(ctx context.Context, res *resource.Resource) (controller.Result, error) {
	if _, ok := res.Spec["size"]; !ok {
		return controller.Result{}, controller.Terminal("InvalidSpec", fmt.Errorf("spec.size is required"))
	}
	res.Status.Phase = phaseProvisioning
	return controller.RequeueAfter(time.Second, "Provisioning"), nil
}

func handleProvisioning(ctx context.Context, res *resource.Resource) (controller.Result, error) {
	if res.Status.Fields == nil {
		res.Status.Fields = map[string]any{}
	}
	// Idempotent: a re-run after a crash observes the address already set.
	if _, done := res.Status.Fields["address"]; !done {
		res.Status.Fields["address"] = fmt.Sprintf("10.0.0.%d", len(res.Metadata.Name)%250+1)
	}
	res.Status.Phase = phaseReady
	res.Status.SetCondition(resource.Condition{
		Type:   controller.ConditionReconciled,
		Status: resource.ConditionTrue,
		Reason: "Provisioned",
	})
	return controller.Complete(), nil
}

func handleReady(ctx context.Context, res *resource.Resource) (controller.Result, error) {
	return controller.Complete(), nil
}

type cleanupFinalizer struct{}

func (cleanupFinalizer) Name() string { return cleanupFinalizerName }

func (cleanupFinalizer) Finalize(ctx context.Context, res *resource.Resource) error {
	logging.Info("InstanceController", "released backing capacity for %s", res.Key())
	return nil
}
