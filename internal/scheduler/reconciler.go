package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/forest/internal/logger"
)

// Restorer brings every branch back to its persisted state.
type Restorer interface {
	RestoreAll(ctx context.Context) error
}

// Reconciler periodically restores the cluster from persisted state so
// branches that restarted or lost leaves converge again.
type Reconciler struct {
	restorer      Restorer
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewReconciler creates a reconciler. manualTrigger may be nil.
func NewReconciler(restorer Restorer, log logger.Logger, interval time.Duration, manualTrigger chan struct{}) *Reconciler {
	return &Reconciler{
		restorer:      restorer,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic restore. Unlike the status scan, the first
// pass waits for the first tick: branches need time to come up.
func (rc *Reconciler) Start(ctx context.Context) error {
	ticker := time.NewTicker(rc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rc.Reconcile(ctx)
			case <-rc.manualTrigger:
				rc.logger.Info("manual reconcile triggered")
				rc.Reconcile(ctx)
			case <-rc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reconciler
func (rc *Reconciler) Stop() {
	close(rc.stopCh)
}

// Reconcile runs one restore pass over every branch.
func (rc *Reconciler) Reconcile(ctx context.Context) {
	start := time.Now()
	if err := rc.restorer.RestoreAll(ctx); err != nil {
		rc.logger.Error("reconcile failed",
			logger.Error(err))
		return
	}
	rc.logger.Info("reconcile done",
		logger.Duration("duration", time.Since(start)))
}
