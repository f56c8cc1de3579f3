package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/forest/internal/logger"
)

// StatusRefresher marks vassals running from the supervisor statistics.
type StatusRefresher interface {
	RefreshStatus(ctx context.Context) error
}

// StatusPoller periodically reconciles vassal states with the supervisor
// statistics. Vassals adopted after a restart never receive a "ready"
// event and only become Running this way.
type StatusPoller struct {
	source   StatusRefresher
	logger   logger.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
}

// NewStatusPoller creates a poller. Each scan is bounded by timeout.
func NewStatusPoller(source StatusRefresher, log logger.Logger, interval, timeout time.Duration) *StatusPoller {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &StatusPoller{
		source:   source,
		logger:   log,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic scan. The first scan runs immediately; the
// supervisor may not be up yet, so its failure is only logged.
func (sp *StatusPoller) Start(ctx context.Context) error {
	if err := sp.Poll(ctx); err != nil {
		sp.logger.Debug("initial status scan failed", logger.Error(err))
	}

	ticker := time.NewTicker(sp.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sp.Poll(ctx); err != nil {
					sp.logger.Warn("status scan failed",
						logger.Error(err))
				}
			case <-sp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the poller
func (sp *StatusPoller) Stop() {
	close(sp.stopCh)
}

// Poll runs one scan.
func (sp *StatusPoller) Poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sp.timeout)
	defer cancel()
	return sp.source.RefreshStatus(ctx)
}
