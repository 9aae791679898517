// Package worker provides the in-process background workers for the service.
// resync_worker.go runs the periodic due-for-resync scan.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hsrmk/skystack/internal/logger"
)

const scanTimeout = 5 * time.Minute

// ResyncChecker runs one due-for-resync scan.
type ResyncChecker interface {
	CheckDueResyncs(ctx context.Context) (map[string]string, error)
}

// ResyncWorker triggers the due-for-resync scan on a cron schedule.
type ResyncWorker struct {
	checker  ResyncChecker
	cronSpec string
	logger   logger.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// NewResyncWorker creates a worker with the given cron spec, e.g. "@hourly".
func NewResyncWorker(checker ResyncChecker, cronSpec string, log logger.Logger) *ResyncWorker {
	return &ResyncWorker{
		checker:  checker,
		cronSpec: cronSpec,
		logger:   log,
	}
}

// Start registers the scan and begins the schedule.
func (w *ResyncWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.cronSpec, w.runOnce); err != nil {
		return err
	}
	w.cron.Start()
	w.started = true

	w.logger.Info("resync worker started", logger.String("cron_spec", w.cronSpec))
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (w *ResyncWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}

	<-w.cron.Stop().Done()
	w.started = false
	w.logger.Info("resync worker stopped")
}

func (w *ResyncWorker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	statuses, err := w.checker.CheckDueResyncs(ctx)
	if err != nil {
		w.logger.Error("due-for-resync scan failed", logger.Error(err))
		return
	}
	if len(statuses) > 0 {
		w.logger.Info("resync jobs submitted", logger.Int("count", len(statuses)))
	}
}
