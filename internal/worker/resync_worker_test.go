package worker_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/worker"
)

type countingChecker struct {
	calls atomic.Int64
}

func (c *countingChecker) CheckDueResyncs(context.Context) (map[string]string, error) {
	c.calls.Add(1)
	return map[string]string{}, nil
}

func TestResyncWorker_StartIsIdempotent(t *testing.T) {
	w := worker.NewResyncWorker(&countingChecker{}, "@hourly", logger.NewNopLogger())

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}

func TestResyncWorker_RejectsBadCronSpec(t *testing.T) {
	w := worker.NewResyncWorker(&countingChecker{}, "not a cron spec", logger.NewNopLogger())
	assert.Error(t, w.Start())
}
