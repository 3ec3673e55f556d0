package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	calls int
	n     int
	err   error
}

func (f *fakeRecoverer) RecoverOrphanedRuns(ctx context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

func TestOrphanSweepWorker(t *testing.T) {
	rec := &fakeRecoverer{n: 2}
	w := NewOrphanSweepWorker(rec, 30*time.Second)

	job := &river.Job[OrphanSweepArgs]{Args: OrphanSweepArgs{Trigger: "test"}}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 30*time.Second, w.Timeout(job))
}

func TestOrphanSweepWorkerPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	w := NewOrphanSweepWorker(&fakeRecoverer{err: boom}, time.Second)

	err := w.Work(context.Background(), &river.Job[OrphanSweepArgs]{})
	assert.ErrorIs(t, err, boom)
}

func TestOrphanSweepKind(t *testing.T) {
	assert.Equal(t, "orphan_sweep", OrphanSweepArgs{}.Kind())
}

func TestQueueConfigDefaults(t *testing.T) {
	var nilConfig *QueueConfig
	cfg := nilConfig.withDefaults()
	assert.Equal(t, DefaultQueueConfig(), cfg)

	cfg = (&QueueConfig{MaxWorkers: 9, RecoveryInterval: 5 * time.Second}).withDefaults()
	assert.Equal(t, 9, cfg.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.RecoveryInterval)
	assert.Equal(t, DefaultQueueConfig().MaxAttempts, cfg.MaxAttempts)

	queues := cfg.RiverQueueConfig()
	require.Contains(t, queues, river.QueueDefault)
	assert.Equal(t, 9, queues[river.QueueDefault].MaxWorkers)
}
