/*
Package jobqueue runs Branchline's background jobs on River.

The only job today is the orphaned-run sweep: it fails runs persisted as
RUNNING that no live controller owns and drains their branches' queues. It is
scheduled periodically and can also be queued on demand.

Tunable parameters live in queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
)

// Recoverer fails orphaned runs and reports how many it found
type Recoverer interface {
	RecoverOrphanedRuns(ctx context.Context) (int, error)
}

// OrphanSweepArgs represents the arguments for an orphaned-run sweep
type OrphanSweepArgs struct {
	Trigger string `json:"trigger"`
}

// Kind returns the job kind for River
func (OrphanSweepArgs) Kind() string {
	return "orphan_sweep"
}

// OrphanSweepWorker handles orphaned-run sweeps
type OrphanSweepWorker struct {
	river.WorkerDefaults[OrphanSweepArgs]
	recoverer Recoverer
	timeout   time.Duration
}

// NewOrphanSweepWorker builds a worker that sweeps through recoverer
func NewOrphanSweepWorker(recoverer Recoverer, timeout time.Duration) *OrphanSweepWorker {
	return &OrphanSweepWorker{recoverer: recoverer, timeout: timeout}
}

func (w *OrphanSweepWorker) Timeout(*river.Job[OrphanSweepArgs]) time.Duration {
	return w.timeout
}

func (w *OrphanSweepWorker) Work(ctx context.Context, job *river.Job[OrphanSweepArgs]) error {
	n, err := w.recoverer.RecoverOrphanedRuns(ctx)
	if err != nil {
		log.Error().Err(err).Str("trigger", job.Args.Trigger).Msg("Orphaned-run sweep failed")
		return fmt.Errorf("orphaned-run sweep: %w", err)
	}
	log.Debug().Str("trigger", job.Args.Trigger).Int("recovered", n).Msg("Orphaned-run sweep finished")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a job queue on its own pgx pool. The sweep runs once on
// start and then every RecoveryInterval.
func NewJobQueue(ctx context.Context, databaseURL string, recoverer Recoverer, config *QueueConfig) (*JobQueue, error) {
	config = config.withDefaults()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewOrphanSweepWorker(recoverer, config.JobTimeout))

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(config.RecoveryInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return OrphanSweepArgs{Trigger: "periodic"}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: periodic,
		MaxAttempts:  config.MaxAttempts,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	log.Info().
		Int("max_workers", jq.config.MaxWorkers).
		Dur("recovery_interval", jq.config.RecoveryInterval).
		Msg("Starting job queue")
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	defer jq.pool.Close()
	return jq.client.Stop(ctx)
}

// QueueOrphanSweep queues an immediate orphaned-run sweep
func (jq *JobQueue) QueueOrphanSweep(ctx context.Context, trigger string) error {
	if _, err := jq.client.Insert(ctx, OrphanSweepArgs{Trigger: trigger}, nil); err != nil {
		return fmt.Errorf("failed to queue orphan sweep job: %w", err)
	}
	return nil
}

// Migrate applies River's own schema migrations and returns the versions
// that were applied.
func Migrate(ctx context.Context, databaseURL string) ([]int, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate River schema: %w", err)
	}

	versions := make([]int, 0, len(res.Versions))
	for _, v := range res.Versions {
		versions = append(versions, v.Version)
	}
	return versions, nil
}
