package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunable parameters of the background job queue
type QueueConfig struct {
	// MaxWorkers bounds concurrent jobs on the default queue
	MaxWorkers int

	// MaxAttempts is how many times River tries a failing job
	MaxAttempts int

	// JobTimeout bounds a single sweep
	JobTimeout time.Duration

	// RecoveryInterval is the period of the orphaned-run sweep
	RecoveryInterval time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:       5,
		MaxAttempts:      3,
		JobTimeout:       time.Minute,
		RecoveryInterval: time.Minute,
	}
}

// withDefaults fills unset fields from DefaultQueueConfig
func (c *QueueConfig) withDefaults() *QueueConfig {
	def := DefaultQueueConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.MaxWorkers <= 0 {
		out.MaxWorkers = def.MaxWorkers
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = def.JobTimeout
	}
	if out.RecoveryInterval <= 0 {
		out.RecoveryInterval = def.RecoveryInterval
	}
	return &out
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
