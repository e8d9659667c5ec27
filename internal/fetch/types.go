package fetch

import (
	"context"
	"sync"
	"time"
)

// Config controls the fetch pool.
type Config struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// Timeout bounds one attempt of a task.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxQueueDelay drops tasks that waited longer than this. 0 disables.
	MaxQueueDelay time.Duration `json:"max_queue_delay" yaml:"max_queue_delay"`

	// RatePerSec caps outgoing requests across all workers. 0 disables.
	RatePerSec float64 `json:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int     `json:"burst" yaml:"burst"`

	RetryBase     time.Duration `json:"retry_base" yaml:"retry_base"`
	RetryMaxDelay time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`

	HistorySize int `json:"history_size" yaml:"history_size"`
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is one unit of remote work.
type Task struct {
	ID   string
	Name string
	// Key gates overlap: while a task with the same key is queued or
	// running, new ones are refused. Empty allows overlap.
	Key     string
	Timeout time.Duration
	// Retries is the number of extra attempts after a failure.
	Retries int
	Run     func(ctx context.Context) error
	// OnDrop runs when an accepted task is discarded without running.
	OnDrop func(reason error)
}

type runState struct {
	mu      sync.Mutex
	pending bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	s.pending = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a diagnostic view of the pool.
type Snapshot struct {
	Running      bool          `json:"running"`
	Workers      int           `json:"workers"`
	QueueLen     int           `json:"queue_len"`
	QueueCap     int           `json:"queue_cap"`
	InFlight     int           `json:"in_flight"`
	Completed    uint64        `json:"completed"`
	Failed       uint64        `json:"failed"`
	DroppedFull  uint64        `json:"dropped_full"`
	DroppedStale uint64        `json:"dropped_stale"`
	Overlaps     uint64        `json:"overlaps"`
	History      []HistoryItem `json:"history"`
}
