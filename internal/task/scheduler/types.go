package scheduler

import (
	"time"
)

// Config holds the timer knobs that apply to every task.
type Config struct {
	// Interval is the default fire interval of a task.
	Interval time.Duration
	// HamInterval is the fire interval of a task in ham mode.
	HamInterval time.Duration
}

const (
	DefaultInterval    = 1000 * time.Millisecond
	DefaultHamInterval = 900 * time.Millisecond

	MinInterval    = 700 * time.Millisecond
	MinHamInterval = 100 * time.Millisecond
	MaxInterval    = 15 * time.Second
)

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.HamInterval <= 0 {
		c.HamInterval = DefaultHamInterval
	}
	c.Interval = clampInterval(c.Interval, MinInterval)
	c.HamInterval = clampInterval(c.HamInterval, MinHamInterval)
	return c
}

func clampInterval(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Handle identifies a registered task. Zero is never issued.
type Handle uint64

// TaskSpec describes a recurring task.
type TaskSpec struct {
	// Name is shown in snapshots.
	Name string
	// Owner is passed back to the callbacks.
	Owner int
	// OnTick runs on every fire with the time since the previous fire
	// (zero on the first).
	OnTick func(owner int, elapsed time.Duration)
	// OnRemoved runs when the task removes itself after its duration ran out.
	// It does not run for RemoveTask.
	OnRemoved func(owner int)

	// Duration bounds the active time of the task; zero is unbounded.
	Duration time.Duration
	// TempDuration overrides Duration for this run when positive.
	TempDuration time.Duration

	StartHam bool
	// TempHam bounds the initial ham period; zero keeps ham until HamOff.
	TempHam time.Duration

	StartSkipped bool

	// Interval overrides Config.Interval when positive.
	Interval time.Duration
	// FirstDelay delays the first fire; zero waits one interval unless
	// Immediate is set.
	FirstDelay time.Duration
	Immediate  bool
	// Background tasks keep firing while the service is paused.
	Background bool
}

type task struct {
	h    Handle
	spec TaskSpec

	next     time.Time
	lastFire time.Time

	skipped bool
	ham     bool
	hamLeft time.Duration // zero = unbounded
	active  time.Duration
}

func (t *task) budget() time.Duration {
	if t.spec.TempDuration > 0 {
		return t.spec.TempDuration
	}
	return t.spec.Duration
}

// TaskInfo is a read-only view of a task.
type TaskInfo struct {
	Handle     Handle
	Name       string
	Owner      int
	Skipped    bool
	Ham        bool
	Background bool
	Next       time.Time
	LastFire   time.Time
	Active     time.Duration
	Budget     time.Duration
}

// Snapshot is a read-only view of the service.
type Snapshot struct {
	Paused      bool
	Interval    time.Duration
	HamInterval time.Duration
	Tasks       []TaskInfo
}
