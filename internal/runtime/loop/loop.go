// Package loop is the single goroutine that owns registry, scheduler and
// grouping state. Other goroutines hand work to it with Post or Call.
package loop

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	logx "hitgrab/pkg/logx"
)

var ErrStopped = errors.New("event loop stopped")

type Config struct {
	// Buffer is the posted-work queue size. Default 1024.
	Buffer int
	// Tick is the scheduler resolution. Default 50ms.
	Tick time.Duration
}

type Loop struct {
	cfg    Config
	log    logx.Logger
	work   chan func()
	done   chan struct{}
	onTick func(now time.Time)
}

func New(cfg Config, log logx.Logger) *Loop {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:  cfg,
		log:  log,
		work: make(chan func(), cfg.Buffer),
		done: make(chan struct{}),
	}
}

// OnTick sets the per-tick callback. Call before Run.
func (l *Loop) OnTick(fn func(now time.Time)) { l.onTick = fn }

// Post queues fn without blocking. It reports false when the loop has
// stopped or the queue is full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.work <- fn:
		return true
	default:
		l.log.Warn("event loop queue full, work dropped", logx.Int("cap", cap(l.work)))
		return false
	}
}

// Call runs fn on the loop and waits for it.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	res := make(chan struct{})
	wrapped := func() {
		defer close(res)
		fn()
	}
	select {
	case l.work <- wrapped:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-res:
		return nil
	case <-l.done:
		// fn may still have run; callers only care that the loop is gone.
		select {
		case <-res:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run executes posted work and ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	t := time.NewTicker(l.cfg.Tick)
	defer t.Stop()
	l.log.Debug("event loop started", logx.Duration("tick", l.cfg.Tick))
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("event loop stopped")
			return nil
		case fn := <-l.work:
			l.safe("work", fn)
		case now := <-t.C:
			if l.onTick != nil {
				l.safe("tick", func() { l.onTick(now) })
			}
		}
	}
}

// safe keeps one bad callback from taking down the state owner.
func (l *Loop) safe(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in event loop",
				logx.String("kind", kind),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	fn()
}
