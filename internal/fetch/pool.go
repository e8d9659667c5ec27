// Package fetch runs remote requests off the event loop: a bounded worker
// pool with a global request rate, per-key overlap gating and stale-queue
// dropping, plus the HTTP client that talks to the remote service.
package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hitgrab/internal/eventbus"
	"hitgrab/internal/runtime/supervisor"
	logx "hitgrab/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type queued struct {
	task       Task
	enqueuedAt time.Time
	state      *runState
}

type Pool struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	q       chan queued
	sup     *supervisor.Supervisor
	running bool

	stateMu sync.Mutex
	states  map[string]*runState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight     atomic.Int32
	completed    atomic.Uint64
	failed       atomic.Uint64
	droppedFull  atomic.Uint64
	droppedStale atomic.Uint64
	overlaps     atomic.Uint64
	lastWarnAt   atomic.Int64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalized()
	return &Pool{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		limiter: rate.NewLimiter(limitOf(cfg.RatePerSec), cfg.Burst),
		states:  map[string]*runState{},
	}
}

func limitOf(perSec float64) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

// Apply swaps the configuration. Rate and timeouts take effect at once; a
// different worker count or queue size restarts the workers.
func (p *Pool) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	p.mu.Lock()
	prev := p.cfg
	p.cfg = cfg
	running := p.running
	p.mu.Unlock()

	p.limiter.SetLimit(limitOf(cfg.RatePerSec))
	p.limiter.SetBurst(cfg.Burst)

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		p.Stop(ctx)
		p.Start(ctx)
	}
}

// Start launches the workers. It is idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	cfg := p.cfg
	p.q = make(chan queued, cfg.QueueSize)
	p.sup = supervisor.New(ctx, supervisor.WithLogger(p.log.With(logx.String("comp", "fetch"))))
	p.running = true
	q := p.q
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		p.sup.GoRestart(fmt.Sprintf("fetch.worker.%d", idx), func(c context.Context) error {
			p.worker(c, q, idx)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	p.log.Info("fetch pool started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize), logx.Float64("rate", cfg.RatePerSec))
}

// Stop cancels the workers and drops whatever is still queued.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	sup := p.sup
	q := p.q
	p.sup = nil
	p.q = nil
	p.mu.Unlock()

	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("fetch pool stop", logx.Err(err))
	}
	for {
		select {
		case qt := <-q:
			p.drop(qt, ErrStopped)
		default:
			p.log.Info("fetch pool stopped")
			return
		}
	}
}

// Enqueue hands a task to the pool without blocking. A task with a key
// that is already pending is refused with ErrOverlapSkip.
func (p *Pool) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = "fetch"
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	var st *runState
	if t.Key != "" {
		st = p.stateFor(t.Key)
		if !st.tryAcquire() {
			p.overlaps.Add(1)
			p.log.Trace("fetch skipped: already pending", logx.String("key", t.Key))
			return ErrOverlapSkip
		}
	}

	// The send happens under mu so Stop never misses a queued task.
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		if st != nil {
			st.release()
		}
		return ErrStopped
	}
	select {
	case p.q <- queued{task: t, enqueuedAt: time.Now(), state: st}:
		p.mu.Unlock()
		return nil
	default:
	}
	qcap := cap(p.q)
	p.mu.Unlock()

	if st != nil {
		st.release()
	}
	p.droppedFull.Add(1)
	p.publish(eventbus.TypeFetchDropped, HistoryItem{ID: t.ID, Name: t.Name, Started: time.Now(), Error: "queue_full"})
	if p.shouldWarn(time.Now()) {
		p.log.Warn("fetch dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", qcap))
	}
	return ErrQueueFull
}

func (p *Pool) stateFor(key string) *runState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	st := p.states[key]
	if st == nil {
		st = &runState{}
		p.states[key] = st
	}
	return st
}

// Forget drops the overlap state of a key that will not be used again. A
// task still pending on the key keeps its own reference and releases it.
func (p *Pool) Forget(key string) {
	p.stateMu.Lock()
	delete(p.states, key)
	p.stateMu.Unlock()
}

func (p *Pool) trackedKeys() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return len(p.states)
}

func (p *Pool) worker(ctx context.Context, q <-chan queued, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))
	for {
		select {
		case <-ctx.Done():
			return
		case qt := <-q:
			p.inFlight.Add(1)
			p.exec(ctx, qt, rng)
			p.inFlight.Add(-1)
		}
	}
}

func (p *Pool) drop(qt queued, reason error) {
	if qt.state != nil {
		qt.state.release()
	}
	if qt.task.OnDrop != nil {
		qt.task.OnDrop(reason)
	}
}

func (p *Pool) exec(ctx context.Context, qt queued, rng *rand.Rand) {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		p.droppedStale.Add(1)
		p.drop(qt, ErrStale)
		item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}
		p.record(item, cfg)
		p.publish(eventbus.TypeFetchDropped, item)
		if p.shouldWarn(start) {
			p.log.Warn("fetch dropped: stale queue", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
		}
		return
	}
	if qt.state != nil {
		defer qt.state.release()
	}

	timeout := qt.task.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}

	var err error
	attempts := 0
	for attempt := 1; attempt <= 1+max(qt.task.Retries, 0); attempt++ {
		attempts = attempt
		if werr := p.limiter.Wait(ctx); werr != nil {
			if attempt == 1 {
				p.drop(qt, ErrStopped)
				return
			}
			err = werr
			break
		}
		err = p.attempt(ctx, qt.task, timeout)
		if err == nil || IsNoRetry(err) || attempt > qt.task.Retries {
			break
		}
		delay := backoffDelay(cfg, attempt, err, rng)
		p.log.Debug("fetch retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
		case <-tmr.C:
			continue
		}
		break
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		p.failed.Add(1)
		p.log.Debug("fetch failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		p.publish(eventbus.TypeFetchFailed, item)
	} else {
		p.completed.Add(1)
		p.log.Trace("fetch completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	}
	p.record(item, cfg)
}

// attempt runs the task once; a panic becomes an error.
func (p *Pool) attempt(ctx context.Context, t Task, timeout time.Duration) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = NoRetry(errors.Newf("panic: %v", r))
			p.log.Error("fetch panicked", logx.String("task", t.Name), logx.Any("panic", r))
		}
	}()
	return t.Run(runCtx)
}

func backoffDelay(cfg Config, attempt int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	d := cfg.RetryBase
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	// 20% jitter.
	if rng != nil && d > 0 {
		d = time.Duration(float64(d) * (1 + (rng.Float64()*2-1)*0.2))
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func (p *Pool) record(item HistoryItem, cfg Config) {
	p.hmu.Lock()
	p.history = append(p.history, item)
	if len(p.history) > cfg.HistorySize {
		p.history = p.history[len(p.history)-cfg.HistorySize:]
	}
	p.hmu.Unlock()
}

func (p *Pool) publish(typ string, item HistoryItem) {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: item})
	}
}

func (p *Pool) shouldWarn(now time.Time) bool {
	prev := p.lastWarnAt.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return p.lastWarnAt.CompareAndSwap(prev, n)
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	cfg := p.cfg
	q := p.q
	running := p.running
	p.mu.Unlock()

	p.hmu.Lock()
	h := append([]HistoryItem(nil), p.history...)
	p.hmu.Unlock()

	snap := Snapshot{
		Running:      running,
		Workers:      cfg.Workers,
		InFlight:     int(p.inFlight.Load()),
		Completed:    p.completed.Load(),
		Failed:       p.failed.Load(),
		DroppedFull:  p.droppedFull.Load(),
		DroppedStale: p.droppedStale.Load(),
		Overlaps:     p.overlaps.Load(),
		History:      h,
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	return snap
}
