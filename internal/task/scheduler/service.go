package scheduler

import (
	"time"

	logx "hitgrab/pkg/logx"
)

type Service struct {
	cfg   Config
	log   logx.Logger
	clock func() time.Time

	tasks map[Handle]*task
	order []Handle
	seq   Handle

	paused bool
	last   time.Time
	// hamHolder is the only task allowed in ham mode.
	hamHolder Handle
}

type Option func(*Service)

// WithClock sets the time source used when registering tasks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.normalized(),
		log:   log,
		clock: time.Now,
		tasks: map[Handle]*task{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the interval knobs. Running tasks pick them up on their next fire.
func (s *Service) Apply(cfg Config) {
	s.cfg = cfg.normalized()
}

func (s *Service) SetInterval(d time.Duration) {
	s.cfg.Interval = clampInterval(d, MinInterval)
}

func (s *Service) SetHamInterval(d time.Duration) {
	s.cfg.HamInterval = clampInterval(d, MinHamInterval)
}

func (s *Service) Config() Config { return s.cfg }

// AddTask registers a task and returns its handle.
func (s *Service) AddTask(spec TaskSpec) Handle {
	s.seq++
	h := s.seq
	now := s.clock()
	t := &task{h: h, spec: spec, skipped: spec.StartSkipped}
	if spec.StartHam {
		s.takeHam(t, spec.TempHam)
	}
	switch {
	case spec.FirstDelay > 0:
		t.next = now.Add(spec.FirstDelay)
	case spec.Immediate:
		t.next = now
	default:
		t.next = now.Add(s.intervalOf(t))
	}
	s.tasks[h] = t
	s.order = append(s.order, h)
	s.log.Trace("task added", logx.Uint64("handle", uint64(h)), logx.String("name", spec.Name), logx.Int("owner", spec.Owner))
	return h
}

// RemoveTask drops a task without running OnRemoved. Unknown handles are ignored.
func (s *Service) RemoveTask(h Handle) {
	s.remove(h)
}

func (s *Service) remove(h Handle) *task {
	t, ok := s.tasks[h]
	if !ok {
		return nil
	}
	delete(s.tasks, h)
	if s.hamHolder == h {
		s.hamHolder = 0
	}
	for i, x := range s.order {
		if x == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return t
}

func (s *Service) Has(h Handle) bool {
	_, ok := s.tasks[h]
	return ok
}

func (s *Service) Len() int { return len(s.tasks) }

// Skip keeps the task registered but suppresses its fires. The duration
// countdown keeps running.
func (s *Service) Skip(h Handle) {
	if t := s.tasks[h]; t != nil {
		t.skipped = true
	}
}

func (s *Service) Unskip(h Handle) {
	if t := s.tasks[h]; t != nil {
		t.skipped = false
	}
}

// GoHam switches the task to the ham interval, taking ham away from any
// other task. A positive d reverts it after d of active time.
func (s *Service) GoHam(h Handle, d time.Duration) {
	t := s.tasks[h]
	if t == nil {
		return
	}
	s.takeHam(t, d)
	if soon := s.clock().Add(s.cfg.HamInterval); soon.Before(t.next) {
		t.next = soon
	}
}

func (s *Service) takeHam(t *task, d time.Duration) {
	if prev := s.tasks[s.hamHolder]; prev != nil && prev != t {
		prev.ham = false
		prev.hamLeft = 0
	}
	s.hamHolder = t.h
	t.ham = true
	t.hamLeft = d
}

func (s *Service) HamOff(h Handle) {
	t := s.tasks[h]
	if t == nil {
		return
	}
	t.ham = false
	t.hamLeft = 0
	if s.hamHolder == h {
		s.hamHolder = 0
	}
}

// HamHolder returns the task in ham mode, or zero.
func (s *Service) HamHolder() Handle { return s.hamHolder }

func (s *Service) IsHam(h Handle) bool {
	t := s.tasks[h]
	return t != nil && t.ham
}

// PauseAll freezes or resumes firing and duration countdowns of every
// non-background task.
func (s *Service) PauseAll(pause bool) {
	if s.paused == pause {
		return
	}
	s.paused = pause
	if pause {
		s.log.Debug("timers paused", logx.Int("tasks", len(s.tasks)))
		return
	}
	now := s.clock()
	for _, t := range s.tasks {
		if !t.spec.Background && t.next.Before(now) {
			t.next = now.Add(s.intervalOf(t))
		}
	}
	s.log.Debug("timers resumed", logx.Int("tasks", len(s.tasks)))
}

func (s *Service) Paused() bool { return s.paused }

// ChangeDuration replaces the self-removal budget, keeping the active time
// already spent.
func (s *Service) ChangeDuration(h Handle, d time.Duration) {
	if t := s.tasks[h]; t != nil {
		t.spec.Duration = d
		t.spec.TempDuration = 0
	}
}

// ResetStarted restarts the duration countdown.
func (s *Service) ResetStarted(h Handle) {
	if t := s.tasks[h]; t != nil {
		t.active = 0
	}
}

func (s *Service) intervalOf(t *task) time.Duration {
	if t.ham {
		return s.cfg.HamInterval
	}
	if t.spec.Interval > 0 {
		return t.spec.Interval
	}
	return s.cfg.Interval
}

// Tick advances time to now, expires tasks whose budget ran out and fires
// tasks that are due. The next fire is scheduled from the previous scheduled
// time, so a late tick does not shift the cadence.
func (s *Service) Tick(now time.Time) {
	if s.last.IsZero() {
		s.last = now
	}
	dt := now.Sub(s.last)
	if dt < 0 {
		dt = 0
	}
	s.last = now

	handles := append([]Handle(nil), s.order...)
	for _, h := range handles {
		t := s.tasks[h]
		if t == nil {
			continue
		}
		if s.paused && !t.spec.Background {
			continue
		}

		t.active += dt
		if t.ham && t.hamLeft > 0 {
			t.hamLeft -= dt
			if t.hamLeft <= 0 {
				s.HamOff(h)
			}
		}
		if b := t.budget(); b > 0 && t.active >= b {
			s.remove(h)
			s.log.Debug("task expired", logx.Uint64("handle", uint64(h)), logx.Int("owner", t.spec.Owner), logx.Duration("active", t.active))
			if t.spec.OnRemoved != nil {
				t.spec.OnRemoved(t.spec.Owner)
			}
			continue
		}

		if now.Before(t.next) {
			continue
		}
		iv := s.intervalOf(t)
		t.next = t.next.Add(iv)
		if !t.next.After(now) {
			t.next = now.Add(iv)
		}
		if t.skipped {
			continue
		}
		var elapsed time.Duration
		if !t.lastFire.IsZero() {
			elapsed = now.Sub(t.lastFire)
		}
		t.lastFire = now
		if t.spec.OnTick != nil {
			t.spec.OnTick(t.spec.Owner, elapsed)
		}
	}
}

// Every runs fn as a background task until it returns false or the handle
// is removed.
func (s *Service) Every(name string, first, interval time.Duration, fn func() bool) Handle {
	var h Handle
	h = s.AddTask(TaskSpec{
		Name:       name,
		Interval:   interval,
		FirstDelay: first,
		Immediate:  first <= 0,
		Background: true,
		OnTick: func(int, time.Duration) {
			if !fn() {
				s.RemoveTask(h)
			}
		},
	})
	return h
}

func (s *Service) Snapshot() Snapshot {
	out := Snapshot{
		Paused:      s.paused,
		Interval:    s.cfg.Interval,
		HamInterval: s.cfg.HamInterval,
		Tasks:       make([]TaskInfo, 0, len(s.order)),
	}
	for _, h := range s.order {
		t := s.tasks[h]
		out.Tasks = append(out.Tasks, TaskInfo{
			Handle:     h,
			Name:       t.spec.Name,
			Owner:      t.spec.Owner,
			Skipped:    t.skipped,
			Ham:        t.ham,
			Background: t.spec.Background,
			Next:       t.next,
			LastFire:   t.lastFire,
			Active:     t.active,
			Budget:     t.budget(),
		})
	}
	return out
}
