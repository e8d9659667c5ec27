package scheduler

import (
	"testing"
	"time"

	logx "hitgrab/pkg/logx"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	fc := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := New(Config{Interval: time.Second, HamInterval: 900 * time.Millisecond}, logx.Nop(), WithClock(fc.Now))
	s.Tick(fc.now)
	return s, fc
}

// advance moves the clock forward in steps, ticking after each one.
func advance(s *Service, fc *fakeClock, total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		fc.now = fc.now.Add(step)
		s.Tick(fc.now)
	}
}

func TestTaskFiresOnInterval(t *testing.T) {
	s, fc := newTestService(t)
	fires := 0
	var elapsed []time.Duration
	s.AddTask(TaskSpec{Owner: 7, OnTick: func(owner int, e time.Duration) {
		if owner != 7 {
			t.Fatalf("owner = %d", owner)
		}
		fires++
		elapsed = append(elapsed, e)
	}})

	advance(s, fc, 3500*time.Millisecond, 10*time.Millisecond)
	if fires != 3 {
		t.Fatalf("fires = %d, want 3", fires)
	}
	if elapsed[0] != 0 || elapsed[1] != time.Second {
		t.Fatalf("elapsed = %v", elapsed)
	}
}

func TestLateTickKeepsCadence(t *testing.T) {
	s, fc := newTestService(t)
	var at []time.Time
	s.AddTask(TaskSpec{OnTick: func(int, time.Duration) { at = append(at, fc.now) }})

	start := fc.now
	fc.now = start.Add(1050 * time.Millisecond)
	s.Tick(fc.now)
	fc.now = start.Add(2000 * time.Millisecond)
	s.Tick(fc.now)
	if len(at) != 2 {
		t.Fatalf("fires = %d, want 2", len(at))
	}
}

func TestSkipSuppressesFiresButKeepsCountdown(t *testing.T) {
	s, fc := newTestService(t)
	fires := 0
	removed := 0
	h := s.AddTask(TaskSpec{
		Duration:  5 * time.Second,
		OnTick:    func(int, time.Duration) { fires++ },
		OnRemoved: func(int) { removed++ },
	})
	s.Skip(h)
	advance(s, fc, 3*time.Second, 100*time.Millisecond)
	if fires != 0 {
		t.Fatalf("skipped task fired %d times", fires)
	}
	s.Unskip(h)
	advance(s, fc, 3*time.Second, 100*time.Millisecond)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s.Has(h) {
		t.Fatal("task should be gone after its duration")
	}
	if fires == 0 || fires > 2 {
		t.Fatalf("fires after unskip = %d", fires)
	}
}

func TestTempDurationOverridesBase(t *testing.T) {
	s, fc := newTestService(t)
	removed := false
	h := s.AddTask(TaskSpec{Duration: time.Minute, TempDuration: 2 * time.Second, OnRemoved: func(int) { removed = true }})
	advance(s, fc, 2500*time.Millisecond, 100*time.Millisecond)
	if !removed || s.Has(h) {
		t.Fatal("temp duration should have removed the task")
	}
}

func TestRemoveTaskDoesNotCallOnRemoved(t *testing.T) {
	s, fc := newTestService(t)
	called := false
	h := s.AddTask(TaskSpec{Duration: time.Second, OnRemoved: func(int) { called = true }})
	s.RemoveTask(h)
	s.RemoveTask(h)
	advance(s, fc, 2*time.Second, 100*time.Millisecond)
	if called {
		t.Fatal("OnRemoved ran for an explicit removal")
	}
}

func TestPauseFreezesFiresAndBudget(t *testing.T) {
	s, fc := newTestService(t)
	fires := 0
	h := s.AddTask(TaskSpec{Duration: 2 * time.Second, OnTick: func(int, time.Duration) { fires++ }})
	s.PauseAll(true)
	advance(s, fc, 10*time.Second, 100*time.Millisecond)
	if fires != 0 || !s.Has(h) {
		t.Fatalf("paused task fired=%d has=%v", fires, s.Has(h))
	}
	s.PauseAll(false)
	advance(s, fc, 1500*time.Millisecond, 100*time.Millisecond)
	if fires != 1 {
		t.Fatalf("fires after resume = %d, want 1", fires)
	}
}

func TestBackgroundTaskRunsWhilePaused(t *testing.T) {
	s, fc := newTestService(t)
	s.PauseAll(true)
	steps := 0
	s.Every("sweep", 0, 200*time.Millisecond, func() bool {
		steps++
		return steps < 3
	})
	advance(s, fc, 2*time.Second, 10*time.Millisecond)
	if steps != 3 {
		t.Fatalf("steps = %d, want 3", steps)
	}
	if s.Len() != 0 {
		t.Fatalf("stepper should have removed itself, len=%d", s.Len())
	}
}

func TestGoHamUsesHamIntervalAndReverts(t *testing.T) {
	s, fc := newTestService(t)
	s.SetHamInterval(700 * time.Millisecond)
	fires := 0
	h := s.AddTask(TaskSpec{OnTick: func(int, time.Duration) { fires++ }})
	s.GoHam(h, 2*time.Second)
	if !s.IsHam(h) {
		t.Fatal("expected ham mode")
	}
	advance(s, fc, 2100*time.Millisecond, 10*time.Millisecond)
	if s.IsHam(h) {
		t.Fatal("ham should have reverted")
	}
	if fires != 3 {
		t.Fatalf("fires during ham = %d, want 3", fires)
	}
}

func TestChangeDurationAndResetStarted(t *testing.T) {
	s, fc := newTestService(t)
	removed := false
	h := s.AddTask(TaskSpec{Duration: 10 * time.Second, OnRemoved: func(int) { removed = true }})
	advance(s, fc, 3*time.Second, 100*time.Millisecond)
	s.ResetStarted(h)
	s.ChangeDuration(h, 4*time.Second)
	advance(s, fc, 3*time.Second, 100*time.Millisecond)
	if removed {
		t.Fatal("countdown should have restarted")
	}
	advance(s, fc, 1500*time.Millisecond, 100*time.Millisecond)
	if !removed {
		t.Fatal("task should expire after the new duration")
	}
}

func TestCallbackMayRemoveOtherTask(t *testing.T) {
	s, fc := newTestService(t)
	var second Handle
	secondFired := false
	s.AddTask(TaskSpec{OnTick: func(int, time.Duration) { s.RemoveTask(second) }})
	second = s.AddTask(TaskSpec{OnTick: func(int, time.Duration) { secondFired = true }})
	advance(s, fc, 1100*time.Millisecond, 100*time.Millisecond)
	if secondFired {
		t.Fatal("removed task fired in the same tick")
	}
}

func TestIntervalIsClamped(t *testing.T) {
	s := New(Config{Interval: time.Millisecond, HamInterval: time.Hour}, logx.Nop())
	cfg := s.Config()
	if cfg.Interval != MinInterval || cfg.HamInterval != MaxInterval {
		t.Fatalf("got %+v", cfg)
	}
}

func TestOnlyOneTaskHams(t *testing.T) {
	s, _ := newTestService(t)
	a := s.AddTask(TaskSpec{StartHam: true})
	b := s.AddTask(TaskSpec{})
	if s.HamHolder() != a {
		t.Fatalf("holder = %d, want %d", s.HamHolder(), a)
	}
	s.GoHam(b, 0)
	if s.IsHam(a) || !s.IsHam(b) || s.HamHolder() != b {
		t.Fatal("ham should move to the second task")
	}
	s.RemoveTask(b)
	if s.HamHolder() != 0 {
		t.Fatal("removed task still holds ham")
	}
}
