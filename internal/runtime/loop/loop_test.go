package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "hitgrab/pkg/logx"
)

func start(t *testing.T, l *Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	return func() {
		cancel()
		<-l.Done()
	}
}

func TestPostRunsInOrder(t *testing.T) {
	l := New(Config{}, logx.Nop())
	stop := start(t, l)
	defer stop()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatalf("post %d refused", i)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var n int
	if err := l.Call(ctx, func() { n = len(got) }); err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("ran %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order %v", got)
		}
	}
}

func TestTickAndPanicRecovery(t *testing.T) {
	l := New(Config{Tick: 5 * time.Millisecond}, logx.Nop())
	var ticks atomic.Int32
	l.OnTick(func(time.Time) { ticks.Add(1) })
	stop := start(t, l)
	defer stop()

	l.Post(func() { panic("boom") })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Call(ctx, func() {}); err != nil {
		t.Fatalf("loop died after panic: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for ticks.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ticks=%d", ticks.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoppedLoopRefusesWork(t *testing.T) {
	l := New(Config{}, logx.Nop())
	stop := start(t, l)
	stop()
	if l.Post(func() {}) {
		t.Fatalf("post accepted after stop")
	}
	if err := l.Call(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("call err=%v", err)
	}
}

func TestPostFullQueue(t *testing.T) {
	l := New(Config{Buffer: 1}, logx.Nop())
	if !l.Post(func() {}) {
		t.Fatalf("first post refused")
	}
	if l.Post(func() {}) {
		t.Fatalf("post accepted on full queue")
	}
}
