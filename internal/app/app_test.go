package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/config"
	"hitgrab/internal/job"
	"hitgrab/internal/registry"
	"hitgrab/internal/storage"
	logx "hitgrab/pkg/logx"
)

const queueBody = `{"tasks":[{"assignment_id":"a1","deadline":"2030-01-01T00:00:00Z",
"time_to_deadline_in_seconds":600,"project":{"hit_set_id":"G1","requester_id":"A1B2C3D4E5",
"requester_name":"Req","title":"Survey","monetary_reward":{"amount_in_dollars":0.5}}}]}`

func TestMapTimersDefaults(t *testing.T) {
	tm, err := mapTimers(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if tm.sched.Interval != time.Second || tm.sched.HamInterval != 900*time.Millisecond {
		t.Fatalf("sched=%+v", tm.sched)
	}
	if tm.hamDelay != 6*time.Second || tm.queueEvery != time.Minute || tm.searchEvery != 5*time.Second {
		t.Fatalf("timers=%+v", tm)
	}

	tm, err = mapTimers(&config.Config{Remote: config.RemoteConfig{SearchEvery: "0s"}})
	if err != nil || tm.searchEvery != 0 {
		t.Fatalf("search_every 0s: %v %v", tm.searchEvery, err)
	}
	if _, err := mapTimers(&config.Config{Timers: config.TimersConfig{SearchHam: "x"}}); err == nil {
		t.Fatalf("want parse error")
	}
}

func TestMapOptionalSections(t *testing.T) {
	cfg := &config.Config{}
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("storage=%+v err=%v", sc, err)
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || !nc.Enabled {
		t.Fatalf("notifier=%+v err=%v", nc, err)
	}
	fc, err := mapFetchConfig(&config.Config{Fetch: &config.FetchConfig{Workers: 2, Timeout: "3s"}})
	if err != nil || fc.Workers != 2 || fc.Timeout != 3*time.Second {
		t.Fatalf("fetch=%+v err=%v", fc, err)
	}
	cc := mapClientConfig(&config.Config{Remote: config.RemoteConfig{Cookies: map[string]string{"s": "1"}}})
	cfg.Remote.Cookies = map[string]string{"s": "2"}
	if cc.Cookies["s"] != "1" {
		t.Fatalf("client cookies alias the config")
	}
}

func TestValidateMapped(t *testing.T) {
	if err := validateMapped(&config.Config{}); err != nil {
		t.Fatalf("empty config: %v", err)
	}
	bad := &config.Config{Notifier: &config.NotifierConfig{DedupWindow: "later"}}
	if err := validateMapped(bad); err == nil {
		t.Fatalf("want notifier error")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "hitgrab.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func waitFor(t *testing.T, a *App, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := a.Call(ctx, func() { ok = cond() })
		cancel()
		if err == nil && ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppLifecycle(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tasks" {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(queueBody))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	storePath := filepath.Join(dir, "state.json")

	// Seed one stored job.
	st, err := storage.Open(storage.Config{Driver: "file", Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddJob(context.Background(), job.Record{Descriptor: job.Descriptor{GroupID: "G1", Title: "Survey"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	cfgPath := writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"timers": {"tick": "10ms"},
		"remote": {"base_url": %q, "queue_every": "1s", "search_every": "0s"},
		"storage": {"driver": "file", "path": %q}
	}`, srv.URL, storePath))

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.adapter != nil {
		t.Fatalf("adapter built without a token")
	}
	if n := len(a.reg.List()); n != 1 {
		t.Fatalf("restored jobs=%d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, a, "claim queue", func() bool { return a.queue.Loaded() && a.queue.Total() == 1 })
	if hits.Load() == 0 {
		t.Fatalf("queue endpoint never hit")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("app context still live after stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("fatal error recorded: %v", err)
	}
}

func TestApplyTimersReachesLoop(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"timers": {"tick": "10ms"},
		"remote": {"base_url": "http://127.0.0.1:1", "queue_every": "1h", "search_every": "0s"}
	}`)
	a, err := New(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Timers.Interval = "2s"
	a.applyConfig(ctx, oldCfg, &newCfg)

	waitFor(t, a, "scheduler interval", func() bool { return a.sched.Config().Interval == 2*time.Second })
}

func TestStoreFailureStopsApp(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"timers": {"tick": "10ms"},
		"remote": {"base_url": "http://127.0.0.1:1", "queue_every": "1h", "search_every": "0s"}
	}`)
	a, err := New(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	if err := a.store.Close(); err != nil {
		t.Fatal(err)
	}
	var addErr error
	if err := a.Call(ctx, func() {
		_, addErr = a.reg.Add(job.Record{Descriptor: job.Descriptor{GroupID: "G9", Title: "Survey"}}, registry.AddOptions{})
	}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(addErr, registry.ErrHalted) {
		t.Fatalf("add err = %v, want ErrHalted", addErr)
	}

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app kept running after the registry halted")
	}
	if !errors.Is(a.Err(), registry.ErrHalted) {
		t.Fatalf("fatal error = %v, want ErrHalted", a.Err())
	}
}
