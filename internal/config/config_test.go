package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: debug
  console: true
timers:
  interval: 1000ms
  ham_interval: 900ms
  ham_delay: 6s
remote:
  cookies:
    session: secret
  queue_every: 30s
storage:
  driver: sqlite
  path: ./hitgrab.db
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "hitgrab.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if cfg.Remote.Cookies["session"] != "secret" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("load did not commit")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode("c.yaml", []byte("timers:\n  intervall: 1s\n")); err == nil {
		t.Fatalf("want unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"logging":{}} {}`)); err == nil {
		t.Fatalf("want trailing data error")
	}
	if _, err := Decode("c.yaml", nil); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *Config)
		ok   bool
	}{
		{"empty", func(c *Config) {}, true},
		{"interval too short", func(c *Config) { c.Timers.Interval = "500ms" }, false},
		{"interval max", func(c *Config) { c.Timers.Interval = "15s" }, true},
		{"ham interval", func(c *Config) { c.Timers.HamInterval = "100ms" }, true},
		{"ham delay too long", func(c *Config) { c.Timers.HamDelay = "31s" }, false},
		{"bad duration", func(c *Config) { c.Remote.QueueEvery = "soon" }, false},
		{"negative duration", func(c *Config) { c.Search.Cooldown = "-1s" }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"bad tz", func(c *Config) { c.Groupings.Timezone = "Mars/Base" }, false},
		{"tz", func(c *Config) { c.Groupings.Timezone = "UTC" }, true},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, false},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, false},
		{"bad base url", func(c *Config) { c.Remote.BaseURL = "worker" }, false},
		{"negative fetch", func(c *Config) { c.Fetch = &FetchConfig{Workers: -1} }, false},
		{"bad debug addr", func(c *Config) { c.Debug = &DebugConfig{Addr: "6060"} }, false},
		{"debug addr", func(c *Config) { c.Debug = &DebugConfig{Enabled: true, Addr: "127.0.0.1:6060"} }, true},
		{"bad owner", func(c *Config) { c.Telegram.OwnerUserIDs = []int64{0} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mut(cfg)
			err := Validate(cfg)
			if (err == nil) != tc.ok {
				t.Fatalf("ok=%v err=%v", tc.ok, err)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Remote: RemoteConfig{Cookies: map[string]string{"s": "1"}}}
	b := &Config{Remote: RemoteConfig{Cookies: map[string]string{"s": "2"}}, Timers: TimersConfig{Interval: "2s"}}
	sections, _ := SummarizeConfigChange(a, b)
	want := map[string]bool{"remote": true, "timers": true}
	if len(sections) != len(want) {
		t.Fatalf("sections=%v", sections)
	}
	for _, s := range sections {
		if !want[s] {
			t.Fatalf("unexpected section %q", s)
		}
	}
	if s, _ := SummarizeConfigChange(a, a); len(s) != 0 {
		t.Fatalf("no-op diff: %v", s)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "hitgrab.json", `{"timers":{"interval":"1s"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if ok, err := m.Reload(context.Background()); err != nil || ok {
		t.Fatalf("unchanged reload ok=%v err=%v", ok, err)
	}
	if err := os.WriteFile(path, []byte(`{"timers":{"interval":"200ms"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(context.Background()); err == nil || ok {
		t.Fatalf("invalid reload accepted")
	}
	if m.Get().Timers.Interval != "1s" {
		t.Fatalf("invalid config committed")
	}
	if err := os.WriteFile(path, []byte(`{"timers":{"interval":"2s"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(context.Background()); err != nil || !ok {
		t.Fatalf("reload ok=%v err=%v", ok, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Timers.Interval != "2s" {
			t.Fatalf("published %+v", cfg.Timers)
		}
	default:
		t.Fatalf("nothing published")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "hitgrab.json", `{}`)
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and reports it.
		_ = os.WriteFile(path, []byte(`{"search":{"cooldown":"5s"}}`), 0o600)
		select {
		case cfg := <-sub:
			if cfg.Search.Cooldown != "5s" {
				t.Fatalf("published %+v", cfg.Search)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("watch did not publish")
		}
	}
}
