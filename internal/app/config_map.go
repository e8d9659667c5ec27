package app

import (
	"strings"
	"time"

	"hitgrab/internal/config"
	"hitgrab/internal/fetch"
	"hitgrab/internal/grouping"
	"hitgrab/internal/notifier"
	"hitgrab/internal/observability/debug"
	"hitgrab/internal/registry"
	"hitgrab/internal/runtime/loop"
	"hitgrab/internal/search"
	"hitgrab/internal/storage"
	"hitgrab/internal/task/scheduler"
	telegram "hitgrab/internal/transport/telegram/adapter"
	logx "hitgrab/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerMin: l.Alerts.RatePerMin,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

// timers are the parsed timer knobs shared by several components.
type timers struct {
	sched       scheduler.Config
	hamDelay    time.Duration
	searchDur   time.Duration
	searchHam   time.Duration
	tick        time.Duration
	queueEvery  time.Duration
	searchEvery time.Duration
}

func mapTimers(cfg *config.Config) (timers, error) {
	var (
		t   timers
		err error
	)
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"timers.interval", cfg.Timers.Interval, scheduler.DefaultInterval, &t.sched.Interval},
		{"timers.ham_interval", cfg.Timers.HamInterval, scheduler.DefaultHamInterval, &t.sched.HamInterval},
		{"timers.ham_delay", cfg.Timers.HamDelay, 6 * time.Second, &t.hamDelay},
		{"timers.search_duration", cfg.Timers.SearchDuration, 12 * time.Second, &t.searchDur},
		{"timers.tick", cfg.Timers.Tick, 50 * time.Millisecond, &t.tick},
		{"remote.queue_every", cfg.Remote.QueueEvery, 60 * time.Second, &t.queueEvery},
	}
	for _, f := range fields {
		if *f.dst, err = config.ParseDurationOrDefault(f.path, f.raw, f.def); err != nil {
			return timers{}, err
		}
	}
	if t.searchHam, err = config.ParseDurationField("timers.search_ham", cfg.Timers.SearchHam); err != nil {
		return timers{}, err
	}
	// An explicit "0s" turns the search poller off.
	if strings.TrimSpace(cfg.Remote.SearchEvery) == "" {
		t.searchEvery = 5 * time.Second
	} else if t.searchEvery, err = config.ParseDurationField("remote.search_every", cfg.Remote.SearchEvery); err != nil {
		return timers{}, err
	}
	return t, nil
}

func mapLoopConfig(t timers) loop.Config {
	return loop.Config{Tick: t.tick}
}

func mapRegistryConfig(cfg *config.Config, t timers) (registry.Config, error) {
	rc := cfg.Registry
	sweep, err := config.ParseDurationField("registry.sweep_spacing", rc.SweepSpacing)
	if err != nil {
		return registry.Config{}, err
	}
	storeTimeout, err := config.ParseDurationField("registry.store_timeout", rc.StoreTimeout)
	if err != nil {
		return registry.Config{}, err
	}
	return registry.Config{
		CaptchaAt:      rc.CaptchaAt,
		SweepSpacing:   sweep,
		UnpauseBelow:   rc.UnpauseBelow,
		SearchDuration: t.searchDur,
		SearchHam:      t.searchHam,
		AutoHam:        t.hamDelay,
		StoreTimeout:   storeTimeout,
	}, nil
}

func mapSearchConfig(cfg *config.Config) (search.Config, error) {
	cd, err := config.ParseDurationField("search.cooldown", cfg.Search.Cooldown)
	if err != nil {
		return search.Config{}, err
	}
	return search.Config{Cooldown: cd}, nil
}

func mapGroupingConfig(cfg *config.Config) (grouping.Config, error) {
	g := cfg.Groupings
	first, err := config.ParseDurationField("groupings.stagger_first", g.StaggerFirst)
	if err != nil {
		return grouping.Config{}, err
	}
	step, err := config.ParseDurationField("groupings.stagger_step", g.StaggerStep)
	if err != nil {
		return grouping.Config{}, err
	}
	storeTimeout, err := config.ParseDurationField("registry.store_timeout", cfg.Registry.StoreTimeout)
	if err != nil {
		return grouping.Config{}, err
	}
	return grouping.Config{StaggerFirst: first, StaggerStep: step, StoreTimeout: storeTimeout}, nil
}

// mapLocation resolves the groupings timezone. Empty is local time.
func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Groupings.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func mapFetchConfig(cfg *config.Config) (fetch.Config, error) {
	fc := cfg.Fetch
	if fc == nil {
		return fetch.Config{}, nil
	}
	out := fetch.Config{
		Workers:     fc.Workers,
		QueueSize:   fc.QueueSize,
		RatePerSec:  fc.RatePerSec,
		Burst:       fc.Burst,
		HistorySize: fc.HistorySize,
	}
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"fetch.timeout", fc.Timeout, &out.Timeout},
		{"fetch.max_queue_delay", fc.MaxQueueDelay, &out.MaxQueueDelay},
		{"fetch.retry_base", fc.RetryBase, &out.RetryBase},
		{"fetch.retry_max_delay", fc.RetryMaxDelay, &out.RetryMaxDelay},
	}
	for _, f := range fields {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return fetch.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func mapClientConfig(cfg *config.Config) fetch.ClientConfig {
	r := cfg.Remote
	cookies := make(map[string]string, len(r.Cookies))
	for k, v := range r.Cookies {
		cookies[k] = v
	}
	return fetch.ClientConfig{
		BaseURL:   r.BaseURL,
		UserAgent: r.UserAgent,
		Cookies:   cookies,
		MaxBody:   r.MaxBody,
	}
}

// mapNotifierConfig fills defaults when the section is omitted: the notifier
// is then enabled but has no chats, so only the log sees alerts.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true, DedupWindow: 30 * time.Second}, nil
	}
	out := notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
		Chats:           append([]int64(nil), nc.Chats...),
		ThreadID:        nc.ThreadID,
		Claims:          nc.Claims,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 30*time.Second); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	d := cfg.Debug
	if d == nil {
		return debug.Config{}
	}
	return debug.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}
