package config

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Timer ranges accepted from config.
const (
	MinInterval    = 700 * time.Millisecond
	MinHamInterval = 100 * time.Millisecond
	MaxInterval    = 15 * time.Second
	MinHamDelay    = time.Second
	MaxHamDelay    = 30 * time.Second
)

// Validate rejects configs the daemon cannot apply. A failed hot reload
// keeps the previous config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return errors.Newf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Alerts.RatePerMin < 0 {
		return errors.New("logging.alerts.rate_per_min must be >= 0")
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			return errors.Newf("telegram.owner_user_ids: invalid id %d", id)
		}
	}

	checks := []struct {
		path, raw string
	}{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"timers.search_duration", cfg.Timers.SearchDuration},
		{"timers.search_ham", cfg.Timers.SearchHam},
		{"timers.tick", cfg.Timers.Tick},
		{"remote.queue_every", cfg.Remote.QueueEvery},
		{"remote.search_every", cfg.Remote.SearchEvery},
		{"registry.sweep_spacing", cfg.Registry.SweepSpacing},
		{"registry.store_timeout", cfg.Registry.StoreTimeout},
		{"search.cooldown", cfg.Search.Cooldown},
		{"groupings.stagger_first", cfg.Groupings.StaggerFirst},
		{"groupings.stagger_step", cfg.Groupings.StaggerStep},
	}
	if f := cfg.Fetch; f != nil {
		checks = append(checks,
			struct{ path, raw string }{"fetch.timeout", f.Timeout},
			struct{ path, raw string }{"fetch.max_queue_delay", f.MaxQueueDelay},
			struct{ path, raw string }{"fetch.retry_base", f.RetryBase},
			struct{ path, raw string }{"fetch.retry_max_delay", f.RetryMaxDelay},
		)
		if f.Workers < 0 || f.QueueSize < 0 || f.Burst < 0 || f.HistorySize < 0 || f.RatePerSec < 0 {
			return errors.New("fetch: counts and rates must be >= 0")
		}
	}
	if n := cfg.Notifier; n != nil {
		checks = append(checks,
			struct{ path, raw string }{"notifier.retry_base", n.RetryBase},
			struct{ path, raw string }{"notifier.retry_max_delay", n.RetryMaxDelay},
			struct{ path, raw string }{"notifier.dedup_window", n.DedupWindow},
		)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			return errors.New("notifier: counts and rates must be >= 0")
		}
	}
	if s := cfg.Storage; s != nil {
		checks = append(checks, struct{ path, raw string }{"storage.busy_timeout", s.BusyTimeout})
	}
	for _, c := range checks {
		if _, err := ParseDurationField(c.path, c.raw); err != nil {
			return err
		}
	}

	if err := durationIn("timers.interval", cfg.Timers.Interval, MinInterval, MaxInterval); err != nil {
		return err
	}
	if err := durationIn("timers.ham_interval", cfg.Timers.HamInterval, MinHamInterval, MaxInterval); err != nil {
		return err
	}
	if err := durationIn("timers.ham_delay", cfg.Timers.HamDelay, MinHamDelay, MaxHamDelay); err != nil {
		return err
	}

	if raw := strings.TrimSpace(cfg.Remote.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Newf("remote.base_url: invalid url %q", raw)
		}
	}
	if cfg.Remote.SearchPageSize < 0 || cfg.Remote.MaxBody < 0 {
		return errors.New("remote: sizes must be >= 0")
	}
	if cfg.Registry.CaptchaAt < 0 || cfg.Registry.UnpauseBelow < 0 {
		return errors.New("registry: counts must be >= 0")
	}

	if tz := strings.TrimSpace(cfg.Groupings.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "groupings.timezone: invalid %q", tz)
		}
	}

	if d := cfg.Debug; d != nil && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			return errors.Wrapf(err, "debug.addr: invalid %q", d.Addr)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return errors.New("storage.path is required when storage.driver=sqlite")
			}
		default:
			return errors.Newf("unknown storage.driver: %s", s.Driver)
		}
	}
	return nil
}
