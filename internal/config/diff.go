package config

import (
	"reflect"
	"strings"

	logx "hitgrab/pkg/logx"
)

// RestartSections change only on restart.
var RestartSections = map[string]bool{"storage": true, "telegram.token": true}

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (token, cookies) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		changed = append(changed, "telegram.token")
	}
	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Timers != newCfg.Timers {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.String("timers.interval", newCfg.Timers.Interval),
			logx.String("timers.ham_interval", newCfg.Timers.HamInterval),
		)
	}

	// Cookies are secrets; report only that they changed.
	oldR, newR := oldCfg.Remote, newCfg.Remote
	cookiesChanged := !reflect.DeepEqual(oldR.Cookies, newR.Cookies)
	oldR.Cookies, newR.Cookies = nil, nil
	if cookiesChanged || !reflect.DeepEqual(oldR, newR) {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.Bool("remote.cookies_changed", cookiesChanged),
			logx.String("remote.queue_every", newR.QueueEvery),
			logx.String("remote.search_every", newR.SearchEvery),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs, logx.Int("registry.captcha_at", newCfg.Registry.CaptchaAt))
	}
	if oldCfg.Search != newCfg.Search {
		changed = append(changed, "search")
	}
	if oldCfg.Groupings != newCfg.Groupings {
		changed = append(changed, "groupings")
		attrs = append(attrs, logx.String("groupings.timezone", newCfg.Groupings.Timezone))
	}

	if !reflect.DeepEqual(oldCfg.Fetch, newCfg.Fetch) {
		changed = append(changed, "fetch")
		if f := newCfg.Fetch; f != nil {
			attrs = append(attrs, logx.Int("fetch.workers", f.Workers), logx.Float64("fetch.rate_per_sec", f.RatePerSec))
		}
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs, logx.Bool("notifier.enabled", n.Enabled), logx.Int("notifier.chats", len(n.Chats)))
		}
	}
	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		if d := newCfg.Debug; d != nil {
			attrs = append(attrs, logx.Bool("debug.enabled", d.Enabled), logx.String("debug.addr", d.Addr))
		}
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	return changed, attrs
}
