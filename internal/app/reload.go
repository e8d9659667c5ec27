package app

import (
	"context"
	"strings"

	"hitgrab/internal/config"
	"hitgrab/internal/fetch"
	logx "hitgrab/pkg/logx"
)

// validateMapped rejects a reload that any component mapping would refuse.
// It runs before the config is committed.
func validateMapped(cfg *config.Config) error {
	t, err := mapTimers(cfg)
	if err != nil {
		return err
	}
	if _, err := mapRegistryConfig(cfg, t); err != nil {
		return err
	}
	if _, err := mapFetchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGroupingConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSearchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err = fetch.NewClient(mapClientConfig(cfg))
	return err
}

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if changed["telegram"] {
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}
	if changed["remote"] {
		if err := a.remote.apply(newCfg); err != nil {
			a.log.Warn("invalid remote config; keeping previous", logx.Err(err))
		}
	}
	if changed["fetch"] {
		if fcfg, err := mapFetchConfig(newCfg); err != nil {
			a.log.Warn("invalid fetch config; keeping previous", logx.Err(err))
		} else {
			a.pool.Apply(ctx, fcfg)
		}
	}
	if changed["notifier"] {
		a.applyNotifier(ctx, newCfg)
	}
	if changed["debug"] {
		a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(newCfg))
	}
	if changed["groupings"] {
		a.clock.SetTimezone(newCfg.Groupings.Timezone)
	}
	if changed["timers"] || changed["remote"] || changed["registry"] || changed["search"] || changed["groupings"] {
		a.applyLoopOwned(newCfg, changed)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, newCfg *config.Config) {
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		a.notif.Stop(ctx)
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(a.sup.Context())
	}
}

// applyLoopOwned hands the loop-owned part of a reload to the event loop.
// timers.tick only applies on restart.
func (a *App) applyLoopOwned(newCfg *config.Config, changed map[string]bool) {
	t, err := mapTimers(newCfg)
	if err != nil {
		a.log.Warn("invalid timers config; keeping previous", logx.Err(err))
		return
	}
	rcfg, err := mapRegistryConfig(newCfg, t)
	if err != nil {
		a.log.Warn("invalid registry config; keeping previous", logx.Err(err))
		return
	}
	scfg, err := mapSearchConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid search config; keeping previous", logx.Err(err))
		return
	}
	loc, err := mapLocation(newCfg)
	if err != nil {
		a.log.Warn("invalid groupings timezone; keeping previous", logx.Err(err))
		return
	}
	pageSize := newCfg.Remote.SearchPageSize
	ok := a.loop.Post(func() {
		if changed["timers"] {
			a.sched.Apply(t.sched)
		}
		a.reg.Apply(rcfg)
		a.bridge.Apply(scfg)
		a.jobGroups.SetLocation(loc)
		a.trigGroups.SetLocation(loc)
		if changed["remote"] || changed["timers"] {
			a.schedulePollers(t, pageSize)
		}
		a.timers = t
		a.pageSize = pageSize
	})
	if !ok {
		a.log.Warn("config not applied to the event loop (loop busy or stopped)")
	}
}
