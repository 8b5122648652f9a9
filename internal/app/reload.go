package app

import (
	"context"
	"strings"

	"stockwatch/internal/config"
	logx "stockwatch/pkg/logx"
)

// reloadLoop applies published configs. Logging and notify pacing are
// swapped live; anything else is logged as needing a restart.
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
			newCfg = drainLatest(sub, newCfg)
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// drainLatest coalesces bursts: only the newest queued config is applied.
func drainLatest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "notify":
			if config.NotifyRateOnly(oldCfg, newCfg) {
				ncfg, err := mapNotifierConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
					continue
				}
				a.disp.Apply(ncfg)
			}
		}
	}

	if pending := config.RestartRequired(oldCfg, newCfg, sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.Strings("sections", pending))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
