package config

import (
	"reflect"
	"sort"
	"strings"

	logx "stockwatch/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed top-level sections
// and safe structured attrs for logging (never includes tokens or DSNs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Fetch, newCfg.Fetch) {
		changed = append(changed, "fetch")
		attrs = append(attrs,
			logx.String("fetch.mode", newCfg.Fetch.ResolvedMode()),
			logx.String("fetch.timeout", strings.TrimSpace(newCfg.Fetch.Timeout)),
			logx.Int("fetch.max_retries", newCfg.Fetch.MaxRetries),
		)
	}
	if oldCfg.Parser != newCfg.Parser {
		changed = append(changed, "parser")
		attrs = append(attrs, logx.String("parser.list_key", newCfg.Parser.ListKey))
	}
	if oldCfg.State != newCfg.State {
		changed = append(changed, "state")
		attrs = append(attrs, logx.String("state.driver", newCfg.State.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.sink", newCfg.Notify.Sink),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
			logx.Bool("notify.telegram.token_set", strings.TrimSpace(newCfg.Notify.Telegram.Token) != ""),
		)
	}
	if oldCfg.Poll != newCfg.Poll {
		changed = append(changed, "poll")
		attrs = append(attrs, logx.String("poll.schedule", newCfg.Poll.Schedule))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired returns the changed sections that cannot be applied live.
// Logging is swapped in place and a notify change limited to rate_per_sec
// is applied to the dispatcher's limiter.
func RestartRequired(oldCfg, newCfg *Config, changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging":
		case "notify":
			if !NotifyRateOnly(oldCfg, newCfg) {
				out = append(out, s)
			}
		default:
			out = append(out, s)
		}
	}
	return out
}

// NotifyRateOnly reports whether the notify sections differ only in rate_per_sec.
func NotifyRateOnly(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	a, b := oldCfg.Notify, newCfg.Notify
	a.RatePerSec, b.RatePerSec = 0, 0
	return reflect.DeepEqual(a, b)
}
