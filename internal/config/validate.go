package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "stockwatch/pkg/logx"
)

// Validate checks values that do not depend on other packages.
// Schedule syntax is checked by the monitor package.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// fetch
	switch c.Fetch.Mode {
	case ModeAuto, ModeEmbeddedSample:
	case ModeLiveHTTP:
		if strings.TrimSpace(c.Fetch.Endpoint) == "" {
			add(errors.New("fetch.endpoint: required when mode is live_http"))
		}
	case ModeLocalFile:
		if strings.TrimSpace(c.Fetch.PayloadFile) == "" {
			add(errors.New("fetch.payload_file: required when mode is local_file"))
		}
	default:
		add(fmt.Errorf("fetch.mode: unknown mode %q", c.Fetch.Mode))
	}
	_, err := ParseDurationField("fetch.timeout", c.Fetch.Timeout)
	add(err)
	if c.Fetch.MaxRetries < 0 {
		add(errors.New("fetch.max_retries: must be >= 0"))
	}
	if c.Fetch.MaxBodyBytes < 0 {
		add(errors.New("fetch.max_body_bytes: must be >= 0"))
	}
	_, err = ParseDurationField("fetch.breaker.open_timeout", c.Fetch.Breaker.OpenTimeout)
	add(err)

	// parser
	if strings.TrimSpace(c.Parser.ListKey) == "" {
		add(errors.New("parser.list_key: required"))
	}
	if strings.TrimSpace(c.Parser.IDKey) == "" {
		add(errors.New("parser.id_key: required"))
	}

	// state
	switch strings.ToLower(strings.TrimSpace(c.State.Driver)) {
	case "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.State.Path) == "" {
			add(fmt.Errorf("state.path: required for driver %q", c.State.Driver))
		}
	case "redis":
		if strings.TrimSpace(c.State.URL) == "" {
			add(errors.New("state.url: required for driver \"redis\""))
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(c.State.DSN) == "" {
			add(errors.New("state.dsn: required for driver \"postgres\""))
		}
	default:
		add(fmt.Errorf("state.driver: unknown driver %q", c.State.Driver))
	}
	_, err = ParseDurationField("state.busy_timeout", c.State.BusyTimeout)
	add(err)

	// notify
	switch strings.ToLower(strings.TrimSpace(c.Notify.Sink)) {
	case SinkTelegram:
		if id := strings.TrimSpace(c.Notify.Telegram.ChatID); id != "" && !strings.HasPrefix(id, "@") {
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				add(fmt.Errorf("notify.telegram.chat_id: expected integer or @channel, got %q", id))
			}
		}
	case SinkKafka, SinkNone, "":
	default:
		add(fmt.Errorf("notify.sink: unknown sink %q", c.Notify.Sink))
	}
	if c.Notify.RatePerSec < 0 {
		add(errors.New("notify.rate_per_sec: must be >= 0"))
	}
	_, err = ParseDurationField("notify.send_timeout", c.Notify.SendTimeout)
	add(err)

	// poll
	if strings.TrimSpace(c.Poll.Schedule) == "" {
		add(errors.New("poll.schedule: required"))
	}
	_, err = ParseDurationField("poll.cycle_timeout", c.Poll.CycleTimeout)
	add(err)
	if tz := strings.TrimSpace(c.Poll.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("poll.timezone: %w", err))
		}
	}

	// logging
	if _, ok := logx.ParseLevel(c.Logging.Level); !ok && strings.TrimSpace(c.Logging.Level) != "" {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	// ops
	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		add(errors.New("ops.addr: required when ops is enabled"))
	}

	return errors.Join(errs...)
}
