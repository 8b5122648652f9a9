package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the environment variables understood by stockwatch on cfg.
//
// Plain-number durations (FETCH_TIMEOUT, POLL_INTERVAL) are seconds.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("API_ENDPOINT"); ok {
		cfg.Fetch.Endpoint = v
	}
	if v, ok := get("PAYLOAD_FILE"); ok {
		cfg.Fetch.PayloadFile = v
	}
	if v, ok := get("FETCH_TIMEOUT"); ok {
		d, err := secondsOrDuration("FETCH_TIMEOUT", v)
		if err != nil {
			return err
		}
		cfg.Fetch.Timeout = d
	}
	if v, ok := get("FETCH_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FETCH_RETRIES: invalid integer %q", v)
		}
		cfg.Fetch.MaxRetries = n
	}
	if v, ok := get("POLL_INTERVAL"); ok {
		d, err := secondsOrDuration("POLL_INTERVAL", v)
		if err != nil {
			return err
		}
		cfg.Poll.Schedule = d
	}
	if v, ok := get("TELEGRAM_BOT_TOKEN"); ok {
		cfg.Notify.Telegram.Token = v
	}
	if v, ok := get("TELEGRAM_CHAT_ID"); ok {
		cfg.Notify.Telegram.ChatID = v
	}
	if v, ok := get("STATE_FILE"); ok {
		cfg.State.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}
