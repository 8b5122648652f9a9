package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/config"
	"stockwatch/internal/monitor"
	"stockwatch/internal/notifier"
	"stockwatch/internal/ops"
	"stockwatch/internal/stock"
	"stockwatch/internal/storage"
	"stockwatch/internal/transport/kafka"
	"stockwatch/internal/transport/telegram"
	logx "stockwatch/pkg/logx"
)

// validateConfig covers the checks config.Validate leaves to other packages.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := monitor.ValidateSchedule(cfg.Poll.Schedule); err != nil {
		return fmt.Errorf("poll.schedule: %w", err)
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Ops.Enabled {
		if err := mapOpsConfig(cfg).CheckBind(); err != nil {
			return fmt.Errorf("ops.addr: %w", err)
		}
	}
	_, err := mapSchedulerConfig(cfg)
	return err
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.State
	busy, err := config.ParseDurationOrDefault("state.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		URL:         strings.TrimSpace(sc.URL),
		DSN:         strings.TrimSpace(sc.DSN),
		Key:         strings.TrimSpace(sc.Key),
		BusyTimeout: busy,
	}, nil
}

func mapParserKeys(cfg *config.Config) stock.Keys {
	p := cfg.Parser
	return stock.Keys{
		List:      p.ListKey,
		ID:        p.IDKey,
		Name:      p.NameKey,
		Available: p.AvailableKey,
		Quantity:  p.QuantityKey,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	timeout, err := config.ParseDurationOrDefault("notify.send_timeout", cfg.Notify.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  cfg.Notify.RatePerSec,
		SendTimeout: timeout,
		HistorySize: cfg.Notify.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (monitor.SchedulerConfig, error) {
	timeout, err := config.ParseDurationOrDefault("poll.cycle_timeout", cfg.Poll.CycleTimeout, 2*time.Minute)
	if err != nil {
		return monitor.SchedulerConfig{}, err
	}
	return monitor.SchedulerConfig{
		Schedule:     cfg.Poll.Schedule,
		RunOnStart:   cfg.Poll.RunOnStart,
		CycleTimeout: timeout,
		Timezone:     cfg.Poll.Timezone,
	}, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
	}
}

// newSender builds the configured sink. Missing credentials are not an
// error: the dispatcher then reports every alert as not configured.
// The returned close func is never nil.
func newSender(ctx context.Context, cfg *config.Config, log logx.Logger) (notifier.Sender, func(), error) {
	nop := func() {}
	nc := cfg.Notify
	timeout, err := config.ParseDurationOrDefault("notify.send_timeout", nc.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, nop, err
	}

	switch sink := strings.ToLower(strings.TrimSpace(nc.Sink)); sink {
	case config.SinkTelegram, "":
		s, err := telegram.New(telegram.Config{
			Token:    nc.Telegram.Token,
			ChatID:   nc.Telegram.ChatID,
			ThreadID: nc.Telegram.ThreadID,
			APIURL:   nc.Telegram.APIURL,
			Timeout:  timeout,
		}, log)
		if errors.Is(err, telegram.ErrMissingCredentials) {
			log.Warn("telegram token or chat id missing; alerts will not be delivered")
			return nil, nop, nil
		}
		if err != nil {
			return nil, nop, err
		}
		return s, nop, nil

	case config.SinkKafka:
		if len(nc.Kafka.Brokers) == 0 || strings.TrimSpace(nc.Kafka.Topic) == "" {
			log.Warn("kafka brokers or topic missing; alerts will not be delivered")
			return nil, nop, nil
		}
		s, err := kafka.New(ctx, kafka.Config{
			Brokers:           nc.Kafka.Brokers,
			Topic:             nc.Kafka.Topic,
			CreateTopic:       nc.Kafka.CreateTopic,
			Partitions:        nc.Kafka.Partitions,
			ReplicationFactor: nc.Kafka.ReplicationFactor,
		}, log)
		if err != nil {
			return nil, nop, err
		}
		return s, s.Close, nil

	case config.SinkNone:
		log.Info("notification sink disabled")
		return nil, nop, nil

	default:
		return nil, nop, fmt.Errorf("notify.sink: unknown sink %q", nc.Sink)
	}
}
