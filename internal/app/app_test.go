package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stockwatch/internal/config"
	"stockwatch/internal/notifier"
	"stockwatch/internal/runtime/supervisor"
	logx "stockwatch/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunOnceEmbeddedSample(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfgPath := writeConfig(t, `
fetch:
  mode: embedded_sample
state:
  driver: file
  path: `+statePath+`
notify:
  sink: none
poll:
  schedule: 60s
  cycle_timeout: 5s
logging:
  level: ERROR
  console: true
`)

	ctx := context.Background()
	a, err := New(ctx, cfgPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rep, err := a.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if rep.Products != 1 || rep.Transitions != 1 {
		t.Fatalf("report = %+v, want 1 product and 1 transition", rep)
	}
	// sink none: the alert is counted as failed but the state still advances
	if rep.Failed != 1 || !rep.StateSaved {
		t.Fatalf("report = %+v, want failed=1 state_saved=true", rep)
	}
	if err := a.Stop(ctx, StopOnceDone); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	b, err := New(ctx, cfgPath)
	if err != nil {
		t.Fatalf("New() second error = %v", err)
	}
	defer b.Stop(ctx, StopOnceDone)
	rep, err = b.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() second error = %v", err)
	}
	if rep.Transitions != 0 {
		t.Fatalf("second run transitions = %d, want 0", rep.Transitions)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfgPath := writeConfig(t, `
state:
  driver: memory
notify:
  sink: none
poll:
  schedule: "every fortnight"
`)
	_, err := New(context.Background(), cfgPath)
	if err == nil || !strings.Contains(err.Error(), "poll.schedule") {
		t.Fatalf("New() error = %v, want poll.schedule error", err)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{name: "cron", mutate: func(c *config.Config) { c.Poll.Schedule = "cron:*/5 * * * *" }},
		{name: "hhmm", mutate: func(c *config.Config) { c.Poll.Schedule = "00:05" }},
		{name: "sub-second interval", mutate: func(c *config.Config) { c.Poll.Schedule = "500ms" }, wantErr: true},
		{name: "garbage schedule", mutate: func(c *config.Config) { c.Poll.Schedule = "soon" }, wantErr: true},
		{name: "bad send timeout", mutate: func(c *config.Config) { c.Notify.SendTimeout = "fast" }, wantErr: true},
		{name: "bad busy timeout", mutate: func(c *config.Config) { c.State.BusyTimeout = "-" }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(&cfg)
			err := validateConfig(context.Background(), &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMapSchedulerConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Poll.CycleTimeout = ""
	sc, err := mapSchedulerConfig(&cfg)
	if err != nil {
		t.Fatalf("mapSchedulerConfig() error = %v", err)
	}
	if sc.CycleTimeout != 2*time.Minute {
		t.Fatalf("CycleTimeout = %v, want %v", sc.CycleTimeout, 2*time.Minute)
	}
	if sc.Schedule != "60s" || !sc.RunOnStart {
		t.Fatalf("scheduler config = %+v", sc)
	}
}

func TestMapStorageConfigNormalizesDriver(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.State.Driver = " SQLite "
	cfg.State.BusyTimeout = ""
	sc, err := mapStorageConfig(&cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig() error = %v", err)
	}
	if sc.Driver != "sqlite" {
		t.Fatalf("Driver = %q, want %q", sc.Driver, "sqlite")
	}
	if sc.BusyTimeout != 5*time.Second {
		t.Fatalf("BusyTimeout = %v, want %v", sc.BusyTimeout, 5*time.Second)
	}
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantName string
		wantErr  bool
	}{
		{name: "none", mutate: func(c *config.Config) { c.Notify.Sink = config.SinkNone }},
		{name: "telegram without credentials", mutate: func(c *config.Config) { c.Notify.Sink = config.SinkTelegram }},
		{
			name: "telegram",
			mutate: func(c *config.Config) {
				c.Notify.Telegram.Token = "123:abc"
				c.Notify.Telegram.ChatID = "-100123"
				c.Notify.Telegram.APIURL = "http://127.0.0.1:1"
			},
			wantName: "telegram",
		},
		{name: "kafka without brokers", mutate: func(c *config.Config) { c.Notify.Sink = config.SinkKafka }},
		{
			name: "kafka",
			mutate: func(c *config.Config) {
				c.Notify.Sink = config.SinkKafka
				c.Notify.Kafka.Brokers = []string{"127.0.0.1:1"}
			},
			wantName: "kafka",
		},
		{name: "unknown", mutate: func(c *config.Config) { c.Notify.Sink = "pigeon" }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(&cfg)
			s, closeFn, err := newSender(context.Background(), &cfg, logx.Nop())
			if closeFn == nil {
				t.Fatalf("newSender() close func is nil")
			}
			defer closeFn()
			if (err != nil) != tt.wantErr {
				t.Fatalf("newSender() error = %v, wantErr %v", err, tt.wantErr)
			}
			got := ""
			if s != nil {
				got = s.Name()
			}
			if got != tt.wantName {
				t.Fatalf("sender = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestSDNotifier(t *testing.T) {
	t.Parallel()

	var states []string
	n := &sdNotifier{
		log: logx.Nop(),
		notify: func(state string) (bool, error) {
			states = append(states, state)
			if state == "STOPPING=1" {
				return false, errors.New("socket gone")
			}
			return true, nil
		},
	}
	n.Ready()
	n.Watchdog()
	n.Stopping()

	want := []string{"READY=1", "WATCHDOG=1", "STOPPING=1"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Fatalf("states = %v, want %v", states, want)
	}

	var nilNotifier *sdNotifier
	nilNotifier.Ready()
}

func TestApplyConfigSwapsLiveSections(t *testing.T) {
	t.Parallel()

	svc, log := logx.New(logx.Config{Level: "INFO", Console: true})
	defer svc.Close()
	a := &App{
		log:  log,
		logs: svc,
		disp: notifier.New(notifier.Config{RatePerSec: 1}, nil, log, nil),
	}

	oldCfg := config.Default()
	newCfg := config.Default()
	newCfg.Logging.Level = "DEBUG"
	newCfg.Notify.RatePerSec = 5
	a.applyConfig(&oldCfg, &newCfg)

	if got := svc.Config().Level; got != "DEBUG" {
		t.Fatalf("log level = %q, want %q", got, "DEBUG")
	}
}

func TestDrainLatestKeepsNewest(t *testing.T) {
	t.Parallel()

	ch := make(chan *config.Config, 3)
	first, second, third := config.Default(), config.Default(), config.Default()
	second.Poll.Schedule = "2m"
	third.Poll.Schedule = "3m"
	ch <- &second
	ch <- &third

	got := drainLatest(ch, &first)
	if got.Poll.Schedule != "3m" {
		t.Fatalf("schedule = %q, want %q", got.Poll.Schedule, "3m")
	}
	if len(ch) != 0 {
		t.Fatalf("queue len = %d, want 0", len(ch))
	}
}

func TestHealthyIgnoresRecoveredRestartErrors(t *testing.T) {
	t.Parallel()

	sup := supervisor.New(context.Background(), supervisor.WithCancelOnError(true))
	defer sup.Cancel()
	a := &App{sup: sup}

	recovered := make(chan struct{})
	runs := 0
	sup.GoRestart("flaky", func(ctx context.Context) error {
		runs++
		if runs == 1 {
			return errors.New("address already in use")
		}
		close(recovered)
		<-ctx.Done()
		return nil
	}, supervisor.WithPublishFirstError(true), supervisor.WithRestartBackoff(time.Millisecond, time.Millisecond))

	select {
	case <-recovered:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not restart")
	}
	if sup.Err() == nil {
		t.Fatal("supervisor Err() = nil, want the latched restart error")
	}
	if err := a.healthy(); err != nil {
		t.Fatalf("healthy() = %v, want nil after recovery", err)
	}

	sup.Go("fatal", func(context.Context) error { return errors.New("boom") })
	select {
	case <-sup.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not cancel on fatal error")
	}
	if err := a.healthy(); err == nil {
		t.Fatal("healthy() = nil, want error after fatal failure")
	}
}

func TestValidateConfigRejectsPublicOpsBind(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Ops.Enabled = true
	cfg.Ops.Addr = "0.0.0.0:9090"
	if err := validateConfig(context.Background(), &cfg); err == nil || !strings.Contains(err.Error(), "ops.addr") {
		t.Fatalf("validateConfig() error = %v, want ops.addr error", err)
	}
	cfg.Ops.Token = "s3cret"
	if err := validateConfig(context.Background(), &cfg); err != nil {
		t.Fatalf("validateConfig() with token error = %v", err)
	}
}
