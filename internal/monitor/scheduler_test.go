package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	logx "stockwatch/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "*/30 * * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "60s", kind: SpecInterval, source: "duration", duration: time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every", raw: "every:00:05", kind: SpecInterval, source: "hhmm", duration: 5 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestValidateScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "00:00", "01:75", "* * *", "cron:", "500ms"} {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			if err := ValidateSchedule(raw); err == nil {
				t.Fatalf("ValidateSchedule(%q) = nil, want error", raw)
			}
		})
	}
}

func TestStartupSpreadDelaysFirstTickOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, jitter := intervalScheduleWithSpread(10*time.Second, now, "poll")
	if jitter < 0 || jitter >= 10*time.Second {
		t.Fatalf("jitter = %v, want [0, 10s)", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(10*time.Second + jitter); !first.Equal(want) {
		t.Fatalf("first tick = %v, want %v", first, want)
	}
	after := first.Add(time.Second)
	if got, want := sched.Next(after), cron.Every(10*time.Second).Next(after); !got.Equal(want) {
		t.Fatalf("later tick = %v, want %v", got, want)
	}
}

type blockingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	sawDone atomic.Bool
	sawDL   atomic.Bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (r *blockingRunner) RunOnce(ctx context.Context) (Report, error) {
	r.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		r.sawDL.Store(true)
	}
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		r.sawDone.Store(true)
	}
	return Report{}, nil
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not start")
	}
}

func TestSchedulerRunOnStart(t *testing.T) {
	t.Parallel()
	r := newBlockingRunner()
	close(r.release)
	s, err := NewScheduler(SchedulerConfig{Schedule: "1h", RunOnStart: true}, r, logx.Nop())
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitStarted(t, r)
	if next := s.Next(); next.Before(time.Now().Add(59 * time.Minute)) {
		t.Fatalf("Next = %v, want about an hour away", next)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("cycles = %d, want 1", got)
	}
	if !r.sawDL.Load() {
		t.Fatal("cycle context had no deadline")
	}
	if !s.Next().IsZero() {
		t.Fatal("Next after Stop should be zero")
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	t.Parallel()
	r := newBlockingRunner()
	s, err := NewScheduler(SchedulerConfig{Schedule: "60s"}, r, logx.Nop())
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.job.Run()
		close(done)
	}()
	waitStarted(t, r)

	s.job.Run() // returns at once: previous run still in flight
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("cycles = %d, want 1", got)
	}
	close(r.release)
	<-done
}

func TestSchedulerStopCancelsInflightCycle(t *testing.T) {
	t.Parallel()
	r := newBlockingRunner()
	s, err := NewScheduler(SchedulerConfig{Schedule: "*/5 * * * *", RunOnStart: true, CycleTimeout: time.Hour}, r, logx.Nop())
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitStarted(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	if !r.sawDone.Load() {
		t.Fatal("in-flight cycle was not cancelled")
	}
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	if _, err := NewScheduler(SchedulerConfig{Schedule: "sometimes"}, newBlockingRunner(), logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
