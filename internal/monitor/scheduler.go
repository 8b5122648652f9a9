package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "stockwatch/pkg/logx"
)

const defaultCycleTimeout = 2 * time.Minute

// Runner executes one cycle. *Monitor implements it.
type Runner interface {
	RunOnce(ctx context.Context) (Report, error)
}

type SchedulerConfig struct {
	Schedule     string
	RunOnStart   bool
	CycleTimeout time.Duration
	Timezone     string
}

// Scheduler triggers cycles on a cron or interval schedule. A tick that
// fires while a cycle is still running is skipped.
type Scheduler struct {
	cfg    SchedulerConfig
	spec   ParsedSpec
	runner Runner
	log    logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	job     cron.Job
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, r Runner, log logx.Logger) (*Scheduler, error) {
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("poll.schedule: %w", err)
	}
	spec, _ := ParseSchedule(cfg.Schedule)
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:    cfg,
		spec:   spec,
		runner: r,
		log:    log.With(logx.String("comp", "scheduler")),
	}
	cl := cronLogger{log: s.log}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.runCycle))
	return s, nil
}

// Start registers the schedule and, when configured, runs a first cycle
// right away. Cycles run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := loadLocation(s.cfg.Timezone)
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))

	var (
		eid    cron.EntryID
		err    error
		spread time.Duration
	)
	switch s.spec.Kind {
	case SpecInterval:
		var sched cron.Schedule
		sched, spread = intervalScheduleWithSpread(s.spec.Every, time.Now().In(loc), "poll")
		eid = c.Schedule(sched, s.job)
	default:
		eid, err = c.AddJob(s.spec.Cron, s.job)
		if err != nil {
			return fmt.Errorf("register schedule %q: %w", s.spec.Cron, err)
		}
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.c = c
	s.entry = eid
	c.Start()

	args := []logx.Field{
		logx.String("schedule", strings.TrimSpace(s.cfg.Schedule)),
		logx.String("kind", s.spec.Source),
		logx.String("tz", loc.String()),
		logx.Duration("cycle_timeout", s.cfg.CycleTimeout),
		logx.Time("next", c.Entry(eid).Next),
	}
	if spread > 0 {
		args = append(args, logx.Duration("startup_spread", spread))
	}
	s.log.Info("scheduler started", args...)

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.job.Run()
		}()
	}
	return nil
}

// Stop stops triggering and waits for an in-flight cycle. When ctx ends
// first, the in-flight cycle's context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("cycle still running at shutdown; cancelling")
		cancel()
		<-done
	}
	cancel()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Next is the next scheduled cycle time (zero when not started).
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

func (s *Scheduler) runCycle() {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	if base.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, s.cfg.CycleTimeout)
	defer cancel()
	// RunOnce logs its own failures
	_, _ = s.runner.RunOnce(ctx)
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Warn("previous cycle still running; tick skipped")
		return
	}
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
