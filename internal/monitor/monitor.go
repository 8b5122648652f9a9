// Package monitor runs stock-check cycles: fetch, parse, classify against the
// durable state, alert on transitions, then persist the updated state.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockwatch/internal/fetch"
	"stockwatch/internal/metrics"
	"stockwatch/internal/notifier"
	"stockwatch/internal/stock"
	"stockwatch/internal/storage"
	logx "stockwatch/pkg/logx"
)

// Notifier delivers one transition. *notifier.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, t stock.StockTransition) notifier.DeliveryResult
}

// Report summarizes one cycle.
type Report struct {
	CycleID     string        `json:"cycle_id"`
	Started     time.Time     `json:"started"`
	Took        time.Duration `json:"took_ns"`
	Source      string        `json:"source"`
	Products    int           `json:"products"`
	Skipped     int           `json:"skipped"`
	Transitions int           `json:"transitions"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	StateLoaded bool          `json:"state_loaded"`
	StateSaved  bool          `json:"state_saved"`
	Error       string        `json:"error,omitempty"`
}

// Deps are the collaborators of a Monitor. Fetcher, Parser, Store and
// Notifier are required.
type Deps struct {
	Fetcher  fetch.Fetcher
	Parser   *stock.Parser
	Store    storage.Store
	Notifier Notifier
	Log      logx.Logger
	Metrics  *metrics.Metrics
	// OnCycle runs after every cycle, successful or not.
	OnCycle func(Report)
	// SaveTimeout bounds the state write. 0 means 10s.
	SaveTimeout time.Duration
}

const defaultSaveTimeout = 10 * time.Second

type Monitor struct {
	fetcher  fetch.Fetcher
	parser   *stock.Parser
	store    storage.Store
	notifier Notifier
	log      logx.Logger
	metrics  *metrics.Metrics
	onCycle  func(Report)
	tracer   trace.Tracer

	saveTimeout time.Duration

	// held for a whole cycle: cycles never overlap
	mu sync.Mutex

	lmu  sync.RWMutex
	last *Report
}

func New(d Deps) (*Monitor, error) {
	switch {
	case d.Fetcher == nil:
		return nil, errors.New("monitor: fetcher required")
	case d.Parser == nil:
		return nil, errors.New("monitor: parser required")
	case d.Store == nil:
		return nil, errors.New("monitor: store required")
	case d.Notifier == nil:
		return nil, errors.New("monitor: notifier required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	saveTimeout := d.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = defaultSaveTimeout
	}
	return &Monitor{
		fetcher:  d.Fetcher,
		parser:   d.Parser,
		store:    d.Store,
		notifier: d.Notifier,
		log:      log.With(logx.String("comp", "monitor")),
		metrics:  d.Metrics,
		onCycle:  d.OnCycle,
		tracer:   otel.Tracer("stockwatch/internal/monitor"),

		saveTimeout: saveTimeout,
	}, nil
}

// RunOnce executes one cycle.
//
// A fetch or whole-payload parse failure is returned and leaves the durable
// state untouched. Store and delivery failures are logged and reflected in
// the report; the cycle still completes and returns a nil error.
func (m *Monitor) RunOnce(ctx context.Context) (rep Report, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep = Report{
		CycleID: uuid.NewString(),
		Started: time.Now(),
		Source:  m.fetcher.Source(),
	}
	ctx, span := m.tracer.Start(ctx, "monitor.cycle", trace.WithAttributes(
		attribute.String("cycle_id", rep.CycleID),
		attribute.String("source", rep.Source),
	))
	log := m.log.With(logx.String("cycle_id", rep.CycleID))

	result := "ok"
	defer func() {
		rep.Took = time.Since(rep.Started)
		if err != nil {
			rep.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.SetAttributes(
			attribute.Int("transitions", rep.Transitions),
			attribute.Bool("state_saved", rep.StateSaved),
		)
		span.End()
		m.metrics.ObserveCycle(result, rep.Took)
		m.setLast(rep)
		if m.onCycle != nil {
			m.onCycle(rep)
		}
	}()

	raw, err := m.fetcher.Fetch(ctx)
	if err != nil {
		result = "fetch_error"
		log.Error("fetch failed; cycle aborted", logx.String("source", rep.Source), logx.Err(err))
		return rep, err
	}

	parsed, err := m.parser.Parse(raw)
	if err != nil {
		result = "parse_error"
		log.Error("payload unreadable; cycle aborted", logx.Int("bytes", len(raw)), logx.Err(err))
		return rep, err
	}
	if parsed.ListMissing {
		log.Warn("product list missing from payload")
	}
	for _, sk := range parsed.Skipped {
		log.Warn("skipping product entry", logx.Int("index", sk.Index), logx.String("reason", sk.Reason))
	}
	rep.Products = len(parsed.Products)
	rep.Skipped = len(parsed.Skipped)
	m.metrics.AddParseSkipped(rep.Skipped)

	previous, lerr := m.store.Load(ctx)
	if lerr != nil {
		m.metrics.IncStateLoadFailure()
		log.Warn("state load failed; treating every product as first seen",
			logx.String("driver", m.store.Driver()), logx.Err(lerr))
		previous = map[string]bool{}
	} else {
		rep.StateLoaded = true
	}

	transitions, updated := stock.Classify(parsed.Products, previous)
	rep.Transitions = len(transitions)
	m.metrics.AddTransitions(rep.Transitions)

	for _, t := range transitions {
		if res := m.notifier.Notify(ctx, t); res.OK() {
			rep.Sent++
		} else {
			rep.Failed++
		}
	}

	// the state advances whatever the delivery outcome, even when the
	// cycle was cancelled or timed out while alerts were going out
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.saveTimeout)
	serr := m.store.Save(sctx, updated)
	cancel()
	if serr != nil {
		m.metrics.IncStateSaveFailure()
		log.Error("state save failed; transitions may be re-alerted next cycle",
			logx.String("driver", m.store.Driver()), logx.Err(serr))
	} else {
		rep.StateSaved = true
	}
	m.metrics.SetTrackedProducts(len(updated))

	fields := []logx.Field{
		logx.Int("products", rep.Products),
		logx.Int("skipped", rep.Skipped),
		logx.Int("transitions", rep.Transitions),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Bool("state_saved", rep.StateSaved),
		logx.Duration("took", time.Since(rep.Started)),
	}
	if rep.Transitions > 0 {
		log.Info("cycle complete", fields...)
	} else {
		log.Debug("cycle complete", fields...)
	}
	return rep, nil
}

// LastReport returns the most recent cycle report.
func (m *Monitor) LastReport() (Report, bool) {
	m.lmu.RLock()
	defer m.lmu.RUnlock()
	if m.last == nil {
		return Report{}, false
	}
	return *m.last, true
}

func (m *Monitor) setLast(r Report) {
	m.lmu.Lock()
	m.last = &r
	m.lmu.Unlock()
}
