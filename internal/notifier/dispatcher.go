package notifier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"stockwatch/internal/metrics"
	"stockwatch/internal/stock"
	logx "stockwatch/pkg/logx"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultHistorySize = 100
)

// Dispatcher delivers transitions one at a time. It is safe for concurrent use.
type Dispatcher struct {
	sender  Sender
	log     logx.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	limiter     *rate.Limiter
	sendTimeout time.Duration

	sent         atomic.Uint64
	failed       atomic.Uint64
	unconfigured atomic.Uint64

	hmu      sync.Mutex
	history  []HistoryItem
	histSize int
}

// New returns a dispatcher. A nil sender means delivery is not configured.
func New(cfg Config, sender Sender, log logx.Logger, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		sender:  sender,
		log:     log.With(logx.String("comp", "notifier")),
		metrics: m,
	}
	d.Apply(cfg)
	return d
}

// Apply swaps pacing and timeout settings at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		// burst = rate so a short spike of transitions is not serialized needlessly
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	d.mu.Lock()
	d.limiter = lim
	d.sendTimeout = cfg.SendTimeout
	d.mu.Unlock()

	d.hmu.Lock()
	d.histSize = cfg.HistorySize
	d.trimHistoryLocked()
	d.hmu.Unlock()
}

// Configured reports whether a sink is available.
func (d *Dispatcher) Configured() bool { return d.sender != nil }

// Sink names the configured sender ("" when not configured).
func (d *Dispatcher) Sink() string {
	if d.sender == nil {
		return ""
	}
	return d.sender.Name()
}

// Notify delivers one transition. It never panics and never returns an error.
func (d *Dispatcher) Notify(ctx context.Context, t stock.StockTransition) (res DeliveryResult) {
	start := time.Now()
	log := d.log.With(logx.String("product_id", t.ProductID))

	if d.sender == nil {
		d.unconfigured.Add(1)
		d.metrics.IncDelivery("unconfigured")
		log.Debug("notifier inactive; skipping send", logx.String("name", t.Name))
		return DeliveryResult{Status: Failed, Reason: ErrNotConfigured.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			res = DeliveryResult{Status: Failed, Reason: fmt.Sprintf("panic: %v", r)}
			log.Error("notify panic", logx.Any("panic", r))
		}
		d.record(t, res, time.Since(start))
	}()

	d.mu.Lock()
	lim := d.limiter
	timeout := d.sendTimeout
	d.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return DeliveryResult{Status: Failed, Reason: "rate limit: " + err.Error()}
	}

	msg := Message{Text: FormatMessage(t), Transition: t}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	err := d.sender.Send(sctx, msg)
	cancel()
	if err != nil {
		return DeliveryResult{Status: Failed, Reason: err.Error()}
	}
	return DeliveryResult{Status: Sent}
}

func (d *Dispatcher) record(t stock.StockTransition, res DeliveryResult, took time.Duration) {
	fields := []logx.Field{
		logx.String("product_id", t.ProductID),
		logx.String("name", t.Name),
		logx.String("sink", d.sender.Name()),
		logx.Duration("took", took),
	}
	if res.OK() {
		d.sent.Add(1)
		d.metrics.IncDelivery("sent")
		d.log.Info("alert sent", fields...)
	} else {
		d.failed.Add(1)
		d.metrics.IncDelivery("failed")
		d.log.Error("alert delivery failed", append(fields, logx.String("reason", res.Reason))...)
	}

	d.hmu.Lock()
	d.history = append(d.history, HistoryItem{
		At:        time.Now(),
		ProductID: t.ProductID,
		Name:      t.Name,
		Status:    res.Status.String(),
		Reason:    res.Reason,
		TookMS:    took.Milliseconds(),
	})
	d.trimHistoryLocked()
	d.hmu.Unlock()
}

func (d *Dispatcher) trimHistoryLocked() {
	if d.histSize > 0 && len(d.history) > d.histSize {
		d.history = append([]HistoryItem(nil), d.history[len(d.history)-d.histSize:]...)
	}
}

// History returns recent deliveries, oldest first.
func (d *Dispatcher) History() []HistoryItem {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return append([]HistoryItem(nil), d.history...)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:         d.sent.Load(),
		Failed:       d.failed.Load(),
		Unconfigured: d.unconfigured.Load(),
	}
}
