package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"stockwatch/internal/metrics"
	"stockwatch/internal/stock"
	logx "stockwatch/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	msgs  []Message
	errs  map[string]error // by product id
	block bool
	panic bool
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, msg Message) error {
	if f.panic {
		panic("sender exploded")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[msg.Transition.ProductID]; err != nil {
		return err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func transition(id, name string) stock.StockTransition {
	return stock.StockTransition{ProductID: id, Name: name, NewInStock: true}
}

func TestNotifyNotConfigured(t *testing.T) {
	t.Parallel()
	m := metrics.New(prometheus.NewRegistry())
	d := New(Config{}, nil, logx.Nop(), m)

	for i := 0; i < 3; i++ {
		res := d.Notify(context.Background(), transition("a", "A"))
		if res.Status != Failed || res.Reason != "not configured" {
			t.Fatalf("Notify = %+v, want Failed(not configured)", res)
		}
	}
	if d.Configured() {
		t.Fatal("Configured = true, want false")
	}
	if got := d.Stats().Unconfigured; got != 3 {
		t.Fatalf("Unconfigured = %d, want 3", got)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("unconfigured")); got != 3 {
		t.Fatalf("deliveries{unconfigured} = %v, want 3", got)
	}
	if len(d.History()) != 0 {
		t.Fatal("unconfigured calls must not enter history")
	}
}

func TestNotifyIsolatesFailures(t *testing.T) {
	t.Parallel()
	s := &fakeSender{errs: map[string]error{"a": errors.New("chat not found")}}
	d := New(Config{}, s, logx.Nop(), nil)

	first := d.Notify(context.Background(), transition("a", "A"))
	second := d.Notify(context.Background(), transition("b", "B"))

	if first.Status != Failed || !strings.Contains(first.Reason, "chat not found") {
		t.Fatalf("first = %+v, want Failed(chat not found)", first)
	}
	if !second.OK() {
		t.Fatalf("second = %+v, want Sent", second)
	}
	if len(s.msgs) != 1 || s.msgs[0].Transition.ProductID != "b" {
		t.Fatalf("sent messages = %+v, want only b", s.msgs)
	}
	st := d.Stats()
	if st.Sent != 1 || st.Failed != 1 {
		t.Fatalf("Stats = %+v, want 1 sent 1 failed", st)
	}
	h := d.History()
	if len(h) != 2 || h[0].Status != "failed" || h[1].Status != "sent" {
		t.Fatalf("History = %+v", h)
	}
}

func TestNotifySendTimeout(t *testing.T) {
	t.Parallel()
	d := New(Config{SendTimeout: 30 * time.Millisecond}, &fakeSender{block: true}, logx.Nop(), nil)
	start := time.Now()
	res := d.Notify(context.Background(), transition("a", "A"))
	if res.Status != Failed || !strings.Contains(res.Reason, context.DeadlineExceeded.Error()) {
		t.Fatalf("Notify = %+v, want deadline failure", res)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("Notify took %v", took)
	}
}

func TestNotifyRecoversPanic(t *testing.T) {
	t.Parallel()
	d := New(Config{}, &fakeSender{panic: true}, logx.Nop(), nil)
	res := d.Notify(context.Background(), transition("a", "A"))
	if res.Status != Failed || !strings.Contains(res.Reason, "panic") {
		t.Fatalf("Notify = %+v, want Failed(panic)", res)
	}
}

func TestNotifyRateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := New(Config{RatePerSec: 1}, s, logx.Nop(), nil)
	if res := d.Notify(context.Background(), transition("a", "A")); !res.OK() {
		t.Fatalf("first Notify = %+v", res)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := d.Notify(ctx, transition("b", "B"))
	if res.Status != Failed || !strings.HasPrefix(res.Reason, "rate limit") {
		t.Fatalf("second Notify = %+v, want rate limit failure", res)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	d := New(Config{HistorySize: 2}, &fakeSender{}, logx.Nop(), nil)
	for _, id := range []string{"a", "b", "c"} {
		d.Notify(context.Background(), transition(id, id))
	}
	h := d.History()
	if len(h) != 2 || h[0].ProductID != "b" || h[1].ProductID != "c" {
		t.Fatalf("History = %+v, want b, c", h)
	}
}

func TestFormatMessage(t *testing.T) {
	t.Parallel()
	qty := int64(1079)
	got := FormatMessage(stock.StockTransition{
		ProductID: "6636020d5c0420e92d79ebdd",
		Name:      "Amul High Protein Paneer, 400 g | Pack of 2 <new>",
		Quantity:  &qty,
	})
	want := "<b>Amul High Protein Paneer, 400 g | Pack of 2 &lt;new&gt;</b> is back in stock!\nInventory: 1079"
	if got != want {
		t.Fatalf("FormatMessage = %q, want %q", got, want)
	}
	if got := FormatMessage(stock.StockTransition{Name: "X"}); !strings.HasSuffix(got, "Inventory: unknown") {
		t.Fatalf("FormatMessage without quantity = %q", got)
	}
}
