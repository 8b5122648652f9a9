package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/notifier"
	"stockwatch/internal/stock"
	logx "stockwatch/pkg/logx"
)

func TestRecordEncoding(t *testing.T) {
	t.Parallel()
	s, err := New(context.Background(), Config{Brokers: []string{"127.0.0.1:1"}, Topic: "stock-transitions"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	qty := int64(12)
	tr := stock.StockTransition{ProductID: "p1", Name: "Paneer", Previous: stock.PriorOutOfStock, NewInStock: true, Quantity: &qty}
	rec, err := s.record(notifier.Message{Text: notifier.FormatMessage(tr), Transition: tr})
	if err != nil {
		t.Fatalf("record error: %v", err)
	}

	if rec.Topic != "stock-transitions" || string(rec.Key) != "p1" {
		t.Fatalf("record topic/key = %q/%q", rec.Topic, rec.Key)
	}
	if len(rec.Headers) != 1 || string(rec.Headers[0].Value) != "application/json" {
		t.Fatalf("headers = %+v", rec.Headers)
	}
	var ev Event
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		t.Fatalf("value is not json: %v", err)
	}
	if _, err := uuid.Parse(ev.EventID); err != nil {
		t.Fatalf("event_id = %q: %v", ev.EventID, err)
	}
	if ev.ProductID != "p1" || ev.Previous != "out_of_stock" || !ev.InStock || ev.Quantity == nil || *ev.Quantity != 12 || !ev.At.Equal(at) {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRecordOmitsUnknownQuantity(t *testing.T) {
	t.Parallel()
	s, err := New(context.Background(), Config{Brokers: []string{"127.0.0.1:1"}, Topic: "t"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()
	rec, err := s.record(notifier.Message{Transition: stock.StockTransition{ProductID: "p2", NewInStock: true}})
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(rec.Value, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["quantity"]; ok {
		t.Fatalf("quantity present in %v", raw)
	}
	if raw["previous"] != "unknown" {
		t.Fatalf("previous = %v, want unknown", raw["previous"])
	}
}

func TestSendFailsWhenBrokerUnreachable(t *testing.T) {
	t.Parallel()
	s, err := New(context.Background(), Config{Brokers: []string{"127.0.0.1:1"}, Topic: "t"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Send(ctx, notifier.Message{Transition: stock.StockTransition{ProductID: "p"}}); err == nil {
		t.Fatal("Send succeeded against an unreachable broker")
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no brokers", cfg: Config{Topic: "t"}},
		{name: "blank brokers", cfg: Config{Brokers: []string{" "}, Topic: "t"}},
		{name: "no topic", cfg: Config{Brokers: []string{"localhost:9092"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(context.Background(), tt.cfg, logx.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
