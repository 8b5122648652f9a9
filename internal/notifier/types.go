package notifier

import (
	"context"
	"errors"
	"time"

	"stockwatch/internal/stock"
)

var ErrNotConfigured = errors.New("not configured")

// Config controls pacing and bookkeeping.
//
// RatePerSec <= 0 disables pacing. SendTimeout <= 0 uses the default (10s).
type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

// Message is what a Sender delivers.
type Message struct {
	Text       string // HTML
	Transition stock.StockTransition
}

// Sender is a delivery sink. Send is a single blocking call bounded by ctx.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

type Status int

const (
	Sent Status = iota + 1
	Failed
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeliveryResult is the outcome of one Notify call. Reason is set when Failed.
type DeliveryResult struct {
	Status Status
	Reason string
}

func (r DeliveryResult) OK() bool { return r.Status == Sent }

type HistoryItem struct {
	At        time.Time `json:"at"`
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// Stats are cumulative counters since start.
type Stats struct {
	Sent         uint64 `json:"sent"`
	Failed       uint64 `json:"failed"`
	Unconfigured uint64 `json:"unconfigured"`
}
