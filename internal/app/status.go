package app

import (
	"time"

	"stockwatch/internal/monitor"
	"stockwatch/internal/notifier"
	"stockwatch/internal/runtime/supervisor"
)

// StatusDoc is served on /status.
type StatusDoc struct {
	StartedAt  time.Time              `json:"started_at"`
	Uptime     string                 `json:"uptime"`
	Source     string                 `json:"source"`
	State      string                 `json:"state"`
	Sink       string                 `json:"sink,omitempty"`
	NextCycle  *time.Time             `json:"next_cycle,omitempty"`
	LastCycle  *monitor.Report        `json:"last_cycle,omitempty"`
	Deliveries notifier.Stats         `json:"deliveries"`
	Recent     []notifier.HistoryItem `json:"recent_deliveries"`
	Supervisor supervisor.Snapshot    `json:"supervisor"`
}

func (a *App) Status() StatusDoc {
	doc := StatusDoc{
		StartedAt:  a.startedAt,
		Uptime:     time.Since(a.startedAt).Truncate(time.Second).String(),
		Source:     a.fetcher.Source(),
		State:      a.store.Driver(),
		Sink:       a.disp.Sink(),
		Deliveries: a.disp.Stats(),
		Recent:     a.disp.History(),
	}
	if a.sup != nil {
		doc.Supervisor = a.sup.Snapshot()
	}
	if next := a.sched.Next(); !next.IsZero() {
		doc.NextCycle = &next
	}
	if rep, ok := a.mon.LastReport(); ok {
		doc.LastCycle = &rep
	}
	return doc
}
