package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

// Store holds the durable product_id -> in_stock mapping.
//
// Load returns an empty map when nothing was saved yet. Save replaces the
// whole mapping; a failed Save leaves the previously committed mapping intact.
// Stores assume a single writer.
type Store interface {
	Load(ctx context.Context) (map[string]bool, error)
	Save(ctx context.Context, state map[string]bool) error
	Close() error
	Driver() string
}

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	URL         string        // redis
	DSN         string        // postgres
	Key         string        // redis hash key
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func cloneState(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
