// Package fetch obtains the raw upstream payload.
//
// Three sources exist: a live HTTP endpoint (bounded retries behind a circuit
// breaker), a local payload file and an embedded sample for offline runs.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"stockwatch/internal/config"
	logx "stockwatch/pkg/logx"
)

// Fetcher returns one raw payload per call.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
	// Source describes where payloads come from (safe to log).
	Source() string
}

// FetchError is returned when no payload could be obtained.
// Attempts is zero when the call failed fast (open breaker, cancelled context).
type FetchError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Source, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Option customizes fetchers built by New.
type Option func(*options)

type options struct {
	observe func(err error)
}

// WithAttemptObserver is called after every live HTTP attempt.
func WithAttemptObserver(fn func(err error)) Option {
	return func(o *options) { o.observe = fn }
}

// New builds the fetcher for cfg's effective mode.
func New(cfg config.FetchConfig, log logx.Logger, opts ...Option) (Fetcher, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	log = log.With(logx.String("comp", "fetch"))

	switch mode := cfg.ResolvedMode(); mode {
	case config.ModeLiveHTTP:
		return NewHTTP(cfg, log, o.observe)
	case config.ModeLocalFile:
		path := strings.TrimSpace(cfg.PayloadFile)
		if path == "" {
			return nil, fmt.Errorf("fetch: payload_file is required for mode %q", mode)
		}
		return NewFile(path), nil
	case config.ModeEmbeddedSample:
		return NewSample(), nil
	default:
		return nil, fmt.Errorf("fetch: unknown mode %q", mode)
	}
}
