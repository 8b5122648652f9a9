package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockwatch/internal/config"
	logx "stockwatch/pkg/logx"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBody      = 8 << 20
	defaultBreakerTrips = 5
	defaultOpenTimeout  = 60 * time.Second
)

// HTTPFetcher issues GET requests against the upstream endpoint.
//
// Failed attempts (transport errors, non-2xx) are retried back-to-back up to
// maxRetries times, each bounded by the same timeout. The whole call is
// guarded by a circuit breaker unless it is disabled.
type HTTPFetcher struct {
	endpoint   string
	source     string
	headers    map[string]string
	timeout    time.Duration
	maxRetries int
	maxBody    int64

	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	log     logx.Logger
	tracer  trace.Tracer
	observe func(err error)
}

func NewHTTP(cfg config.FetchConfig, log logx.Logger, observe func(err error)) (*HTTPFetcher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("fetch: invalid endpoint %q", endpoint)
	}
	timeout, err := config.ParseDurationOrDefault("fetch.timeout", cfg.Timeout, defaultTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("fetch: max_retries must be >= 0")
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	f := &HTTPFetcher{
		endpoint:   endpoint,
		source:     redactURL(u),
		headers:    cfg.Headers,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		maxBody:    maxBody,
		client:     &http.Client{},
		log:        log,
		tracer:     otel.Tracer("stockwatch/internal/fetch"),
		observe:    observe,
	}

	if cfg.Breaker.FailureThreshold >= 0 {
		trips := cfg.Breaker.FailureThreshold
		if trips == 0 {
			trips = defaultBreakerTrips
		}
		openTimeout, err := config.ParseDurationOrDefault("fetch.breaker.open_timeout", cfg.Breaker.OpenTimeout, defaultOpenTimeout)
		if err != nil {
			return nil, err
		}
		f.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "upstream",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(trips)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					logx.String("breaker", name),
					logx.String("from", from.String()),
					logx.String("to", to.String()),
				)
			},
		})
	}
	return f, nil
}

func (f *HTTPFetcher) Source() string { return f.source }

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	ctx, span := f.tracer.Start(ctx, "fetch.http",
		trace.WithAttributes(attribute.String("fetch.source", f.source)))
	defer span.End()

	body, err := f.guarded(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("fetch.bytes", len(body)))
	return body, nil
}

func (f *HTTPFetcher) guarded(ctx context.Context) ([]byte, error) {
	if f.cb == nil {
		return f.fetchWithRetry(ctx)
	}
	out, err := f.cb.Execute(func() (interface{}, error) {
		return f.fetchWithRetry(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &FetchError{Source: f.source, Err: err}
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (f *HTTPFetcher) fetchWithRetry(ctx context.Context) ([]byte, error) {
	attempts := f.maxRetries + 1
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Source: f.source, Attempts: i - 1, Err: err}
		}
		body, err := f.attempt(ctx)
		if f.observe != nil {
			f.observe(err)
		}
		if err == nil {
			if i > 1 {
				f.log.Info("fetch recovered", logx.Int("attempt", i))
			}
			return body, nil
		}
		lastErr = err
		f.log.Warn("fetch attempt failed",
			logx.Int("attempt", i),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
	}
	return nil, &FetchError{Source: f.source, Attempts: attempts, Err: lastErr}
}

func (f *HTTPFetcher) attempt(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", f.maxBody)
	}
	return body, nil
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// redactURL drops credentials and the query string.
func redactURL(u *url.URL) string {
	cp := *u
	cp.User = nil
	cp.RawQuery = ""
	cp.Fragment = ""
	return cp.String()
}
