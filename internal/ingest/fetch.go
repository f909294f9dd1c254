package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/observability"
)

// maxFetchAttempts is the total attempts per URL, first try included.
const maxFetchAttempts = 3

// Fetcher downloads one upstream payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches upstream feeds with exponential backoff and a
// per-host circuit breaker, so one misbehaving provider cannot soak up
// every worker's retry budget.
type HTTPFetcher struct {
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPFetcher creates a fetcher whose individual requests time out
// after the given duration.
func NewHTTPFetcher(timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Fetch downloads one URL. Transport failures and 5xx responses are retried
// with exponential backoff up to maxFetchAttempts; 4xx responses and an open
// circuit abort immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	br := f.breakerFor(rawURL)

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			f.metrics.FetchRetries.Inc()
		}
		res, err := br.Execute(func() (any, error) {
			return f.get(ctx, rawURL)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			var fe *domain.FetchError
			if errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			f.logger.Warn("fetch attempt failed", "url", rawURL, "attempt", attempt, "error", err)
			return err
		}
		body = res.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxFetchAttempts-1), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	res, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, res.Body) //nolint:errcheck // drain for connection reuse
		return nil, &domain.FetchError{URL: rawURL, StatusCode: res.StatusCode, Err: errors.New(res.Status)}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	return body, nil
}

// breakerFor returns the circuit breaker for the URL's host, creating it on
// first use. The breaker opens after five consecutive failures and probes
// again after a minute.
func (f *HTTPFetcher) breakerFor(rawURL string) *gobreaker.CircuitBreaker {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	br, ok := f.breakers[host]
	if !ok {
		br = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
		f.breakers[host] = br
	}
	return br
}

// FetchWithFallback tries the primary endpoint, then the mirror if one is
// configured. The primary's error is kept as the cause when both fail.
func FetchWithFallback(ctx context.Context, f Fetcher, primary, mirror string, logger *slog.Logger) ([]byte, error) {
	body, err := f.Fetch(ctx, primary)
	if err == nil || mirror == "" {
		return body, err
	}

	logger.Warn("primary endpoint failed, trying mirror", "primary", primary, "mirror", mirror, "error", err)
	body, merr := f.Fetch(ctx, mirror)
	if merr != nil {
		return nil, fmt.Errorf("primary: %w (mirror: %v)", err, merr)
	}
	return body, nil
}
