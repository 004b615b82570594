package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/transit-panel/internal/observability"
)

// maxBodyBytes bounds upstream payloads. A full NYCT feed is well under this.
const maxBodyBytes = 16 << 20

// RetryConfig controls retries inside a single fetch. Retries stop early when ctx expires.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.Attempts <= 0 {
		r.Attempts = 2
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 250 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 2 * time.Second
	}
	return r
}

// fetcher performs paced, retried GET requests for one source.
type fetcher struct {
	source  Source
	client  *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zap.Logger
}

func newFetcher(source Source, timeout time.Duration, requestsPerMinute int, retry RetryConfig, logger *zap.Logger) *fetcher {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1)
	}
	return &fetcher{
		source:  source,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		retry:   retry.withDefaults(),
		logger:  observability.OrNop(logger),
	}
}

// get fetches url and returns the body, retrying transient failures with exponential backoff.
func (f *fetcher) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < f.retry.Attempts; attempt++ {
		if attempt > 0 {
			observability.FetchRetriesTotal.WithLabelValues(string(f.source)).Inc()
			delay := f.calculateBackoff(attempt)
			f.logger.Debug("retrying fetch",
				zap.String("source", string(f.source)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, err := f.callAPI(ctx, url, header)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !f.isRetryable(ctx, err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (f *fetcher) callAPI(ctx context.Context, url string, header http.Header) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: waiting for request slot: %w", ErrTimeout, err)
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		observability.FetchesTotal.WithLabelValues(string(f.source), "error").Inc()
		return nil, fmt.Errorf("%w: build request: %w", errRejected, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if id := observability.TickID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := f.client.Do(req)
	duration := time.Since(start).Seconds()
	observability.FetchDuration.WithLabelValues(string(f.source)).Observe(duration)
	if err != nil {
		observability.FetchesTotal.WithLabelValues(string(f.source), "error").Inc()
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	observability.FetchesTotal.WithLabelValues(string(f.source), statusLabel(resp.StatusCode)).Inc()

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: read body: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	return body, nil
}

func (f *fetcher) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errRejected) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}

func (f *fetcher) calculateBackoff(attempt int) time.Duration {
	delay := float64(f.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(f.retry.MaxDelay) {
		delay = float64(f.retry.MaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: upstream HTTP %d", ErrNetwork, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %w: HTTP %d", ErrNetwork, errRejected, resp.StatusCode)
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
