package adpulse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 1 << 20

// RetryPolicy is a fixed, precomputed backoff schedule. The wait after
// failed attempt n is Backoff[n-1]; the last entry repeats if the schedule
// is shorter than MaxAttempts-1.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

var (
	// ListRetryPolicy is used for GET /campaigns.
	ListRetryPolicy = RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}

	// PollRetryPolicy is shorter so a failed poll cannot stall the next one.
	PollRetryPolicy = RetryPolicy{
		MaxAttempts: 2,
		Backoff:     []time.Duration{500 * time.Millisecond},
	}
)

// Attempts returns the total number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after failed attempt n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if len(p.Backoff) == 0 || n < 1 {
		return 0
	}
	if n > len(p.Backoff) {
		n = len(p.Backoff)
	}
	return p.Backoff[n-1]
}

// Doer is the subset of *http.Client the fetcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher performs GET requests with a bounded retry policy. 4xx responses
// fail immediately; 5xx responses and transport errors are retried.
type Fetcher struct {
	client Doer
	logger *slog.Logger

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep SleepFunc
}

// NewFetcher creates a Fetcher. A nil client uses an http.Client with a
// 10s timeout.
func NewFetcher(client Doer, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = newHTTPClient(10 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		logger: logger,
		Sleep:  sleepContext,
	}
}

// FetchWithRetry issues GET target until it succeeds, a non-retryable
// failure occurs, or the policy is exhausted. Failures are always returned
// as *FetchError.
func (f *Fetcher) FetchWithRetry(ctx context.Context, target string, policy RetryPolicy) ([]byte, error) {
	attempts := policy.Attempts()

	var last *FetchError
	for attempt := 1; attempt <= attempts; attempt++ {
		body, ferr := f.attempt(ctx, target)
		if ferr == nil {
			if attempt > 1 {
				f.logger.Debug("fetch recovered", "endpoint", target, "attempt", attempt)
			}
			return body, nil
		}

		ferr.Attempts = attempt
		last = ferr

		if !ferr.Kind.Retryable() || ctx.Err() != nil {
			return nil, ferr
		}
		if attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		f.logger.Warn("fetch failed, retrying",
			"endpoint", target,
			"attempt", attempt,
			"delay", delay,
			"error", ferr.Err,
		)
		if err := f.Sleep(ctx, delay); err != nil {
			return nil, &FetchError{Endpoint: target, Kind: KindNetwork, Attempts: attempt, Err: err}
		}
	}

	return nil, last
}

func (f *Fetcher) attempt(ctx context.Context, target string) ([]byte, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: target, Kind: KindClient, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Endpoint: target, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode >= 500:
		return nil, &FetchError{Endpoint: target, Kind: KindServer, Status: resp.StatusCode, Err: statusError(resp, body)}
	case resp.StatusCode >= 400:
		return nil, &FetchError{Endpoint: target, Kind: KindClient, Status: resp.StatusCode, Err: statusError(resp, body)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &FetchError{Endpoint: target, Kind: KindClient, Status: resp.StatusCode, Err: statusError(resp, body)}
	}

	if err != nil {
		return nil, &FetchError{Endpoint: target, Kind: KindNetwork, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func statusError(resp *http.Response, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return fmt.Errorf("%s", resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, text)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
