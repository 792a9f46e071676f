// Package external adapts third-party mail transports (SMTP, AWS SES,
// SendGrid) to the reminder engine. HTTP providers go through BaseClient,
// which applies circuit breaking, retries with backoff, request correlation
// headers and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"mealreminder/internal/types"
)

// EmailProvider delivers one pre-rendered reminder email.
type EmailProvider interface {
	// Verify checks credentials and reachability without sending mail.
	Verify(ctx context.Context) error
	// Send transmits the message and returns the provider message ID.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// RetryPolicy configures BaseClient retries.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the retry settings used by HTTP providers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker and retry loop.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(context.Context, time.Duration) error
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the wait between retries. Tests pass a no-op.
func WithSleepFunc(fn func(context.Context, time.Duration) error) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// NewBaseClient creates a BaseClient whose breaker opens after more than five
// consecutive failures and probes again after 30 seconds.
func NewBaseClient(httpClient *http.Client, breakerName string, retryPolicy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	bc := &BaseClient{
		client: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     sleepContext,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do executes req. 429 and 5xx responses are retried (honouring Retry-After)
// and count as breaker failures; any other response is returned to the caller,
// who must close its body. Exhausted retries and an open breaker return a
// *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if runID := types.GetRunID(ctx); runID != "" {
		req.Header.Set("X-Run-Id", runID)
	}
	if reqID := types.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastResp *http.Response
		lastErr  error
	)
	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt == attempts-1 {
			break
		}
		if sleepErr := c.sleepFn(ctx, c.computeBackoff(attempt, resp)); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// computeBackoff prefers Retry-After and otherwise uses exponential backoff
// with jitter, clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	minWait, maxWait := c.retryPolicy.MinWait, c.retryPolicy.MaxWait

	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxWait)
			}
			if at, err := http.ParseTime(ra); err == nil {
				wait := time.Until(at)
				if wait <= 0 {
					return minWait
				}
				return min(wait, maxWait)
			}
		}
	}

	ceiling := math.Min(float64(minWait)*math.Pow(2, float64(attempt)), float64(maxWait))
	if ceiling <= float64(minWait) {
		return minWait
	}
	return time.Duration(float64(minWait) + rand.Float64()*(ceiling-float64(minWait)))
}

// mapError translates transport failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open", err)
	}
	if resp != nil {
		details := map[string]any{"responseCode": resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err, details)
		}
		if resp.StatusCode >= 500 {
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err, details)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}
