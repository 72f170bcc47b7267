package vfs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// RemoteOptions configures an HTTPFetcher.
type RemoteOptions struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	RPS     float64 // 0 means unlimited
}

// HTTPFetcher resolves VFS paths against a static file origin. Requests are
// retried on transport errors and 5xx, rate limited, and guarded by a
// circuit breaker so a dead origin turns into fast misses.
type HTTPFetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewHTTPFetcher builds a fetcher for opts.BaseURL.
func NewHTTPFetcher(opts RemoteOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = max(opts.Retries, 0)
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "nodebox-vfs/1.0")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(int(opts.RPS), 1))
	}

	breaker := resilience.New("vfs-remote", resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 404 is a healthy answer.
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, fault.ErrNotFound)
		},
	})

	return &HTTPFetcher{client: client, limiter: limiter, breaker: breaker}
}

// Fetch GETs p relative to the base URL. Any non-200 answer is an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, p string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	target := (&url.URL{Path: Clean(p)}).EscapedPath()
	return resilience.Call(f.breaker, func() ([]byte, error) {
		resp, err := f.client.R().SetContext(ctx).Get(target)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", p, err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			return resp.Body(), nil
		case http.StatusNotFound, http.StatusGone:
			return nil, fault.New(fault.KindNotFound, "fetch", p)
		default:
			return nil, fmt.Errorf("fetch %s: unexpected status %d", p, resp.StatusCode())
		}
	})
}

// BreakerState exposes the breaker for health reporting.
func (f *HTTPFetcher) BreakerState() resilience.State {
	return f.breaker.State()
}
