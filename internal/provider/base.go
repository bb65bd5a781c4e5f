package provider

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/infra"
)

// AttemptObserver is told about every HTTP attempt a fetcher makes.
type AttemptObserver interface {
	ObserveFetchAttempt(source, outcome string)
}

// BaseFetcher provides common functionality for fetcher implementations.
// Embed this in concrete fetchers to get rate limiting, retries and error
// classification for free.
type BaseFetcher struct {
	info     ProviderInfo
	client   *infra.Client
	limiter  *infra.RateLimiter
	retry    RetryPolicy
	logger   *zap.Logger
	observer AttemptObserver
}

// BaseOptions configures NewBaseFetcher.
type BaseOptions struct {
	Client    *infra.Client
	RateLimit float64 // requests per second; 0 disables
	Retry     RetryPolicy
	Logger    *zap.Logger
	Observer  AttemptObserver
}

// NewBaseFetcher creates a base fetcher.
func NewBaseFetcher(info ProviderInfo, opts BaseOptions) BaseFetcher {
	if opts.Client == nil {
		opts.Client = infra.NewClient(infra.ClientOptions{Timeout: 30 * time.Second})
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return BaseFetcher{
		info:     info,
		client:   opts.Client,
		limiter:  infra.NewRateLimiter(opts.RateLimit, 1),
		retry:    opts.Retry,
		logger:   opts.Logger.With(zap.String("source", info.Name)),
		observer: opts.Observer,
	}
}

func (b *BaseFetcher) Info() ProviderInfo    { return b.info }
func (b *BaseFetcher) Logger() *zap.Logger   { return b.logger }
func (b *BaseFetcher) Client() *infra.Client { return b.client }

// Get performs a rate-limited, retried GET. Errors are *FetchError unless
// the context was cancelled.
func (b *BaseFetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (*infra.Response, error) {
	return b.do(ctx, rawURL, func() (*infra.Response, error) {
		return b.client.Get(ctx, rawURL, headers)
	})
}

// PostForm performs a rate-limited, retried form POST.
func (b *BaseFetcher) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*infra.Response, error) {
	return b.do(ctx, rawURL, func() (*infra.Response, error) {
		return b.client.PostForm(ctx, rawURL, form, headers)
	})
}

func (b *BaseFetcher) do(ctx context.Context, rawURL string, call func() (*infra.Response, error)) (*infra.Response, error) {
	op := func() (*infra.Response, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := call()
		b.observe(err)
		return resp, Classify(b.info.Name, rawURL, err)
	}
	notify := func(attempt int, err error, wait time.Duration) {
		b.logger.Warn("transient fetch failure, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return Retry(ctx, b.retry, op, notify)
}

func (b *BaseFetcher) observe(err error) {
	if b.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsPermanent(Classify(b.info.Name, "", err)):
		outcome = "permanent"
	default:
		outcome = "transient"
	}
	b.observer.ObserveFetchAttempt(b.info.Name, outcome)
}
