package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/httputil"
	"github.com/kjannette/sniper-backend/internal/logger"
)

// ErrFeedUnavailable covers every failure that makes a whole catalog fetch
// unusable: transport errors, timeouts, non-2xx statuses and bodies that do
// not match the configured shape.
var ErrFeedUnavailable = errors.New("price feed unavailable")

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes     = 64 << 20
)

// Quote is the normalized current price of one item.
type Quote struct {
	Price    float64
	ImageURL string
}

// Quotes maps the feed's item name to its current quote.
type Quotes map[string]Quote

type FeedOptions struct {
	URL         string
	Shape       Shape
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
}

type FeedClient struct {
	url        string
	shape      Shape
	decode     adapter
	userAgent  string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *zap.Logger
}

func NewFeedClient(opts FeedOptions) (*FeedClient, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}
	if opts.Shape == "" {
		opts.Shape = ShapeSkinport
	}
	decode, ok := adapters[opts.Shape]
	if !ok {
		return nil, fmt.Errorf("unknown feed shape %q", opts.Shape)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &FeedClient{
		url:        opts.URL,
		shape:      opts.Shape,
		decode:     decode,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: opts.MaxAttempts,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		log: logger.Log.Named("feed"),
	}, nil
}

func (c *FeedClient) Shape() Shape { return c.shape }

// FetchCurrentPrices pulls the full catalog in one request. Any returned
// error wraps ErrFeedUnavailable.
func (c *FeedClient) FetchCurrentPrices(ctx context.Context) (Quotes, error) {
	ctx, span := otel.Tracer("sniper/external").Start(ctx, "FeedClient.FetchCurrentPrices")
	defer span.End()
	span.SetAttributes(attribute.String("feed.shape", string(c.shape)))

	start := time.Now()
	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			c.log.Warn("feed rate limited, cooling down until next cycle",
				zap.String("retry_after", resp.Header.Get("Retry-After")))
			return nil, fmt.Errorf("%w: rate limited (429)", ErrFeedUnavailable)
		}
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFeedUnavailable, err)
	}

	quotes, err := c.decode(body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrFeedUnavailable, c.shape, err)
	}

	span.SetAttributes(attribute.Int("feed.items", len(quotes)))
	c.log.Debug("catalog fetched",
		zap.Int("items", len(quotes)),
		zap.Duration("took", time.Since(start)),
	)
	return quotes, nil
}
