package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 2
)

// Config represents Hermes client configuration
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RateLimitPerSec int
}

// Client represents a Pyth Hermes price service client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

// NewClient creates a new Hermes client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.BaseURL == "" {
		config.BaseURL = HermesMainnetURL
	}
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = MaxRequestsPerSecond
	}

	cbSettings := gobreaker.Settings{
		Name:        "PythHermes",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Hermes circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RateLimitPerSec), 1),
		logger:         logger,
	}
}

// GetLatestPrices fetches the latest parsed prices for feedIDs in one batched call
func (c *Client) GetLatestPrices(ctx context.Context, feedIDs []string) ([]PriceFeed, error) {
	if len(feedIDs) == 0 {
		return nil, fmt.Errorf("no feed ids requested")
	}

	query := url.Values{}
	for _, id := range feedIDs {
		query.Add("ids[]", id)
	}
	query.Set("parsed", "true")

	var resp LatestPriceResponse
	if err := c.doRequest(ctx, latestPricePath+"?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("get latest prices failed: %w", err)
	}
	if len(resp.Parsed) == 0 {
		return nil, ErrNoFeeds
	}

	feeds := make([]PriceFeed, 0, len(resp.Parsed))
	for _, p := range resp.Parsed {
		price, err := p.Price.Decimal()
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", p.ID, err)
		}
		feeds = append(feeds, PriceFeed{
			ID:          NormalizeID(p.ID),
			Price:       price,
			PublishTime: p.Price.PublishTime,
		})
	}
	return feeds, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doRequestInternal(ctx, endpoint, response)
	})
	return err
}

func (c *Client) doRequestInternal(ctx context.Context, endpoint string, response interface{}) error {
	fullURL := c.config.BaseURL + endpoint

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			errResp := ErrorResponse{StatusCode: resp.StatusCode, Message: string(body)}
			var parsed ErrorResponse
			if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
				errResp.Message = parsed.Message
			}
			return &errResp
		}

		if err := json.Unmarshal(body, response); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
	return lastErr
}
