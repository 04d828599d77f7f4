// Package hermes implements the PriceFeed interface against a Hermes-style
// price service. It provides read access to the latest signed price updates
// with:
//   - Automatic retry logic with exponential backoff for transient failures
//   - Configurable timeouts and backoff parameters
//   - Rate limiting to stay within API limits
//
// Hermes serves signed payloads but never accepts them back, so SubmitUpdate
// discards its input and UpdateFee quotes zero.
package hermes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/pkg/retry"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.PriceFeed.
var _ outbound.PriceFeed = (*Client)(nil)

// ClientConfig holds configuration for the Hermes client.
type ClientConfig struct {
	// BaseURL is the Hermes API base URL.
	// Defaults to https://hermes.pyth.network
	BaseURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// RateLimitPerMin is the rate limit in requests per minute.
	// Defaults to 300, well under the public endpoint's limit.
	RateLimitPerMin int

	// Logger is the structured logger for the client.
	Logger *slog.Logger

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://hermes.pyth.network",
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BackoffFactor:   2.0,
		RateLimitPerMin: 300,
		Logger:          slog.Default(),
	}
}

// Client implements PriceFeed against the Hermes HTTP API.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	retryConfig retry.Config
}

// NewClient creates a new Hermes API client.
func NewClient(config ClientConfig) (*Client, error) {
	defaults := ClientConfigDefaults()
	applyDefaults(&config, defaults)

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	rps := float64(config.RateLimitPerMin) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With("component", "hermes-client"),
		limiter:    limiter,
		retryConfig: retry.Config{
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  config.BackoffFactor,
			Jitter:         false, // Keep deterministic for API rate limiting
		},
	}, nil
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// FetchLatest returns the most recent quote for the feed.
func (c *Client) FetchLatest(ctx context.Context, feedID [32]byte) (entity.PriceQuote, error) {
	response, err := c.latestUpdates(ctx, [][32]byte{feedID})
	if err != nil {
		return entity.PriceQuote{}, err
	}

	want := hex.EncodeToString(feedID[:])
	for _, parsed := range response.Parsed {
		if strings.EqualFold(strings.TrimPrefix(parsed.ID, "0x"), want) {
			quote, err := parsed.Price.toQuote()
			if err != nil {
				return entity.PriceQuote{}, fmt.Errorf("%w: %w", outbound.ErrFeedUnavailable, err)
			}
			return quote, nil
		}
	}
	return entity.PriceQuote{}, fmt.Errorf("%w: feed %s not in response", outbound.ErrFeedUnavailable, want)
}

// LatestUpdateData fetches the signed update payloads for the given feeds,
// ready for on-chain submission through a push oracle contract.
func (c *Client) LatestUpdateData(ctx context.Context, feedIDs [][32]byte) ([][]byte, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	response, err := c.latestUpdates(ctx, feedIDs)
	if err != nil {
		return nil, err
	}

	payloads := make([][]byte, 0, len(response.Binary.Data))
	for _, encoded := range response.Binary.Data {
		data, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decoding update payload: %w", err)
		}
		payloads = append(payloads, data)
	}
	return payloads, nil
}

// UpdateFee quotes zero. Hermes hands out updates for free; the fee is
// charged by the on-chain contract that receives them, not by this source.
func (c *Client) UpdateFee(ctx context.Context, updateData [][]byte) (*big.Int, error) {
	return big.NewInt(0), nil
}

// SubmitUpdate accepts and discards the payload. Hermes is read-only.
func (c *Client) SubmitUpdate(ctx context.Context, updateData [][]byte, fee *big.Int) error {
	c.logger.Debug("discarding update submission, hermes source is read-only",
		"payloads", len(updateData),
	)
	return nil
}

func (c *Client) latestUpdates(ctx context.Context, feedIDs [][32]byte) (*latestPriceResponse, error) {
	endpoint := fmt.Sprintf("%s/v2/updates/price/latest", c.config.BaseURL)
	params := url.Values{
		"encoding": {"hex"},
		"parsed":   {"true"},
	}
	for _, id := range feedIDs {
		params.Add("ids[]", hex.EncodeToString(id[:]))
	}

	var response latestPriceResponse
	if err := c.doRequest(ctx, endpoint, params, &response); err != nil {
		return nil, fmt.Errorf("%w: %w", outbound.ErrFeedUnavailable, err)
	}
	return &response, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, result any) error {
	fullURL := endpoint
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	isRetryable := func(err error) bool {
		var nonRetryable *nonRetryableError
		return !errors.As(err, &nonRetryable)
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"maxRetries", c.retryConfig.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}

	return retry.DoVoid(ctx, c.retryConfig, isRetryable, onRetry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &nonRetryableError{err: fmt.Errorf("rate limiter: %w", err)}
		}
		return c.doSingleRequest(ctx, fullURL, result)
	})
}

func (c *Client) doSingleRequest(ctx context.Context, fullURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &nonRetryableError{err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (HTTP 429)")
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr hermesError
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return &nonRetryableError{err: fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, apiErr.Message)}
		}
		return &nonRetryableError{err: fmt.Errorf("client error (HTTP %d): %s", resp.StatusCode, string(body))}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return &nonRetryableError{err: fmt.Errorf("parsing response: %w", err)}
	}

	return nil
}

// nonRetryableError wraps errors that should not be retried.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return e.err.Error()
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}
