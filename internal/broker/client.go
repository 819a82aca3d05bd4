package broker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is an HTTP/JSON client for the MT5 broker bridge described in
// spec.md §6, grounded on the teacher's TradierAPI request plumbing
// (makeRequestCtx, typed response structs, APIError).
type Client struct {
	httpClient  *http.Client
	baseURL     string
	bearerToken string
	retry       RetryConfig
}

// NewClient builds a bridge client bound to host:port. bearerToken may be
// empty (no auth header sent).
func NewClient(host string, port int, bearerToken string, retry RetryConfig) *Client {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig
	}
	return &Client{
		httpClient:  &http.Client{Timeout: retry.CallTimeout},
		baseURL:     fmt.Sprintf("http://%s:%d", host, port),
		bearerToken: bearerToken,
		retry:       retry,
	}
}

// Close is a no-op for the HTTP client; it exists to satisfy the Broker
// interface's single, exactly-once close contract (spec.md §5).
func (c *Client) Close() error { return nil }

// doRequest retries doRequestOnce on transient failures with exponential
// backoff and jitter, grounded on the teacher's retry.Client.calculateNextBackoff.
// Permanent errors and context cancellation abort immediately.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	backoff := c.retry.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := c.doRequestOnce(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == c.retry.MaxAttempts {
			return err
		}
		wait := jitteredBackoff(backoff, c.retry.MaxBackoff)
		select {
		case <-ctx.Done():
			return classify(path, ctx.Err())
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
	return lastErr
}

// jitteredBackoff returns base plus up to 50% random jitter, capped at max,
// using crypto/rand as the teacher's retry client does to avoid synchronized
// retry storms across engine instances.
func jitteredBackoff(base, max time.Duration) time.Duration {
	if base > max {
		base = max
	}
	jitterRange := base / 2
	if jitterRange <= 0 {
		return base
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(jitterRange)))
	if err != nil {
		return base
	}
	total := base + time.Duration(n.Int64())
	if total > max {
		return max
	}
	return total
}

func (c *Client) doRequestOnce(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return classify(path, fmt.Errorf("marshal request: %w", err))
		}
		reqBody = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return classify(path, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("X-Correlation-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(path, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(path, &APIError{Status: resp.StatusCode, Body: string(respBody)})
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return classify(path, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// Health implements Broker.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	var out HealthResult
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountInfo implements Broker.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	var out AccountInfo
	if err := c.doRequest(ctx, http.MethodGet, "/account", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SymbolInfo implements Broker.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	q := url.Values{"s": []string{symbol}}
	var out SymbolInfo
	if err := c.doRequest(ctx, http.MethodGet, "/symbol", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rates implements Broker.
func (c *Client) Rates(ctx context.Context, symbol, timeframe string, count int) ([]RateBar, error) {
	q := url.Values{
		"s":  []string{symbol},
		"tf": []string{timeframe},
		"n":  []string{strconv.Itoa(count)},
	}
	var out []RateBar
	if err := c.doRequest(ctx, http.MethodGet, "/rates", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenPositions implements Broker.
func (c *Client) OpenPositions(ctx context.Context, magic int64) ([]PositionInfo, error) {
	q := url.Values{}
	if magic != 0 {
		q.Set("magic", strconv.FormatInt(magic, 10))
	}
	var out []PositionInfo
	if err := c.doRequest(ctx, http.MethodGet, "/positions", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceOrder implements Broker.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	var out OrderResult
	if err := c.doRequest(ctx, http.MethodPost, "/order", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ModifyPosition implements Broker.
func (c *Client) ModifyPosition(ctx context.Context, req ModifyRequest) error {
	return c.doRequest(ctx, http.MethodPost, "/modify", nil, req, nil)
}

// ClosePosition implements Broker.
func (c *Client) ClosePosition(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	var out CloseResult
	if err := c.doRequest(ctx, http.MethodPost, "/close", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var _ Broker = (*Client)(nil)

// ParseSide normalizes a broker-reported side string.
func ParseSide(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s != "long" && s != "short" {
		return "", fmt.Errorf("unknown side %q", s)
	}
	return s, nil
}

// WithCallTimeout returns a context bounded by the client's per-call
// timeout, per spec.md §5's "every broker call has a per-call timeout".
func (c *Client) WithCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.retry.CallTimeout)
}
