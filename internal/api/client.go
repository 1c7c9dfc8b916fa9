package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/schedule-live/internal/data"
	"github.com/dgnsrekt/schedule-live/internal/live"
)

// Client interface for testability
type Client interface {
	PostMutation(ctx context.Context, tenantID string, m Mutation) error
	GetStats(ctx context.Context) (*live.Stats, error)
	GetSnapshot(ctx context.Context, tenantID, date string) (*data.Snapshot, error)
}

// Mutation is one change reported to the broadcast service.
type Mutation struct {
	Kind     string          `json:"kind"`
	EntityID string          `json:"entityId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewClient(baseURL string, ratePerSec float64, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	burst := int(ratePerSec * 2)
	if burst < 1 {
		burst = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) PostMutation(ctx context.Context, tenantID string, m Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding mutation: %w", err)
	}
	path := "/api/v1/tenants/" + url.PathEscape(tenantID) + "/mutations"
	return c.do(ctx, http.MethodPost, path, body, http.StatusAccepted, nil)
}

func (c *HTTPClient) GetStats(ctx context.Context) (*live.Stats, error) {
	var stats live.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetSnapshot fetches a tenant's day. An empty date means the server's today.
func (c *HTTPClient) GetSnapshot(ctx context.Context, tenantID, date string) (*data.Snapshot, error) {
	path := "/api/v1/tenants/" + url.PathEscape(tenantID) + "/snapshot"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}

	var snap data.Snapshot
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do sends one request, retrying network errors, 429 and 5xx with
// exponential backoff.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte, want int, out any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + path
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", target))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == want:
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusBadRequest:
			var e errorBody
			_ = json.Unmarshal(body, &e)
			return fmt.Errorf("%w: %s", ErrBadRequest, e.Error)
		default:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

var _ Client = (*HTTPClient)(nil)
