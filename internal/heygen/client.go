package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ozgurtan/medavatar/internal/reliability"
)

// Client is the narrow contract with the live avatar backend. The real
// rendering protocol stays opaque to this service: we only warm sessions up
// and ping health.
type Client interface {
	PrepareSession(ctx context.Context, sessionID string) error
	HealthPing(ctx context.Context) error
}

// HTTPClient talks to a HeyGen-class streaming-avatar API.
type HTTPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type HTTPClientConfig struct {
	APIKey  string
	BaseURL string
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.heygen.com"
	}
	return &HTTPClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) PrepareSession(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, 250*time.Millisecond, time.Second)):
			}
		}

		retryable, err := c.doPrepare(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return lastErr
}

func (c *HTTPClient) doPrepare(ctx context.Context, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/streaming.new", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("heygen prepare status %d: %s", res.StatusCode, string(body))
	}
	return false, nil
}

func (c *HTTPClient) HealthPing(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/streaming.list", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("heygen health status %d", res.StatusCode)
	}
	return nil
}

// MockClient is used in dev and tests when no HeyGen key is configured.
type MockClient struct {
	PrepareDelay time.Duration
	PrepareErr   error
	PingErr      error
}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) PrepareSession(ctx context.Context, _ string) error {
	if c.PrepareDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PrepareDelay):
		}
	}
	return c.PrepareErr
}

func (c *MockClient) HealthPing(_ context.Context) error {
	return c.PingErr
}
