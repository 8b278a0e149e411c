package brain

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// Config configures the Inference Client, sourced from the INFERENCE_*
// environment variables in spec.md §6.
type Config struct {
	Endpoint        string
	APIKey          string
	Model           string
	MaxRetries      int
	BaseRetryDelay  time.Duration
	RequestTimeout  time.Duration
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64
	TopK            *int
}

// Client posts conversation turns to the inference backend and applies
// the retry/backoff policy from spec.md §4.4.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds an HTTP client with explicit transport timeouts,
// grounded on the teacher's internal/infrastructure/llm/anthropic
// provider construction.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

// Infer sends req and returns the parsed Response, retrying per spec.md
// §4.4. Contrary to the literal retry loop in
// original_source/src/brain/client.rs (which retries uniformly on every
// error), this implementation breaks immediately on
// InvalidRequest/AuthenticationFailed/InsufficientBalance, matching
// spec.md §4.4's normative prose — see DESIGN.md for the discrepancy.
func (c *Client) Infer(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries+1; attempt++ {
		resp, err := c.send(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if notRetryable(err) {
			return nil, err
		}
		if attempt > c.cfg.MaxRetries {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("brain: retrying inference call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, &ExhaustedError{Retries: c.cfg.MaxRetries, LastError: lastErr}
}

// backoff computes base * 2^(attempt-1), capped at 30s, matching
// original_source/src/brain/client.rs's multiplier math.
func (c *Client) backoff(attempt int) time.Duration {
	multiplier := int64(1) << uint(attempt-1)
	delay := c.cfg.BaseRetryDelay * time.Duration(multiplier)
	maxDelay := 30 * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxOutputTokens
	}
	if req.Temperature == nil {
		req.Temperature = c.cfg.Temperature
	}
	if req.TopP == nil {
		req.TopP = c.cfg.TopP
	}
	if req.TopK == nil {
		req.TopK = c.cfg.TopK
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("brain: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("brain: build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("brain: http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("brain: read response body: %w", err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		var parsed Response
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("brain: parse response: %w", err)
		}
		return &parsed, nil
	case httpResp.StatusCode == http.StatusBadRequest:
		return nil, &InvalidRequestError{Body: string(respBody)}
	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthenticationFailedError{Body: string(respBody)}
	case httpResp.StatusCode == http.StatusPaymentRequired:
		return nil, &InsufficientBalanceError{Body: string(respBody)}
	case httpResp.StatusCode >= 500:
		return nil, &ModelError{Body: string(respBody)}
	default:
		return nil, &InvalidRequestError{Body: fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, respBody)}
	}
}
