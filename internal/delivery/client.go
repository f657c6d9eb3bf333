package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// Deliverer forwards one normalized payload downstream.
type Deliverer interface {
	Deliver(ctx context.Context, item gazette.QueueItem, body []byte) error
}

// ClientConfig configures the HTTP endpoint client.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	WorkerID string
	Timeout  time.Duration
}

// Client POSTs payloads to the downstream endpoint.
type Client struct {
	cfg   ClientConfig
	http  *http.Client
	clock gazette.Clock
}

// NewClient builds a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, clock gazette.Clock) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("delivery endpoint is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, clock: clock}, nil
}

// Deliver POSTs body and classifies the outcome. nil means delivered; a
// 409 returns an error wrapping gazette.ErrDuplicateRecord.
func (c *Client) Deliver(ctx context.Context, item gazette.QueueItem, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &gazette.DeliveryError{Kind: gazette.ErrPermanentDelivery, Msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source-File", item.FileName)
	req.Header.Set("X-Worker-ID", c.cfg.WorkerID)
	req.Header.Set("X-Timestamp", c.clock.Now().UTC().Format(time.RFC3339))
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ClassifyTransport(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return ClassifyStatus(resp.StatusCode, msg)
}
