package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPTransport posts rendered payloads to a webhook, e.g. the push relay or
// the email sender service.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport builds a transport against the given webhook URL.
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, payload json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build transport request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("transport returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// LogTransport logs payloads instead of sending them. The dev-run default
// when no webhook is configured.
type LogTransport struct {
	Channel string
}

func (t *LogTransport) Send(ctx context.Context, payload json.RawMessage) error {
	slog.Info("delivery (log transport)", "channel", t.Channel, "payload", string(payload))
	return nil
}
