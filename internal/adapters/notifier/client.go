// Package notifier implements the outbound operator-notification gateway
// adapter: an HTTP POST to a webhook/push service, following the same
// embedded http.Client pattern as the relay adapter.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
)

type Client struct {
	http.Client
	logger  *slog.Logger
	baseURL string
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Client:  http.Client{},
		logger:  logger.With("service", "[NOTIFIER]"),
		baseURL: baseURL,
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

// SendText implements adapters.Notifier.
func (c *Client) SendText(ctx context.Context, body string) error {
	encoded, err := json.Marshal(messageRequest{Message: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		c.logger.Error("send failed", "err", err)
		return fmt.Errorf("%w: %v", adapters.ErrAdapterUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: unexpected status %d", resp.StatusCode)
	}
	return nil
}
