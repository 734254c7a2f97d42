// Package relay implements the ventilator's smart-relay adapter over HTTP,
// using an embedded http.Client and a baseURL field.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
)

// Client talks to a Shelly-compatible smart relay's REST API.
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
		logger:  logger.With("service", "[RELAY]"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type relayStatusResponse struct {
	Output  *bool `json:"output"`
	Ison    *bool `json:"ison"`
	Switch0 *struct {
		Output bool `json:"output"`
	} `json:"switch:0"`
}

// Set implements adapters.VentilatorRelay.
func (c *Client) Set(ctx context.Context, on bool) error {
	action := "off"
	if on {
		action = "on"
	}
	uri := fmt.Sprintf("%s/relay/0?turn=%s", c.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		c.logger.Error("set failed", "err", err)
		return fmt.Errorf("%w: %v", adapters.ErrAdapterUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Status implements adapters.VentilatorRelay. The three response shapes
// below (plain output, ison, gen-2 switch:0) cover the relay families seen
// in the field; the first populated field wins.
func (c *Client) Status(ctx context.Context) (bool, error) {
	uri := fmt.Sprintf("%s/status", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", adapters.ErrAdapterUnreachable, err)
	}
	defer resp.Body.Close()

	var parsed relayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("relay: decode status: %w", err)
	}
	switch {
	case parsed.Output != nil:
		return *parsed.Output, nil
	case parsed.Ison != nil:
		return *parsed.Ison, nil
	case parsed.Switch0 != nil:
		return parsed.Switch0.Output, nil
	default:
		return false, fmt.Errorf("relay: status response had no recognised output field")
	}
}
