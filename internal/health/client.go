package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrRestartPending is returned by RequestRestart when the daemon already
// has a restart queued.
var ErrRestartPending = fmt.Errorf("health: restart already pending")

// Client talks to a running daemon's health endpoints.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client for the daemon at base, e.g.
// "http://127.0.0.1:3000". A nil hc uses http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Status fetches GET /healthz.
func (c *Client) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return Status{}, fmt.Errorf("health: status: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("health: status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("health: status: unexpected HTTP %d", resp.StatusCode)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("health: status: decode: %w", err)
	}
	return st, nil
}

// RequestRestart calls POST /restart.
func (c *Client) RequestRestart(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/restart", nil)
	if err != nil {
		return fmt.Errorf("health: restart: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health: restart: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return ErrRestartPending
	default:
		return fmt.Errorf("health: restart: unexpected HTTP %d", resp.StatusCode)
	}
}
