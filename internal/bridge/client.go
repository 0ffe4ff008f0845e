package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Client talks to a running daemon's bridge. Used by the CLI.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the bridge listening on addr (host:port).
func NewClient(addr, token string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches the pipeline snapshot.
func (c *Client) Status(ctx context.Context) (daemon.Status, error) {
	var status daemon.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status)
	return status, err
}

// Lock holds target in a hard break for the given minutes.
func (c *Client) Lock(ctx context.Context, target domain.Target, minutes int) error {
	path := "/v1/targets/" + url.PathEscape(string(target)) + "/lock"
	return c.do(ctx, http.MethodPost, path, LockRequest{Minutes: minutes}, nil)
}

// Entry reports target entering the foreground.
func (c *Client) Entry(ctx context.Context, target domain.Target, forced bool) error {
	return c.do(ctx, http.MethodPost, "/v1/detector/entry", EntryRequest{Target: string(target), Forced: forced}, nil)
}

// Exit reports target leaving the foreground.
func (c *Client) Exit(ctx context.Context, target domain.Target) error {
	return c.do(ctx, http.MethodPost, "/v1/detector/exit", ExitRequest{Target: string(target)}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
