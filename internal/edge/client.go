package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guardline-ai/bastion/internal/policy"
)

// Client pushes policy snapshots to a remote edge node over its sync API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the edge node at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Sync posts p to the edge node. With dryRun the node validates without
// writing.
func (c *Client) Sync(ctx context.Context, target string, p *policy.Policy, dryRun bool) (*SyncResult, error) {
	body, err := json.Marshal(SyncRequest{Target: target, DryRun: dryRun, Policy: p})
	if err != nil {
		return nil, fmt.Errorf("edge sync: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/edge/policy/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("edge sync: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge sync: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("edge sync: node returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("edge sync: %w", err)
	}
	return &result, nil
}
