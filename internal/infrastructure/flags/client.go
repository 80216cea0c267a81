// Package flags exposes committed waves behind a feature-flag service so
// transformed code paths reach production traffic gradually.
package flags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/refactory-tech/refactory/internal/config"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

const requestTimeout = 10 * time.Second

// Client talks to a flag service's rollout API. The engine only needs one
// verb: set the rollout percentage of a flag key.
type Client struct {
	cfg    config.FeatureFlagConfig
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a flag client. Returns nil when the integration is
// disabled so callers can pass the result straight to the orchestrator.
func NewClient(cfg config.FeatureFlagConfig, logger *slog.Logger) *Client {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With("component", "flags"),
	}
}

type rolloutRequest struct {
	Key     string `json:"key"`
	Percent int    `json:"percent"`
}

// SetRolloutPercentage sets the rollout percentage for a flag key, creating
// the flag if the service does not know it yet.
func (c *Client) SetRolloutPercentage(ctx context.Context, key string, percent int) error {
	const op = "flags.SetRolloutPercentage"

	if percent < 0 || percent > 100 {
		return rferrors.Validation(op, fmt.Sprintf("percent %d out of range", percent))
	}

	body, err := json.Marshal(rolloutRequest{Key: key, Percent: percent})
	if err != nil {
		return rferrors.InternalWrap(err, op, "failed to marshal rollout request")
	}

	url := c.cfg.BaseURL + "/api/flags/" + key + "/rollout"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return rferrors.IOWrap(err, op, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return rferrors.IOWrap(err, op, "rollout request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return rferrors.IO(op, fmt.Sprintf("flag service returned %d: %s", resp.StatusCode, string(respBody)))
	}

	c.logger.Info("rollout updated", "key", key, "percent", percent)
	return nil
}
