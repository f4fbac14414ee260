// Package fingerprint is the HTTP client for the audio recognition API.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

const maxResponseBytes = 1 << 20

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recognition API error: %d", e.StatusCode)
}

// Client calls the recognition API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     hclog.Logger
}

// NewClient creates a recognition client from config.
func NewClient(cfg config.FingerprintConfig, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		logger:     logger.Named("fingerprint-client"),
	}
}

// Recognize posts the audio URL and returns the decoded envelope. Error
// envelopes with a 2xx status are returned without an error.
func (c *Client) Recognize(ctx context.Context, recognition types.RecognitionRequest) (*types.RecognitionResponse, error) {
	payload, err := json.Marshal(recognition)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("recognition request rejected", "status", resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var recognitionResponse types.RecognitionResponse
	if err := json.Unmarshal(body, &recognitionResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &recognitionResponse, nil
}
