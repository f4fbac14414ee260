// Package registry is the HTTP client for the rights registry that confirms
// ISRCs. Lookups are rate limited and answers are cached.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	"golang.org/x/time/rate"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 24 * time.Hour
	maxResponseBytes = 1 << 20
)

// ErrLookupFailed wraps every registry-side failure.
var ErrLookupFailed = errors.New("registry lookup failed")

type lookupRequest struct {
	ISRC string `json:"isrc"`
}

type lookupResponse struct {
	Success   bool                 `json:"success"`
	Verified  bool                 `json:"verified"`
	Recording *types.RecordingInfo `json:"recording,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Client looks up ISRCs in the rights registry.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, types.RegistryResult]
	logger     hclog.Logger
}

// NewClient creates a registry client from config.
func NewClient(cfg config.RegistryConfig, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(limit, burst),
		cache:      expirable.NewLRU[string, types.RegistryResult](size, nil, ttl),
		logger:     logger.Named("registry-client"),
	}
}

// LookupISRC confirms a normalized ISRC. Definitive answers, positive or
// negative, are cached; failures are not.
func (c *Client) LookupISRC(ctx context.Context, code string) (*types.RegistryResult, error) {
	if cached, ok := c.cache.Get(code); ok {
		return &cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	result, err := c.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	c.cache.Add(code, *result)
	return result, nil
}

func (c *Client) lookup(ctx context.Context, code string) (*types.RegistryResult, error) {
	payload, err := json.Marshal(lookupRequest{ISRC: code})
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
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrLookupFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var lookup lookupResponse
	if err := json.Unmarshal(body, &lookup); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", ErrLookupFailed, err)
	}
	if !lookup.Success {
		reason := lookup.Error
		if reason == "" {
			reason = "registry returned an error"
		}
		return nil, fmt.Errorf("%w: %s", ErrLookupFailed, reason)
	}

	if !lookup.Verified {
		c.logger.Debug("isrc not found in registry", "isrc", code)
		return &types.RegistryResult{Verified: false, Reason: "ISRC not found in the rights registry"}, nil
	}

	recording := types.RecordingInfo{ISRC: code}
	if lookup.Recording != nil {
		recording = *lookup.Recording
		if recording.ISRC == "" {
			recording.ISRC = code
		}
	}
	return &types.RegistryResult{Verified: true, Recording: &recording}, nil
}
