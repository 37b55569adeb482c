// Package synapse provides an HTTP client for the Synapse deal-making
// service and implements the deal-execution port. Deal submissions are
// bounded by a weighted semaphore so a burst of agents cannot flood
// the chain-facing service.
package synapse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/filops/filops/internal/config"
	"github.com/filops/filops/internal/port/dealmaker"
	"github.com/filops/filops/internal/resilience"
)

// Client talks to the Synapse deal API.
type Client struct {
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	sem        *semaphore.Weighted
}

// NewClient creates a Synapse client from configuration.
func NewClient(cfg config.Synapse) *Client {
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		network: cfg.Network,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		sem: semaphore.NewWeighted(cfg.MaxConcurrentDeals),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// dealRequest is the Synapse deal submission body.
type dealRequest struct {
	DataCID       string  `json:"data_cid"`
	ProviderID    string  `json:"provider_id"`
	Network       string  `json:"network"`
	DurationDays  int     `json:"duration_days"`
	PriceFIL      float64 `json:"price_fil"`
	CollateralFIL float64 `json:"collateral_fil"`
	Verified      bool    `json:"verified"`
}

// CreateDeal submits a storage deal. The call blocks while the
// concurrent-submission limit is reached; callers must not retry a
// failed submission without operator input.
func (c *Client) CreateDeal(ctx context.Context, p dealmaker.Params) (*dealmaker.Result, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire deal slot: %w", err)
	}
	defer c.sem.Release(1)

	body, err := json.Marshal(dealRequest{
		DataCID:       p.DataCID,
		ProviderID:    p.ProviderID,
		Network:       c.network,
		DurationDays:  p.DurationDays,
		PriceFIL:      p.PriceFIL,
		CollateralFIL: p.CollateralFIL,
		Verified:      p.Verified,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal deal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/deals", body)
	if err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}

	var result dealmaker.Result
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal deal result: %w", err)
	}
	return &result, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("synapse API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
