// Package geomgr provides an HTTP client for the GeoMgr provider
// discovery service and implements the provider-selection port.
package geomgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/filops/filops/internal/config"
	"github.com/filops/filops/internal/port/cache"
	"github.com/filops/filops/internal/port/providers"
	"github.com/filops/filops/internal/resilience"
)

// Client talks to the GeoMgr API. Region lookups are cached because
// provider sets change slowly relative to the compliance check
// cadence.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	cache      cache.Cache
	cacheTTL   time.Duration
}

// NewClient creates a GeoMgr client from configuration.
func NewClient(cfg config.GeoMgr) *Client {
	return &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cacheTTL: cfg.CacheTTL,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetCache attaches a cache for region provider lookups.
func (c *Client) SetCache(cc cache.Cache) {
	c.cache = cc
}

// FindBestProviders returns up to q.Limit candidate providers in the
// region, cheapest first.
func (c *Client) FindBestProviders(ctx context.Context, q providers.Query) ([]providers.Candidate, error) {
	candidates, err := c.providersInRegion(ctx, q.Region)
	if err != nil {
		return nil, fmt.Errorf("find providers in %s: %w", q.Region, err)
	}

	var filtered []providers.Candidate
	for _, cand := range candidates {
		if q.MinAvailability > 0 && cand.Availability < q.MinAvailability {
			continue
		}
		if q.MaxPrice > 0 && cand.PriceUSDPerTiB > q.MaxPrice {
			continue
		}
		filtered = append(filtered, cand)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].PriceUSDPerTiB < filtered[j].PriceUSDPerTiB
	})

	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered, nil
}

// providersInRegion fetches the region's provider list, serving from
// cache when possible.
func (c *Client) providersInRegion(ctx context.Context, region string) ([]providers.Candidate, error) {
	key := "geomgr:region:" + region

	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var cached []providers.Candidate
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/providers?region="+region, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Providers []providers.Candidate `json:"providers"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal providers: %w", err)
	}

	if c.cache != nil {
		if data, err := json.Marshal(result.Providers); err == nil {
			_ = c.cache.Set(ctx, key, data, c.cacheTTL)
		}
	}
	return result.Providers, nil
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
			return fmt.Errorf("geomgr API error %d: %s", resp.StatusCode, string(data))
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
