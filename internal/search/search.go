// Package search talks to the web search oracle used to gather fact-check evidence.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/metrics"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/retry"
	"github.com/ppiankov/kurral/internal/worker"
)

// Searcher returns evidence candidates for a query
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Result is a single search hit
type Result struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Snippet     string   `json:"snippet"`
	QualityHint *float64 `json:"quality,omitempty"` // Source quality hint from the search backend [0,1]
}

type searchResponse struct {
	Results []Result `json:"results"`
}

const limiterKey = "search"

// HTTPClient queries a JSON search endpoint: GET {base_url}?q=&count=
type HTTPClient struct {
	client  *resty.Client
	baseURL string
	limiter *worker.Limiter
	policy  retry.Policy
	log     zerolog.Logger
}

// NewHTTPClient creates a new search client; limiter may be nil
func NewHTTPClient(cfg model.SearchConfig, limiter *worker.Limiter, policy retry.Policy, log zerolog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPClient{
		client:  client,
		baseURL: cfg.BaseURL,
		limiter: limiter,
		policy:  policy,
		log:     log.With().Str("component", "search").Logger(),
	}
}

// Search runs the query, retrying transient failures
func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	count := metrics.CallObserver(limiterKey)
	policy := c.policy.WithObserver(func(attempt int, err error) {
		count(attempt, err)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("search call failed")
		}
	})

	var results []Result
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, limiterKey); err != nil {
			return err
		}
		r, err := c.searchOnce(ctx, query, limit)
		if err != nil {
			return err
		}
		results = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return results, nil
}

func (c *HTTPClient) searchOnce(ctx context.Context, query string, limit int) ([]Result, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("q", query)
	if limit > 0 {
		req.SetQueryParam("count", strconv.Itoa(limit))
	}

	resp, err := req.Get(c.baseURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.NewNetworkError("search", err)
	}
	if resp.IsError() {
		return nil, retry.ClassifyHTTPStatus(resp.StatusCode(), resp.String(),
			fmt.Errorf("search API error (%d)", resp.StatusCode()))
	}

	var out searchResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, retry.MarkPermanent(fmt.Errorf("decode search response: %w", err))
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		if r.URL == "" {
			continue
		}
		if r.QualityHint != nil {
			q := clamp01(*r.QualityHint)
			r.QualityHint = &q
		}
		results = append(results, r)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
