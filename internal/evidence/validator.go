package evidence

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/retry"
	"github.com/ppiankov/kurral/internal/util"
	"github.com/ppiankov/kurral/internal/worker"
)

// Validator probes evidence URLs with HEAD requests to detect dead links
type Validator struct {
	httpClient *http.Client
	robots     *RobotsChecker
	limiter    *worker.Limiter
	policy     retry.Policy
	userAgent  string
	maxWorkers int
}

// NewValidator creates a new validator; robots and limiter may be nil
func NewValidator(cfg model.EvidenceConfig, robots *RobotsChecker, limiter *worker.Limiter, policy retry.Policy) *Validator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Validator{
		httpClient: util.NewHTTPClient(util.HTTPOptions{
			Timeout:      timeout,
			HTTPProxy:    cfg.HTTPProxy,
			HTTPSProxy:   cfg.HTTPSProxy,
			MaxRedirects: 3,
		}),
		robots:     robots,
		limiter:    limiter,
		policy:     policy,
		userAgent:  cfg.UserAgent,
		maxWorkers: 8,
	}
}

// ProbeAll probes urls concurrently; results are in input order
func (v *Validator) ProbeAll(ctx context.Context, urls []string) []model.ValidationResult {
	results := make([]model.ValidationResult, len(urls))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.maxWorkers)

	for i, u := range urls {
		wg.Add(1)
		go func(idx int, rawURL string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[idx] = model.ValidationResult{URL: rawURL, Error: "context cancelled"}
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			results[idx] = v.Probe(ctx, rawURL)
		}(i, u)
	}

	wg.Wait()
	return results
}

// Probe checks a single URL, retrying 429, 5xx and network failures
func (v *Validator) Probe(ctx context.Context, rawURL string) model.ValidationResult {
	result := model.ValidationResult{URL: rawURL}

	if !v.robots.IsAllowed(ctx, rawURL) {
		result.Skipped = true
		return result
	}

	err := retry.Do(ctx, v.policy, func(ctx context.Context) error {
		if err := v.limiter.WaitURL(ctx, rawURL); err != nil {
			return err
		}
		r, err := v.probeOnce(ctx, rawURL)
		result = r
		return err
	})
	if err != nil {
		result.Error = err.Error()
		// Unreachable after retries; a struggling server is not a dead link
		if result.StatusCode == 0 && ctx.Err() == nil {
			result.IsDead = true
		}
	}
	return result
}

func (v *Validator) probeOnce(ctx context.Context, rawURL string) (model.ValidationResult, error) {
	result := model.ValidationResult{URL: rawURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		result.IsDead = true
		return result, retry.MarkPermanent(fmt.Errorf("create request: %w", err))
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return result, retry.NewNetworkError("probe", err)
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		result.IsAccessible = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		result.IsDead = true
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return result, retry.ClassifyHTTPStatus(resp.StatusCode, "", nil)
	}

	if final := resp.Request.URL.String(); final != rawURL {
		result.RedirectURL = final
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = &t
		}
	}

	return result, nil
}
