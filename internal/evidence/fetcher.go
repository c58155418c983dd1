package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/retry"
	"github.com/ppiankov/kurral/internal/util"
	"github.com/ppiankov/kurral/internal/worker"
)

// SnippetLength is the maximum length of a backfilled snippet
const SnippetLength = 300

// ErrDisallowed is returned when robots.txt forbids fetching a URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Fetcher downloads evidence pages to backfill empty search snippets
type Fetcher struct {
	httpClient *http.Client
	robots     *RobotsChecker
	limiter    *worker.Limiter
	policy     retry.Policy
	userAgent  string
	maxBytes   int64
}

// NewFetcher creates a new Fetcher; robots and limiter may be nil
func NewFetcher(cfg model.EvidenceConfig, robots *RobotsChecker, limiter *worker.Limiter, policy retry.Policy) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}

	return &Fetcher{
		httpClient: util.NewHTTPClient(util.HTTPOptions{
			Timeout:      timeout,
			HTTPProxy:    cfg.HTTPProxy,
			HTTPSProxy:   cfg.HTTPSProxy,
			MaxRedirects: 3,
		}),
		robots:    robots,
		limiter:   limiter,
		policy:    policy,
		userAgent: cfg.UserAgent,
		maxBytes:  maxBytes,
	}
}

// Snippet returns the first SnippetLength characters of the page's visible text
func (f *Fetcher) Snippet(ctx context.Context, rawURL string) (string, error) {
	if !f.robots.IsAllowed(ctx, rawURL) {
		return "", ErrDisallowed
	}

	var text string
	err := retry.Do(ctx, f.policy, func(ctx context.Context) error {
		if err := f.limiter.WaitURL(ctx, rawURL); err != nil {
			return err
		}
		t, err := f.fetchText(ctx, rawURL)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return util.Truncate(text, SnippetLength), nil
}

func (f *Fetcher) fetchText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", retry.MarkPermanent(fmt.Errorf("create request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", retry.NewNetworkError("fetch", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", retry.ClassifyHTTPStatus(resp.StatusCode, "", fmt.Errorf("unexpected status: %s", resp.Status))
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || strings.Contains(mediaType, "html"):
		return util.VisibleText(body), nil
	case strings.HasPrefix(mediaType, "text/"):
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", retry.NewNetworkError("fetch", fmt.Errorf("read body: %w", err))
		}
		return util.CollapseSpace(string(raw)), nil
	default:
		return "", retry.MarkPermanent(fmt.Errorf("unsupported content type %q", mediaType))
	}
}
