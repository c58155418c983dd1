// Package evidence classifies, probes and enriches the sources gathered for fact-checks.
package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"

	"github.com/ppiankov/kurral/internal/util"
)

const (
	robotsTTL        = 24 * time.Hour
	robotsFailureTTL = 10 * time.Minute
)

// RobotsChecker gates evidence probes and snippet fetches on the source host's robots.txt
type RobotsChecker struct {
	rules      *gocache.Cache // scheme://host -> *robotstxt.RobotsData; nil value when unreachable
	httpClient *http.Client
	userAgent  string // Sent on robots.txt requests
	agent      string // Product token matched against robots groups
}

// NewRobotsChecker creates a checker whose rules are cached per origin for a day
func NewRobotsChecker(userAgent string, timeout time.Duration) *RobotsChecker {
	return &RobotsChecker{
		rules:      gocache.New(robotsTTL, time.Hour),
		httpClient: util.NewHTTPClient(util.HTTPOptions{Timeout: timeout, MaxRedirects: 3}),
		userAgent:  userAgent,
		agent:      NormalizeUserAgent(userAgent),
	}
}

// CanFetch reports whether rawURL may be fetched and the crawl delay requested for our agent
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false, 0, fmt.Errorf("parse URL %q: invalid source URL", rawURL)
	}

	data := r.rulesFor(ctx, parsed.Scheme+"://"+parsed.Host)
	if data == nil {
		return true, 0, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	var delay time.Duration
	if group := data.FindGroup(r.agent); group != nil {
		delay = group.CrawlDelay
	}
	return data.TestAgent(path, r.agent), delay, nil
}

// IsAllowed reports whether rawURL may be fetched; a nil checker allows everything
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	allowed, _, err := r.CanFetch(ctx, rawURL)
	return err == nil && allowed
}

// rulesFor returns the cached rules for origin; nil means allow all
func (r *RobotsChecker) rulesFor(ctx context.Context, origin string) *robotstxt.RobotsData {
	if v, ok := r.rules.Get(origin); ok {
		data, _ := v.(*robotstxt.RobotsData)
		return data
	}

	data, err := r.fetch(ctx, origin+"/robots.txt")
	if err != nil {
		// Unreachable robots.txt allows; retry after a short while
		r.rules.Set(origin, (*robotstxt.RobotsData)(nil), robotsFailureTTL)
		return nil
	}
	r.rules.Set(origin, data, gocache.DefaultExpiration)
	return data
}

func (r *RobotsChecker) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// FromResponse maps 4xx to allow-all and 5xx to disallow-all
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}

// NormalizeUserAgent returns the product token of ua without its version
func NormalizeUserAgent(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.SplitN(parts[0], "/", 2)[0]
}
