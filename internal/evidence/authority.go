package evidence

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/kurral/internal/model"
)

// AuthorityClassifier classifies evidence sources into authority tiers
type AuthorityClassifier struct {
	domainMap    map[string]model.AuthorityTier
	primary      []string
	secondary    []string
	pathPatterns []compiledPattern
}

type compiledPattern struct {
	pattern *regexp.Regexp
	tier    model.AuthorityTier
}

// NewAuthorityClassifier creates a new authority classifier
func NewAuthorityClassifier(cfg model.AuthorityConfig) *AuthorityClassifier {
	c := &AuthorityClassifier{
		domainMap: make(map[string]model.AuthorityTier, len(cfg.DomainMap)),
		primary:   normalizeDomains(cfg.PrimaryDomains),
		secondary: normalizeDomains(cfg.SecondaryDomains),
	}

	for host, tier := range cfg.DomainMap {
		c.domainMap[strings.ToLower(host)] = ParseTier(tier)
	}

	// Invalid patterns are ignored
	for _, pp := range cfg.PathPatterns {
		if re, err := regexp.Compile(pp.Pattern); err == nil {
			c.pathPatterns = append(c.pathPatterns, compiledPattern{pattern: re, tier: ParseTier(pp.Tier)})
		}
	}

	return c
}

// Classify classifies a URL into an authority tier
func (a *AuthorityClassifier) Classify(rawURL string) model.AuthorityTier {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return model.TierTertiary
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	if tier, ok := a.domainMap[host]; ok {
		return tier
	}
	if matchesDomain(host, a.primary) {
		return model.TierPrimary
	}
	if matchesDomain(host, a.secondary) {
		return model.TierSecondary
	}

	for _, cp := range a.pathPatterns {
		if cp.pattern.MatchString(parsed.Path) {
			return cp.tier
		}
	}

	// Government and academic TLDs
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return model.TierPrimary
	}

	return model.TierTertiary
}

// matchesDomain reports whether host equals or is a subdomain of any listed domain
func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ParseTier converts a tier string to AuthorityTier; unknown values are tertiary
func ParseTier(tier string) model.AuthorityTier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}

// HostOf returns the lower-cased host of rawURL without a leading www.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
