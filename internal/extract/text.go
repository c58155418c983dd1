package extract

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/kurral/internal/util"
)

// bareURL matches http(s) URLs written inline in plain text
var bareURL = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// PlainText returns the visible text of an item body, which may be plain text or rich-text HTML
func PlainText(body string) string {
	if !looksLikeHTML(body) {
		return util.CollapseSpace(body)
	}
	return util.VisibleText(strings.NewReader(body))
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}

// Links returns the distinct http(s) URLs an item body cites, from anchors and inline text
func Links(body string) []string {
	var links []string

	if looksLikeHTML(body) {
		if doc, err := html.Parse(strings.NewReader(body)); err == nil {
			var walk func(*html.Node)
			walk = func(n *html.Node) {
				if n.Type == html.ElementNode && n.Data == "a" {
					for _, attr := range n.Attr {
						if attr.Key == "href" {
							if u := normalizeLink(attr.Val); u != "" {
								links = append(links, u)
							}
						}
					}
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
			}
			walk(doc)
		}
	}

	for _, m := range bareURL.FindAllString(PlainText(body), -1) {
		if u := normalizeLink(strings.TrimRight(m, ".,;:!?")); u != "" {
			links = append(links, u)
		}
	}

	return dedupeLinks(links)
}

// normalizeLink keeps absolute http(s) URLs and drops fragments
func normalizeLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	parsed.Fragment = ""
	return parsed.String()
}

func dedupeLinks(links []string) []string {
	seen := make(map[string]bool)
	var unique []string

	for _, l := range links {
		if !seen[l] {
			seen[l] = true
			unique = append(unique, l)
		}
	}

	return unique
}
