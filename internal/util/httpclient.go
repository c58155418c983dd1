package util

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPOptions configures outbound HTTP clients
type HTTPOptions struct {
	Timeout      time.Duration
	HTTPProxy    string
	HTTPSProxy   string
	MaxRedirects int // 0 uses the net/http default of 10
	InsecureTLS  bool
}

// NewHTTPClient builds an http.Client honoring proxy and redirect settings
func NewHTTPClient(opts HTTPOptions) *http.Client {
	transport := &http.Transport{
		Proxy: NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy),
	}
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for self-signed hosts
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}
	if opts.MaxRedirects > 0 {
		limit := opts.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}
	return client
}

// NewProxyFunc creates a proxy function based on configuration.
// If no proxy URLs are provided, falls back to environment variables.
func NewProxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}
