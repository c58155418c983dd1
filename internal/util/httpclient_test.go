package util

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestNewProxyFunc_SchemeSelection(t *testing.T) {
	proxy := NewProxyFunc("http://plain-proxy:8080", "http://tls-proxy:8443")

	httpsReq := &http.Request{URL: &url.URL{Scheme: "https", Host: "example.com"}}
	got, err := proxy(httpsReq)
	if err != nil {
		t.Fatalf("proxy func failed: %v", err)
	}
	if got.Host != "tls-proxy:8443" {
		t.Errorf("expected https proxy, got %s", got.Host)
	}

	httpReq := &http.Request{URL: &url.URL{Scheme: "http", Host: "example.com"}}
	got, err = proxy(httpReq)
	if err != nil {
		t.Fatalf("proxy func failed: %v", err)
	}
	if got.Host != "plain-proxy:8080" {
		t.Errorf("expected http proxy, got %s", got.Host)
	}
}

func TestNewHTTPClient_RedirectLimit(t *testing.T) {
	hops := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, server.URL+"/next", http.StatusFound)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{Timeout: 2 * time.Second, MaxRedirects: 3})
	resp, err := client.Get(server.URL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatal("expected redirect limit error")
	}
	if hops != 3 {
		t.Errorf("expected 3 requests before stopping, got %d", hops)
	}
}
