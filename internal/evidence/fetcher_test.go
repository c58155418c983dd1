package evidence

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/search"
)

func TestFetcher_Snippet(t *testing.T) {
	long := strings.Repeat("word ", 200)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><script>ignored()</script></head><body><p>Hospitalization fell.</p><p>` + long + `</p></body></html>`))
	}))
	defer server.Close()

	f := NewFetcher(testEvidenceConfig(), nil, nil, fastPolicy())
	snippet, err := f.Snippet(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Snippet failed: %v", err)
	}
	if !strings.HasPrefix(snippet, "Hospitalization fell.") {
		t.Errorf("Unexpected snippet: %q", snippet)
	}
	if strings.Contains(snippet, "ignored") {
		t.Error("Expected script content to be stripped")
	}
	if n := len([]rune(snippet)); n > SnippetLength {
		t.Errorf("Snippet length %d exceeds %d", n, SnippetLength)
	}
}

func TestFetcher_Snippet_PlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  plain\n\ttext  "))
	}))
	defer server.Close()

	f := NewFetcher(testEvidenceConfig(), nil, nil, fastPolicy())
	snippet, err := f.Snippet(context.Background(), server.URL)
	if err != nil || snippet != "plain text" {
		t.Errorf("Snippet() = %q, %v", snippet, err)
	}
}

func TestFetcher_Snippet_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = w.Write([]byte("User-agent: KurralTest\nDisallow: /secret\n"))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewFetcher(testEvidenceConfig(), NewRobotsChecker("KurralTest/1.0", time.Second), nil, fastPolicy())

	if _, err := f.Snippet(context.Background(), server.URL+"/secret/doc"); !errors.Is(err, ErrDisallowed) {
		t.Errorf("Expected ErrDisallowed, got %v", err)
	}
	if _, err := f.Snippet(context.Background(), server.URL+"/pdf"); err == nil {
		t.Error("Expected unsupported content type error")
	}
	if _, err := f.Snippet(context.Background(), server.URL+"/missing"); err == nil {
		t.Error("Expected 404 error")
	}
}

func TestCollector_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dead":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<p>Backfilled page text</p>"))
		}
	}))
	defer server.Close()

	cfg := testEvidenceConfig()
	scorer := NewQualityScorer(NewAuthorityClassifier(model.AuthorityConfig{}))
	c := NewCollector(scorer,
		NewValidator(cfg, nil, nil, fastPolicy()),
		NewFetcher(cfg, nil, nil, fastPolicy()),
		zerolog.Nop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Now = func() time.Time { return fixed }

	hint := 0.8
	evidence := c.Collect(context.Background(), []search.Result{
		{URL: server.URL + "/live", Title: "Live", Snippet: "given"},
		{URL: server.URL + "/live", Title: "Duplicate"},
		{URL: server.URL + "/empty", Title: "Empty", QualityHint: &hint},
		{URL: server.URL + "/dead", Title: "Dead", Snippet: "stale"},
		{URL: ""},
	})

	if len(evidence) != 3 {
		t.Fatalf("Expected 3 evidence items, got %d", len(evidence))
	}
	if evidence[0].Snippet != "given" || evidence[0].Quality != 0.4 {
		t.Errorf("Unexpected first evidence: %+v", evidence[0])
	}
	if evidence[1].Snippet != "Backfilled page text" {
		t.Errorf("Expected backfilled snippet, got %q", evidence[1].Snippet)
	}
	if math.Abs(evidence[1].Quality-0.6) > 1e-9 {
		t.Errorf("Expected blended quality 0.6, got %v", evidence[1].Quality)
	}
	if evidence[2].Quality != 0.2 {
		t.Errorf("Expected halved quality for dead link, got %v", evidence[2].Quality)
	}
	for _, ev := range evidence {
		if !ev.FetchedAt.Equal(fixed) {
			t.Errorf("Unexpected FetchedAt %v", ev.FetchedAt)
		}
		if ev.Host != "127.0.0.1" {
			t.Errorf("Unexpected host %q", ev.Host)
		}
	}
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(NewQualityScorer(NewAuthorityClassifier(model.AuthorityConfig{})), nil, nil, zerolog.Nop())
	if got := c.Collect(context.Background(), nil); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}
