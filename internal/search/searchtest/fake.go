// Package searchtest provides a scripted search oracle for tests.
package searchtest

import (
	"context"
	"strings"
	"sync"

	"github.com/ppiankov/kurral/internal/search"
)

// Fake returns scripted results keyed by query substring
type Fake struct {
	mu       sync.Mutex
	rules    []rule
	fallback []search.Result
	err      error
	queries  []string
}

type rule struct {
	contains string
	results  []search.Result
	err      error
}

// New creates a fake that returns no results for unmatched queries
func New() *Fake {
	return &Fake{}
}

// On returns results for any query containing substr (case-insensitive)
func (f *Fake) On(substr string, results ...search.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: strings.ToLower(substr), results: results})
	return f
}

// OnError fails any query containing substr
func (f *Fake) OnError(substr string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: strings.ToLower(substr), err: err})
	return f
}

// Default sets the results for unmatched queries
func (f *Fake) Default(results ...search.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = results
	return f
}

// FailAll makes every query fail with err
func (f *Fake) FailAll(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// Search records the query and returns the first matching rule's results
func (f *Fake) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}

	results := f.fallback
	q := strings.ToLower(query)
	for _, r := range f.rules {
		if strings.Contains(q, r.contains) {
			if r.err != nil {
				return nil, r.err
			}
			results = r.results
			break
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]search.Result, len(results))
	copy(out, results)
	return out, nil
}

// Calls returns how many searches were issued
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// Queries returns every recorded query
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

// Hint is a convenience for building a QualityHint
func Hint(q float64) *float64 {
	return &q
}
