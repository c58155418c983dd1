// Package llmtest provides a scripted generation oracle for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/retry"
)

// Handler produces the raw oracle text for a request
type Handler func(req llm.Request) (string, error)

// Fake is a Provider whose responses are scripted per task
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	requests []llm.Request
}

// New creates an empty fake; unscripted tasks fail permanently
func New() *Fake {
	return &Fake{handlers: make(map[string]Handler)}
}

// On scripts a handler for a task
func (f *Fake) On(task string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[task] = h
	return f
}

// OnJSON scripts a task to always answer with v encoded as JSON
func (f *Fake) OnJSON(task string, v any) *Fake {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal %s response: %v", task, err))
	}
	return f.On(task, func(llm.Request) (string, error) { return string(raw), nil })
}

// OnText scripts a task to always answer with text
func (f *Fake) OnText(task, text string) *Fake {
	return f.On(task, func(llm.Request) (string, error) { return text, nil })
}

// OnError scripts a task to always fail with err
func (f *Fake) OnError(task string, err error) *Fake {
	return f.On(task, func(llm.Request) (string, error) { return "", err })
}

// Name returns the provider name
func (f *Fake) Name() string { return "fake" }

// IsAvailable always reports true
func (f *Fake) IsAvailable(ctx context.Context) bool { return true }

// Generate records the request and dispatches to the scripted handler
func (f *Fake) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	h := f.handlers[req.Task]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, retry.MarkPermanent(fmt.Errorf("llmtest: no handler for task %q", req.Task))
	}
	text, err := h(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: text, Model: "fake", TokensUsed: len(text) / 4}, nil
}

// Calls returns the total number of Generate calls
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// CallsFor returns the number of Generate calls for a task
func (f *Fake) CallsFor(task string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Task == task {
			n++
		}
	}
	return n
}

// Requests returns a copy of every recorded request
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Reset forgets recorded requests, keeping handlers
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = nil
}

// FastPolicy retries quickly so tests exercising backoff stay fast
func FastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		CallTimeout: time.Second,
	}
}

// NewOracle wraps the fake in an Oracle with FastPolicy and no rate limiting
func NewOracle(f *Fake) *llm.Oracle {
	return llm.NewOracle(f, nil, FastPolicy(), zerolog.Nop())
}
