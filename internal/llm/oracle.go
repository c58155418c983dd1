package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/metrics"
	"github.com/ppiankov/kurral/internal/retry"
	"github.com/ppiankov/kurral/internal/worker"
)

// ErrMalformedOutput marks oracle output that does not match the requested schema
var ErrMalformedOutput = errors.New("malformed oracle output")

// Oracle tasks, used for routing, logging and metrics
const (
	TaskPreCheck   = "precheck"
	TaskClaims     = "claims"
	TaskVerdict    = "verdict"
	TaskValue      = "value"
	TaskDiscussion = "discussion"
)

// Validatable is implemented by every typed oracle response
type Validatable interface {
	Validate() error
}

// JSONGenerator is the strict JSON surface of an Oracle consumed by pipeline stages
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, req Request, out Validatable) error
}

var _ JSONGenerator = (*Oracle)(nil)

// Oracle wraps a Provider with rate limiting, retries and strict JSON decoding
type Oracle struct {
	provider Provider
	limiter  *worker.Limiter
	policy   retry.Policy
	log      zerolog.Logger
}

// NewOracle creates a new oracle; limiter may be nil
func NewOracle(provider Provider, limiter *worker.Limiter, policy retry.Policy, log zerolog.Logger) *Oracle {
	return &Oracle{
		provider: provider,
		limiter:  limiter,
		policy:   policy,
		log:      log.With().Str("component", "oracle").Str("provider", provider.Name()).Logger(),
	}
}

// Name returns the underlying provider name
func (o *Oracle) Name() string {
	return o.provider.Name()
}

// Generate calls the provider, retrying transient failures under the oracle's policy
func (o *Oracle) Generate(ctx context.Context, req Request) (*Response, error) {
	key := "llm:" + o.provider.Name()
	count := metrics.CallObserver(key)
	policy := o.policy.WithObserver(func(attempt int, err error) {
		count(attempt, err)
		if err != nil {
			o.log.Warn().Err(err).Str("task", req.Task).Int("attempt", attempt).Msg("oracle call failed")
		}
	})

	var resp *Response
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx, key); err != nil {
			return err
		}
		r, err := o.provider.Generate(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s oracle call: %w", req.Task, err)
	}

	o.log.Debug().Str("task", req.Task).Int("tokens", resp.TokensUsed).Msg("oracle call ok")
	return resp, nil
}

// GenerateJSON requests a JSON object and decodes it strictly into out
func (o *Oracle) GenerateJSON(ctx context.Context, req Request, out Validatable) error {
	req.JSON = true
	resp, err := o.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := DecodeStrict(resp.Text, out); err != nil {
		return fmt.Errorf("%s oracle call: %w", req.Task, err)
	}
	return nil
}

// DecodeStrict decodes a single JSON value, tolerating only a surrounding code fence
// Any decode error, trailing data or failed validation is ErrMalformedOutput
func DecodeStrict(text string, out Validatable) error {
	body := stripCodeFence(text)
	if body == "" {
		return malformed(errors.New("empty response"))
	}

	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return malformed(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return malformed(errors.New("trailing data after JSON value"))
	}
	if err := out.Validate(); err != nil {
		return malformed(err)
	}
	return nil
}

func malformed(err error) error {
	return retry.MarkPermanent(fmt.Errorf("%w: %v", ErrMalformedOutput, err))
}

// stripCodeFence removes a ```json ... ``` wrapper if present
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
