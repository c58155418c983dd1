package llm

import (
	"context"
)

// Provider defines the interface for generation oracle providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate runs a single completion; HTTP failures are returned as *retry.ClassifiedError
	Generate(ctx context.Context, req Request) (*Response, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Request is a single oracle call
type Request struct {
	// Task names the pipeline step issuing the call (precheck, claims, verdict, value, discussion)
	Task string

	// System sets the model's role and output contract
	System string

	// Prompt is the user content
	Prompt string

	// JSON asks the provider for a single JSON object response
	JSON bool

	// ImageURL optionally attaches an image to the prompt
	ImageURL string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// Response is the oracle's raw output
type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Timeout:   30,
		MaxTokens: 1000,
	}
}

// jsonInstruction is appended to the system prompt for providers without a native JSON mode
const jsonInstruction = "\n\nRespond with a single JSON object only. Do not wrap it in prose."

func (c Config) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1000
}
