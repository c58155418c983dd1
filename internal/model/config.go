package model

import "time"

// Config is the complete Kurral pipeline configuration
type Config struct {
	LLM          LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Search       SearchConfig     `yaml:"search" mapstructure:"search"`
	Store        StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline     PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Queue        QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Server       ServerConfig     `yaml:"server" mapstructure:"server"`
	Cache        CacheConfig      `yaml:"cache" mapstructure:"cache"`
	RateLimiting RateLimitConfig  `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Authority    AuthorityConfig  `yaml:"authority" mapstructure:"authority"`
	Evidence     EvidenceConfig   `yaml:"evidence" mapstructure:"evidence"`
	Reputation   ReputationConfig `yaml:"reputation" mapstructure:"reputation"`
	Scheduler    SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Output       OutputConfig     `yaml:"output" mapstructure:"output"`
}

// LLMConfig configures the generation oracle
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig configures the search oracle
type SearchConfig struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxResults int           `yaml:"max_results" mapstructure:"max_results"` // Evidence sources per claim
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the document store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // SQLite file, ":memory:" for ephemeral
}

// PreCheck failure modes
const (
	PreCheckFailExtract = "extract" // Proceed to claim extraction as if verification were needed
	PreCheckFailSkip    = "skip"    // Skip verification, decide needs_review
	PreCheckFailReview  = "review"  // Skip verification, decide needs_review and escalate
)

// PipelineConfig configures the orchestrator and its stages
type PipelineConfig struct {
	PreCheckFailureMode string        `yaml:"precheck_failure_mode" mapstructure:"precheck_failure_mode"`
	FactCheckWorkers    int           `yaml:"factcheck_workers" mapstructure:"factcheck_workers"`
	MaxClaims           int           `yaml:"max_claims" mapstructure:"max_claims"`
	ClaimLease          time.Duration `yaml:"claim_lease" mapstructure:"claim_lease"`
	MaxAttempts         int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff         time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	CallTimeout         time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// QueueConfig configures the durable pipeline job queue
type QueueConfig struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Lease        time.Duration `yaml:"lease" mapstructure:"lease"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// CacheConfig configures search result caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RateLimitConfig configures per-target rate limiting of oracle and search calls
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// AuthorityConfig configures evidence source classification
type AuthorityConfig struct {
	PrimaryDomains   []string          `yaml:"primary_domains" mapstructure:"primary_domains"`
	SecondaryDomains []string          `yaml:"secondary_domains" mapstructure:"secondary_domains"`
	PathPatterns     []PathPattern     `yaml:"path_patterns,omitempty" mapstructure:"path_patterns"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"`
}

// PathPattern maps a URL path regex to an authority tier
type PathPattern struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	Tier    string `yaml:"tier" mapstructure:"tier"`
}

// EvidenceConfig configures evidence probing and snippet backfill
type EvidenceConfig struct {
	ProbeURLs     bool          `yaml:"probe_urls" mapstructure:"probe_urls"`
	FetchSnippets bool          `yaml:"fetch_snippets" mapstructure:"fetch_snippets"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// ReputationConfig configures the KurralScore aggregate
type ReputationConfig struct {
	HistoryCap int           `yaml:"history_cap" mapstructure:"history_cap"`
	Window     time.Duration `yaml:"window" mapstructure:"window"`
}

// SchedulerConfig configures periodic maintenance jobs (cron specs with seconds)
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	RecomputeSpec string `yaml:"recompute_spec" mapstructure:"recompute_spec"`
	RequeueSpec   string `yaml:"requeue_spec" mapstructure:"requeue_spec"`
}

// OutputConfig configures logging and CLI output
type OutputConfig struct {
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	Format  string `yaml:"format" mapstructure:"format"` // console, json
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   30,
			MaxTokens: 1000,
		},
		Search: SearchConfig{
			BaseURL:    "http://localhost:8888/search",
			Timeout:    15 * time.Second,
			MaxResults: 5,
			UserAgent:  "Kurral/0.1 (+https://github.com/ppiankov/kurral)",
		},
		Store: StoreConfig{
			Path: "kurral.db",
		},
		Pipeline: PipelineConfig{
			PreCheckFailureMode: PreCheckFailExtract,
			FactCheckWorkers:    4,
			MaxClaims:           10,
			ClaimLease:          10 * time.Minute,
			MaxAttempts:         3,
			BaseBackoff:         500 * time.Millisecond,
			MaxBackoff:          8 * time.Second,
			CallTimeout:         30 * time.Second,
		},
		Queue: QueueConfig{
			Workers:      4,
			BatchSize:    10,
			PollInterval: 2 * time.Second,
			Lease:        15 * time.Minute,
			MaxAttempts:  8,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".kurral-cache",
			MemoryTTL: 1 * time.Hour,
			DiskTTL:   24 * time.Hour,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2.0,
			BurstSize:         5,
		},
		Authority: AuthorityConfig{
			PrimaryDomains: []string{
				"gov", "edu", "who.int", "cdc.gov", "nih.gov", "europa.eu",
				"un.org", "nature.com", "science.org", "thelancet.com",
				"nejm.org", "bmj.com", "arxiv.org",
			},
			SecondaryDomains: []string{
				"reuters.com", "apnews.com", "bbc.co.uk", "bbc.com",
				"nytimes.com", "theguardian.com", "ft.com", "bloomberg.com",
				"wikipedia.org", "britannica.com",
			},
		},
		Evidence: EvidenceConfig{
			ProbeURLs:     false,
			FetchSnippets: true,
			RespectRobots: true,
			Timeout:       10 * time.Second,
			UserAgent:     "Kurral/0.1 (+https://github.com/ppiankov/kurral)",
			MaxBodyBytes:  2_000_000,
		},
		Reputation: ReputationConfig{
			HistoryCap: 20,
			Window:     30 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			RecomputeSpec: "0 0 3 * * *",
			RequeueSpec:   "0 */10 * * * *",
		},
		Output: OutputConfig{
			Verbose: false,
			Format:  "console",
		},
	}
}
