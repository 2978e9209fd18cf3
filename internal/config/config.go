// Package config loads and validates the workspace configuration file
// (config.json/.yaml) and applies environment-variable overrides and
// defaults, matching the teacher's $include-resolving, KnownFields-strict
// YAML decode idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for a Conduit workspace.
type Config struct {
	Version int `yaml:"version"`

	Workspace WorkspaceConfig `yaml:"workspace"`
	Providers ProvidersConfig `yaml:"providers"`
	Agents    AgentsConfig    `yaml:"agents"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Tools     ToolsConfig     `yaml:"tools"`
	Skills    SkillsConfig    `yaml:"skills"`

	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Evolution    EvolutionConfig    `yaml:"evolution"`
	Memory       MemoryConfig       `yaml:"memory"`
	Cron         CronConfig         `yaml:"cron"`
	Tasks        TasksConfig        `yaml:"tasks"`
	Ghost        GhostConfig        `yaml:"ghost"`

	Logging LoggingConfig `yaml:"logging"`
}

// WorkspaceConfig locates the on-disk workspace root that every other
// on-disk path is resolved relative to.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ProvidersConfig configures the pool of LLM providers available to the
// runtime and the cascade used to pick one.
type ProvidersConfig struct {
	Default       string                       `yaml:"default"`
	FallbackChain []string                     `yaml:"fallback_chain"`
	Entries       map[string]ProviderEntryConfig `yaml:"entries"`
}

// ProviderEntryConfig configures one named provider entry.
type ProviderEntryConfig struct {
	Kind         string        `yaml:"kind"` // "anthropic" | "google" | "openai" | "ollama"
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// AgentsConfig configures the agents hosted by this runtime.
type AgentsConfig struct {
	DefaultAgentID string                  `yaml:"default_agent_id"`
	Entries        map[string]AgentConfig  `yaml:"entries"`
}

// AgentConfig configures one agent's identity and tool access.
type AgentConfig struct {
	SystemPrompt string   `yaml:"system_prompt"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	Tools        []string `yaml:"tools"`
}

// ChannelsConfig carries per-channel-type tuning the core needs even
// though it never imports a concrete adapter: chunk limits and rate
// limiting. Adapters register themselves by ChannelType at runtime.
type ChannelsConfig struct {
	ChunkLimits map[string]int        `yaml:"chunk_limits"`
	RateLimits  map[string]RateLimit  `yaml:"rate_limits"`
}

// RateLimit configures a token-bucket rate limit for one channel.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// GatewayConfig configures inbound message fan-in.
type GatewayConfig struct {
	InboundQueueSize    int `yaml:"inbound_queue_size"`
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`
}

// ToolsConfig controls the tool-calling loop and permission defaults.
type ToolsConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`

	CoreTools []string `yaml:"core_tools"` // get full schema up front; others name+description only

	Approval ApprovalConfig `yaml:"approval"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
}

// ApprovalConfig controls which tools require explicit permission.
type ApprovalConfig struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
	// DefaultDecision is applied when no allow/deny rule matches: "allowed" or "denied".
	DefaultDecision string `yaml:"default_decision"`
}

// SandboxConfig controls process isolation for tool and evolution-sandbox execution.
type SandboxConfig struct {
	WorkspaceOnly   bool     `yaml:"workspace_only"`
	AllowNetwork    bool     `yaml:"allow_network"`
	AllowedBinaries []string `yaml:"allowed_binaries"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SkillsConfig controls skill discovery.
type SkillsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	ExtraDirs     []string `yaml:"extra_dirs"`
	RhaiInterpreter string `yaml:"rhai_interpreter"` // binary name/path for SKILL.rhai execution
}

// CapabilitiesConfig controls the capability registry.
type CapabilitiesConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EvolutionConfig controls the self-evolution pipeline.
type EvolutionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AuditorModel   string        `yaml:"auditor_model"`   // provider entry used for the Auditing stage
	GeneratorModel string        `yaml:"generator_model"` // provider entry used for the Generating stage
	TestTimeout    time.Duration `yaml:"test_timeout"`
	MaxRollbacks   int           `yaml:"max_rollbacks"`
}

// MemoryConfig controls the FTS5-indexed memory store.
type MemoryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ShortTermTTL     time.Duration `yaml:"short_term_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	RankWeights      RankWeights   `yaml:"rank_weights"`
}

// RankWeights are the tunable weights combined into a memory query's
// final rank. Defaults documented in DESIGN.md Open Question (c).
type RankWeights struct {
	FTS        float64 `yaml:"fts"`
	Importance float64 `yaml:"importance"`
	Recency    float64 `yaml:"recency"`
}

// CronConfig controls the job scheduler.
type CronConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TasksConfig controls the background task manager.
type TasksConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PurgeAfter      time.Duration `yaml:"purge_after"`
}

// GhostConfig controls the background-maintenance persona.
type GhostConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Schedule    string `yaml:"schedule"` // cron expression, 5 or 6 fields
	AgentID     string `yaml:"agent_id"`
	DailyCap    int    `yaml:"daily_cap"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads, resolves $include directives, decodes, overrides from the
// environment, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Snapshot returns a deep-enough copy of cfg suitable for read-only
// inspection by callers that must not mutate live configuration (the
// narrow query surface SPEC_FULL.md §6 reserves for a future CLI).
func (c *Config) Snapshot() Config {
	if c == nil {
		return Config{}
	}
	return *c
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Agents.DefaultAgentID == "" {
		cfg.Agents.DefaultAgentID = "main"
	}
	if cfg.Gateway.InboundQueueSize == 0 {
		cfg.Gateway.InboundQueueSize = 256
	}
	if cfg.Gateway.MaxConcurrentSessions == 0 {
		cfg.Gateway.MaxConcurrentSessions = 32
	}
	if cfg.Tools.MaxIterations == 0 {
		cfg.Tools.MaxIterations = 12
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Tools.MaxAttempts == 0 {
		cfg.Tools.MaxAttempts = 3
	}
	if cfg.Tools.RetryBackoff == 0 {
		cfg.Tools.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Tools.Approval.DefaultDecision == "" {
		cfg.Tools.Approval.DefaultDecision = "denied"
	}
	if cfg.Tools.Sandbox.Timeout == 0 {
		cfg.Tools.Sandbox.Timeout = 2 * time.Minute
	}
	if cfg.Evolution.TestTimeout == 0 {
		cfg.Evolution.TestTimeout = 5 * time.Minute
	}
	if cfg.Evolution.MaxRollbacks == 0 {
		cfg.Evolution.MaxRollbacks = 3
	}
	if cfg.Memory.ShortTermTTL == 0 {
		cfg.Memory.ShortTermTTL = 72 * time.Hour
	}
	if cfg.Memory.SweepInterval == 0 {
		cfg.Memory.SweepInterval = 15 * time.Minute
	}
	if cfg.Memory.RankWeights == (RankWeights{}) {
		cfg.Memory.RankWeights = RankWeights{FTS: 0.5, Importance: 0.3, Recency: 0.2}
	}
	if cfg.Tasks.MaxConcurrency == 0 {
		cfg.Tasks.MaxConcurrency = 5
	}
	if cfg.Tasks.PollInterval == 0 {
		cfg.Tasks.PollInterval = 10 * time.Second
	}
	if cfg.Tasks.PurgeAfter == 0 {
		cfg.Tasks.PurgeAfter = 24 * time.Hour
	}
	if cfg.Ghost.Schedule == "" {
		cfg.Ghost.Schedule = "0 */6 * * *"
	}
	if cfg.Ghost.DailyCap == 0 {
		cfg.Ghost.DailyCap = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_WORKSPACE")); v != "" {
		cfg.Workspace.Root = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_MAX_CONCURRENT_SESSIONS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.MaxConcurrentSessions = parsed
		}
	}
	for name, entry := range cfg.Providers.Entries {
		envKey := "CONDUIT_PROVIDER_" + strings.ToUpper(name) + "_API_KEY"
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			entry.APIKey = v
			cfg.Providers.Entries[name] = entry
		}
	}
}

// ConfigValidationError aggregates every validation issue found so a
// user can fix a config file in one pass instead of one error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Providers.Default != "" {
		if _, ok := cfg.Providers.Entries[cfg.Providers.Default]; !ok {
			issues = append(issues, fmt.Sprintf("providers.entries missing entry for default %q", cfg.Providers.Default))
		}
	}
	if cfg.Gateway.MaxConcurrentSessions < 0 {
		issues = append(issues, "gateway.max_concurrent_sessions must be >= 0")
	}
	if cfg.Gateway.InboundQueueSize < 0 {
		issues = append(issues, "gateway.inbound_queue_size must be >= 0")
	}
	if cfg.Tools.MaxIterations < 0 {
		issues = append(issues, "tools.max_iterations must be >= 0")
	}
	if cfg.Tools.Timeout < 0 {
		issues = append(issues, "tools.timeout must be >= 0")
	}
	if decision := strings.ToLower(strings.TrimSpace(cfg.Tools.Approval.DefaultDecision)); decision != "" {
		if decision != "allowed" && decision != "denied" {
			issues = append(issues, "tools.approval.default_decision must be \"allowed\" or \"denied\"")
		}
	}
	w := cfg.Memory.RankWeights
	if w.FTS < 0 || w.Importance < 0 || w.Recency < 0 {
		issues = append(issues, "memory.rank_weights must all be >= 0")
	}
	if cfg.Tasks.MaxConcurrency < 0 {
		issues = append(issues, "tasks.max_concurrency must be >= 0")
	}
	if cfg.Ghost.DailyCap < 0 {
		issues = append(issues, "ghost.daily_cap must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
