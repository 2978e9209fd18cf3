package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
version: 1
providers:
  default: anthropic
  entries:
    anthropic:
      kind: anthropic
      api_key: test-key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Workspace.Root)
	assert.Equal(t, 32, cfg.Gateway.MaxConcurrentSessions)
	assert.Equal(t, 256, cfg.Gateway.InboundQueueSize)
	assert.Equal(t, 12, cfg.Tools.MaxIterations)
	assert.Equal(t, "denied", cfg.Tools.Approval.DefaultDecision)
	assert.Equal(t, RankWeights{FTS: 0.5, Importance: 0.3, Recency: 0.2}, cfg.Memory.RankWeights)
	assert.Equal(t, 72*time.Hour, cfg.Memory.ShortTermTTL)
	assert.Equal(t, "0 */6 * * *", cfg.Ghost.Schedule)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
version: 1
providers:
  default: openai
  entries:
    anthropic:
      kind: anthropic
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing entry for default")
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "providers.yaml", `
providers:
  default: anthropic
  entries:
    anthropic:
      kind: anthropic
      api_key: included-key
`)
	path := writeConfigFile(t, dir, "config.yaml", `
version: 1
$include: providers.yaml
gateway:
  max_concurrent_sessions: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "included-key", cfg.Providers.Entries["anthropic"].APIKey)
	assert.Equal(t, 8, cfg.Gateway.MaxConcurrentSessions)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := &Config{
		Providers: ProvidersConfig{
			Entries: map[string]ProviderEntryConfig{
				"anthropic": {Kind: "anthropic"},
			},
		},
	}
	t.Setenv("CONDUIT_PROVIDER_ANTHROPIC_API_KEY", "from-env")
	t.Setenv("CONDUIT_MAX_CONCURRENT_SESSIONS", "7")

	applyEnvOverrides(cfg)

	assert.Equal(t, "from-env", cfg.Providers.Entries["anthropic"].APIKey)
	assert.Equal(t, 7, cfg.Gateway.MaxConcurrentSessions)
}

func TestValidateConfigAggregatesIssues(t *testing.T) {
	cfg := &Config{
		Gateway: GatewayConfig{MaxConcurrentSessions: -1, InboundQueueSize: -1},
		Tools:   ToolsConfig{MaxIterations: -1, Approval: ApprovalConfig{DefaultDecision: "maybe"}},
		Logging: LoggingConfig{Format: "xml"},
	}
	err := validateConfig(cfg)
	require.Error(t, err)
	var verr *ConfigValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Issues), 4)
}

func TestVersionValidation(t *testing.T) {
	assert.NoError(t, ValidateVersion(CurrentVersion))
	assert.Error(t, ValidateVersion(0))
	assert.Error(t, ValidateVersion(CurrentVersion+1))
}
