// Command conduit is Nexus's composition root: it loads configuration,
// wires the Tool Registry, Memory Store, Cron Scheduler, Task Manager,
// and per-agent Runtimes together, registers the Ghost Service's cron
// job, starts the cron and task schedulers, and blocks until
// interrupted. It creates the message bus but does not consume its
// inbound queue. It replaces the
// teacher's cmd/nexus CLI, which this module's core components made
// obsolete (see DESIGN.md).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/capabilities"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/cron"
	"github.com/haasonsaas/nexus/internal/evolution"
	"github.com/haasonsaas/nexus/internal/ghost"
	"github.com/haasonsaas/nexus/internal/memory"
	"github.com/haasonsaas/nexus/internal/policy"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/skills"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/internal/tools/exec"
	"github.com/haasonsaas/nexus/internal/tools/files"
	"github.com/haasonsaas/nexus/internal/versioning"
	"github.com/haasonsaas/nexus/pkg/models"
)

func main() {
	configPath := "nexus.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(configPath, logger); err != nil {
		logger.Error("conduit exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logger.With("level", cfg.Logging.Level)

	resolver := policy.NewResolver()
	toggles, err := policy.NewToggleStore(filepath.Join(cfg.Workspace.Root, "toggles.json"))
	if err != nil {
		return fmt.Errorf("open toggle store: %w", err)
	}

	registry := tools.New(resolver, toggles)
	tools.RegisterCoreTools(registry)
	registerFilesAndExecTools(registry, cfg)

	memStore, err := memory.Open(filepath.Join(cfg.Workspace.Root, "memory.db"), memory.RankWeights(cfg.Memory.RankWeights))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer memStore.Close()

	taskStore := tasks.NewMemoryStore()

	jobStore, err := cron.NewFileJobStore(filepath.Join(cfg.Workspace.Root, "cron_jobs.json"))
	if err != nil {
		return fmt.Errorf("open cron job store: %w", err)
	}
	scheduler, err := cron.NewScheduler(cfg.Cron, cron.WithLogger(logger), cron.WithJobStore(jobStore))
	if err != nil {
		return fmt.Errorf("create cron scheduler: %w", err)
	}
	if err := scheduler.LoadFromStore(context.Background()); err != nil {
		return fmt.Errorf("load cron jobs from store: %w", err)
	}

	messageBus := bus.New(cfg.Gateway.InboundQueueSize, busOptions(cfg.Channels)...)

	sessionStore := sessions.NewMemoryStore()
	skillsManager := skills.NewManager(cfg.Workspace.Root, "", logger)
	if cfg.Skills.Enabled {
		if _, err := skillsManager.ReloadSkills(context.Background()); err != nil {
			logger.Warn("skill discovery failed", "error", err)
		}
	}

	factories := providerFactories()
	provider, err := agent.Select(providerEntries(cfg.Providers), cfg.Providers.Default, cfg.Providers.FallbackChain, factories)
	if err != nil {
		return fmt.Errorf("select provider: %w", err)
	}

	memHandle := newMemoryAdapter(memStore)
	cronHandle := newCronAdapter(scheduler)

	var evolutionHandle tools.EvolutionHandle
	if cfg.Capabilities.Enabled && cfg.Evolution.Enabled {
		engine, err := buildEvolutionEngine(cfg, factories, logger)
		if err != nil {
			return fmt.Errorf("build evolution engine: %w", err)
		}
		evolutionHandle = engine
	}

	defaultPermissions := policy.NewPermissionSet(
		"memory:read", "memory:write", "cron:read", "cron:write", "task:read", "task:write",
	)

	runtimes := make(map[string]*agent.Runtime, len(cfg.Agents.Entries))
	var taskRuntimeBridge *runtimeBridge
	for agentID, agentCfg := range cfg.Agents.Entries {
		rtCfg := agent.DefaultRuntimeConfig()
		rtCfg.AgentID = agentID
		rtCfg.SystemPrompt = agentCfg.SystemPrompt
		rtCfg.Model = agentCfg.Model
		rtCfg.CoreTools = cfg.Tools.CoreTools
		rtCfg.MaxIterations = cfg.Tools.MaxIterations
		deps := agent.ToolDeps{
			Workspace:   cfg.Workspace.Root,
			Config:      cfg,
			Permissions: defaultPermissions,
			Outbound:    messageBus,
			Memory:      memHandle,
			Cron:        cronHandle,
			Evolution:   evolutionHandle,
			// Tasks is wired below once the executor exists, since
			// taskAdapter needs the runtime it schedules work against.
		}
		rt := agent.NewRuntime(rtCfg, provider, registry, sessionStore, skillsManager, deps, logger)
		runtimes[agentID] = rt
		if agentID == cfg.Agents.DefaultAgentID {
			taskRuntimeBridge = &runtimeBridge{runtime: rt}
		}
	}
	defaultRuntime := runtimes[cfg.Agents.DefaultAgentID]
	if defaultRuntime == nil {
		return fmt.Errorf("no runtime configured for default agent %q", cfg.Agents.DefaultAgentID)
	}

	taskExecutor := tasks.NewAgentExecutor(taskRuntimeBridge, sessionStore, tasks.AgentExecutorConfig{Logger: logger})
	taskScheduler := tasks.NewScheduler(taskStore, taskExecutor, tasks.DefaultSchedulerConfig())

	taskHandle := newTaskAdapter(taskStore, taskExecutor, cfg.Agents.DefaultAgentID)
	for _, rt := range runtimes {
		rt.SetTaskHandle(taskHandle)
	}

	if cfg.Ghost.Enabled {
		ghostRunner := ghost.NewRunner(cfg.Ghost, func(ctx context.Context, prompt string) (string, error) {
			return runGhostTurn(ctx, defaultRuntime, sessionStore, cfg.Ghost.AgentID, prompt)
		}, logger)
		if err := ghostRunner.RegisterCronJob(scheduler); err != nil {
			return fmt.Errorf("register ghost cron job: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	defer scheduler.Stop(context.Background())

	if err := taskScheduler.Start(ctx); err != nil {
		return fmt.Errorf("start task scheduler: %w", err)
	}
	defer taskScheduler.Stop(context.Background())

	logger.Info("conduit started", "agents", len(runtimes), "ghost_enabled", cfg.Ghost.Enabled)
	<-ctx.Done()
	logger.Info("conduit shutting down")
	return nil
}

func registerFilesAndExecTools(registry *tools.Registry, cfg *config.Config) {
	filesCfg := files.Config{Workspace: cfg.Workspace.Root, MaxReadBytes: 1 << 20}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	manager := exec.NewManager(cfg.Workspace.Root)
	registry.Register(exec.NewExecTool("exec", manager))
	registry.Register(exec.NewProcessTool(manager))
}

func providerEntries(cfg config.ProvidersConfig) map[string]agent.ProviderEntry {
	out := make(map[string]agent.ProviderEntry, len(cfg.Entries))
	for name, entry := range cfg.Entries {
		out[name] = agent.ProviderEntry{
			Name:         name,
			Kind:         entry.Kind,
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
			Timeout:      entry.Timeout,
			MaxRetries:   entry.MaxRetries,
		}
	}
	return out
}

// providerFactories wires each configured provider kind to its concrete
// constructor, keeping internal/agent.Select decoupled from the
// API-key-bearing providers package (per select.go's ProviderFactory doc).
func providerFactories() map[string]agent.ProviderFactory {
	return map[string]agent.ProviderFactory{
		"anthropic": func(e agent.ProviderEntry) (agent.LLMProvider, error) {
			return providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:  e.APIKey,
				BaseURL: e.BaseURL,
			})
		},
		"google": func(e agent.ProviderEntry) (agent.LLMProvider, error) {
			return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: e.APIKey})
		},
		"openai": func(e agent.ProviderEntry) (agent.LLMProvider, error) {
			return providers.NewOpenAIProvider(e.APIKey), nil
		},
		"ollama": func(e agent.ProviderEntry) (agent.LLMProvider, error) {
			timeout := e.Timeout
			if timeout == 0 {
				timeout = 60 * time.Second
			}
			return providers.NewOllamaProvider(providers.OllamaConfig{
				BaseURL:      e.BaseURL,
				DefaultModel: e.DefaultModel,
				Timeout:      timeout,
			}), nil
		},
	}
}

// busOptions turns the configured per-channel chunk limits and rate
// limits into bus.Option values, so adapters never have to enforce
// their own transport limits before calling Bus.Deliver.
func busOptions(cfg config.ChannelsConfig) []bus.Option {
	var opts []bus.Option
	for channel, limit := range cfg.ChunkLimits {
		opts = append(opts, bus.WithChunkLimit(models.ChannelType(channel), limit))
	}
	for channel, rl := range cfg.RateLimits {
		opts = append(opts, bus.WithRateLimit(models.ChannelType(channel), rl.PerSecond, rl.Burst))
	}
	return opts
}

// buildEvolutionEngine wires the Capability Registry, its version
// history, and a generator/auditor pair (each a single provider entry
// named by EvolutionConfig) into an evolution.Engine, the concrete
// tools.EvolutionHandle behind a runtime's capability-miss requests.
func buildEvolutionEngine(cfg *config.Config, factories map[string]agent.ProviderFactory, logger *slog.Logger) (*evolution.Engine, error) {
	artifactDir := filepath.Join(cfg.Workspace.Root, "tool_artifacts")
	versionDir := filepath.Join(cfg.Workspace.Root, "tool_versions")
	registry, err := capabilities.New(artifactDir, versionDir)
	if err != nil {
		return nil, fmt.Errorf("open capability registry: %w", err)
	}
	versions, err := versioning.NewStore(versionDir)
	if err != nil {
		return nil, fmt.Errorf("open versioning store: %w", err)
	}

	entries := providerEntries(cfg.Providers)
	generatorProvider, err := agent.Select(entries, cfg.Evolution.GeneratorModel, nil, factories)
	if err != nil {
		return nil, fmt.Errorf("select evolution generator provider: %w", err)
	}
	auditorProvider, err := agent.Select(entries, cfg.Evolution.AuditorModel, nil, factories)
	if err != nil {
		return nil, fmt.Errorf("select evolution auditor provider: %w", err)
	}

	sandbox := evolution.NewCommandSandbox(cfg.Workspace.Root)
	engineCfg := evolution.Config{
		Sandbox: evolution.SandboxPolicy{
			WorkspaceOnly:   cfg.Tools.Sandbox.WorkspaceOnly,
			AllowNetwork:    cfg.Tools.Sandbox.AllowNetwork,
			AllowedBinaries: cfg.Tools.Sandbox.AllowedBinaries,
			Timeout:         cfg.Tools.Sandbox.Timeout,
		},
		TestTimeout:  cfg.Evolution.TestTimeout,
		MaxRollbacks: cfg.Evolution.MaxRollbacks,
	}

	return evolution.New(
		registry,
		versions,
		evolution.NewProviderGenerator(generatorProvider, ""),
		evolution.NewProviderAuditor(auditorProvider, ""),
		sandbox,
		engineCfg,
		logger,
	), nil
}

// runGhostTurn drives one Ghost routine turn through the default
// runtime, stamped with channel "ghost" so the memory guardrail
// (internal/tools.MemoryUpsertTool) applies.
func runGhostTurn(ctx context.Context, runtime *agent.Runtime, store sessions.Store, ghostAgentID, prompt string) (string, error) {
	msg := ghost.BuildGhostMessage(ghostAgentID, prompt)
	key := sessions.SessionKey(ghostAgentID, msg.Channel, msg.ChannelID)
	session, err := store.GetOrCreate(ctx, key, ghostAgentID, msg.Channel, msg.ChannelID)
	if err != nil {
		return "", fmt.Errorf("get or create ghost session: %w", err)
	}

	chunks, err := runtime.Process(ctx, session, msg)
	if err != nil {
		return "", err
	}
	var text string
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		text += chunk.Text
	}
	return text, nil
}
