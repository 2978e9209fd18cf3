package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/capabilities"
	"github.com/haasonsaas/nexus/internal/versioning"
)

// Generator produces a candidate capability artifact for a triggered
// evolution request. The composition root wires a concrete
// implementation backed by an internal/agent.LLMProvider (the
// EvolutionConfig.GeneratorModel entry), kept behind this narrow
// interface so this package never imports internal/agent.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*GeneratedArtifact, error)
}

// Auditor reviews a generated artifact before it is ever executed.
// Like Generator, a concrete implementation is backed by
// EvolutionConfig.AuditorModel and wired in from the composition root.
type Auditor interface {
	Audit(ctx context.Context, req *Request, artifact *GeneratedArtifact) (passed bool, notes string, err error)
}

// Sandbox runs a generated artifact's smoke test under SandboxPolicy,
// given the artifact's own content rather than a path -- the Testing
// stage runs before the artifact is ever staged into the registry's
// active-version directory, so there's nothing on disk yet for a path
// to name. The default implementation (NewCommandSandbox) stages the
// content to a scratch file itself and shells out to it the way
// internal/tools/exec.Manager runs any other command; tests substitute
// a fake.
type Sandbox interface {
	Run(ctx context.Context, artifact *GeneratedArtifact, policy SandboxPolicy, input string) (output string, err error)
}

// Engine drives the Triggered -> ... -> Completed/Failed pipeline for
// evolution requests. One Engine is shared across all agents in a
// process; RequestEvolution is safe for concurrent use.
type Engine struct {
	capabilities *capabilities.Registry
	versions     *versioning.Store
	generator    Generator
	auditor      Auditor
	sandbox      Sandbox
	policy       SandboxPolicy
	testTimeout  time.Duration
	maxRollbacks int
	requests     *requestStore
	logger       *slog.Logger
}

// Config bundles the construction-time parameters for an Engine,
// mirroring the EvolutionConfig/SandboxConfig subset the composition
// root reads out of internal/config.
type Config struct {
	Sandbox      SandboxPolicy
	TestTimeout  time.Duration
	MaxRollbacks int
}

// New builds an Engine around a capabilities.Registry and
// versioning.Store (both already open), plus the Generator/Auditor the
// composition root built for the configured provider models.
func New(registry *capabilities.Registry, versions *versioning.Store, generator Generator, auditor Auditor, sandbox Sandbox, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	testTimeout := cfg.TestTimeout
	if testTimeout <= 0 {
		testTimeout = 30 * time.Second
	}
	return &Engine{
		capabilities: registry,
		versions:     versions,
		generator:    generator,
		auditor:      auditor,
		sandbox:      sandbox,
		policy:       cfg.Sandbox,
		testTimeout:  testTimeout,
		maxRollbacks: cfg.MaxRollbacks,
		requests:     newRequestStore(),
		logger:       logger.With("component", "evolution.engine"),
	}
}

// RequestEvolution implements tools.EvolutionHandle. It registers a
// Triggered request and runs the pipeline in a background goroutine,
// returning the request ID immediately so the calling tool call (and
// the agent turn it's part of) doesn't block on a multi-stage
// generate/audit/test/rollout cycle that may take much longer than a
// single tool timeout allows.
func (e *Engine) RequestEvolution(ctx context.Context, kind, targetID, trigger string) (string, error) {
	now := time.Now()
	req := &Request{
		ID:        uuid.NewString(),
		Kind:      Kind(kind),
		TargetID:  targetID,
		Trigger:   trigger,
		Stage:     StageTriggered,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.requests.put(req)
	e.logger.Info("evolution requested", "request_id", req.ID, "kind", kind, "target_id", targetID)

	go e.run(req.ID)
	return req.ID, nil
}

// Get returns a snapshot of a tracked request's current state.
func (e *Engine) Get(id string) (*Request, bool) {
	return e.requests.get(id)
}

// List returns every tracked request, for inspection/debugging tools.
func (e *Engine) List() []*Request {
	return e.requests.list()
}

// History returns the full version history recorded for a capability
// ID, letting an operator inspect what an evolved capability looked
// like before a given rollback.
func (e *Engine) History(capabilityIDStr string) (*versioning.History, error) {
	return e.versions.LoadHistory(capabilityIDStr)
}

func (e *Engine) fail(id string, stage Stage, err error) {
	e.requests.update(id, func(r *Request) {
		r.Stage = StageFailed
		r.Error = fmt.Sprintf("%s: %v", stage, err)
	})
	e.logger.Warn("evolution failed", "request_id", id, "stage", stage, "error", err)
}

// run executes the pipeline for one request, detached from the
// triggering tool call's context (its deadline shouldn't bound a
// multi-minute generate/audit/test cycle). A fresh background context
// is used for every stage instead.
func (e *Engine) run(id string) {
	ctx := context.Background()
	req, ok := e.requests.get(id)
	if !ok {
		return
	}

	e.requests.update(id, func(r *Request) { r.Stage = StageGenerating })
	artifact, err := e.generator.Generate(ctx, req)
	if err != nil {
		e.fail(id, StageGenerating, err)
		return
	}
	e.requests.update(id, func(r *Request) { r.Stage = StageGenerated })

	e.requests.update(id, func(r *Request) { r.Stage = StageAuditing })
	if err := e.checkSandboxPolicy(artifact); err != nil {
		e.fail(id, StageAuditing, err)
		return
	}
	passed, notes, err := e.auditor.Audit(ctx, req, artifact)
	if err != nil {
		e.fail(id, StageAuditing, err)
		return
	}
	e.requests.update(id, func(r *Request) { r.AuditNotes = notes })
	if !passed {
		e.fail(id, StageAuditing, fmt.Errorf("audit rejected: %s", notes))
		return
	}
	e.requests.update(id, func(r *Request) { r.Stage = StageAuditPassed })

	e.requests.update(id, func(r *Request) { r.Stage = StageTesting })
	if err := e.test(ctx, req, artifact); err != nil {
		e.fail(id, StageTesting, err)
		return
	}
	e.requests.update(id, func(r *Request) { r.Stage = StageTestPassed })

	e.requests.update(id, func(r *Request) { r.Stage = StageRollingOut })
	descriptor, err := e.rollOut(req, artifact)
	if err != nil {
		e.fail(id, StageRollingOut, err)
		return
	}

	e.requests.update(id, func(r *Request) {
		r.Stage = StageCompleted
		r.CapabilityID = descriptor.ID
		r.Version = descriptor.CurrentVersion
	})
	e.logger.Info("evolution completed", "request_id", id, "capability_id", descriptor.ID, "version", descriptor.CurrentVersion)
}

// checkSandboxPolicy rejects artifacts that declare a binary outside
// the allowed set before they are ever staged to disk or executed.
// This runs ahead of the Auditor so a misconfigured/over-permissive
// audit model can't be the only thing standing between a generated
// artifact and an arbitrary binary invocation.
func (e *Engine) checkSandboxPolicy(artifact *GeneratedArtifact) error {
	if artifact.Binary == "" {
		return nil
	}
	if !e.policy.binaryAllowed(artifact.Binary) {
		return fmt.Errorf("binary %q not in sandbox allowlist", artifact.Binary)
	}
	return nil
}

// test runs the generated artifact's content through the sandbox
// before it's ever written to the registry's active-version directory
// -- only a successful smoke run earns the artifact a call to
// rollOut/Publish.
func (e *Engine) test(ctx context.Context, req *Request, artifact *GeneratedArtifact) error {
	testCtx, cancel := context.WithTimeout(ctx, e.testTimeout)
	defer cancel()

	output, err := e.sandbox.Run(testCtx, artifact, e.policy, smokeInput(req))
	if err != nil {
		return fmt.Errorf("sandbox trial run: %w", err)
	}
	e.logger.Debug("evolution trial run succeeded", "request_id", req.ID, "output_len", len(output))
	return nil
}

// rollOut publishes the already-tested artifact as the capability's
// active version. internal/capabilities.Registry.Publish performs its
// own stage-write/activate step (see registry.go), so unlike
// internal/marketplace's whole-plugin-bundle rename dance this stage
// is a thin wrapper -- but on failure it still rolls back to the prior
// version the same way Install does on a failed store update.
func (e *Engine) rollOut(req *Request, artifact *GeneratedArtifact) (*capabilities.Descriptor, error) {
	id := capabilityID(req)
	kind := providerKindFor(artifact)
	descriptor, err := e.capabilities.Publish(id, kind, artifact.ArtifactName, artifact.Content, artifact.Schema, versioning.CreatedByEvolution, "evolved from trigger: "+req.Trigger, time.Now())
	if err != nil {
		if rbErr := e.capabilities.Rollback(id); rbErr != nil {
			e.logger.Warn("rollback after failed publish also failed", "request_id", req.ID, "error", rbErr)
		}
		return nil, err
	}
	return descriptor, nil
}

func capabilityID(req *Request) string {
	return fmt.Sprintf("%s.%s", req.Kind, req.TargetID)
}

func smokeInput(req *Request) string {
	return fmt.Sprintf(`{"smoke_test":true,"trigger":%q}`, req.Trigger)
}

func providerKindFor(artifact *GeneratedArtifact) capabilities.ProviderKind {
	if artifact.Binary != "" {
		return capabilities.ProviderProcess
	}
	return capabilities.ProviderScript
}
