package evolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// ProviderGenerator implements Generator by prompting an
// agent.LLMProvider (the EvolutionConfig.GeneratorModel entry) for a
// shell script capable of handling the triggering request, the same
// single-shot Complete/drain-the-channel call runtime.go's runTurn
// makes for an ordinary agent turn, minus the tool-call loop.
type ProviderGenerator struct {
	provider agent.LLMProvider
	model    string
}

// NewProviderGenerator wires a concrete LLMProvider (already resolved
// to the EvolutionConfig.GeneratorModel entry by the composition root)
// into a Generator.
func NewProviderGenerator(provider agent.LLMProvider, model string) *ProviderGenerator {
	return &ProviderGenerator{provider: provider, model: model}
}

const generatorSystemPrompt = `You write small, self-contained POSIX shell scripts that implement a single missing capability.
Respond with only the script body, starting with a #!/bin/sh shebang. No markdown fences, no commentary.
The script reads its input as a single JSON object on stdin and writes its result to stdout.`

func (g *ProviderGenerator) Generate(ctx context.Context, req *Request) (*GeneratedArtifact, error) {
	prompt := fmt.Sprintf("Capability kind: %s\nTarget: %s\nTrigger: %s\n\nWrite the shell script.", req.Kind, req.TargetID, req.Trigger)
	text, err := complete(ctx, g.provider, g.model, generatorSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate capability script: %w", err)
	}
	script := stripCodeFence(text)
	if !strings.HasPrefix(script, "#!") {
		script = "#!/bin/sh\n" + script
	}
	return &GeneratedArtifact{
		ArtifactName: sanitizeArtifactName(req.TargetID) + ".sh",
		Content:      []byte(script),
	}, nil
}

// ProviderAuditor implements Auditor by prompting an agent.LLMProvider
// (the EvolutionConfig.AuditorModel entry) to review a generated
// script for unsafe behavior before it ever reaches the sandbox.
type ProviderAuditor struct {
	provider agent.LLMProvider
	model    string
}

// NewProviderAuditor wires a concrete LLMProvider into an Auditor.
func NewProviderAuditor(provider agent.LLMProvider, model string) *ProviderAuditor {
	return &ProviderAuditor{provider: provider, model: model}
}

const auditorSystemPrompt = `You are a security reviewer for generated shell scripts.
Reply with a single line: either "PASS" or "FAIL: <reason>".
Fail any script that deletes files outside its own working directory, calls sudo,
downloads and executes remote content, or reads credentials/environment secrets it
has no declared need for.`

func (a *ProviderAuditor) Audit(ctx context.Context, req *Request, artifact *GeneratedArtifact) (bool, string, error) {
	prompt := fmt.Sprintf("Trigger: %s\n\nScript:\n%s", req.Trigger, string(artifact.Content))
	text, err := complete(ctx, a.provider, a.model, auditorSystemPrompt, prompt)
	if err != nil {
		return false, "", fmt.Errorf("audit capability script: %w", err)
	}
	verdict := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToUpper(verdict), "PASS") {
		return true, verdict, nil
	}
	return false, verdict, nil
}

// complete drains a single-shot, tool-free completion into its full
// text, mirroring the accumulation loop runtime.go's runTurn uses for
// each streamed response.
func complete(ctx context.Context, provider agent.LLMProvider, model, system, userContent string) (string, error) {
	req := &agent.CompletionRequest{
		Model:  model,
		System: system,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: userContent},
		},
	}
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
	}
	return out.String(), nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) >= 2 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func sanitizeArtifactName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "capability"
	}
	return b.String()
}
