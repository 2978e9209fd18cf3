package evolution

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandSandbox is the default Sandbox: it stages a generated
// artifact's content to a scratch file under the workspace and shells
// out to it with os/exec.CommandContext, the same construction
// internal/tools/exec.Manager.buildCommand uses for the ad hoc exec
// tool. Network egress isn't actually sandboxed at this layer (no
// namespace/cgroup isolation, matching the teacher's own exec tool,
// which likewise runs commands directly on the host). AllowNetwork is
// not read here or by Engine.checkSandboxPolicy, which only checks an
// artifact's declared binary against AllowedBinaries.
type CommandSandbox struct {
	workspace string
}

// NewCommandSandbox scopes the sandbox's scratch directory to a
// subdirectory of workspace so a misbehaving trial artifact can't
// write outside the workspace root any more than the exec tool can.
func NewCommandSandbox(workspace string) *CommandSandbox {
	return &CommandSandbox{workspace: workspace}
}

func (s *CommandSandbox) Run(ctx context.Context, artifact *GeneratedArtifact, policy SandboxPolicy, input string) (string, error) {
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	trialsRoot := filepath.Join(s.workspace, ".evolution-trials")
	if err := os.MkdirAll(trialsRoot, 0o755); err != nil {
		return "", fmt.Errorf("create trials root: %w", err)
	}
	scratchDir, err := os.MkdirTemp(trialsRoot, "trial-")
	if err != nil {
		return "", fmt.Errorf("create trial scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	artifactPath := filepath.Join(scratchDir, artifactName(artifact))
	if err := os.WriteFile(artifactPath, artifact.Content, 0o755); err != nil {
		return "", fmt.Errorf("stage trial artifact: %w", err)
	}

	cmd := exec.CommandContext(runCtx, artifactPath)
	cmd.Dir = scratchDir
	cmd.Stdin = strings.NewReader(input)
	if policy.WorkspaceOnly {
		cmd.Env = []string{"HOME=" + scratchDir, "PATH=/usr/bin:/bin"}
	} else {
		cmd.Env = os.Environ()
	}

	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("trial run: %w (output: %s)", err, out.String())
	}
	return out.String(), nil
}

func artifactName(artifact *GeneratedArtifact) string {
	if artifact.ArtifactName != "" {
		return artifact.ArtifactName
	}
	return "artifact.sh"
}
