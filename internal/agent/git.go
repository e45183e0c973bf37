package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const cloneDepth = "50"

// sanitize is the single chokepoint for scrubbing the authenticated clone
// URL out of subprocess output before it reaches logs or errors.
func sanitize(output, authedURL, safeURL string) string {
	if authedURL == "" || authedURL == safeURL {
		return output
	}
	return strings.ReplaceAll(output, authedURL, safeURL)
}

// checkout materializes the revision in dest. When branch is non-empty the
// job carries the resolve sentinel: clone that branch and build whatever its
// HEAD is, with no post-clone checkout. Otherwise clone and check out the
// exact SHA.
func checkout(ctx context.Context, cloneURL, safeURL, sha, branch, dest string) error {
	args := []string{"clone", "--depth", cloneDepth}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	args = append(args, cloneURL, dest)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone failed: %s", sanitize(string(out), cloneURL, safeURL))
	}

	if branch != "" {
		return nil
	}

	cmd = exec.CommandContext(ctx, "git", "checkout", sha)
	cmd.Dir = dest
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s failed: %s", sha, sanitize(string(out), cloneURL, safeURL))
	}
	return nil
}

// headSHA reports the checked-out commit, used to resolve the effective SHA
// of sentinel jobs.
func headSHA(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
