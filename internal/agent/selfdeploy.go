package agent

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

const selfDeployTimeout = 10 * time.Minute

// selfDeploy handles a job for the repo that hosts the orchestrator itself.
// Running that build in a throwaway container would be pointless; instead a
// local deploy script pulls, rebuilds and restarts the stack in place. The
// script gets an installation token so it can fetch the private repo.
func (r *Runner) selfDeploy(ctx context.Context, job *protocol.ClaimedJob) error {
	sink := newLogSink(ctx, r.client, job)
	defer sink.Close()

	sink.Send("Self-repo job detected, running deploy script " + r.cfg.DeployScript)

	runCtx, cancel := context.WithTimeout(ctx, selfDeployTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", r.cfg.DeployScript)
	cmd.Env = cmd.Environ()
	cmd.Env = append(cmd.Env,
		"FOUNDRY_GIT_SHA="+job.GitSHA,
		"FOUNDRY_GIT_REF="+job.GitRef,
	)
	if r.app != nil {
		token, err := r.app.InstallationToken(runCtx)
		if err != nil {
			return fmt.Errorf("installation token: %w", err)
		}
		cmd.Env = append(cmd.Env, "GITHUB_TOKEN="+token)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start deploy script: %w", err)
	}

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		sink.Send(sc.Text())
	}
	if err := sc.Err(); err != nil {
		slog.Debug("deploy script stream read", "job_id", job.ID, "error", err)
	}

	if err := cmd.Wait(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			sink.Send(fmt.Sprintf("ERROR: deploy script timed out after %s", selfDeployTimeout))
			return fmt.Errorf("deploy script timed out after %s", selfDeployTimeout)
		}
		return fmt.Errorf("deploy script failed: %w", err)
	}

	sink.Send("Self-deploy complete")
	return nil
}
