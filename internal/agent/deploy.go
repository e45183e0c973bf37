package agent

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/foundry-sh/foundry/pkg/buildcfg"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

const (
	deployTimeout      = 5 * time.Minute
	healthcheckTimeout = 60 * time.Second
	healthcheckPoll    = 2 * time.Second
)

// deniedMounts are host paths a repo's foundry.toml may never bind into a
// deployed container.
var deniedMounts = []string{
	"/var/run/docker.sock",
	"/var/run",
	"/etc",
	"/root",
	"/home",
	"/proc",
	"/sys",
	"/dev",
	"/boot",
}

// deploy brings up the repo's long-running service, either via its compose
// file or as a single detached container, then waits for the declared
// healthcheck.
func (r *Runner) deploy(ctx context.Context, job *protocol.ClaimedJob, cfg *buildcfg.Config, repoDir string, sink *logSink) error {
	if err := validateMounts(cfg.Deploy.Volumes); err != nil {
		sink.Send("ERROR: " + err.Error())
		return err
	}

	deployCtx, cancel := context.WithTimeout(ctx, deployTimeout)
	defer cancel()

	var err error
	if cfg.Deploy.ComposeFile != "" {
		err = r.composeUp(deployCtx, cfg, repoDir, sink)
	} else {
		err = r.containerUp(deployCtx, job, cfg, repoDir, sink)
	}
	if err != nil {
		return err
	}

	if cfg.Deploy.Healthcheck != "" {
		if err := waitHealthy(ctx, cfg.Deploy.Healthcheck, sink); err != nil {
			return err
		}
	}

	for _, domain := range cfg.Deploy.AllDomains() {
		sink.Send("Serving " + domain)
	}
	sink.Send("Deploy complete")
	return nil
}

func (r *Runner) composeUp(ctx context.Context, cfg *buildcfg.Config, repoDir string, sink *logSink) error {
	sink.Send("Deploying via compose: " + cfg.Deploy.ComposeFile)
	cmd := exec.CommandContext(ctx, "docker", "compose",
		"-f", cfg.Deploy.ComposeFile,
		"up", "-d", "--build", "--remove-orphans",
	)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	streamOutput(sink, out)
	if err != nil {
		return fmt.Errorf("compose up failed: %w", err)
	}
	return nil
}

func (r *Runner) containerUp(ctx context.Context, job *protocol.ClaimedJob, cfg *buildcfg.Config, repoDir string, sink *logSink) error {
	name := cfg.Deploy.Name

	image := cfg.Image()
	if cfg.Build.Dockerfile != "" {
		sink.Send("Building deploy image from " + cfg.Build.Dockerfile)
		built, err := buildImage(ctx, sink, job.ID, repoDir, cfg.Build.Dockerfile, cfg.BuildContext())
		if err != nil {
			return err
		}
		image = built
	}

	// Replace any previous generation of the service.
	if out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput(); err != nil {
		if !strings.Contains(string(out), "No such container") {
			sink.Send("WARNING: removing previous container: " + strings.TrimSpace(string(out)))
		}
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"--restart", "unless-stopped",
		"--label", fmt.Sprintf("%s=%d", jobLabel, job.ID),
	}
	if cfg.Deploy.Port > 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", cfg.Deploy.Port, cfg.Deploy.Port))
	}
	if cfg.Deploy.EnvFile != "" {
		args = append(args, "--env-file", filepath.Join(repoDir, cfg.Deploy.EnvFile))
	}
	for _, k := range sortedKeys(cfg.Env) {
		args = append(args, "-e", k+"="+cfg.Env[k])
	}
	for _, v := range cfg.Deploy.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, image)

	sink.Send("Starting container " + name + " from " + image)
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	streamOutput(sink, out)
	if err != nil {
		return fmt.Errorf("docker run failed: %w", err)
	}
	return nil
}

// validateMounts rejects bind mounts that reach into sensitive host paths.
func validateMounts(volumes []string) error {
	for _, v := range volumes {
		host, _, ok := strings.Cut(v, ":")
		if !ok || !strings.HasPrefix(host, "/") {
			// Named volume, not a host bind.
			continue
		}
		clean := filepath.Clean(host)
		for _, denied := range deniedMounts {
			if clean == denied || strings.HasPrefix(clean, denied+"/") {
				return fmt.Errorf("volume %q mounts protected path %s", v, denied)
			}
		}
	}
	return nil
}

// waitHealthy polls the healthcheck URL until it answers with a 2xx status
// or the window runs out.
func waitHealthy(ctx context.Context, url string, sink *logSink) error {
	sink.Send("Waiting for healthcheck: " + url)

	client := &http.Client{Timeout: 5 * time.Second}
	deadline := time.Now().Add(healthcheckTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("healthcheck: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				sink.Send("Healthcheck passed")
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("healthcheck did not pass within %s", healthcheckTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthcheckPoll):
		}
	}
}

func streamOutput(sink *logSink, out []byte) {
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			sink.Send(line)
		}
	}
}
