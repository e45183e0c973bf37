package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// jobLabel tags every container started for a job so stragglers can be
// found and killed after a timeout.
const jobLabel = "foundry.job_id"

// errTimeout marks a container run that hit its deadline.
var errTimeout = errors.New("container timed out")

// containerRun describes one docker run invocation.
type containerRun struct {
	JobID   int64
	Image   string
	Command string
	Env     map[string]string
	RepoDir string
	Timeout time.Duration
}

// runContainer executes the command in a container, streaming stdout and
// stderr line by line into the sink. Within each stream order is preserved;
// interleave between the two is best effort. On deadline the child is
// killed and any labelled leftovers are reaped.
func runContainer(ctx context.Context, sink *logSink, run containerRun) error {
	runCtx, cancel := context.WithTimeout(ctx, run.Timeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--label", fmt.Sprintf("%s=%d", jobLabel, run.JobID),
		"-v", run.RepoDir + ":/work",
		"-w", "/work",
	}
	for _, k := range sortedKeys(run.Env) {
		args = append(args, "-e", k+"="+run.Env[k])
	}
	args = append(args, run.Image, "bash", "-lc", run.Command)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	var readers errgroup.Group
	readers.Go(func() error {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			sink.Send(sc.Text())
		}
		return sc.Err()
	})
	readers.Go(func() error {
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			sink.Send("STDERR: " + sc.Text())
		}
		return sc.Err()
	})
	if err := readers.Wait(); err != nil {
		slog.Debug("stream read", "job_id", run.JobID, "error", err)
	}

	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		sink.Send(fmt.Sprintf("ERROR: build timed out after %s", run.Timeout))
		reapContainers(run.JobID)
		return errTimeout
	}
	if waitErr != nil {
		return fmt.Errorf("container exited with non-zero status: %w", waitErr)
	}
	return nil
}

// reapContainers kills any container still carrying the job's label.
func reapContainers(jobID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filter := fmt.Sprintf("label=%s=%d", jobLabel, jobID)
	out, err := exec.CommandContext(ctx, "docker", "ps", "-q", "--filter", filter).Output()
	if err != nil {
		slog.Warn("list leftover containers", "job_id", jobID, "error", err)
		return
	}
	for _, id := range strings.Fields(string(out)) {
		if err := exec.CommandContext(ctx, "docker", "kill", id).Run(); err != nil {
			slog.Warn("kill leftover container", "container", id, "error", err)
		} else {
			slog.Info("killed leftover container", "job_id", jobID, "container", id)
		}
	}
}

// buildImage builds a job-scoped image from the repo's dockerfile and
// returns its tag.
func buildImage(ctx context.Context, sink *logSink, jobID int64, repoDir, dockerfile, buildContext string) (string, error) {
	tag := fmt.Sprintf("foundry-job-%d", jobID)
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-f", dockerfile,
		"-t", tag,
		"--label", fmt.Sprintf("%s=%d", jobLabel, jobID),
		buildContext,
	)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	streamOutput(sink, out)
	if err != nil {
		return "", fmt.Errorf("docker build failed: %w", err)
	}
	return tag, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
