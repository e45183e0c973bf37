package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/foundry-sh/foundry/pkg/buildcfg"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

// Stage outcome labels reported in run metrics.
const (
	stagePassed  = "passed"
	stageFailed  = "failed"
	stageSkipped = "skipped"
)

// runPipeline executes the declared stages in order. A failing stage marks
// the pipeline failed unless allow_failure is set; later stages still get a
// chance to run if their condition says so (on_failure, always), while
// on_success stages after the failure are skipped and recorded as such.
func (r *Runner) runPipeline(ctx context.Context, job *protocol.ClaimedJob, cfg *buildcfg.Config, image string, env map[string]string, repoDir string, sink *logSink, metrics *RunMetrics) error {
	anyFailed := false

	for i := range cfg.Stages {
		stage := &cfg.Stages[i]
		name := stage.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i+1)
		}

		if !stage.ShouldRun(anyFailed, job.GitRef) {
			sink.Send(fmt.Sprintf("--- Stage %q skipped (condition %s)", name, stageCondition(stage)))
			metrics.Stages = append(metrics.Stages, StageMetrics{Name: name, Status: stageSkipped})
			continue
		}

		stageImage := image
		if stage.Image != "" {
			stageImage = stage.Image
		}
		stageEnv := make(map[string]string, len(env)+len(stage.Env))
		for k, v := range env {
			stageEnv[k] = v
		}
		for k, v := range stage.Env {
			stageEnv[k] = v
		}

		sink.Send(fmt.Sprintf("--- Stage %q (%s)", name, stageImage))
		start := time.Now()
		err := r.execStage(ctx, sink, containerRun{
			JobID:   job.ID,
			Image:   stageImage,
			Command: stage.Command,
			Env:     stageEnv,
			RepoDir: repoDir,
			Timeout: stage.Timeout(),
		})
		elapsed := time.Since(start)

		sm := StageMetrics{Name: name, Status: stagePassed, DurationMS: elapsed.Milliseconds()}
		if err != nil {
			sm.Status = stageFailed
			sm.ExitCode = exitCode(err)
		}
		metrics.Stages = append(metrics.Stages, sm)

		if err == nil {
			sink.Send(fmt.Sprintf("--- Stage %q passed in %s", name, elapsed.Round(time.Millisecond)))
			continue
		}

		if stage.AllowFailure {
			sink.Send(fmt.Sprintf("--- Stage %q failed (allowed): %s", name, err))
			continue
		}

		anyFailed = true
		sink.Send(fmt.Sprintf("--- Stage %q failed: %s", name, err))
	}

	if anyFailed {
		return errors.New("pipeline failed")
	}
	return nil
}

func stageCondition(s *buildcfg.Stage) string {
	if s.Condition == "" {
		return string(buildcfg.CondOnSuccess)
	}
	return string(s.Condition)
}

// exitCode digs the container's exit status out of a run error, if any.
func exitCode(err error) *int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		return &code
	}
	return nil
}
