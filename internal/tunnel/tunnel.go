// Package tunnel supervises an external cloudflared process that exposes the
// local HTTP listener through a Cloudflare tunnel.
package tunnel

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/foundry-sh/foundry/internal/config"
)

const (
	restartBackoffMin = 2 * time.Second
	restartBackoffMax = 60 * time.Second
)

// Supervisor runs cloudflared as a child process and restarts it with
// exponential backoff when it exits.
type Supervisor struct {
	cfg  *config.Tunnel
	done chan struct{}
}

func New(cfg *config.Tunnel) *Supervisor {
	return &Supervisor{cfg: cfg, done: make(chan struct{})}
}

// Start launches the supervision loop. It returns immediately; cancel ctx to
// stop the child and the loop, then Wait for shutdown to finish.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Wait blocks until the supervision loop has exited.
func (s *Supervisor) Wait() {
	<-s.done
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	backoff := restartBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		// A child that stayed up for a while earns a fresh backoff.
		if time.Since(start) > restartBackoffMax {
			backoff = restartBackoffMin
		}
		slog.Warn("cloudflared exited, restarting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	args := []string{"tunnel", "run", "--token", s.cfg.Token}
	if s.cfg.Hostname != "" {
		args = append(args,
			"--url", "http://localhost:"+s.cfg.LocalPort,
		)
	}

	cmd := exec.CommandContext(ctx, "cloudflared", args...)
	cmd.WaitDelay = 10 * time.Second

	slog.Info("starting cloudflared", "hostname", s.cfg.Hostname, "local_port", s.cfg.LocalPort)
	return cmd.Run()
}
