package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

// sinkBacklog bounds how many lines may wait for upload. When the controller
// stalls, new lines are dropped rather than growing memory without bound.
const sinkBacklog = 256

// logSink delivers build output lines to the controller from a single
// posting goroutine. Sends are fire-and-forget: a lost lease (403) stops
// delivery but never the build.
type logSink struct {
	client *Client
	job    *protocol.ClaimedJob

	lines     chan string
	done      chan struct{}
	leaseLost atomic.Bool
	dropped   atomic.Int64
	closeOnce sync.Once
}

func newLogSink(ctx context.Context, client *Client, job *protocol.ClaimedJob) *logSink {
	s := &logSink{
		client: client,
		job:    job,
		lines:  make(chan string, sinkBacklog),
		done:   make(chan struct{}),
	}
	go s.pump(ctx)
	return s
}

func (s *logSink) pump(ctx context.Context) {
	defer close(s.done)
	for line := range s.lines {
		if s.leaseLost.Load() {
			continue
		}
		if err := s.client.Log(ctx, s.job, line); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				slog.Warn("lease lost, log streaming stopped", "job_id", s.job.ID)
				s.leaseLost.Store(true)
			} else {
				slog.Debug("log post failed", "job_id", s.job.ID, "error", err)
			}
		}
	}
}

// Send queues a line, dropping it when the backlog is full.
func (s *logSink) Send(line string) {
	select {
	case s.lines <- line:
	default:
		s.dropped.Add(1)
	}
}

// Close drains the backlog and stops the posting goroutine.
func (s *logSink) Close() {
	s.closeOnce.Do(func() {
		close(s.lines)
	})
	<-s.done
	if n := s.dropped.Load(); n > 0 {
		slog.Warn("log lines dropped", "job_id", s.job.ID, "count", n)
	}
}

// LeaseLost reports whether the controller revoked the lease mid-stream.
func (s *logSink) LeaseLost() bool { return s.leaseLost.Load() }
