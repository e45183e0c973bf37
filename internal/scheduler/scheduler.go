// Package scheduler runs the controller's periodic tick: it fires due cron
// schedules into the job queue and sweeps stale leases.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foundry-sh/foundry/internal/store"
)

const (
	// DefaultTick is the scheduler period.
	DefaultTick = 60 * time.Second

	// DefaultLeaseTTL bounds how long a job may sit in running before its
	// lease is considered abandoned and the job is requeued.
	DefaultLeaseTTL = 2 * time.Hour
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]store.DueSchedule, error)
	EnqueueScheduledJob(ctx context.Context, scheduledID, repoID int64, branch, cron string) (int64, error)
	AdvanceSchedule(ctx context.Context, id int64, cron, timezone string, firedAt time.Time) error
	ReapStaleJobs(ctx context.Context, ttl time.Duration) (int64, error)
}

// Scheduler owns the tick goroutine. Start and Stop are explicit so startup
// and shutdown are observable events.
type Scheduler struct {
	store    Store
	tick     time.Duration
	leaseTTL time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(st Store) *Scheduler {
	return &Scheduler{store: st, tick: DefaultTick, leaseTTL: DefaultLeaseTTL}
}

// SetTick overrides the tick period, used by tests.
func (s *Scheduler) SetTick(d time.Duration) { s.tick = d }

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	slog.Info("scheduler started", "tick", s.tick)
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	slog.Info("scheduler stopped")
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.tick)
			s.Tick(ctx, time.Now())
			cancel()
		}
	}
}

// Tick runs one scheduler pass. Per-entry failures are logged and skipped so
// one broken schedule cannot stall the rest.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if n, err := s.store.ReapStaleJobs(ctx, s.leaseTTL); err != nil {
		slog.Error("reap stale jobs", "error", err)
	} else if n > 0 {
		slog.Warn("requeued stale jobs", "count", n)
	}

	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		slog.Error("scheduler tick", "error", err)
		return
	}

	for _, entry := range due {
		jobID, err := s.store.EnqueueScheduledJob(ctx, entry.ID, entry.RepoID, entry.Branch, entry.Cron)
		if err != nil {
			slog.Error("enqueue scheduled job", "error", err, "schedule_id", entry.ID)
		} else {
			slog.Info("scheduled job enqueued",
				"job_id", jobID, "schedule_id", entry.ID,
				"repo_id", entry.RepoID, "branch", entry.Branch)
		}

		// Advance even when the enqueue failed, otherwise a broken repo
		// would fire on every tick.
		if err := s.store.AdvanceSchedule(ctx, entry.ID, entry.Cron, entry.Timezone, now); err != nil {
			slog.Error("advance schedule", "error", err, "schedule_id", entry.ID)
		}
	}
}
