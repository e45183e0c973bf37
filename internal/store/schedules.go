package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// ValidationError marks caller mistakes (bad cron, unknown timezone) that
// map to HTTP 400 rather than 500.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// nextFire computes the first future fire of a cron expression in the given
// IANA timezone ("" means UTC). The result is normalized to UTC for storage.
func nextFire(cron, timezone string, after time.Time) (time.Time, error) {
	if !gronx.New().IsValid(cron) {
		return time.Time{}, &ValidationError{Msg: fmt.Sprintf("invalid cron expression %q", cron)}
	}
	loc := time.UTC
	if timezone != "" && timezone != "UTC" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, &ValidationError{Msg: fmt.Sprintf("unknown timezone %q", timezone)}
		}
	}
	next, err := gronx.NextTickAfter(cron, after.In(loc), false)
	if err != nil {
		return time.Time{}, &ValidationError{Msg: fmt.Sprintf("cron %q has no future fire: %v", cron, err)}
	}
	return next.UTC(), nil
}

// UpsertSchedule creates or updates the (repo, branch) schedule, validating
// the cron expression and computing the next fire in the schedule's zone.
// Branch defaults to main, timezone to UTC.
func (s *Store) UpsertSchedule(ctx context.Context, repoID int64, cron, branch, timezone string) (int64, error) {
	if branch == "" {
		branch = "main"
	}
	if timezone == "" {
		timezone = "UTC"
	}
	next, err := nextFire(cron, timezone, time.Now())
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_job (repo_id, cron_expression, branch, timezone, next_run_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repo_id, branch) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			timezone        = EXCLUDED.timezone,
			next_run_at     = EXCLUDED.next_run_at,
			enabled         = TRUE,
			updated_at      = now()
		RETURNING id`,
		repoID, cron, branch, timezone, next,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("upsert schedule", err)
	}
	return id, nil
}

// DeleteSchedule removes the (repo, branch) schedule. Reports whether a row
// existed.
func (s *Store) DeleteSchedule(ctx context.Context, repoID int64, branch string) (bool, error) {
	if branch == "" {
		branch = "main"
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_job WHERE repo_id = $1 AND branch = $2`,
		repoID, branch,
	)
	if err != nil {
		return false, storageErr("delete schedule", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DueSchedules returns every enabled schedule whose next fire has passed
// (or was never computed).
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]DueSchedule, error) {
	var due []DueSchedule
	err := s.db.SelectContext(ctx, &due, `
		SELECT id, repo_id, cron_expression, branch, timezone
		FROM scheduled_job
		WHERE enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)`,
		now)
	if err != nil {
		return nil, storageErr("due schedules", err)
	}
	return due, nil
}

// AdvanceSchedule stamps last_run_at and the next future fire after a tick
// fired the entry. next_run_at always lands strictly after firedAt.
func (s *Store) AdvanceSchedule(ctx context.Context, id int64, cron, timezone string, firedAt time.Time) error {
	next, err := nextFire(cron, timezone, firedAt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_job
		SET last_run_at = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`,
		id, firedAt, next,
	)
	if err != nil {
		return storageErr("advance schedule", err)
	}
	return nil
}

// ListSchedules returns all schedules with repo identity.
func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleSummary, error) {
	var schedules []ScheduleSummary
	err := s.db.SelectContext(ctx, &schedules, `
		SELECT s.id, s.repo_id, r.owner AS repo_owner, r.name AS repo_name,
		       s.cron_expression, s.branch, s.timezone, s.enabled,
		       s.last_run_at, s.next_run_at
		FROM scheduled_job s
		JOIN repo r ON r.id = s.repo_id
		ORDER BY r.owner, r.name, s.branch`)
	if err != nil {
		return nil, storageErr("list schedules", err)
	}
	return schedules, nil
}

// ToggleSchedule flips the enabled flag and returns the new state. A
// re-enabled schedule gets a fresh next fire so it does not fire for every
// tick it slept through.
func (s *Store) ToggleSchedule(ctx context.Context, id int64) (bool, error) {
	var enabled bool
	var cron, timezone string
	err := s.db.QueryRowContext(ctx, `
		UPDATE scheduled_job
		SET enabled = NOT enabled, updated_at = now()
		WHERE id = $1
		RETURNING enabled, cron_expression, timezone`, id,
	).Scan(&enabled, &cron, &timezone)
	if isNoRows(err) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, storageErr("toggle schedule", err)
	}
	if enabled {
		if next, ferr := nextFire(cron, timezone, time.Now()); ferr == nil {
			_, _ = s.db.ExecContext(ctx,
				`UPDATE scheduled_job SET next_run_at = $2 WHERE id = $1`, id, next)
		}
	}
	return enabled, nil
}

// DeleteScheduleByID removes one schedule row by primary key.
func (s *Store) DeleteScheduleByID(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_job WHERE id = $1`, id)
	if err != nil {
		return false, storageErr("delete schedule by id", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
