package store

import (
	"context"

	"github.com/google/uuid"
)

// AppendLog inserts one log line iff a running job with that (id, token)
// exists. The guard is part of the insert statement, so it is atomic with
// the write. A false return tells the agent its lease is gone.
func (s *Store) AppendLog(ctx context.Context, jobID int64, token uuid.UUID, line string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_log (job_id, line)
		SELECT $1, $3
		WHERE EXISTS (
			SELECT 1 FROM job
			WHERE id = $1 AND claim_token = $2 AND status = 'running'
		)`,
		jobID, token, line,
	)
	if err != nil {
		return false, storageErr("append log", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// JobLogs returns a job's log lines in append order.
func (s *Store) JobLogs(ctx context.Context, jobID int64) ([]LogLine, error) {
	var lines []LogLine
	err := s.db.SelectContext(ctx, &lines, `
		SELECT ts, line FROM job_log
		WHERE job_id = $1
		ORDER BY ts ASC, id ASC`, jobID)
	if err != nil {
		return nil, storageErr("job logs", err)
	}
	return lines, nil
}

// JobLogsWithToken returns logs only to the holder of the job's claim token.
// Terminal jobs keep their token, so an agent can fetch its own logs after
// finish. Returns (nil, false, nil) on token mismatch.
func (s *Store) JobLogsWithToken(ctx context.Context, jobID int64, token uuid.UUID) ([]LogLine, bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM job WHERE id = $1 AND claim_token = $2)`,
		jobID, token,
	).Scan(&ok)
	if err != nil {
		return nil, false, storageErr("job logs token check", err)
	}
	if !ok {
		return nil, false, nil
	}
	lines, err := s.JobLogs(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return lines, true, nil
}
