package store

import (
	"context"
	"encoding/json"
)

// StoreWebhookEvent archives one raw inbound webhook before any processing,
// so deliveries survive parse bugs and can be replayed. Delivery ids are
// unique; a redelivery leaves the original row untouched and returns 0.
func (s *Store) StoreWebhookEvent(ctx context.Context, eventType, deliveryID string, payload []byte, jobID int64) (int64, error) {
	if !json.Valid(payload) {
		// Archive whatever arrived; wrap non-JSON bodies so the JSONB
		// column accepts them.
		quoted, _ := json.Marshal(string(payload))
		payload = quoted
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_event (event_type, delivery_id, payload, job_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (delivery_id) WHERE delivery_id IS NOT NULL DO NOTHING
		RETURNING id`,
		eventType, nilStr(deliveryID), payload, nilInt64(jobID),
	).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, storageErr("store webhook event", err)
	}
	return id, nil
}

// LinkWebhookEvent records which job a processed event produced.
func (s *Store) LinkWebhookEvent(ctx context.Context, eventID, jobID int64) error {
	if eventID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_event SET job_id = $2, processed = TRUE WHERE id = $1`,
		eventID, jobID,
	)
	if err != nil {
		return storageErr("link webhook event", err)
	}
	return nil
}

// StoreCommits archives the commits of a push delivery, one row per
// (job, sha). Replays are no-ops.
func (s *Store) StoreCommits(ctx context.Context, jobID int64, commits []CommitData) error {
	for _, c := range commits {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO job_commit (
				job_id, sha, tree_id, message, author_name, author_email,
				committer_name, committer_email, url,
				files_added, files_removed, files_modified, distinct_commit
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (job_id, sha) DO NOTHING`,
			jobID, c.SHA, nilStr(c.TreeID), nilStr(c.Message),
			nilStr(c.AuthorName), nilStr(c.AuthorEmail),
			nilStr(c.CommitterName), nilStr(c.CommitterEmail), nilStr(c.URL),
			textArray(c.FilesAdded), textArray(c.FilesRemoved),
			textArray(c.FilesModified), c.Distinct,
		)
		if err != nil {
			return storageErr("store commit", err)
		}
	}
	return nil
}
