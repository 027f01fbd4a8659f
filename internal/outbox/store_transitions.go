package outbox

import (
	"context"
	"fmt"
	"time"
)

// MarkSubmitting claims an item for a delivery attempt. The guard on the
// current status means a superseded or already-claimed item is not touched;
// callers must check the returned bool and drop the attempt when false.
// Attempts increments here because a network call follows immediately.
func (s *Store) MarkSubmitting(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_items
         SET status = ?, attempts = attempts + 1, last_attempt_at = ?, next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusSubmitting,
		now,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("mark submitting: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkSubmitted records a successful delivery. Guarded by id and the
// submitting status: when an enqueue superseded the item mid-flight the row
// is gone and the stale success is discarded, which is exactly what the
// at-least-once contract wants.
func (s *Store) MarkSubmitted(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_items
         SET status = ?, failure_kind = NULL, last_error = NULL, next_attempt_at = NULL,
             submitted_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusSubmitted,
		now,
		now,
		id,
		StatusSubmitting,
	)
	if err != nil {
		return false, fmt.Errorf("mark submitted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed records a failed delivery attempt. nextAttempt schedules the
// automatic retry; pass nil for terminal failures so the dispatch loop never
// picks the item up again on its own. Same stale-response guard as
// MarkSubmitted.
func (s *Store) MarkFailed(ctx context.Context, id string, kind FailureKind, reason string, nextAttempt *time.Time) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_items
         SET status = ?, failure_kind = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed,
		string(kind),
		nullableString(reason),
		nullableTime(nextAttempt),
		now,
		id,
		StatusSubmitting,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RetryFailed makes every failed item, terminal ones included, immediately
// eligible for the next dispatch pass. Backed by the user-facing "Try again"
// action.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE outbox_items SET next_attempt_at = ?, updated_at = ? WHERE status = ?`,
			now,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed items: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, now, now, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE outbox_items SET next_attempt_at = ?, updated_at = ?
        WHERE status = ? AND id IN (` + placeholders + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected items: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckSubmitting returns items left submitting by a crash or kill back
// to pending. The in-flight call's outcome is unknown, so re-sending is the
// right bias for an at-least-once outbox. Attempts are preserved; the wire
// was touched.
func (s *Store) ResetStuckSubmitting(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_items
         SET status = ?, next_attempt_at = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusSubmitting,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck submitting: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes an item by identifier. Items mid-attempt cannot be removed;
// supersede them through Enqueue instead.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM outbox_items WHERE id = ? AND status != ?`,
		id,
		StatusSubmitting,
	)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
