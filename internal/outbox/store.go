package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fieldq/internal/config"
)

// ErrEmptyMeetingID is returned when Enqueue is called without a meeting reference.
var ErrEmptyMeetingID = errors.New("meeting id must not be empty")

// ErrEmptyPayload is returned when Enqueue is called with no debrief payload.
var ErrEmptyPayload = errors.New("payload must not be empty")

// Store manages outbox persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the outbox database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database at an explicit location. Used by fieldqctl to
// inspect a store without a full config.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Enqueue persists a new pending item for a meeting, superseding any existing
// item for the same meeting that has not reached submitted. The delete and
// insert commit in one transaction so a crash can never leave two outstanding
// debriefs for one meeting. The call returns only after the item is durable.
func (s *Store) Enqueue(ctx context.Context, meetingID string, payload []byte) (*Item, error) {
	ctx = ensureContext(ctx)
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return nil, ErrEmptyMeetingID
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin enqueue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM outbox_items WHERE meeting_id = ? AND status != ?`,
			meetingID,
			StatusSubmitted,
		); err != nil {
			return fmt.Errorf("supersede prior item: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO outbox_items (
                id, meeting_id, payload, status, attempts, created_at, updated_at
            ) VALUES (?, ?, ?, ?, 0, ?, ?)`,
			id,
			meetingID,
			string(payload),
			StatusPending,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit enqueue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches an outbox item by identifier. Returns nil when missing.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM outbox_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ActiveForMeeting returns the meeting's non-submitted item, if any.
func (s *Store) ActiveForMeeting(ctx context.Context, meetingID string) (*Item, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM outbox_items WHERE meeting_id = ? AND status != ? ORDER BY created_at LIMIT 1`,
		meetingID,
		StatusSubmitted,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active for meeting: %w", err)
	}
	return item, nil
}

// List returns outbox items filtered by status set (or all items when no
// status is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM outbox_items`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list outbox items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextEligible returns the oldest item the dispatch loop may attempt now:
// pending, or failed with an elapsed next attempt time.
func (s *Store) NextEligible(ctx context.Context, now time.Time) (*Item, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM outbox_items
         WHERE status = ?
            OR (status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)
         ORDER BY created_at LIMIT 1`,
		StatusPending,
		StatusFailed,
		now.UTC().Format(time.RFC3339Nano),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next eligible: %w", err)
	}
	return item, nil
}

// NextAttemptTime returns the earliest scheduled retry among failed items, or
// nil when no retry is scheduled. The dispatch loop uses it to size its sleep.
func (s *Store) NextAttemptTime(ctx context.Context) (*time.Time, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT MIN(next_attempt_at) FROM outbox_items WHERE status = ? AND next_attempt_at IS NOT NULL`,
		StatusFailed,
	)
	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("next attempt time: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	at, err := parseTimeString(raw.String)
	if err != nil {
		return nil, fmt.Errorf("parse next attempt time: %w", err)
	}
	return &at, nil
}

// PendingCount reports how many debriefs still await delivery: pending,
// submitting, and failed items with a scheduled retry. Terminal failures are
// excluded; they need user action and surface through Stats instead.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM outbox_items
         WHERE status IN (?, ?)
            OR (status = ? AND next_attempt_at IS NOT NULL)`,
		StatusPending,
		StatusSubmitting,
		StatusFailed,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM outbox_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates outbox state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusSubmitting:
			health.Submitting += count
		case StatusSubmitted:
			health.Submitted += count
		case StatusFailed:
			health.Failed += count
		}
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM outbox_items WHERE status = ? AND next_attempt_at IS NULL`,
		StatusFailed,
	)
	if err := row.Scan(&health.Terminal); err != nil {
		return HealthSummary{}, fmt.Errorf("terminal count: %w", err)
	}
	return health, nil
}

const itemColumns = "id, meeting_id, payload, status, failure_kind, last_error, attempts, created_at, updated_at, last_attempt_at, next_attempt_at, submitted_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id            string
		meetingID     string
		payload       string
		statusStr     string
		failureKind   sql.NullString
		lastError     sql.NullString
		attempts      int
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		lastAttempt   sql.NullString
		nextAttempt   sql.NullString
		submittedAtRw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&meetingID,
		&payload,
		&statusStr,
		&failureKind,
		&lastError,
		&attempts,
		&createdRaw,
		&updatedRaw,
		&lastAttempt,
		&nextAttempt,
		&submittedAtRw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:          id,
		MeetingID:   meetingID,
		Payload:     []byte(payload),
		Status:      Status(statusStr),
		FailureKind: FailureKind(failureKind.String),
		LastError:   lastError.String,
		Attempts:    attempts,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if lastAttempt.Valid {
		if at, err := parseTimeString(lastAttempt.String); err == nil {
			item.LastAttemptAt = &at
		}
	}
	if nextAttempt.Valid {
		if at, err := parseTimeString(nextAttempt.String); err == nil {
			item.NextAttemptAt = &at
		}
	}
	if submittedAtRw.Valid {
		if at, err := parseTimeString(submittedAtRw.String); err == nil {
			item.SubmittedAt = &at
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
