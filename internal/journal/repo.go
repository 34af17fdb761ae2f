package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a scan event does not exist.
var ErrNotFound = errors.New("journal: not found")

// Repository persists the scan journal and device registry in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDevice ensures a device record exists and refreshes last_seen.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID, role string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, role)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET role = EXCLUDED.role, last_seen = NOW()
	`, deviceID, role)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RevokeRefreshToken revokes an active token and returns the device it was
// issued to. Unknown, expired and already revoked tokens are ErrNotFound.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) (string, error) {
	var deviceID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
		RETURNING device_id
	`, token).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	return deviceID, err
}

const scanColumns = `id, lesson_id, student_id, record_id, device_id, source, outcome, detail, occurred_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (ScanEvent, error) {
	var e ScanEvent
	err := row.Scan(&e.ID, &e.LessonID, &e.StudentID, &e.RecordID, &e.DeviceID,
		&e.Source, &e.Outcome, &e.Detail, &e.OccurredAt, &e.CreatedAt)
	return e, err
}

// RecentScan returns the latest event with the same student, lesson and
// outcome inside window, or nil.
func (r *Repository) RecentScan(ctx context.Context, studentID, lessonID int64, outcome string, window time.Duration) (*ScanEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+scanColumns+`
		FROM scan_events
		WHERE student_id = $1 AND lesson_id = $2 AND outcome = $3
		  AND occurred_at >= NOW() - ($4 * interval '1 second')
		ORDER BY occurred_at DESC
		LIMIT 1
	`, studentID, lessonID, outcome, window.Seconds())
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// InsertScan writes a new event.
func (r *Repository) InsertScan(ctx context.Context, evt ScanEvent) (ScanEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_events (id, lesson_id, student_id, record_id, device_id, source, outcome, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, evt.ID, evt.LessonID, evt.StudentID, evt.RecordID, evt.DeviceID, evt.Source, evt.Outcome, evt.Detail, evt.OccurredAt)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return ScanEvent{}, err
	}
	return evt, nil
}

// GetScan returns a single event by id.
func (r *Repository) GetScan(ctx context.Context, id string) (ScanEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scan_events WHERE id = $1`, id)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScanEvent{}, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	return evt, err
}

// ListScans returns events newest first.
func (r *Repository) ListScans(ctx context.Context, f Filter) ([]ScanEvent, error) {
	f = f.normalized()
	query := `SELECT ` + scanColumns + ` FROM scan_events`
	var (
		args    []any
		clauses []string
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, clause+" = $"+strconv.Itoa(len(args)))
	}
	if f.LessonID != 0 {
		add("lesson_id", f.LessonID)
	}
	if f.StudentID != 0 {
		add("student_id", f.StudentID)
	}
	if f.DeviceID != "" {
		add("device_id", f.DeviceID)
	}
	if f.Outcome != "" {
		add("outcome", f.Outcome)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ScanEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
