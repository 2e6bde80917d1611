// Package storage keeps the optional detection history in SQLite.
//
// The history is a journal only: it is never read back into the scanner's seen cache,
// so dedup state still resets on restart.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/woozymasta/pingwatch/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath, sets pool parameters, and runs migrations.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("database path is empty")
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordDetection appends one notified server to the history.
// Timestamps are stored in UTC with second precision so they compare lexically.
func (r *Repository) RecordDetection(ctx context.Context, d models.Detection) error {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO detections (job_id, place_id, ping, playing, max_players, number, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.JobID, d.PlaceID, d.Ping, d.Playing, d.MaxPlayers, d.Number, normalizeTime(d.DetectedAt),
	)

	return err
}

// RecentDetections returns up to limit detections, newest first.
func (r *Repository) RecentDetections(ctx context.Context, limit int) ([]models.Detection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, place_id, ping, playing, max_players, number, detected_at
		FROM detections
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(
			&d.JobID, &d.PlaceID, &d.Ping, &d.Playing, &d.MaxPlayers, &d.Number, &d.DetectedAt,
		); err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return detections, nil
}

// CountDetections returns the number of stored detections.
func (r *Repository) CountDetections(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections`).Scan(&count)
	return count, err
}

// DeleteDetectionsBefore removes detections older than cutoff and returns how many were deleted.
func (r *Repository) DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM detections WHERE detected_at < ?`, normalizeTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
