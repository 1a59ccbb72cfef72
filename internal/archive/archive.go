// Package archive keeps exported room recordings in SQLite so they can be
// downloaded or replayed after the room itself is gone.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrArchiveDisabled   = errors.New("recording archive is disabled")
	ErrRecordingNotFound = errors.New("archived recording not found")
)

type Recording struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
	Body         string    `json:"-"`
}

// Store is safe for concurrent use. A nil *Store reports ErrArchiveDisabled.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("archive path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_room_created ON recordings(room_id, created_at DESC);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Save stores one NDJSON export for roomID.
func (s *Store) Save(ctx context.Context, roomID, body string, messageCount int) (Recording, error) {
	if s == nil {
		return Recording{}, ErrArchiveDisabled
	}
	rec := Recording{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		CreatedAt:    s.now().UTC().Truncate(time.Millisecond),
		MessageCount: messageCount,
		Body:         body,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (id, room_id, created_at, message_count, body) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.RoomID, rec.CreatedAt.UnixMilli(), rec.MessageCount, rec.Body,
	)
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	if s == nil {
		return Recording{}, ErrArchiveDisabled
	}
	var (
		rec       Recording
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, created_at, message_count, body FROM recordings WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.RoomID, &createdAt, &rec.MessageCount, &rec.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrRecordingNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("query recording: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rec, nil
}

// List returns the recordings of roomID, newest first, without bodies.
func (s *Store) List(ctx context.Context, roomID string) ([]Recording, error) {
	if s == nil {
		return nil, ErrArchiveDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, created_at, message_count FROM recordings WHERE room_id = ? ORDER BY created_at DESC, id DESC`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	recordings := []Recording{}
	for rows.Next() {
		var (
			rec       Recording
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.RoomID, &createdAt, &rec.MessageCount); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		recordings = append(recordings, rec)
	}
	return recordings, rows.Err()
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
