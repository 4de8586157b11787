// Package photo is a durable blob store for student photos, keyed by student
// id. Its lifecycle is independent of the roster: deleting a student leaves
// its photo record behind, and the roster stays usable when this store is
// down.
package photo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StorageError marks a failed operation against the blob store. Callers
// degrade to "no photo" rather than failing the surrounding operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("photo: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Record is one stored photo. ImageData is opaque encoded image bytes.
type Record struct {
	StudentID string    `json:"studentId"`
	ImageData []byte    `json:"imageData"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the photo contract. Get returns (nil, nil) when no photo exists;
// absence is a normal state. Delete is idempotent. GetAll feeds the export
// adapter and Clear the import adapter.
type Store interface {
	Put(ctx context.Context, studentID string, blob []byte) error
	Get(ctx context.Context, studentID string) (*Record, error)
	Delete(ctx context.Context, studentID string) error
	GetAll(ctx context.Context) ([]Record, error)
	Clear(ctx context.Context) error
}

// PostgresStore keeps photos in the student_photos table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put upserts a photo; last write wins.
func (s *PostgresStore) Put(ctx context.Context, studentID string, blob []byte) error {
	if studentID == "" {
		return &StorageError{Op: "put", Err: errors.New("student id required")}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO student_photos (student_id, image_data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id) DO UPDATE SET
			image_data = EXCLUDED.image_data,
			updated_at = EXCLUDED.updated_at
	`, studentID, blob, time.Now().UTC())
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// Get returns the photo for studentID, or nil when none exists.
func (s *PostgresStore) Get(ctx context.Context, studentID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT student_id, image_data, updated_at
		FROM student_photos WHERE student_id = $1
	`, studentID)
	var rec Record
	if err := row.Scan(&rec.StudentID, &rec.ImageData, &rec.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get", Err: err}
	}
	return &rec, nil
}

// Delete removes a photo; deleting a missing record is not an error.
func (s *PostgresStore) Delete(ctx context.Context, studentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM student_photos WHERE student_id = $1`, studentID); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// GetAll returns every stored photo.
func (s *PostgresStore) GetAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, image_data, updated_at
		FROM student_photos ORDER BY student_id
	`)
	if err != nil {
		return nil, &StorageError{Op: "getAll", Err: err}
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.StudentID, &rec.ImageData, &rec.Timestamp); err != nil {
			return nil, &StorageError{Op: "getAll", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getAll", Err: err}
	}
	return out, nil
}

// Clear wipes all photos.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM student_photos`); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

// MemoryStore is the fallback when no database is reachable, and the test
// double.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Record
}

// NewMemory creates an empty in-memory photo store.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

// Put upserts a photo; last write wins.
func (s *MemoryStore) Put(_ context.Context, studentID string, blob []byte) error {
	if studentID == "" {
		return &StorageError{Op: "put", Err: errors.New("student id required")}
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.mu.Lock()
	s.data[studentID] = Record{StudentID: studentID, ImageData: cp, Timestamp: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}

// Get returns the photo for studentID, or nil when none exists.
func (s *MemoryStore) Get(_ context.Context, studentID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[studentID]
	if !ok {
		return nil, nil
	}
	cp := rec
	cp.ImageData = append([]byte(nil), rec.ImageData...)
	return &cp, nil
}

// Delete removes a photo; idempotent.
func (s *MemoryStore) Delete(_ context.Context, studentID string) error {
	s.mu.Lock()
	delete(s.data, studentID)
	s.mu.Unlock()
	return nil
}

// GetAll returns every stored photo ordered by student id.
func (s *MemoryStore) GetAll(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.data))
	for _, rec := range s.data {
		cp := rec
		cp.ImageData = append([]byte(nil), rec.ImageData...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// Clear wipes all photos.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.data = make(map[string]Record)
	s.mu.Unlock()
	return nil
}
