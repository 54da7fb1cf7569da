package persistence

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

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TaskRun is the audited terminal state of a task.
type TaskRun struct {
	Task      scheduler.TaskRef
	Status    scheduler.TaskStatus
	Attempts  int
	LastError string
	History   []scheduler.AttemptRecord
	TotalCost float64
	UpdatedAt time.Time
}

// ReviewRequest is a batch of masks waiting for a human decision.
type ReviewRequest struct {
	ID        int64
	Task      scheduler.TaskRef
	Masks     []pipeline.RawMask
	CreatedAt time.Time
}

// Store defines the persistence interface for measured features, review
// requests and task audit records.
type Store interface {
	// Feature operations
	SaveFeatures(ctx context.Context, task scheduler.TaskRef, features []pipeline.MeasuredFeature) error
	GetFeaturesByTask(ctx context.Context, taskID, tenantID string) ([]pipeline.MeasuredFeature, error)

	// Manual review
	RequestReview(ctx context.Context, task scheduler.TaskRef, masks []pipeline.RawMask) error
	ListReviewRequests(ctx context.Context, tenantID string) ([]ReviewRequest, error)

	// Task audit
	RecordTaskResult(ctx context.Context, result scheduler.TaskResult) error
	GetTaskRun(ctx context.Context, taskID string) (*TaskRun, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout,
// and starts write transactions with BEGIN IMMEDIATE so concurrent writers
// wait for the lock instead of failing with SQLITE_BUSY.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database, shared across its connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:landscape-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Workers deliver concurrently; SQLite serialises writers anyway.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
