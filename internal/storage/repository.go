package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound   = errors.New("pending save not found")
	ErrNotPending = errors.New("pending save already settled")
)

// SaveStatus is the lifecycle state of a queued save.
type SaveStatus string

const (
	StatusPending SaveStatus = "pending"
	StatusDone    SaveStatus = "done"
	StatusFailed  SaveStatus = "failed"
)

// PendingSave is a record save that could not reach the data service yet.
// Payload is the JSON body to replay.
type PendingSave struct {
	ID            string
	UserID        string
	Payload       []byte
	Status        SaveStatus
	Attempts      int
	LastError     string
	RemoteID      string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("Database schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping backs the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Get implements session.Store.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.queries.GetSessionValue(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session value: %w", err)
	}
	return v, true, nil
}

// Set implements session.Store.
func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	err := r.queries.UpsertSessionValue(ctx, UpsertSessionValueParams{
		Key:       key,
		Value:     value,
		UpdatedAt: r.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("set session value: %w", err)
	}
	return nil
}

// Delete implements session.Store.
func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if err := r.queries.DeleteSessionValue(ctx, key); err != nil {
		return fmt.Errorf("delete session value: %w", err)
	}
	return nil
}

// EnqueueSave stores a save for later delivery; it is due immediately.
func (r *SQLiteRepository) EnqueueSave(ctx context.Context, userID string, payload []byte) (PendingSave, error) {
	now := r.now().UnixMilli()
	row, err := r.queries.CreatePendingSave(ctx, CreatePendingSaveParams{
		ID:            uuid.NewString(),
		UserID:        userID,
		Payload:       string(payload),
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		return PendingSave{}, fmt.Errorf("create pending save: %w", err)
	}

	slog.InfoContext(ctx, "Save queued for later delivery",
		"id", row.ID,
		"user_id", userID)

	return toPendingSave(row), nil
}

func (r *SQLiteRepository) GetPendingSave(ctx context.Context, id string) (PendingSave, error) {
	row, err := r.queries.GetPendingSave(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingSave{}, ErrNotFound
	}
	if err != nil {
		return PendingSave{}, fmt.Errorf("get pending save: %w", err)
	}
	return toPendingSave(row), nil
}

// DuePendingSaves returns pending saves whose next attempt is not after now,
// oldest schedule first.
func (r *SQLiteRepository) DuePendingSaves(ctx context.Context, now time.Time, limit int) ([]PendingSave, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.queries.GetDuePendingSaves(ctx, now.UnixMilli(), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get due pending saves: %w", err)
	}
	out := make([]PendingSave, len(rows))
	for i, row := range rows {
		out[i] = toPendingSave(row)
	}
	return out, nil
}

// PendingSavesForUser lists the saves still waiting for delivery.
func (r *SQLiteRepository) PendingSavesForUser(ctx context.Context, userID string) ([]PendingSave, error) {
	rows, err := r.queries.ListPendingSavesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending saves: %w", err)
	}
	out := make([]PendingSave, len(rows))
	for i, row := range rows {
		out[i] = toPendingSave(row)
	}
	return out, nil
}

func (r *SQLiteRepository) CountPendingSaves(ctx context.Context) (int, error) {
	n, err := r.queries.CountPendingSaves(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending saves: %w", err)
	}
	return int(n), nil
}

// MarkSaveDone records a successful delivery.
func (r *SQLiteRepository) MarkSaveDone(ctx context.Context, id, remoteID string) error {
	n, err := r.queries.MarkPendingSaveDone(ctx, id, remoteID, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark pending save done: %w", err)
	}
	if n == 0 {
		return r.settledOrMissing(ctx, id)
	}

	slog.InfoContext(ctx, "Pending save delivered", "id", id, "remote_id", remoteID)
	return nil
}

// MarkSaveRetry counts a failed attempt and schedules the next one.
func (r *SQLiteRepository) MarkSaveRetry(ctx context.Context, id string, cause error, next time.Time) error {
	n, err := r.queries.MarkPendingSaveRetry(ctx, id, errString(cause), next.UnixMilli(), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark pending save retry: %w", err)
	}
	if n == 0 {
		return r.settledOrMissing(ctx, id)
	}

	slog.WarnContext(ctx, "Pending save will be retried", "id", id, "next_attempt_at", next, "error", cause)
	return nil
}

// MarkSaveFailed gives up on a save.
func (r *SQLiteRepository) MarkSaveFailed(ctx context.Context, id string, cause error) error {
	n, err := r.queries.MarkPendingSaveFailed(ctx, id, errString(cause), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark pending save failed: %w", err)
	}
	if n == 0 {
		return r.settledOrMissing(ctx, id)
	}

	slog.ErrorContext(ctx, "Pending save abandoned", "id", id, "error", cause)
	return nil
}

// PurgeDelivered removes delivered saves last updated before the cutoff.
func (r *SQLiteRepository) PurgeDelivered(ctx context.Context, before time.Time) (int, error) {
	n, err := r.queries.DeleteFinishedPendingSaves(ctx, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge delivered saves: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) settledOrMissing(ctx context.Context, id string) error {
	if _, err := r.GetPendingSave(ctx, id); err != nil {
		return err
	}
	return ErrNotPending
}

func toPendingSave(row PendingSaveRow) PendingSave {
	return PendingSave{
		ID:            row.ID,
		UserID:        row.UserID,
		Payload:       []byte(row.Payload),
		Status:        SaveStatus(row.Status),
		Attempts:      int(row.Attempts),
		LastError:     row.LastError,
		RemoteID:      row.RemoteID,
		NextAttemptAt: time.UnixMilli(row.NextAttemptAt),
		CreatedAt:     time.UnixMilli(row.CreatedAt),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
