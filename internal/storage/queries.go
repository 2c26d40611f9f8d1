package storage

import (
	"context"
)

const getSessionValue = `SELECT value FROM session_values WHERE key = ?`

func (q *Queries) GetSessionValue(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, getSessionValue, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const upsertSessionValue = `
INSERT INTO session_values (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

type UpsertSessionValueParams struct {
	Key       string
	Value     string
	UpdatedAt int64
}

func (q *Queries) UpsertSessionValue(ctx context.Context, arg UpsertSessionValueParams) error {
	_, err := q.db.ExecContext(ctx, upsertSessionValue, arg.Key, arg.Value, arg.UpdatedAt)
	return err
}

const deleteSessionValue = `DELETE FROM session_values WHERE key = ?`

func (q *Queries) DeleteSessionValue(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteSessionValue, key)
	return err
}

const pendingSaveColumns = `id, user_id, payload, status, attempts, last_error, remote_id, next_attempt_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPendingSave(s scanner) (PendingSaveRow, error) {
	var i PendingSaveRow
	err := s.Scan(
		&i.ID,
		&i.UserID,
		&i.Payload,
		&i.Status,
		&i.Attempts,
		&i.LastError,
		&i.RemoteID,
		&i.NextAttemptAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPendingSave = `
INSERT INTO pending_saves (id, user_id, payload, status, attempts, last_error, remote_id, next_attempt_at, created_at, updated_at)
VALUES (?, ?, ?, 'pending', 0, '', '', ?, ?, ?)
RETURNING ` + pendingSaveColumns

type CreatePendingSaveParams struct {
	ID            string
	UserID        string
	Payload       string
	NextAttemptAt int64
	CreatedAt     int64
}

func (q *Queries) CreatePendingSave(ctx context.Context, arg CreatePendingSaveParams) (PendingSaveRow, error) {
	row := q.db.QueryRowContext(ctx, createPendingSave,
		arg.ID, arg.UserID, arg.Payload, arg.NextAttemptAt, arg.CreatedAt, arg.CreatedAt)
	return scanPendingSave(row)
}

const getPendingSave = `SELECT ` + pendingSaveColumns + ` FROM pending_saves WHERE id = ?`

func (q *Queries) GetPendingSave(ctx context.Context, id string) (PendingSaveRow, error) {
	return scanPendingSave(q.db.QueryRowContext(ctx, getPendingSave, id))
}

const getDuePendingSaves = `
SELECT ` + pendingSaveColumns + ` FROM pending_saves
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY next_attempt_at, created_at
LIMIT ?`

func (q *Queries) GetDuePendingSaves(ctx context.Context, now int64, limit int64) ([]PendingSaveRow, error) {
	rows, err := q.db.QueryContext(ctx, getDuePendingSaves, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingSaveRow
	for rows.Next() {
		i, err := scanPendingSave(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPendingSavesByUser = `
SELECT ` + pendingSaveColumns + ` FROM pending_saves
WHERE user_id = ? AND status = 'pending'
ORDER BY created_at`

func (q *Queries) ListPendingSavesByUser(ctx context.Context, userID string) ([]PendingSaveRow, error) {
	rows, err := q.db.QueryContext(ctx, listPendingSavesByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingSaveRow
	for rows.Next() {
		i, err := scanPendingSave(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markPendingSaveDone = `
UPDATE pending_saves SET status = 'done', remote_id = ?, last_error = '', attempts = attempts + 1, updated_at = ?
WHERE id = ? AND status = 'pending'`

func (q *Queries) MarkPendingSaveDone(ctx context.Context, id, remoteID string, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, markPendingSaveDone, remoteID, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markPendingSaveRetry = `
UPDATE pending_saves SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
WHERE id = ? AND status = 'pending'`

func (q *Queries) MarkPendingSaveRetry(ctx context.Context, id, lastError string, nextAttemptAt, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, markPendingSaveRetry, lastError, nextAttemptAt, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markPendingSaveFailed = `
UPDATE pending_saves SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
WHERE id = ? AND status = 'pending'`

func (q *Queries) MarkPendingSaveFailed(ctx context.Context, id, lastError string, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, markPendingSaveFailed, lastError, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countPendingSaves = `SELECT COUNT(*) FROM pending_saves WHERE status = 'pending'`

func (q *Queries) CountPendingSaves(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countPendingSaves).Scan(&n)
	return n, err
}

const deleteFinishedPendingSaves = `DELETE FROM pending_saves WHERE status = 'done' AND updated_at < ?`

func (q *Queries) DeleteFinishedPendingSaves(ctx context.Context, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteFinishedPendingSaves, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
