package database

import (
	"context"
	"time"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

// SyncStatusRetry marks a task waiting for its next attempt.
const SyncStatusRetry = "retry"

var syncTaskColumns = []string{
	"id", "task_type", "booking_id", "payload", "status", "retry_count",
	"last_error", "created_at", "processed_at", "next_retry_at",
}

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	query, args, err := db.sb.Insert("sync_queue").
		Columns("task_type", "booking_id", "payload", "status", "retry_count", "last_error", "created_at", "next_retry_at").
		Values(task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, now, task.NextRetryAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.StoreError("build sync task insert", err)
	}
	if err := db.QueryRowContext(ctx, query, args...).Scan(&task.ID); err != nil {
		return domain.StoreError("create sync task", err)
	}
	task.CreatedAt = now
	return nil
}

// GetPendingSyncTasks returns pending and retry tasks whose retry time has
// passed, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	return db.querySyncTasks(ctx, db.sb.Select(syncTaskColumns...).
		From("sync_queue").
		Where(sq.Eq{"status": []string{models.SyncStatusPending, SyncStatusRetry}}).
		Where(sq.Or{sq.Eq{"next_retry_at": nil}, sq.LtOrEq{"next_retry_at": time.Now().UTC()}}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)))
}

// GetSyncTask returns one task by id or domain.ErrNotFound.
func (db *DB) GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	tasks, err := db.querySyncTasks(ctx, db.sb.Select(syncTaskColumns...).
		From("sync_queue").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, domain.ErrNotFound
	}
	return &tasks[0], nil
}

func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	return db.querySyncTasks(ctx, db.sb.Select(syncTaskColumns...).
		From("sync_queue").
		Where(sq.Eq{"status": models.SyncStatusFailed}).
		OrderBy("created_at DESC", "id DESC"))
}

func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastErr any
	if errMsg != "" {
		lastErr = errMsg
	}
	var next any
	if nextRetryAt != nil {
		// SQLite compares the stored text, so every timestamp is written in UTC.
		next = nextRetryAt.UTC()
	}
	q := db.sb.Update("sync_queue").
		Set("status", status).
		Set("last_error", lastErr).
		Set("next_retry_at", next).
		Where(sq.Eq{"id": id})

	switch status {
	case models.SyncStatusPending:
		q = q.Set("retry_count", 0).Set("processed_at", nil)
	case SyncStatusRetry:
		q = q.Set("retry_count", sq.Expr("retry_count + 1"))
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		q = q.Set("processed_at", time.Now().UTC())
	}

	query, args, err := q.ToSql()
	if err != nil {
		return domain.StoreError("build sync task update", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return domain.StoreError("update sync task status", err)
	}
	return nil
}

func (db *DB) querySyncTasks(ctx context.Context, q sq.SelectBuilder) ([]models.SyncTask, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, domain.StoreError("build sync task query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("query sync tasks", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt); err != nil {
			return nil, domain.StoreError("scan sync task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("query sync tasks", err)
	}
	return tasks, nil
}
