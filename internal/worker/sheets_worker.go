package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cleanbook/internal/database"
	"cleanbook/internal/domain"
	"cleanbook/internal/metrics"
	"cleanbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskUpsert       = models.SyncTaskUpsert
	TaskUpdateStatus = models.SyncTaskStatus
)

const (
	queueKey      = "sheets:queue"
	deadLetterKey = "sheets:deadletter"
	pollEvery     = 2 * time.Second
	batchSize     = 20
	redisWait     = time.Second
)

// TaskStore persists the sync queue.
type TaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
	GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// sheetTaskPayload is persisted in SyncTask.Payload as JSON.
type sheetTaskPayload struct {
	BookingID int64           `json:"booking_id"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// SheetsWorker mirrors booking changes into the spreadsheet. The store is
// the source of truth for tasks: redis and the in-process channel are fast
// paths, and the poll loop picks up whatever they miss.
type SheetsWorker struct {
	store  TaskStore
	sheets domain.SheetsWriter
	redis  *redis.Client
	retry  RetryPolicy
	local  chan models.SyncTask
	logger *zerolog.Logger
}

// NewSheetsWorker builds a worker. redisClient and logger may be nil.
func NewSheetsWorker(store TaskStore, sheets domain.SheetsWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SheetsWorker{
		store:  store,
		sheets: sheets,
		redis:  redisClient,
		retry:  retry.withDefaults(),
		local:  make(chan models.SyncTask, models.WorkerQueueSize),
		logger: logger,
	}
}

// EnqueueTask records a sheet change for bookingID. The id falls back to
// booking.ID when zero.
func (w *SheetsWorker) EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if bookingID == 0 && booking != nil {
		bookingID = booking.ID
	}
	if bookingID == 0 {
		return errors.New("booking id is required")
	}

	raw, err := json.Marshal(sheetTaskPayload{BookingID: bookingID, Booking: booking, Status: status})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(raw),
		Status:    models.SyncStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}
	w.dispatch(ctx, task)
	return nil
}

// dispatch hands a stored task to redis, or to the local channel when redis
// is absent or failing. A full channel leaves the task to polling.
func (w *SheetsWorker) dispatch(ctx context.Context, task models.SyncTask) {
	if w.redis != nil {
		err := w.push(ctx, queueKey, &task)
		if err == nil {
			return
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, using local queue")
	}
	select {
	case w.local <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Local sync queue full, task left to polling")
	}
}

// Start runs until ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Sheets worker started")
	defer w.logger.Info().Msg("Sheets worker stopped")

	for ctx.Err() == nil {
		if task, ok := w.next(ctx); ok {
			w.processQueued(ctx, task)
			continue
		}
		if w.ProcessPending(ctx) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(pollEvery):
		}
	}
}

// next returns a queued task from the local channel first, then redis.
func (w *SheetsWorker) next(ctx context.Context) (models.SyncTask, bool) {
	select {
	case t := <-w.local:
		return t, true
	default:
	}
	if w.redis == nil {
		return models.SyncTask{}, false
	}

	res, err := w.redis.BRPop(ctx, redisWait, queueKey).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.SyncTask{}, false
	default:
		w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Dropping undecodable redis sync task")
		return models.SyncTask{}, false
	}
	return task, true
}

// processQueued handles a task taken from redis or the local channel. Those
// copies can be stale, since polling may already have run the task, so the
// stored row decides whether any work is left.
func (w *SheetsWorker) processQueued(ctx context.Context, queued models.SyncTask) {
	task, err := w.store.GetSyncTask(ctx, queued.ID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn().Int64("task_id", queued.ID).Msg("Queued sync task no longer stored, skipping")
		return
	}
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", queued.ID).Msg("Failed to reload queued sync task")
		return
	}
	if !due(task, time.Now()) {
		w.logger.Debug().Int64("task_id", task.ID).Str("status", task.Status).Msg("Queued sync task already handled, skipping")
		return
	}
	w.processTask(ctx, task)
}

// due reports whether task still waits for an attempt at now.
func due(task *models.SyncTask, now time.Time) bool {
	if task.Status != models.SyncStatusPending && task.Status != database.SyncStatusRetry {
		return false
	}
	return task.NextRetryAt == nil || !task.NextRetryAt.After(now)
}

// ProcessPending runs one batch of due tasks from the store and returns how
// many it handled.
func (w *SheetsWorker) ProcessPending(ctx context.Context) int {
	tasks, err := w.store.GetPendingSyncTasks(ctx, batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending sync tasks")
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

// ReplayFailed moves every permanently failed task back to pending with a
// fresh retry budget and clears the redis dead-letter list.
func (w *SheetsWorker) ReplayFailed(ctx context.Context) (int, error) {
	failed, err := w.store.GetFailedSyncTasks(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range failed {
		if err := w.store.UpdateSyncTaskStatus(ctx, t.ID, models.SyncStatusPending, "", nil); err != nil {
			return 0, err
		}
	}
	if w.redis != nil {
		if err := w.redis.Del(ctx, deadLetterKey).Err(); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to clear dead-letter list")
		}
	}
	if len(failed) > 0 {
		w.logger.Info().Int("count", len(failed)).Msg("Failed sync tasks requeued")
	}
	return len(failed), nil
}

func (w *SheetsWorker) processTask(ctx context.Context, task *models.SyncTask) {
	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.markFailed(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleSheetTask(ctx, task.TaskType, payload); err != nil {
		if task.RetryCount+1 >= w.retry.MaxRetries {
			w.markFailed(ctx, task, err)
		} else {
			w.scheduleRetry(ctx, task, err)
		}
		return
	}

	metrics.SyncTasks.WithLabelValues(task.TaskType, "ok").Inc()
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark sync task completed")
	}
}

func (w *SheetsWorker) handleSheetTask(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	switch taskType {
	case TaskUpsert:
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.sheets.UpsertBooking(ctx, payload.Booking)
	case TaskUpdateStatus:
		if payload.BookingID == 0 || payload.Status == "" {
			return errors.New("booking id or status missing")
		}
		return w.sheets.UpdateBookingStatus(ctx, payload.BookingID, payload.Status)
	}
	return fmt.Errorf("unknown task type: %s", taskType)
}

func (w *SheetsWorker) scheduleRetry(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	at := time.Now().Add(w.retry.NextDelay(attempt))

	metrics.SyncTasks.WithLabelValues(task.TaskType, "retry").Inc()
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusRetry, cause.Error(), &at); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to schedule sync task retry")
		return
	}
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Time("next_retry_at", at).
		Msg("Sync task failed, will retry")
}

func (w *SheetsWorker) markFailed(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.SyncTasks.WithLabelValues(task.TaskType, "failed").Inc()
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark sync task failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64("booking_id", task.BookingID).Msg("Sync task failed permanently")

	if w.redis == nil {
		return
	}
	if err := w.push(ctx, deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead-letter push failed")
	}
}

func (w *SheetsWorker) decodePayload(raw string) (sheetTaskPayload, error) {
	var payload sheetTaskPayload
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}

func (w *SheetsWorker) push(ctx context.Context, key string, task *models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
