package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"

	"github.com/rs/zerolog"
)

// recoveryInterval is how long the primary stays bypassed after a failure.
const recoveryInterval = time.Minute

// FailoverDraftRepository sends calls to primary until one fails, then to
// fallback. The primary is retried once recoveryInterval has passed.
type FailoverDraftRepository struct {
	primary  domain.DraftRepository
	fallback domain.DraftRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverDraftRepository(primary, fallback domain.DraftRepository, logger *zerolog.Logger) *FailoverDraftRepository {
	return &FailoverDraftRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should try the primary.
func (r *FailoverDraftRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recoveryInterval
}

func (r *FailoverDraftRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary draft repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverDraftRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary draft repository recovered")
	}
}

func (r *FailoverDraftRepository) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	if r.usePrimary() {
		draft, err := r.primary.GetDraft(ctx, id)
		if err == nil {
			r.markUp()
			if draft != nil {
				return draft, nil
			}
			// Drafts written during an outage live only in the fallback.
			return r.fallback.GetDraft(ctx, id)
		}
		r.markDown(err)
	}
	return r.fallback.GetDraft(ctx, id)
}

func (r *FailoverDraftRepository) SaveDraft(ctx context.Context, draft *models.Draft) error {
	if r.usePrimary() {
		err := r.primary.SaveDraft(ctx, draft)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveDraft(ctx, draft)
}

// DeleteDraft removes the draft from both stores.
func (r *FailoverDraftRepository) DeleteDraft(ctx context.Context, id string) error {
	if r.usePrimary() {
		if err := r.primary.DeleteDraft(ctx, id); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}
	return r.fallback.DeleteDraft(ctx, id)
}

func (r *FailoverDraftRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
