package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cleanbook/internal/config"
	"cleanbook/internal/models"

	"github.com/redis/go-redis/v9"
)

var errNoClient = errors.New("redis: client not configured")

func draftKey(id string) string { return "draft:" + id }
func rateKey(subject string) string { return "rate_limit:" + subject }

// RedisDraftRepository keeps each draft as one JSON string whose expiry is
// pushed back on every save.
type RedisDraftRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from the configuration. It does not dial.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisDraftRepository(client *redis.Client, ttl time.Duration) *RedisDraftRepository {
	if ttl <= 0 {
		ttl = models.DefaultDraftTTL
	}
	return &RedisDraftRepository{client: client, ttl: ttl}
}

func (r *RedisDraftRepository) SaveDraft(ctx context.Context, draft *models.Draft) error {
	if r.client == nil {
		return errNoClient
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", draft.ID, err)
	}
	if err := r.client.Set(ctx, draftKey(draft.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set draft: %w", err)
	}
	return nil
}

func (r *RedisDraftRepository) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	if r.client == nil {
		return nil, errNoClient
	}
	raw, err := r.client.Get(ctx, draftKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get draft: %w", err)
	}

	draft := new(models.Draft)
	if err := json.Unmarshal(raw, draft); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return draft, nil
}

func (r *RedisDraftRepository) DeleteDraft(ctx context.Context, id string) error {
	if r.client == nil {
		return errNoClient
	}
	if err := r.client.Del(ctx, draftKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete draft: %w", err)
	}
	return nil
}

// CheckRateLimit is a fixed-window counter. The window starts with the
// first hit; a counter left without expiry is given one on the next hit.
func (r *RedisDraftRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNoClient
	}
	k := rateKey(key)

	pipe := r.client.TxPipeline()
	hits := pipe.Incr(ctx, k)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	if ttl.Val() < 0 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("redis rate limit expire: %w", err)
		}
	}
	return hits.Val() <= int64(limit), nil
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
