package profile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seonghun126/algoduel-bot/internal/domain"
	"github.com/seonghun126/algoduel-bot/internal/obslog"
)

// backend is what the cache delegates to; *PostgresStore satisfies it.
type backend interface {
	GetRating(ctx context.Context, serverID, userID string) (*int, error)
	UpdateRating(ctx context.Context, serverID, userID string, newRating int) error
	GetHandle(ctx context.Context, serverID, userID string) (string, error)
	SetHandle(ctx context.Context, serverID, userID, handle string) error
	GetStreak(ctx context.Context, serverID, userID string, at time.Time, excludeChallengeID string) (domain.Streak, error)
	AddHistoryEntry(ctx context.Context, serverID, userID, problemKey string) error
	HasHistoryEntry(ctx context.Context, serverID, userID, problemKey string) (bool, error)
}

const cacheTTL = 10 * time.Minute

// CachedStore is a read-through Redis cache over a profile backend. Handles
// and ratings are the hot reads (one per judge poll); everything else passes
// through. Redis failures degrade to the backend, never to an error.
type CachedStore struct {
	inner backend
	rdb   *redis.Client
}

func NewCachedStore(inner backend, rdb *redis.Client) *CachedStore {
	return &CachedStore{inner: inner, rdb: rdb}
}

func handleKey(serverID, userID string) string {
	return fmt.Sprintf("profile:handle:%s:%s", serverID, userID)
}

func ratingKey(serverID, userID string) string {
	return fmt.Sprintf("profile:rating:%s:%s", serverID, userID)
}

func (c *CachedStore) GetHandle(ctx context.Context, serverID, userID string) (string, error) {
	key := handleKey(serverID, userID)
	v, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return v, nil
	}
	if err != redis.Nil {
		obslog.L().Warn("profile_cache_read_error", zap.String("key", key), zap.Error(err))
	}

	handle, err := c.inner.GetHandle(ctx, serverID, userID)
	if err != nil {
		return "", err
	}
	if handle != "" {
		if err := c.rdb.Set(ctx, key, handle, cacheTTL).Err(); err != nil {
			obslog.L().Warn("profile_cache_write_error", zap.String("key", key), zap.Error(err))
		}
	}
	return handle, nil
}

func (c *CachedStore) SetHandle(ctx context.Context, serverID, userID, handle string) error {
	if err := c.inner.SetHandle(ctx, serverID, userID, handle); err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, handleKey(serverID, userID), handle, cacheTTL).Err(); err != nil {
		obslog.L().Warn("profile_cache_write_error", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (c *CachedStore) GetRating(ctx context.Context, serverID, userID string) (*int, error) {
	key := ratingKey(serverID, userID)
	v, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			return &n, nil
		}
	} else if err != redis.Nil {
		obslog.L().Warn("profile_cache_read_error", zap.String("key", key), zap.Error(err))
	}

	rating, err := c.inner.GetRating(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}
	if rating != nil {
		if err := c.rdb.Set(ctx, key, strconv.Itoa(*rating), cacheTTL).Err(); err != nil {
			obslog.L().Warn("profile_cache_write_error", zap.String("key", key), zap.Error(err))
		}
	}
	return rating, nil
}

func (c *CachedStore) UpdateRating(ctx context.Context, serverID, userID string, newRating int) error {
	if err := c.inner.UpdateRating(ctx, serverID, userID, newRating); err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, ratingKey(serverID, userID), strconv.Itoa(newRating), cacheTTL).Err(); err != nil {
		obslog.L().Warn("profile_cache_write_error", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// Streaks and history are not cached: streaks must see the freshest solves and
// history writes are rare.
func (c *CachedStore) GetStreak(ctx context.Context, serverID, userID string, at time.Time, excludeChallengeID string) (domain.Streak, error) {
	return c.inner.GetStreak(ctx, serverID, userID, at, excludeChallengeID)
}

func (c *CachedStore) AddHistoryEntry(ctx context.Context, serverID, userID, problemKey string) error {
	return c.inner.AddHistoryEntry(ctx, serverID, userID, problemKey)
}

func (c *CachedStore) HasHistoryEntry(ctx context.Context, serverID, userID, problemKey string) (bool, error) {
	return c.inner.HasHistoryEntry(ctx, serverID, userID, problemKey)
}
