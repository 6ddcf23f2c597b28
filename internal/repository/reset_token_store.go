package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResetTokenNotFound is returned when a reset token is unknown, expired or
// already consumed.
var ErrResetTokenNotFound = errors.New("reset token not found")

const resetTokenPrefix = "pwreset:"

// ResetTokenStore persists short-lived password reset tokens.
type ResetTokenStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
}

type redisResetTokenStore struct {
	client *redis.Client
}

// NewResetTokenStore returns a Redis-backed implementation. Expiry is handled
// by the key TTL; consumption deletes the key so each token is single-use.
func NewResetTokenStore(client *redis.Client) ResetTokenStore {
	return &redisResetTokenStore{client: client}
}

func (s *redisResetTokenStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, resetTokenPrefix+token, userID, ttl).Err()
}

func (s *redisResetTokenStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, resetTokenPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrResetTokenNotFound
		}
		return "", err
	}
	return userID, nil
}
