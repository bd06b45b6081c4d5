package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklistRepository records revoked token ids until the token would have expired anyway.
type TokenBlacklistRepository struct {
	client *redis.Client
	prefix string
}

// NewTokenBlacklistRepository constructs the repository.
func NewTokenBlacklistRepository(client *redis.Client, prefix string) *TokenBlacklistRepository {
	if prefix == "" {
		prefix = "filevault:revoked:"
	}
	return &TokenBlacklistRepository{client: client, prefix: prefix}
}

// Revoke marks jti as revoked for ttl.
func (r *TokenBlacklistRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Set(ctx, r.prefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is on the list.
func (r *TokenBlacklistRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
