package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth:revoked:"

// Denylist implements repository.Denylist using Redis. Entries expire when
// the access token they name would have expired anyway.
type Denylist struct {
	client *redis.Client
}

// NewDenylist creates a new Redis-backed access token denylist.
func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{client: client}
}

// Revoke denylists tokenID for ttl. A non-positive ttl means the token has
// already expired and nothing is stored.
func (d *Denylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}

	if err := d.client.Set(ctx, keyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID is denylisted.
func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, keyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked token: %w", err)
	}
	return n > 0, nil
}
