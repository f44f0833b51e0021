package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimPrefix = "tally:webhook:claim:"

// RedisClaimer takes short-lived event claims with SET NX. It is best-effort:
// if Redis is down the caller falls back to the durable store's insert race,
// which is correct but chattier under duplicate bursts.
type RedisClaimer struct {
	client redis.Cmdable
}

func NewRedisClaimer(client redis.Cmdable) *RedisClaimer {
	return &RedisClaimer{client: client}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return ok, nil
}

func (c *RedisClaimer) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, claimPrefix+key).Err(); err != nil {
		return fmt.Errorf("release webhook claim: %w", err)
	}
	return nil
}
