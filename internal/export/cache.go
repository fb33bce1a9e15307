package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"borderhist/internal/history/models"
	"borderhist/internal/platform/redis"
)

// PairCache caches computed pair lists. A miss returns ok false with a nil
// error; lookup failures degrade to a miss at the call site.
type PairCache interface {
	Get(ctx context.Context, key string) ([]models.RDPair, bool, error)
	Set(ctx context.Context, key string, pairs []models.RDPair) error
}

// RedisPairCache stores pair lists as JSON values with a TTL. Snapshots are
// immutable once superseded, so the TTL only bounds memory, not staleness.
type RedisPairCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPairCache(client *redis.Client, ttl time.Duration) *RedisPairCache {
	return &RedisPairCache{client: client, ttl: ttl}
}

func (c *RedisPairCache) Get(ctx context.Context, key string) ([]models.RDPair, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached pairs: %w", err)
	}
	var pairs []models.RDPair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, false, fmt.Errorf("decode cached pairs: %w", err)
	}
	return pairs, true, nil
}

func (c *RedisPairCache) Set(ctx context.Context, key string, pairs []models.RDPair) error {
	raw, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("encode pairs: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached pairs: %w", err)
	}
	return nil
}

// cacheKey identifies one pair list by snapshot start date and projection.
func cacheKey(validFrom time.Time, homelandOnly, altNames bool) string {
	return fmt.Sprintf("borderhist:pairs:%s:%t:%t",
		validFrom.Format(time.DateOnly), homelandOnly, altNames)
}
