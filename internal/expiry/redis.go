package expiry

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// defaultKey is the sorted set holding scheduled payment expirations, scored
// by unix deadline.
const defaultKey = "expiry:payments"

// Redis is a Queue backed by a Redis sorted set. Entries survive process
// restarts, and the ZREM-based claim hands each due entry to exactly one
// instance.
type Redis struct {
	rdb *redis.Client
	key string
}

var _ Queue = (*Redis)(nil)

// NewRedis creates a Redis queue on the default key.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, key: defaultKey}
}

func (r *Redis) Add(ctx context.Context, id string, at time.Time) error {
	// NX keeps the first deadline when the same payment is scheduled twice.
	err := r.rdb.ZAddNX(ctx, r.key, redis.Z{
		Score:  float64(at.Unix()),
		Member: id,
	}).Err()
	if err != nil {
		return errors.Wrap(err, "schedule expiry")
	}
	return nil
}

func (r *Redis) PopDue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list due expiries")
	}

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		// ZREM returns 1 only for the instance that removed the member, so
		// concurrent pollers cannot both claim it.
		n, err := r.rdb.ZRem(ctx, r.key, id).Result()
		if err != nil {
			return claimed, errors.Wrap(err, "claim expiry")
		}
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (r *Redis) Remove(ctx context.Context, id string) error {
	if err := r.rdb.ZRem(ctx, r.key, id).Err(); err != nil {
		return errors.Wrap(err, "remove expiry")
	}
	return nil
}
