package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

// minSerialTTL is the shortest expiry set on a counter.
const minSerialTTL = 24 * time.Hour

// RedisSerials issues queue serials with INCR, which is atomic on the server
// and so needs no day lock. Every INCR pushes the expiry to at least midnight
// two days after the date, the moment QueueAllocator closes that date's
// queue, so a counter never lapses while serials can still be issued.
type RedisSerials struct {
	client redis.UniversalClient
	loc    *time.Location
	now    func() time.Time
}

func NewRedisSerials(client redis.UniversalClient, loc *time.Location) *RedisSerials {
	return &RedisSerials{client: client, loc: loc, now: time.Now}
}

func serialKey(doctorID uuid.UUID, date civil.Date) string {
	return fmt.Sprintf("queue:%s:%s", doctorID, date)
}

func (r *RedisSerials) ttl(date civil.Date) time.Duration {
	expires := scheduling.WallClock(date.AddDays(2), r.loc, 0)
	if d := expires.Sub(r.now()); d > minSerialTTL {
		return d
	}
	return minSerialTTL
}

func (r *RedisSerials) Next(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	key := serialKey(doctorID, date)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl(date))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

func (r *RedisSerials) Peek(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	n, err := r.client.Get(ctx, serialKey(doctorID, date)).Int()
	if errors.Is(err, redis.Nil) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get serial: %w", err)
	}
	return n + 1, nil
}
