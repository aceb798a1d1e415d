package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loonworks/loonflow/store"
)

// SN layout: loonflow_YYYYMMDDNNNN with a 4-digit daily counter.
const (
	snPrefix     = "loonflow_"
	snCounterKey = "ticket_day_count_"
	snCounterTTL = 24 * time.Hour
)

// SNRedisClient is the subset of go-redis client methods the allocator
// uses. Keeping it an interface enables mocking in tests.
type SNRedisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// SNAllocator issues unique daily-scoped ticket serial numbers. The
// per-day counter lives in Redis under a 24-hour TTL and is seeded from
// the database count on first miss, so it is regenerable after a cache
// flush. Concurrent allocators never issue the same SN: the seed is
// written with SET NX and every draw is an atomic INCR.
type SNAllocator struct {
	client  SNRedisClient
	tickets store.TicketStore
	tz      *time.Location
	now     func() time.Time
}

// NewSNAllocator creates an SNAllocator counting days in tz. A nil tz
// uses the local timezone.
func NewSNAllocator(client SNRedisClient, tickets store.TicketStore, tz *time.Location) *SNAllocator {
	if tz == nil {
		tz = time.Local
	}
	return &SNAllocator{client: client, tickets: tickets, tz: tz, now: time.Now}
}

// Allocate returns the next serial number for today.
func (a *SNAllocator) Allocate(ctx context.Context) (string, error) {
	now := a.now().In(a.tz)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.tz)
	key := snCounterKey + dayStart.Format("2006-01-02")

	exists, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("%w: check sn counter: %v", ErrUpstream, err)
	}
	if exists == 0 {
		// Seed the counter from the database. SET NX makes the seed
		// race-free: only one allocator's count wins, the rest INCR it.
		// Deleted tickets keep their slot, so the count includes them.
		seed, err := a.tickets.CountCreatedBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return "", fmt.Errorf("%w: seed sn counter: %v", ErrUpstream, err)
		}
		if err := a.client.SetNX(ctx, key, seed, snCounterTTL).Err(); err != nil {
			return "", fmt.Errorf("%w: seed sn counter: %v", ErrUpstream, err)
		}
	}

	n, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("%w: increment sn counter: %v", ErrUpstream, err)
	}
	return fmt.Sprintf("%s%s%04d", snPrefix, dayStart.Format("20060102"), n), nil
}
