package ticket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/loonworks/loonflow/store"
)

func newTestAllocator(t *testing.T) (*SNAllocator, *miniredis.Miniredis, *store.MockTicketStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tickets := store.NewMockTicketStore(store.NewMockFieldValueStore(), store.NewMockFlowLogStore())
	return NewSNAllocator(client, tickets, time.UTC), mr, tickets
}

func TestAllocateFormat(t *testing.T) {
	ctx := context.Background()
	sn, _, _ := newTestAllocator(t)
	sn.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	}

	for i := 1; i <= 3; i++ {
		got, err := sn.Allocate(ctx)
		if err != nil {
			t.Fatalf("allocate failed: %v", err)
		}
		want := fmt.Sprintf("loonflow_20250601%04d", i)
		if got != want {
			t.Errorf("sn = %s, want %s", got, want)
		}
	}
}

func TestAllocateSeedsFromDatabase(t *testing.T) {
	ctx := context.Background()
	// The mock store stamps rows with the wall clock, so this test counts
	// in real local time instead of faking the day.
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tickets := store.NewMockTicketStore(store.NewMockFieldValueStore(), store.NewMockFlowLogStore())
	sn := NewSNAllocator(client, tickets, nil)

	// Two tickets already created today, one of them since deleted.
	// Both keep their serial slots.
	for i := 0; i < 2; i++ {
		tk := &store.Ticket{SN: fmt.Sprintf("seeded-%d", i+1), WorkflowID: 1}
		if err := tickets.Create(ctx, tk, nil, nil); err != nil {
			t.Fatalf("seed ticket: %v", err)
		}
		if i == 1 {
			if err := tickets.SoftDelete(ctx, tk.ID); err != nil {
				t.Fatalf("delete ticket: %v", err)
			}
		}
	}

	got, err := sn.Allocate(ctx)
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	want := fmt.Sprintf("loonflow_%s%04d", time.Now().Format("20060102"), 3)
	if got != want {
		t.Errorf("sn = %s, want %s", got, want)
	}
}

func TestAllocateCounterRollsOverAtMidnight(t *testing.T) {
	ctx := context.Background()
	sn, _, _ := newTestAllocator(t)

	sn.now = func() time.Time {
		return time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	}
	if _, err := sn.Allocate(ctx); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	sn.now = func() time.Time {
		return time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	}
	got, err := sn.Allocate(ctx)
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if got != "loonflow_202506020001" {
		t.Errorf("sn = %s, want loonflow_202506020001", got)
	}
}

func TestAllocateCounterCarriesTTL(t *testing.T) {
	ctx := context.Background()
	sn, mr, _ := newTestAllocator(t)
	sn.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	}

	if _, err := sn.Allocate(ctx); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	ttl := mr.TTL("ticket_day_count_2025-06-01")
	if ttl <= 0 || ttl > 24*time.Hour {
		t.Errorf("counter ttl = %v, want within 24h", ttl)
	}
}

func TestAllocateRecoversAfterCacheFlush(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tickets := store.NewMockTicketStore(store.NewMockFieldValueStore(), store.NewMockFlowLogStore())
	sn := NewSNAllocator(client, tickets, nil)

	got, err := sn.Allocate(ctx)
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	tk := &store.Ticket{SN: got, WorkflowID: 1}
	if err := tickets.Create(ctx, tk, nil, nil); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	mr.FlushAll()

	got, err = sn.Allocate(ctx)
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	want := fmt.Sprintf("loonflow_%s%04d", time.Now().Format("20060102"), 2)
	if got != want {
		t.Errorf("sn after flush = %s, want %s", got, want)
	}
}
