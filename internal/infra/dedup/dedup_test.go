package dedup_test

import (
	"testing"
	"time"

	"transaction-userbot/internal/infra/dedup"
)

const window = 30 * time.Second

func TestShouldSkipDuplicateDelivery(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	key := dedup.EventKey(-100123, 42)

	if s.ShouldSkip(key) {
		t.Fatal("ShouldSkip() = true for unseen key")
	}

	s.MarkHandled(key, time.Now())
	if !s.ShouldSkip(key) {
		t.Fatal("ShouldSkip() = false right after MarkHandled")
	}
}

func TestShouldSkipExpiresAfterWindow(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	key := dedup.EventKey(7, 1)

	// Отметка старше окна не должна подавлять новую доставку.
	s.MarkHandled(key, time.Now().Add(-window-time.Second))
	if s.ShouldSkip(key) {
		t.Fatal("ShouldSkip() = true for a record older than the window")
	}
}

func TestShouldSkipWhileInFlight(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	id := dedup.Ident{ChatID: 5, MsgID: 10}

	if !s.MarkInFlight(id) {
		t.Fatal("MarkInFlight() = false on first call")
	}
	// Вторая конкурирующая доставка той же идентичности отбрасывается по любому ключу.
	if !s.ShouldSkip(dedup.EventKey(id.ChatID, id.MsgID)) {
		t.Fatal("ShouldSkip() = false while identity is in flight")
	}
	if s.MarkInFlight(id) {
		t.Fatal("MarkInFlight() = true for an identity already in flight")
	}

	s.ClearInFlight(id)
	if s.ShouldSkip(dedup.EventKey(id.ChatID, id.MsgID)) {
		t.Fatal("ShouldSkip() = true after ClearInFlight without handled mark")
	}
	if !s.MarkInFlight(id) {
		t.Fatal("MarkInFlight() = false after ClearInFlight")
	}
}

func TestMarkOnceAtMostOne(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	key := dedup.ReplyKey(-42, 99)
	now := time.Now()

	if !s.MarkOnce(key, now) {
		t.Fatal("MarkOnce() = false on first call")
	}
	if s.MarkOnce(key, now) {
		t.Fatal("MarkOnce() = true on second call within the window")
	}
	// После истечения окна та же пара снова допустима.
	if !s.MarkOnce(key, now.Add(window+time.Second)) {
		t.Fatal("MarkOnce() = false after the window elapsed")
	}
}

func TestKindNamespacesAreIndependent(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	now := time.Now()

	s.MarkHandled(dedup.EventKey(1, 2), now)

	// Отметка события не должна блокировать отметки ответов той же идентичности.
	if !s.MarkOnce(dedup.ReplyKey(1, 2), now) {
		t.Fatal("MarkOnce(reply) = false, event mark leaked into reply namespace")
	}
	if !s.MarkOnce(dedup.Pic2Key(1, 2), now) {
		t.Fatal("MarkOnce(pic2) = false, event mark leaked into pic2 namespace")
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 distinct keys", s.Len())
	}
}

func TestEvictIfOversizeKeepsNewest(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	now := time.Now()

	const total = 1001
	for i := 0; i < total; i++ {
		s.MarkHandled(dedup.EventKey(1, i), now)
	}
	if s.Len() != total {
		t.Fatalf("Len() = %d before eviction, want %d", s.Len(), total)
	}

	s.EvictIfOversize()

	if s.Len() != 500 {
		t.Fatalf("Len() = %d after eviction, want 500", s.Len())
	}
	// Выживают 500 последних по порядку вставки.
	if s.Seen(dedup.EventKey(1, total-500-1)) {
		t.Fatal("oldest surviving boundary is off: evicted key still present")
	}
	for _, msgID := range []int{total - 500, total - 1} {
		if !s.Seen(dedup.EventKey(1, msgID)) {
			t.Fatalf("recent key %d evicted", msgID)
		}
	}
}

func TestEvictIfOversizeBelowThresholdNoop(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	now := time.Now()

	for i := 0; i < 1000; i++ {
		s.MarkHandled(dedup.EventKey(2, i), now)
	}
	s.EvictIfOversize()

	if s.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000: eviction must not fire at the threshold", s.Len())
	}
}

func TestCleanupDropsExpiredOnly(t *testing.T) {
	t.Parallel()

	s := dedup.NewStore(window)
	now := time.Now()

	s.MarkHandled(dedup.EventKey(3, 1), now.Add(-window))
	s.MarkHandled(dedup.EventKey(3, 2), now.Add(-time.Second))

	s.Cleanup(now)

	if s.Seen(dedup.EventKey(3, 1)) {
		t.Fatal("expired record survived Cleanup")
	}
	if !s.Seen(dedup.EventKey(3, 2)) {
		t.Fatal("fresh record removed by Cleanup")
	}
}
