package sqlite_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlitestore "github.com/zophiezlan/nfc-tap-logger/internal/tapline/store/sqlite"
)

func TestAllocateToken_Contiguous(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	a, err := cs.AllocateToken(ctx, "04A2F9C1B2", "2026-08-29", now)
	if err != nil {
		t.Fatalf("AllocateToken: %v", err)
	}
	b, err := cs.AllocateToken(ctx, "04B3E8D2C3", "2026-08-29", now)
	if err != nil {
		t.Fatalf("AllocateToken: %v", err)
	}

	if a != "001" || b != "002" {
		t.Errorf("expected 001, 002; got %s, %s", a, b)
	}
}

func TestAllocateToken_IdempotentPerUID(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w)
	ctx := context.Background()

	a, err := cs.AllocateToken(ctx, "04A2F9C1B2", "2026-08-29", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken: %v", err)
	}
	b, err := cs.AllocateToken(ctx, "04A2F9C1B2", "2026-08-29", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken again: %v", err)
	}
	if a != b {
		t.Errorf("re-allocating the same uid must return the same token: %s vs %s", a, b)
	}
}

func TestAllocateToken_ConcurrentFirstTaps_DistinctIDs(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w)
	ctx := context.Background()

	const n = 20
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cs.AllocateToken(ctx, fmt.Sprintf("04CAFE%04X", i), "2026-08-29", time.Now().UTC())
			if err != nil {
				t.Errorf("AllocateToken %d: %v", i, err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if seen[tok] {
			t.Fatalf("token %s issued twice", tok)
		}
		seen[tok] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct tokens, got %d", n, len(seen))
	}
	// Contiguity: 001..020 all present.
	for i := 1; i <= n; i++ {
		if !seen[fmt.Sprintf("%03d", i)] {
			t.Errorf("missing token %03d", i)
		}
	}
}

func TestResolveToken(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w)
	ctx := context.Background()

	if _, ok, err := cs.ResolveToken(ctx, "04A2F9C1B2", "2026-08-29"); err != nil || ok {
		t.Fatalf("expected unknown uid, got ok=%v err=%v", ok, err)
	}

	tok, err := cs.AllocateToken(ctx, "04A2F9C1B2", "2026-08-29", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken: %v", err)
	}

	got, ok, err := cs.ResolveToken(ctx, "04A2F9C1B2", "2026-08-29")
	if err != nil || !ok {
		t.Fatalf("expected mapping, got ok=%v err=%v", ok, err)
	}
	if got != tok {
		t.Errorf("expected %s, got %s", tok, got)
	}

	// Mappings are session-scoped: the card re-initializes next session.
	if _, ok, err := cs.ResolveToken(ctx, "04A2F9C1B2", "2026-08-30"); err != nil || ok {
		t.Errorf("expected no mapping in the next session, got ok=%v err=%v", ok, err)
	}
}

func TestAllocateToken_CountersScopedPerSession(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w)
	ctx := context.Background()

	a, err := cs.AllocateToken(ctx, "04AAAA0001", "2026-08-29", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken day 1: %v", err)
	}
	// The next session's counter restarts at 1; re-issuing "001" to a new
	// card must not collide with yesterday's mapping.
	b, err := cs.AllocateToken(ctx, "04BBBB0002", "2026-08-30", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken day 2: %v", err)
	}

	if a != "001" || b != "001" {
		t.Errorf("counters must be per session: got %s and %s", a, b)
	}
}

func TestAllocateToken_SameCardReinitializesNextSession(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w)
	ctx := context.Background()

	day1, err := cs.AllocateToken(ctx, "04AAAA0001", "2026-08-29", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken day 1: %v", err)
	}
	if _, err := cs.AllocateToken(ctx, "04BBBB0002", "2026-08-29", time.Now().UTC()); err != nil {
		t.Fatalf("AllocateToken second card: %v", err)
	}

	day2, err := cs.AllocateToken(ctx, "04AAAA0001", "2026-08-30", time.Now().UTC())
	if err != nil {
		t.Fatalf("AllocateToken day 2: %v", err)
	}

	if day1 != "001" || day2 != "001" {
		t.Errorf("expected a fresh 001 each session, got %s then %s", day1, day2)
	}
	// Day 1's mapping is untouched.
	got, ok, err := cs.ResolveToken(ctx, "04AAAA0001", "2026-08-29")
	if err != nil || !ok || got != "001" {
		t.Errorf("day 1 mapping lost: %s ok=%v err=%v", got, ok, err)
	}
}
