package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

// fakeHistory serves a fixed newest-to-oldest message list in pages,
// mirroring the before-cursor contract of the real transport.
type fakeHistory struct {
	msgs []transport.Message

	// failAfter makes the n-th fetch (0-based) return an error.
	failAfter int
	fetches   int
	failErr   error
}

func (f *fakeHistory) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]transport.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failErr != nil && f.fetches >= f.failAfter {
		return nil, f.failErr
	}
	f.fetches++

	start := 0
	if beforeID != "" {
		for i, m := range f.msgs {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.msgs) {
		end = len(f.msgs)
	}
	if start >= len(f.msgs) {
		return nil, nil
	}
	return f.msgs[start:end], nil
}

// history builds count messages, newest first, one minute apart ending
// at base. authorOf assigns authors; botOf flags bot messages.
func history(base time.Time, count int, authorOf func(i int) string, botOf func(i int) bool) []transport.Message {
	msgs := make([]transport.Message, 0, count)
	for i := 0; i < count; i++ {
		msgs = append(msgs, transport.Message{
			ID:        fmt.Sprintf("m%04d", count-i),
			AuthorID:  authorOf(i),
			Bot:       botOf != nil && botOf(i),
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

func TestAggregateCountsAndExcludesBots(t *testing.T) {
	base := time.Now()
	authors := []string{"alice", "bob", "alice", "carol", "bob", "alice", "bot1", "bot1", "carol", "alice"}
	src := &fakeHistory{msgs: history(base, len(authors),
		func(i int) string { return authors[i] },
		func(i int) bool { return authors[i] == "bot1" })}

	agg := NewAggregator(src, logx.Nop())
	res, err := agg.Aggregate(context.Background(), "chan", 7*24*time.Hour, 5000)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if res.Scanned != len(authors) {
		t.Fatalf("Scanned = %d, want %d (bots inspected, not counted)", res.Scanned, len(authors))
	}
	if res.TimedOut {
		t.Fatal("TimedOut = true for a complete scan")
	}
	want := map[string]int{"alice": 4, "bob": 2, "carol": 2}
	for id, n := range want {
		if got := res.Counts.Count(id); got != n {
			t.Errorf("Count(%s) = %d, want %d", id, got, n)
		}
	}
	if res.Counts.Count("bot1") != 0 {
		t.Errorf("bot counted: %d", res.Counts.Count("bot1"))
	}
	if got := res.Counts.Total(); got != 8 {
		t.Errorf("Total = %d, want 8", got)
	}
}

func TestAggregateStopsAtWindowBoundary(t *testing.T) {
	base := time.Now()
	window := 2 * time.Hour

	// 5 recent messages, then a gap well past the window, then more.
	msgs := history(base, 5, func(int) string { return "alice" }, nil)
	old := history(base.Add(-3*time.Hour), 5, func(int) string { return "bob" }, nil)
	for i := range old {
		old[i].ID = fmt.Sprintf("old%d", i)
	}
	src := &fakeHistory{msgs: append(msgs, old...)}

	agg := NewAggregator(src, logx.Nop())
	res, err := agg.Aggregate(context.Background(), "chan", window, 5000)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.TimedOut {
		t.Fatal("boundary stop must not set TimedOut")
	}
	if got := res.Counts.Count("alice"); got != 5 {
		t.Errorf("in-window count = %d, want 5", got)
	}
	if got := res.Counts.Count("bob"); got != 0 {
		t.Errorf("out-of-window messages counted: %d", got)
	}
}

func TestAggregateScanCap(t *testing.T) {
	base := time.Now()
	src := &fakeHistory{msgs: history(base, 250, func(i int) string { return fmt.Sprintf("u%d", i%7) }, nil)}

	agg := NewAggregator(src, logx.Nop())
	res, err := agg.Aggregate(context.Background(), "chan", 7*24*time.Hour, 120)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("cap hit but TimedOut = false")
	}
	if res.Scanned != 120 {
		t.Fatalf("Scanned = %d, want exactly the cap", res.Scanned)
	}
}

func TestAggregateEmptyChannel(t *testing.T) {
	agg := NewAggregator(&fakeHistory{}, logx.Nop())
	res, err := agg.Aggregate(context.Background(), "chan", time.Hour, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.TimedOut || res.Scanned != 0 || res.Counts.Distinct() != 0 {
		t.Fatalf("empty channel: %+v", res)
	}
}

func TestAggregatePageFailureDegrades(t *testing.T) {
	base := time.Now()
	src := &fakeHistory{
		msgs:      history(base, 150, func(int) string { return "alice" }, nil),
		failAfter: 1,
		failErr:   errors.New("transport exploded"),
	}

	agg := NewAggregator(src, logx.Nop())
	res, err := agg.Aggregate(context.Background(), "chan", 7*24*time.Hour, 5000)
	if err != nil {
		t.Fatalf("page failure must degrade, not fail: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("degraded scan must set TimedOut")
	}
	if got := res.Counts.Count("alice"); got != 100 {
		t.Errorf("partial count = %d, want 100 (first page only)", got)
	}
}

func TestAggregateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeHistory{msgs: history(time.Now(), 10, func(int) string { return "alice" }, nil)}
	agg := NewAggregator(src, logx.Nop())
	if _, err := agg.Aggregate(ctx, "chan", time.Hour, 100); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
