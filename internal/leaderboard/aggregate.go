package leaderboard

import (
	"context"
	"time"

	"rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

// ActivityCounts accumulates per-author message counts for one scan.
// It remembers the order authors were first seen so ranking can break
// ties deterministically. Never persisted; discarded after ranking.
type ActivityCounts struct {
	counts map[string]int
	order  []string
}

func newActivityCounts() *ActivityCounts {
	return &ActivityCounts{counts: map[string]int{}}
}

func (c *ActivityCounts) bump(authorID string) {
	if _, seen := c.counts[authorID]; !seen {
		c.order = append(c.order, authorID)
	}
	c.counts[authorID]++
}

// Count returns the accumulated count for one author.
func (c *ActivityCounts) Count(authorID string) int { return c.counts[authorID] }

// Distinct returns the number of distinct authors seen.
func (c *ActivityCounts) Distinct() int { return len(c.order) }

// Total returns the sum over all authors.
func (c *ActivityCounts) Total() int {
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// ScanResult is what one aggregation pass produced.
type ScanResult struct {
	Counts  *ActivityCounts
	Scanned int // messages inspected, bots included

	// ScannedUntil is the creation time of the oldest message inspected.
	ScannedUntil time.Time

	// TimedOut is set when the scan stopped before the window boundary:
	// the scan cap was hit, or a page fetch failed/timed out mid-scan.
	// Counts may then undercount true activity.
	TimedOut bool
}

// Aggregator scans a channel's history backward and counts non-bot
// messages inside a trailing window. Read-only; it must not be invoked
// twice concurrently for the same channel (the service serializes).
type Aggregator struct {
	src transport.HistorySource
	log logx.Logger

	pageSize    int
	pageTimeout time.Duration
}

func NewAggregator(src transport.HistorySource, log logx.Logger) *Aggregator {
	return &Aggregator{
		src:         src,
		log:         log,
		pageSize:    100,
		pageTimeout: 15 * time.Second,
	}
}

// Aggregate walks pages newest-to-oldest until one of:
//   - a message strictly older than now-window shows up (the in-window
//     part of that page still counts),
//   - maxScanned messages have been inspected,
//   - the source returns an empty page (true start of history).
//
// A page fetch failure ends the scan with a degraded, flagged result
// rather than failing the run; only caller cancellation is an error.
func (a *Aggregator) Aggregate(ctx context.Context, channelID string, window time.Duration, maxScanned int) (*ScanResult, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	res := &ScanResult{Counts: newActivityCounts(), ScannedUntil: now}
	before := ""

	for res.Scanned < maxScanned {
		pctx, cancel := context.WithTimeout(ctx, a.pageTimeout)
		page, err := a.src.MessagesBefore(pctx, channelID, before, a.pageSize)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.log.Warn("history page fetch failed, ending scan early",
				logx.String("channel_id", channelID),
				logx.Int("scanned", res.Scanned),
				logx.Err(err))
			res.TimedOut = true
			return res, nil
		}
		if len(page) == 0 {
			// True start of channel history.
			return res, nil
		}

		for _, m := range page {
			if m.CreatedAt.Before(cutoff) {
				// Window boundary reached; everything older is excluded.
				return res, nil
			}
			res.Scanned++
			res.ScannedUntil = m.CreatedAt
			if !m.Bot {
				res.Counts.bump(m.AuthorID)
			}
			if res.Scanned >= maxScanned {
				res.TimedOut = true
				return res, nil
			}
		}

		// Cursor: oldest message id seen so far keeps pages strictly
		// chronological with no gaps or overlaps.
		before = page[len(page)-1].ID
	}

	res.TimedOut = true
	return res, nil
}
