// Package leaderboard implements the weekly activity leaderboard engine:
//
//   - a weekly recurrence scheduler (single-shot timer, persisted next
//     fire instant, re-arm on every fire including failed runs)
//   - a bounded backward scan of channel history counting non-bot
//     messages inside a trailing 7-day window
//   - deterministic ranking with first-seen tie-breaking
//   - idempotent synchronization of a "winner" role against the guild
//
// The orchestrating Service ties these together behind a per-config
// critical section so concurrent triggers are rejected, not interleaved.
package leaderboard
