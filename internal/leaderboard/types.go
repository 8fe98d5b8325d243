package leaderboard

import (
	"errors"
	"time"
)

// Persisted keys in the config store. One JSON scalar per key; a run only
// needs internal consistency within its own in-memory state, so there is
// no multi-key transaction.
const (
	keySetupComplete = "setupComplete"
	keySourceChannel = "sourceChannelId"
	keyDestChannel   = "destinationChannelId"
	keyTopRole       = "topRoleId"
	keyTopCount      = "topUserCount"
	keyNextRun       = "nextRunTimestamp"
	keyLastRun       = "lastRunTimestamp"
)

var (
	// ErrNotConfigured means setup has never completed; no run can start.
	ErrNotConfigured = errors.New("leaderboard: not configured")

	// ErrRunInProgress rejects a trigger while another run holds the
	// per-config critical section. Safe to retry later.
	ErrRunInProgress = errors.New("leaderboard: run already in progress")

	// ErrStaleReference wraps a transport not-found on a stored channel
	// or role id. The persisted config is left untouched.
	ErrStaleReference = errors.New("leaderboard: stale reference")
)

// Settings is the administrator-provided configuration of the weekly run.
type Settings struct {
	SourceChannelID string
	DestChannelID   string
	RoleID          string
	TopN            int
}

// Entry is one ranked author.
type Entry struct {
	AuthorID string
	Count    int
}

// Stage identifies where in the run state machine a result terminated
// (or where a run currently is).
type Stage string

const (
	StageIdle          Stage = "idle"
	StageValidating    Stage = "validating"
	StageScanning      Stage = "scanning"
	StageRanking       Stage = "ranking"
	StageSynchronizing Stage = "synchronizing"
	StagePublishing    Stage = "publishing"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// RunResult is returned to whoever triggered the run.
type RunResult struct {
	RunID         string
	Winners       []Entry
	TotalMessages int
	ScannedUntil  time.Time
	TimedOut      bool
	Sync          *SyncReport
	NextFire      time.Time
	Took          time.Duration
}

// Stats is the read-only scanning+ranking variant (no role mutation).
type Stats struct {
	TotalMessages int
	TopAuthorID   string
	TopCount      int
	TimedOut      bool
}
