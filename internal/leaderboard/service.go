package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rankbot/internal/eventbus"
	"rankbot/internal/storage"
	"rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

// Event types published on the bus for each run.
const (
	EventRunStarted   = "leaderboard.run.started"
	EventRunCompleted = "leaderboard.run.completed"
	EventRunFailed    = "leaderboard.run.failed"
)

// RunEvent is the bus payload for run lifecycle events.
type RunEvent struct {
	RunID   string
	Trigger string
	Stage   Stage
	Err     string
}

// Options tune the engine; zero values pick the defaults the bot has
// always run with.
type Options struct {
	Rule            Rule
	Window          time.Duration
	ScanCap         int
	PageTimeout     time.Duration
	SyncConcurrency int
}

func (o Options) withDefaults() Options {
	if o.Rule == (Rule{}) {
		o.Rule = DefaultRule
	}
	if o.Window <= 0 {
		o.Window = 7 * 24 * time.Hour
	}
	if o.ScanCap <= 0 {
		o.ScanCap = 5000
	}
	if o.SyncConcurrency <= 0 {
		o.SyncConcurrency = 4
	}
	return o
}

// Service owns the weekly leaderboard engine: the recurrence timer, the
// bounded activity scan, ranking, role synchronization and result
// publication. One instance per process; all schedule and timer state
// lives on this struct rather than in package globals.
type Service struct {
	log     logx.Logger
	store   storage.Store
	client  transport.Client
	bus     eventbus.Bus
	metrics *Metrics

	rule    Rule
	window  time.Duration
	scanCap int

	agg    *Aggregator
	syncer *RoleSyncer

	// runMu is the per-config critical section: at most one run (or
	// read-only scan) in flight. Triggers that lose the TryLock are
	// rejected, never queued.
	runMu   sync.Mutex
	stageMu sync.Mutex
	stage   Stage

	// timer state, guarded by tmu
	tmu      sync.Mutex
	timer    *time.Timer
	armed    bool
	nextFire time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func New(store storage.Store, client transport.Client, bus eventbus.Bus, metrics *Metrics, log logx.Logger, opts Options) (*Service, error) {
	opts = opts.withDefaults()
	if err := opts.Rule.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		log:     log,
		store:   store,
		client:  client,
		bus:     bus,
		metrics: metrics,
		rule:    opts.Rule,
		window:  opts.Window,
		scanCap: opts.ScanCap,
		stage:   StageIdle,
	}
	s.agg = NewAggregator(client, log)
	if opts.PageTimeout > 0 {
		s.agg.pageTimeout = opts.PageTimeout
	}
	s.syncer = NewRoleSyncer(client, log)
	s.syncer.concurrency = opts.SyncConcurrency
	return s, nil
}

// Start arms the recurrence when setup has already completed. Without
// setup the service idles until Setup is called.
func (s *Service) Start(ctx context.Context) error {
	s.baseCtx, s.baseCancel = context.WithCancel(context.WithoutCancel(ctx))

	configured, err := s.isConfigured(ctx)
	if err != nil {
		return fmt.Errorf("leaderboard: read setup state: %w", err)
	}
	if !configured {
		s.log.Info("setup incomplete, scheduler not armed")
		return nil
	}
	s.Arm(ctx)
	return nil
}

// Stop disarms the timer and waits for any in-flight run to finish.
// Runs past the Scanning stage are never hard-killed; ctx only bounds
// how long Stop itself waits.
func (s *Service) Stop(ctx context.Context) error {
	s.Disarm(ctx)

	done := make(chan struct{})
	go func() {
		s.runMu.Lock()
		s.runMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for in-flight run")
	}

	if s.baseCancel != nil {
		s.baseCancel()
	}
	return nil
}

// Stage reports where the current (or last) run is in its state machine.
func (s *Service) Stage() Stage {
	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	return s.stage
}

func (s *Service) setStage(st Stage) {
	s.stageMu.Lock()
	s.stage = st
	s.stageMu.Unlock()
}

// Setup validates and persists the run configuration, arms the
// scheduler and returns the next fire time.
func (s *Service) Setup(ctx context.Context, set Settings) (time.Time, error) {
	if set.TopN < 1 {
		return time.Time{}, errors.New("leaderboard: topN must be >= 1")
	}
	if err := s.resolveRefs(ctx, set); err != nil {
		return time.Time{}, err
	}

	for key, val := range map[string]any{
		keySetupComplete: true,
		keySourceChannel: set.SourceChannelID,
		keyDestChannel:   set.DestChannelID,
		keyTopRole:       set.RoleID,
		keyTopCount:      set.TopN,
	} {
		if err := s.store.Set(ctx, key, val); err != nil {
			return time.Time{}, fmt.Errorf("leaderboard: persist %s: %w", key, err)
		}
	}
	if _, ok, _ := s.store.Get(ctx, keyLastRun); !ok {
		_ = s.store.Set(ctx, keyLastRun, int64(0))
	}

	next := s.Arm(ctx)
	s.log.Info("setup complete",
		logx.String("source_channel", set.SourceChannelID),
		logx.String("dest_channel", set.DestChannelID),
		logx.String("role_id", set.RoleID),
		logx.Int("top_n", set.TopN),
		logx.Time("next_fire", next))
	return next, nil
}

// TriggerManualRun executes a full run immediately, sharing every stage
// with the scheduled path. A run already in flight rejects the trigger.
func (s *Service) TriggerManualRun(ctx context.Context) (*RunResult, error) {
	return s.run(ctx, "manual")
}

// WeeklyStats is the read-only Scanning+Ranking variant: no role sync,
// no publication, no persisted state. It still takes the run lock so a
// stats scan never overlaps a run on the same channel.
func (s *Service) WeeklyStats(ctx context.Context) (Stats, error) {
	if !s.runMu.TryLock() {
		if s.metrics != nil {
			s.metrics.RunsRejectedBusy.Inc()
		}
		return Stats{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	set, err := s.loadSettings(ctx)
	if err != nil {
		return Stats{}, err
	}
	if err := s.client.ResolveChannel(ctx, set.SourceChannelID); err != nil {
		return Stats{}, staleOr(err, set.SourceChannelID)
	}

	scan, err := s.agg.Aggregate(ctx, set.SourceChannelID, s.window, s.scanCap)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{TotalMessages: scan.Counts.Total(), TimedOut: scan.TimedOut}
	if top := Rank(scan.Counts, 1); len(top) > 0 {
		st.TopAuthorID = top[0].AuthorID
		st.TopCount = top[0].Count
	}
	return st, nil
}

// FormatStats renders stats for the command layer.
func (s *Service) FormatStats(ctx context.Context, st Stats) (string, error) {
	set, err := s.loadSettings(ctx)
	if err != nil {
		return "", err
	}
	return formatStats(st, set.SourceChannelID, time.Now()), nil
}

func (s *Service) run(ctx context.Context, trigger string) (*RunResult, error) {
	if !s.runMu.TryLock() {
		if s.metrics != nil {
			s.metrics.RunsRejectedBusy.Inc()
		}
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	defer s.setStage(StageIdle)

	start := time.Now()
	runID := uuid.NewString()
	log := s.log.With(logx.String("run_id", runID), logx.String("trigger", trigger))
	s.publish(EventRunStarted, RunEvent{RunID: runID, Trigger: trigger, Stage: StageValidating})

	fail := func(stage Stage, err error) (*RunResult, error) {
		s.setStage(StageFailed)
		if s.metrics != nil {
			s.metrics.observeRun("failed", trigger)
		}
		s.publish(EventRunFailed, RunEvent{RunID: runID, Trigger: trigger, Stage: stage, Err: err.Error()})
		log.Warn("run failed", logx.String("stage", string(stage)), logx.Err(err))
		return nil, err
	}

	// Validating: configuration and references must still hold; failure
	// here is terminal for this run only and mutates nothing.
	s.setStage(StageValidating)
	set, err := s.loadSettings(ctx)
	if err != nil {
		return fail(StageValidating, err)
	}
	if err := s.resolveRefs(ctx, set); err != nil {
		return fail(StageValidating, err)
	}

	// Scanning: the only stage expected to block on the network for
	// meaningful time, and the only one cancellation may abort.
	s.setStage(StageScanning)
	scanStart := time.Now()
	scan, err := s.agg.Aggregate(ctx, set.SourceChannelID, s.window, s.scanCap)
	if err != nil {
		return fail(StageScanning, err)
	}
	if s.metrics != nil {
		s.metrics.MessagesScanned.Add(float64(scan.Scanned))
		s.metrics.ScanDuration.Observe(time.Since(scanStart).Seconds())
		if scan.TimedOut {
			s.metrics.ScanTimeouts.Inc()
		}
	}
	log.Info("scan finished",
		logx.Int("scanned", scan.Scanned),
		logx.Int("authors", scan.Counts.Distinct()),
		logx.Bool("timed_out", scan.TimedOut))

	s.setStage(StageRanking)
	winners := Rank(scan.Counts, set.TopN)

	// Past Scanning the run must finish even if the caller goes away:
	// aborting mid role-sync would leave the holder set half-updated.
	dctx := context.WithoutCancel(ctx)

	s.setStage(StageSynchronizing)
	report, err := s.syncer.Sync(dctx, set.RoleID, winners)
	if err != nil {
		return fail(StageSynchronizing, fmt.Errorf("leaderboard: enumerate role holders: %w", err))
	}
	if s.metrics != nil {
		s.metrics.RoleMutations.WithLabelValues("revoke").Add(float64(len(report.Revoked)))
		s.metrics.RoleMutations.WithLabelValues("grant").Add(float64(len(report.Granted)))
		s.metrics.RoleSyncErrors.Add(float64(len(report.Errors)))
	}

	s.setStage(StagePublishing)
	msg := formatAnnouncement(winners, set.RoleID, scan.TimedOut)
	if err := s.client.SendMessage(dctx, set.DestChannelID, msg); err != nil {
		return fail(StagePublishing, fmt.Errorf("leaderboard: publish announcement: %w", err))
	}

	now := time.Now()
	if err := s.store.Set(dctx, keyLastRun, now.UnixMilli()); err != nil {
		// Observability marker only; a failed write never fails the run.
		log.Warn("persist lastRunTimestamp failed", logx.Err(err))
	}
	if s.metrics != nil {
		s.metrics.LastRunUnix.Set(float64(now.Unix()))
		s.metrics.observeRun("ok", trigger)
	}

	s.setStage(StageDone)
	res := &RunResult{
		RunID:         runID,
		Winners:       winners,
		TotalMessages: scan.Counts.Total(),
		ScannedUntil:  scan.ScannedUntil,
		TimedOut:      scan.TimedOut,
		Sync:          report,
		NextFire:      s.NextFireTime(),
		Took:          time.Since(start),
	}
	s.publish(EventRunCompleted, RunEvent{RunID: runID, Trigger: trigger, Stage: StageDone})
	log.Info("run complete",
		logx.Int("winners", len(winners)),
		logx.Int("revoked", len(report.Revoked)),
		logx.Int("granted", len(report.Granted)),
		logx.Int("member_errors", len(report.Errors)),
		logx.Duration("took", res.Took))
	return res, nil
}

func (s *Service) isConfigured(ctx context.Context) (bool, error) {
	done, _, err := storage.GetJSON[bool](ctx, s.store, keySetupComplete)
	if err != nil {
		return false, err
	}
	return done, nil
}

func (s *Service) loadSettings(ctx context.Context) (Settings, error) {
	configured, err := s.isConfigured(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("leaderboard: read setup state: %w", err)
	}
	if !configured {
		return Settings{}, ErrNotConfigured
	}

	var set Settings
	set.SourceChannelID, _, err = storage.GetJSON[string](ctx, s.store, keySourceChannel)
	if err != nil {
		return Settings{}, err
	}
	set.DestChannelID, _, err = storage.GetJSON[string](ctx, s.store, keyDestChannel)
	if err != nil {
		return Settings{}, err
	}
	set.RoleID, _, err = storage.GetJSON[string](ctx, s.store, keyTopRole)
	if err != nil {
		return Settings{}, err
	}
	set.TopN, _, err = storage.GetJSON[int](ctx, s.store, keyTopCount)
	if err != nil {
		return Settings{}, err
	}
	if set.TopN < 1 {
		set.TopN = 3
	}
	return set, nil
}

func (s *Service) resolveRefs(ctx context.Context, set Settings) error {
	if err := s.client.ResolveChannel(ctx, set.SourceChannelID); err != nil {
		return staleOr(err, set.SourceChannelID)
	}
	if err := s.client.ResolveChannel(ctx, set.DestChannelID); err != nil {
		return staleOr(err, set.DestChannelID)
	}
	if err := s.client.ResolveRole(ctx, set.RoleID); err != nil {
		return staleOr(err, set.RoleID)
	}
	return nil
}

// staleOr maps transport not-found onto the run-level stale-reference
// category; other transport errors pass through unchanged.
func staleOr(err error, ref string) error {
	if errors.Is(err, transport.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrStaleReference, ref)
	}
	return err
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
