package leaderboard

import (
	"context"
	"errors"
	"time"

	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
)

// driftGrace is how far past its target a timer may run before the
// drift guard declares it missed (suspend/resume, large clock steps).
const driftGrace = 2 * time.Minute

// Arm computes the next fire instant, persists it, and starts the
// single-shot timer. At most one armed timer exists per process:
// re-arming cancels any pending one first.
//
// The instant is persisted BEFORE the timer is set so a crash between
// the two still lets the next boot recompute correctly. A persistence
// failure is reported but does not prevent in-memory arming; the
// scheduler degrades to recompute-on-restart rather than refusing to
// operate.
func (s *Service) Arm(ctx context.Context) time.Time {
	now := time.Now()
	next := NextFire(s.rule, now)

	if err := s.store.Set(ctx, keyNextRun, next.UnixMilli()); err != nil {
		s.log.Warn("persist nextRunTimestamp failed, arming in-memory only", logx.Err(err))
	}

	s.tmu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(next.Sub(now), s.onFire)
	s.armed = true
	s.nextFire = next
	s.tmu.Unlock()

	if s.metrics != nil {
		s.metrics.NextFireUnix.Set(float64(next.Unix()))
	}
	s.log.Info("scheduler armed", logx.Time("next_fire", next), logx.Duration("in", next.Sub(now)))
	return next
}

// Disarm cancels the pending timer. Used on administrative shutdown;
// an in-flight run is allowed to finish.
func (s *Service) Disarm(ctx context.Context) {
	_ = ctx
	s.tmu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	wasArmed := s.armed
	s.armed = false
	s.tmu.Unlock()
	if wasArmed {
		s.log.Info("scheduler disarmed")
	}
}

// Armed reports whether a timer is pending, and for when.
func (s *Service) Armed() (bool, time.Time) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.armed, s.nextFire
}

// NextFireTime returns the armed fire instant, or the next computed one
// when the timer is not armed.
func (s *Service) NextFireTime() time.Time {
	s.tmu.Lock()
	armed, next := s.armed, s.nextFire
	s.tmu.Unlock()
	if armed {
		return next
	}
	return NextFire(s.rule, time.Now())
}

// onFire runs the scheduled update and re-arms unconditionally; a
// failed run must never stall the recurrence.
func (s *Service) onFire() {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Arm(ctx)

	s.log.Info("scheduled fire")
	res, err := s.run(ctx, "scheduled")
	switch {
	case errors.Is(err, ErrRunInProgress):
		// A manual run is mid-flight; this week's scheduled pass yields.
		s.log.Warn("scheduled run skipped, another run in flight")
	case err != nil:
		s.log.Error("scheduled run failed", logx.Err(err))
	default:
		s.log.Info("scheduled run ok", logx.Int("winners", len(res.Winners)))
	}
}

// TimeUntilNextRun reads the persisted schedule, recomputing and
// re-persisting when the stored instant is stale (e.g. after a restart
// that happened past the old fire time).
func (s *Service) TimeUntilNextRun(ctx context.Context) (time.Duration, time.Time, error) {
	configured, err := s.isConfigured(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !configured {
		return 0, time.Time{}, ErrNotConfigured
	}

	now := time.Now()
	ms, ok, err := storage.GetJSON[int64](ctx, s.store, keyNextRun)
	if err != nil {
		return 0, time.Time{}, err
	}

	next := time.UnixMilli(ms).UTC()
	if !ok || !next.After(now) {
		next = NextFire(s.rule, now)
		if err := s.store.Set(ctx, keyNextRun, next.UnixMilli()); err != nil {
			s.log.Warn("persist recomputed nextRunTimestamp failed", logx.Err(err))
		}
	}
	return next.Sub(now), next, nil
}

// CheckDrift is the periodic guard against timers that silently slipped:
// a host suspend can leave a monotonic timer pending long after the
// wall-clock target passed, and a crash can leave the schedule disarmed.
// Cheap no-op in the healthy case.
func (s *Service) CheckDrift(ctx context.Context) error {
	configured, err := s.isConfigured(ctx)
	if err != nil || !configured {
		return err
	}

	s.tmu.Lock()
	armed, next := s.armed, s.nextFire
	s.tmu.Unlock()

	now := time.Now()
	switch {
	case !armed:
		s.log.Warn("drift guard: schedule configured but not armed, re-arming")
		s.Arm(ctx)
	case now.After(next.Add(driftGrace)):
		s.log.Warn("drift guard: timer target in the past, re-arming",
			logx.Time("expected", next))
		s.Arm(ctx)
	}
	return nil
}
