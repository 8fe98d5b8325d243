// Package jobs runs the bot's background maintenance on cron schedules:
// the schedule drift guard and periodic store compaction. The weekly
// leaderboard recurrence is NOT a job here; that is a single-shot timer
// owned by the leaderboard service.
package jobs

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "rankbot/pkg/logx"
)

// Job is one maintenance task. It must respect ctx.
type Job func(ctx context.Context) error

type def struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	running *sync.Mutex // skip-if-running guard
}

// Runner executes registered jobs on their cron specs, one at a time
// per job (an overlapping tick is skipped, not queued).
type Runner struct {
	mu   sync.Mutex
	log  logx.Logger
	c    *cron.Cron
	defs []def

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(log logx.Logger) *Runner {
	return &Runner{log: log}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(name, spec string, timeout time.Duration, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return errors.New("jobs: runner already started")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return err
	}
	r.defs = append(r.defs, def{name: name, spec: spec, timeout: timeout, job: job, running: &sync.Mutex{}})
	return nil
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	r.runCtx, r.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	c := cron.New(cron.WithLocation(time.UTC))
	for i := range r.defs {
		d := r.defs[i]
		if _, err := c.AddFunc(d.spec, func() { r.exec(d) }); err != nil {
			r.runCancel()
			return err
		}
	}
	c.Start()
	r.c = c
	r.log.Info("maintenance jobs started", logx.Int("jobs", len(r.defs)))
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.c
	cancel := r.runCancel
	r.c = nil
	r.runCancel = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	return nil
}

func (r *Runner) exec(d def) {
	if !d.running.TryLock() {
		r.log.Debug("job still running, skipping tick", logx.String("job", d.name))
		return
	}
	defer d.running.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in job",
				logx.String("job", d.name),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	r.mu.Lock()
	ctx := r.runCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := d.job(ctx); err != nil {
		r.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	r.log.Debug("job ok", logx.String("job", d.name), logx.Duration("took", time.Since(start)))
}
