// Package runloop drives the scheduler: tick, log, sleep until the next thing is due, repeat.
package runloop

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/observability"
	"github.com/kjstillabower/transit-panel/internal/scheduler"
)

// Scheduler is the part of *scheduler.Scheduler the loop drives.
type Scheduler interface {
	Tick(ctx context.Context, st scheduler.State, now time.Time) (scheduler.State, scheduler.TickOutcome)
	NextDue(st scheduler.State, now time.Time) time.Time
	Status(st scheduler.State) scheduler.Status
}

const (
	minSleep        = time.Second
	defaultMaxSleep = time.Minute
)

// Loop runs ticks one at a time. It owns the scheduler state.
type Loop struct {
	sched    Scheduler
	maxSleep time.Duration
	logger   *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	status atomic.Pointer[scheduler.Status]
}

// New returns a Loop that sleeps at most maxSleep between ticks.
func New(sched Scheduler, maxSleep time.Duration, logger *zap.Logger) *Loop {
	if maxSleep <= 0 {
		maxSleep = defaultMaxSleep
	}
	return &Loop{
		sched:    sched,
		maxSleep: maxSleep,
		logger:   observability.OrNop(logger),
		now:      time.Now,
		after:    time.After,
	}
}

// Run ticks until ctx is cancelled and returns nil on shutdown. Cancellation never interrupts a
// tick: each tick runs on a context detached from ctx, and the loop exits once it completes.
func (l *Loop) Run(ctx context.Context) error {
	var st scheduler.State
	l.logger.Info("run loop started", zap.Duration("max_sleep", l.maxSleep))
	for {
		if ctx.Err() != nil {
			break
		}
		st = l.tick(ctx, st)
		if ctx.Err() != nil {
			break
		}

		now := l.now()
		wait := l.sleepFor(l.sched.NextDue(st, now), now)
		select {
		case <-ctx.Done():
		case <-l.after(wait):
		}
	}
	l.logger.Info("run loop stopped")
	return nil
}

// Status returns the state after the most recent tick, and false before the first tick.
func (l *Loop) Status() (scheduler.Status, bool) {
	s := l.status.Load()
	if s == nil {
		return scheduler.Status{}, false
	}
	return *s, true
}

func (l *Loop) tick(ctx context.Context, st scheduler.State) scheduler.State {
	id := uuid.NewString()
	tctx := observability.WithTickID(context.WithoutCancel(ctx), id)
	start := l.now()

	st, out := l.sched.Tick(tctx, st, start)
	out.TickID = id

	status := l.sched.Status(st)
	l.status.Store(&status)
	l.logOutcome(out, time.Since(start))
	return st
}

func (l *Loop) sleepFor(due, now time.Time) time.Duration {
	d := due.Sub(now)
	if d < minSleep {
		return minSleep
	}
	if d > l.maxSleep {
		return l.maxSleep
	}
	return d
}

func (l *Loop) logOutcome(out scheduler.TickOutcome, elapsed time.Duration) {
	fetched := make([]string, len(out.Fetched))
	for i, s := range out.Fetched {
		fetched[i] = string(s)
	}
	errs := make([]string, len(out.Errors))
	for i, err := range out.Errors {
		errs[i] = err.Error()
	}
	fields := []zap.Field{
		zap.String("tick_id", out.TickID),
		zap.Strings("fetched", fetched),
		zap.Bool("committed", out.Committed),
		zap.String("fingerprint", strconv.FormatUint(out.Fingerprint, 16)),
		zap.Strings("errors", errs),
		zap.Duration("elapsed", elapsed),
	}
	if out.Committed {
		fields = append(fields, zap.String("mode", out.Mode.String()))
	}
	if len(errs) > 0 {
		l.logger.Warn("tick", fields...)
		return
	}
	l.logger.Info("tick", fields...)
}
