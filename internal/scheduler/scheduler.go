// Package scheduler decides when each source is fetched, whether a new frame is needed, and
// commits frames to the render target.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/backoff"
	"github.com/kjstillabower/transit-panel/internal/client"
	"github.com/kjstillabower/transit-panel/internal/display"
	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
	"github.com/kjstillabower/transit-panel/internal/render"
)

// Compositor draws a frame. *render.Compositor implements it.
type Compositor interface {
	Compose(ctx context.Context, in render.Input) *image.Gray
}

// Config holds the scheduler's cadence and limits.
type Config struct {
	Stops    []string
	Location models.Coordinates

	TransitPollInterval    time.Duration
	WeatherPollInterval    time.Duration
	MaxConsecutiveFailures int
	FetchTimeout           time.Duration
	CommitTimeout          time.Duration
	FullRefreshInterval    time.Duration

	// Arrivals outside [MinMinutes, MaxMinutes] are not shown. MaxMinutes <= 0 disables the upper bound.
	MinMinutes  int
	MaxMinutes  int
	MaxArrivals int

	Backoff backoff.Policy
}

const maxAdapterTimeout = 10 * time.Second

func (c Config) withDefaults() Config {
	if c.TransitPollInterval <= 0 {
		c.TransitPollInterval = 30 * time.Second
	}
	if c.WeatherPollInterval <= 0 {
		c.WeatherPollInterval = 5 * time.Minute
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.FetchTimeout <= 0 || c.FetchTimeout > maxAdapterTimeout {
		c.FetchTimeout = maxAdapterTimeout
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 20 * time.Second
	}
	if c.MaxArrivals <= 0 {
		c.MaxArrivals = 6
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = backoff.DefaultPolicy
	}
	return c
}

// FetchState is what the scheduler remembers about each source between ticks.
// Last*Fetch only advances on a successful fetch and never moves backwards.
type FetchState struct {
	LastTransitFetch  time.Time
	LastWeatherFetch  time.Time
	LastTransitResult []models.ArrivalEntry
	HasTransitResult  bool
	LastWeatherResult *models.WeatherSnapshot

	TransitFailures    int
	WeatherFailures    int
	TransitNextAttempt time.Time
	WeatherNextAttempt time.Time
}

// CommitState tracks the last frame on the target.
type CommitState struct {
	Fingerprint     uint64
	Committed       bool
	LastCommit      time.Time
	LastFullRefresh time.Time
	Failures        int
	NextAttempt     time.Time
}

// State is the scheduler's entire memory. The zero value is the startup state.
type State struct {
	Fetch  FetchState
	Commit CommitState
}

// TickOutcome summarises one tick for logging.
type TickOutcome struct {
	TickID      string
	Fetched     []client.Source
	Committed   bool
	Mode        models.RefreshMode
	Fingerprint uint64
	Errors      []error
}

// Status is a read-only view of State for health reporting.
type Status struct {
	Transit          backoff.State
	Weather          backoff.State
	LastTransitFetch time.Time
	LastWeatherFetch time.Time
	LastCommit       time.Time
	Committed        bool
	Fingerprint      uint64
	CommitFailures   int
}

// Scheduler runs the fetch, compose and commit cycle. It holds no mutable state: every tick
// takes the previous State and returns the next one.
type Scheduler struct {
	cfg        Config
	transit    client.TransitClient
	weather    client.WeatherClient
	compositor Compositor
	target     display.Target
	logger     *zap.Logger
}

// New returns a Scheduler. All collaborators are required.
func New(cfg Config, transit client.TransitClient, weather client.WeatherClient, compositor Compositor, target display.Target, logger *zap.Logger) (*Scheduler, error) {
	if transit == nil || weather == nil || compositor == nil || target == nil {
		return nil, errors.New("scheduler: transit, weather, compositor and target are required")
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		transit:    transit,
		weather:    weather,
		compositor: compositor,
		target:     target,
		logger:     observability.OrNop(logger),
	}, nil
}

// Tick fetches whatever is due, then composes and commits a frame if what would be drawn has
// changed. No error escapes: failures are recorded in the returned state and outcome.
func (s *Scheduler) Tick(ctx context.Context, st State, now time.Time) (State, TickOutcome) {
	out := TickOutcome{TickID: observability.TickID(ctx)}
	observability.TicksTotal.Inc()

	if s.transitDue(st.Fetch, now) {
		st.Fetch = s.fetchTransit(ctx, st.Fetch, now, &out)
	}
	if s.weatherDue(st.Fetch, now) {
		st.Fetch = s.fetchWeather(ctx, st.Fetch, now, &out)
	}

	in := s.Input(st.Fetch, now)
	fp := Fingerprint(in)
	out.Fingerprint = fp

	if !s.commitDue(st.Commit, fp, now) {
		return st, out
	}

	mode := s.refreshMode(st.Commit, now)
	out.Mode = mode
	frame := models.DisplayFrame{
		Image:       s.compositor.Compose(ctx, in),
		Fingerprint: fp,
		RenderedAt:  now,
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
	err := s.target.Show(cctx, frame, mode)
	cancel()

	switch {
	case err == nil:
		observability.CommitsTotal.WithLabelValues(s.target.Name(), mode.String(), "success").Inc()
	case !display.IsCritical(err):
		observability.CommitsTotal.WithLabelValues(s.target.Name(), mode.String(), "error").Inc()
		s.logger.Warn("non-critical display error",
			zap.String("tick_id", out.TickID),
			zap.String("target", s.target.Name()),
			zap.Error(err))
	default:
		observability.CommitsTotal.WithLabelValues(s.target.Name(), mode.String(), "error").Inc()
		st.Commit.Failures++
		st.Commit.NextAttempt = s.cfg.Backoff.Next(now, st.Commit.Failures)
		s.logger.Error("display commit failed",
			zap.String("tick_id", out.TickID),
			zap.String("target", s.target.Name()),
			zap.Int("failures", st.Commit.Failures),
			zap.Time("retry_at", st.Commit.NextAttempt),
			zap.Error(err))
		out.Errors = append(out.Errors, err)
		return st, out
	}

	st.Commit.Fingerprint = fp
	st.Commit.Committed = true
	st.Commit.LastCommit = now
	st.Commit.Failures = 0
	st.Commit.NextAttempt = time.Time{}
	if mode == models.RefreshFull {
		st.Commit.LastFullRefresh = now
	}
	out.Committed = true
	return st, out
}

// NextDue returns the earliest time anything can change: a poll becoming due, a backoff
// expiring, a pending commit retry, a forced full refresh, or the next minute boundary, when the
// header clock and any countdowns roll over.
func (s *Scheduler) NextDue(st State, now time.Time) time.Time {
	next := earliest(
		notBefore(now, pollDue(st.Fetch.LastTransitFetch, s.cfg.TransitPollInterval, st.Fetch.TransitNextAttempt)),
		notBefore(now, pollDue(st.Fetch.LastWeatherFetch, s.cfg.WeatherPollInterval, st.Fetch.WeatherNextAttempt)),
	)
	if st.Commit.Failures > 0 {
		next = earliest(next, st.Commit.NextAttempt)
	}
	if st.Commit.Committed && s.cfg.FullRefreshInterval > 0 {
		next = earliest(next, st.Commit.LastFullRefresh.Add(s.cfg.FullRefreshInterval))
	}
	next = earliest(next, now.Truncate(time.Minute).Add(time.Minute))
	if next.Before(now) {
		return now
	}
	return next
}

// Status summarises st for health reporting.
func (s *Scheduler) Status(st State) Status {
	return Status{
		Transit:          backoff.StateFor(st.Fetch.TransitFailures, s.cfg.MaxConsecutiveFailures),
		Weather:          backoff.StateFor(st.Fetch.WeatherFailures, s.cfg.MaxConsecutiveFailures),
		LastTransitFetch: st.Fetch.LastTransitFetch,
		LastWeatherFetch: st.Fetch.LastWeatherFetch,
		LastCommit:       st.Commit.LastCommit,
		Committed:        st.Commit.Committed,
		Fingerprint:      st.Commit.Fingerprint,
		CommitFailures:   st.Commit.Failures,
	}
}

// Input builds what would be drawn at now: countdowns aged to now, filtered to the arrival
// window and cut to the displayed rows, plus the section placeholder flags.
func (s *Scheduler) Input(fs FetchState, now time.Time) render.Input {
	in := render.Input{
		Now:                now,
		TransitPending:     !fs.HasTransitResult,
		TransitUnavailable: backoff.StateFor(fs.TransitFailures, s.cfg.MaxConsecutiveFailures) == backoff.StateUnavailable,
		Weather:            fs.LastWeatherResult,
		WeatherUnavailable: backoff.StateFor(fs.WeatherFailures, s.cfg.MaxConsecutiveFailures) == backoff.StateUnavailable,
	}
	if in.TransitUnavailable {
		in.TransitPending = false
		return in
	}
	var shown []models.ArrivalEntry
	for _, a := range fs.LastTransitResult {
		a = a.Age(now)
		if a.MinutesUntilArrival < s.cfg.MinMinutes || a.MinutesUntilArrival < 0 {
			continue
		}
		if s.cfg.MaxMinutes > 0 && a.MinutesUntilArrival > s.cfg.MaxMinutes {
			continue
		}
		shown = append(shown, a)
	}
	in.Arrivals = render.SelectArrivals(shown, s.cfg.MaxArrivals)
	return in
}

func (s *Scheduler) transitDue(fs FetchState, now time.Time) bool {
	return !now.Before(pollDue(fs.LastTransitFetch, s.cfg.TransitPollInterval, fs.TransitNextAttempt))
}

func (s *Scheduler) weatherDue(fs FetchState, now time.Time) bool {
	return !now.Before(pollDue(fs.LastWeatherFetch, s.cfg.WeatherPollInterval, fs.WeatherNextAttempt))
}

// pollDue is when a source may next be fetched: one interval after the last success, but not
// before its backoff expires. A source never fetched is due at once.
func pollDue(last time.Time, interval time.Duration, nextAttempt time.Time) time.Time {
	var due time.Time
	if !last.IsZero() {
		due = last.Add(interval)
	}
	if nextAttempt.After(due) {
		due = nextAttempt
	}
	return due
}

func (s *Scheduler) commitDue(cs CommitState, fp uint64, now time.Time) bool {
	if now.Before(cs.NextAttempt) {
		return false
	}
	if !cs.Committed || cs.Failures > 0 || cs.Fingerprint != fp {
		return true
	}
	// The header clock is not part of the fingerprint, so a new minute redraws on its own.
	if !sameMinute(cs.LastCommit, now) {
		return true
	}
	return s.fullRefreshDue(cs, now)
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

func (s *Scheduler) fullRefreshDue(cs CommitState, now time.Time) bool {
	return s.cfg.FullRefreshInterval > 0 && now.Sub(cs.LastFullRefresh) >= s.cfg.FullRefreshInterval
}

// refreshMode is Full for the first frame, after a failed commit (the panel state is unknown),
// and when the periodic ghosting clear is due.
func (s *Scheduler) refreshMode(cs CommitState, now time.Time) models.RefreshMode {
	if !cs.Committed || cs.Failures > 0 || s.fullRefreshDue(cs, now) {
		return models.RefreshFull
	}
	return models.RefreshPartial
}

func (s *Scheduler) fetchTransit(ctx context.Context, fs FetchState, now time.Time, out *TickOutcome) FetchState {
	out.Fetched = append(out.Fetched, client.SourceTransit)
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	arrivals, err := s.transit.FetchArrivals(fctx, s.cfg.Stops, now)
	cancel()

	if err != nil {
		fs.TransitFailures++
		fs.TransitNextAttempt = s.cfg.Backoff.Next(now, fs.TransitFailures)
		s.recordFailure(client.SourceTransit, fs.TransitFailures, fs.TransitNextAttempt, err, out)
		return fs
	}
	fs.TransitFailures = 0
	fs.TransitNextAttempt = time.Time{}
	fs.LastTransitResult = arrivals
	fs.HasTransitResult = true
	if now.After(fs.LastTransitFetch) {
		fs.LastTransitFetch = now
	}
	s.recordSuccess(client.SourceTransit, now)
	return fs
}

func (s *Scheduler) fetchWeather(ctx context.Context, fs FetchState, now time.Time, out *TickOutcome) FetchState {
	out.Fetched = append(out.Fetched, client.SourceWeather)
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	snapshot, err := s.weather.FetchWeather(fctx, s.cfg.Location)
	cancel()

	if err != nil {
		fs.WeatherFailures++
		fs.WeatherNextAttempt = s.cfg.Backoff.Next(now, fs.WeatherFailures)
		s.recordFailure(client.SourceWeather, fs.WeatherFailures, fs.WeatherNextAttempt, err, out)
		return fs
	}
	fs.WeatherFailures = 0
	fs.WeatherNextAttempt = time.Time{}
	fs.LastWeatherResult = &snapshot
	if now.After(fs.LastWeatherFetch) {
		fs.LastWeatherFetch = now
	}
	s.recordSuccess(client.SourceWeather, now)
	return fs
}

func (s *Scheduler) recordFailure(source client.Source, failures int, retryAt time.Time, err error, out *TickOutcome) {
	state := backoff.StateFor(failures, s.cfg.MaxConsecutiveFailures)
	observability.ConsecutiveFailures.WithLabelValues(string(source)).Set(float64(failures))
	observability.SourceState.WithLabelValues(string(source)).Set(float64(state))

	fields := []zap.Field{
		zap.String("tick_id", out.TickID),
		zap.String("source", string(source)),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Int("consecutive_failures", failures),
		zap.String("state", state.String()),
		zap.Time("retry_at", retryAt),
		zap.Error(err),
	}
	if state == backoff.StateUnavailable {
		s.logger.Error("source unavailable, showing placeholder", fields...)
	} else {
		s.logger.Warn("fetch failed, keeping last known good data", fields...)
	}
	out.Errors = append(out.Errors, fmt.Errorf("%s: %w", source, err))
}

func (s *Scheduler) recordSuccess(source client.Source, now time.Time) {
	observability.ConsecutiveFailures.WithLabelValues(string(source)).Set(0)
	observability.SourceState.WithLabelValues(string(source)).Set(float64(backoff.StateHealthy))
	observability.LastSuccessTimestamp.WithLabelValues(string(source)).Set(float64(now.Unix()))
}

func notBefore(now, t time.Time) time.Time {
	if t.Before(now) {
		return now
	}
	return t
}

// earliest returns the earlier of a and b, treating the zero time as unset.
func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}
