package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// Dispatch outcomes, also used as the metric status label.
const (
	dispatchSent    = "sent"
	dispatchSkipped = "skipped"
	dispatchStale   = "stale"
	dispatchFailed  = "failed"
)

// DispatchSummary counts the outcome of one dispatch tick.
type DispatchSummary struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Stale   int `json:"stale"`
	Failed  int `json:"failed"`
}

// Scheduler runs the dispatch and prediction loops. Each loop has its own
// re-entrancy guard; a tick that overlaps the previous run is skipped.
type Scheduler struct {
	repo       storage.Repository
	bus        *bus.Bus
	dispatcher notify.Dispatcher
	predictor  *Predictor
	clock      clock.Clock
	cfg        Config
	metrics    *observe.Metrics
	logger     zerolog.Logger

	dispatching atomic.Bool
	predicting  atomic.Bool

	// staleCursor is the scheduled_for bound below which stale triggers
	// have already been reported. Guarded by dispatching.
	staleCursor time.Time
}

// staleSweepLimit caps how many stale triggers one tick reports.
const staleSweepLimit = 500

// NewScheduler creates a scheduler. dispatcher may be nil.
func NewScheduler(repo storage.Repository, b *bus.Bus, dispatcher notify.Dispatcher, predictor *Predictor, clk clock.Clock, cfg Config, metrics *observe.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:       repo,
		bus:        b,
		dispatcher: dispatcher,
		predictor:  predictor,
		clock:      clk,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run starts both loops and blocks until ctx is cancelled and every
// in-flight tick has returned. Each loop ticks once immediately.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, "dispatch", s.cfg.DispatchInterval, func(ctx context.Context) error {
			_, err := s.DispatchDue(ctx)
			return err
		})
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "predict", s.cfg.PredictInterval, func(ctx context.Context) error {
			_, err := s.Predict(ctx)
			return err
		})
	}()
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	tick := func() {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			err := fn(ctx)
			switch {
			case errors.Is(err, ErrTickInProgress):
				s.logger.Debug().Str("loop", name).Msg("previous tick still running, skipping")
				s.metrics.RecordSchedulerRun(ctx, name, dispatchSkipped)
			case err != nil:
				s.logger.Error().Err(err).Str("loop", name).Msg("scheduler tick failed")
				s.metrics.RecordSchedulerRun(ctx, name, "error")
			default:
				s.metrics.RecordSchedulerRun(ctx, name, "ok")
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Str("loop", name).Dur("interval", interval).Msg("scheduler loop started")
	tick()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("loop", name).Msg("scheduler loop stopped")
			return
		case <-ticker.C:
			tick()
		}
	}
}

// DispatchDue emits every due, unsent trigger into the user's active (or a
// new) session and marks it sent. Failed triggers stay unsent for the next
// tick. Triggers past the stale ceiling are never loaded for dispatch; they
// are reported once, when they cross the ceiling.
func (s *Scheduler) DispatchDue(ctx context.Context) (DispatchSummary, error) {
	var sum DispatchSummary
	if !s.dispatching.CompareAndSwap(false, true) {
		return sum, ErrTickInProgress
	}
	defer s.dispatching.Store(false)

	now := s.clock.Now()
	staleBefore := now.Add(-s.cfg.StaleAfter)

	stale, err := s.sweepStale(ctx, staleBefore)
	if err != nil {
		return sum, err
	}
	sum.Stale = stale

	due, err := s.repo.ListDueTriggers(ctx, staleBefore, now, s.cfg.DispatchBatch)
	if err != nil {
		return sum, err
	}

	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Due++

		outcome, err := s.dispatchOne(ctx, t, now)
		s.metrics.RecordTriggerDispatched(ctx, string(t.Type), outcome)
		switch outcome {
		case dispatchSent:
			sum.Sent++
		case dispatchSkipped:
			sum.Skipped++
		default:
			sum.Failed++
			s.logger.Error().Err(err).
				Str("user_id", t.UserID).
				Str("trigger_id", t.ID).
				Str("type", string(t.Type)).
				Msg("trigger dispatch failed, will retry")
		}
	}

	if sum.Due > 0 || sum.Stale > 0 {
		s.logger.Info().
			Int("due", sum.Due).
			Int("sent", sum.Sent).
			Int("skipped", sum.Skipped).
			Int("stale", sum.Stale).
			Int("failed", sum.Failed).
			Msg("dispatch tick complete")
	}
	return sum, nil
}

// sweepStale reports unsent triggers that went stale since the previous
// tick. The first tick after startup reports the existing backlog as a
// single summary line instead of one warning per trigger.
func (s *Scheduler) sweepStale(ctx context.Context, staleBefore time.Time) (int, error) {
	if !staleBefore.After(s.staleCursor) {
		return 0, nil
	}
	backlog := s.staleCursor.IsZero()

	stale, err := s.repo.ListDueTriggers(ctx, s.staleCursor, staleBefore.Add(-time.Nanosecond), staleSweepLimit)
	if err != nil {
		return 0, err
	}
	for _, t := range stale {
		s.metrics.RecordTriggerDispatched(ctx, string(t.Type), dispatchStale)
		if backlog {
			continue
		}
		s.logger.Warn().
			Str("user_id", t.UserID).
			Str("trigger_id", t.ID).
			Str("type", string(t.Type)).
			Time("scheduled_for", t.ScheduledFor).
			Msg("trigger is stale, skipping")
	}
	if backlog && len(stale) > 0 {
		s.logger.Warn().Int("count", len(stale)).Time("stale_before", staleBefore).
			Msg("stale trigger backlog will not be dispatched")
	}

	// A full page means more remain in the window; resume after the last one.
	if len(stale) == staleSweepLimit {
		s.staleCursor = stale[len(stale)-1].ScheduledFor.Add(time.Nanosecond)
	} else {
		s.staleCursor = staleBefore
	}
	return len(stale), nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, t *types.EngagementTrigger, now time.Time) (string, error) {
	fail := func(step string, err error) (string, error) {
		return dispatchFailed, &SchedulingError{TriggerID: t.ID, UserID: t.UserID, Step: step, Err: err}
	}

	// Another worker may have won since the due list was read.
	current, err := s.repo.GetTrigger(ctx, t.ID)
	if err != nil {
		return fail("resolve_trigger", err)
	}
	if current.Sent {
		return dispatchSkipped, nil
	}

	if _, err := s.repo.GetUser(ctx, t.UserID); err != nil {
		return fail("resolve_user", err)
	}

	session, err := s.repo.LatestActiveSession(ctx, t.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		session = &types.Session{ID: uuid.NewString(), UserID: t.UserID, StartedAt: now}
		err = s.repo.CreateSession(ctx, session)
	}
	if err != nil {
		return fail("resolve_session", err)
	}

	if _, err := s.repo.AppendMessage(ctx, &types.Message{
		ID:        "trigger-" + t.ID,
		SessionID: session.ID,
		UserID:    t.UserID,
		Role:      types.RoleAssistant,
		Text:      t.Message,
		CreatedAt: now,
	}); err != nil {
		return fail("emit", err)
	}

	if err := s.repo.MarkTriggerSent(ctx, t.ID, now); err != nil {
		if errors.Is(err, storage.ErrAlreadySent) {
			return dispatchSkipped, nil
		}
		return fail("mark_sent", err)
	}
	t.Sent = true
	t.SentAt = &now

	if s.dispatcher != nil {
		if err := s.dispatcher.Deliver(ctx, t.UserID, notify.NotificationFor(t, session.ID, now)); err != nil {
			s.logger.Warn().Err(err).
				Str("user_id", t.UserID).
				Str("trigger_id", t.ID).
				Msg("notification delivery failed")
		}
	}

	s.bus.Publish(ctx, bus.TriggerDispatched{Trigger: t, SessionID: session.ID})
	s.logger.Debug().
		Str("user_id", t.UserID).
		Str("trigger_id", t.ID).
		Str("session_id", session.ID).
		Str("type", string(t.Type)).
		Msg("trigger dispatched")
	return dispatchSent, nil
}

// Predict runs the predictor over every user behind the prediction loop's
// re-entrancy guard.
func (s *Scheduler) Predict(ctx context.Context) (PredictSummary, error) {
	if !s.predicting.CompareAndSwap(false, true) {
		return PredictSummary{}, ErrTickInProgress
	}
	defer s.predicting.Store(false)
	return s.predictor.PredictAll(ctx)
}
