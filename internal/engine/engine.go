package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// Deps are the collaborators an Engine is built from. Embedder, Dispatcher,
// Metrics, Bus, Clock and Policy are optional.
type Deps struct {
	Repo       storage.Repository
	Reasoner   llm.Reasoner
	Embedder   llm.EmbeddingGenerator
	Dispatcher notify.Dispatcher
	Bus        *bus.Bus
	Clock      clock.Clock
	Policy     *policy.Policy
	Metrics    *observe.Metrics
	Logger     zerolog.Logger
}

// Engine wires the components together and runs the background pipeline:
// a bounded worker pool fed by bus.AnalyzeInteraction and, when enabled,
// the scheduler loops.
type Engine struct {
	config  Config
	repo    storage.Repository
	bus     *bus.Bus
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *observe.Metrics

	Extractor  *Extractor
	Graph      *GraphBuilder
	Confidence *ConfidenceScorer
	Retriever  *Retriever
	Trends     *TrendTracker
	Depth      *DepthCalculator
	Predictor  *Predictor
	Scheduler  *Scheduler

	queue           chan *AnalysisJob
	workerWaitGroup sync.WaitGroup
	jobCtx          context.Context

	schedulerCancel context.CancelFunc
	schedulerDone   chan struct{}

	subscriptions []bus.SubscriptionID

	started      bool
	shuttingDown bool
	mu           sync.RWMutex
}

// New creates an engine. Bus subscriptions are registered immediately so
// memories created through the engine are post-processed even before
// Start; analysis jobs are only accepted once started.
func New(cfg Config, d Deps) (*Engine, error) {
	if d.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if d.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Policy == nil {
		d.Policy = policy.DefaultPolicy()
	}
	if d.Bus == nil {
		d.Bus = bus.New(d.Metrics, d.Logger)
	}

	e := &Engine{
		config:  cfg,
		repo:    d.Repo,
		bus:     d.Bus,
		clock:   d.Clock,
		metrics: d.Metrics,
		logger:  d.Logger.With().Str("component", "engine").Logger(),
		queue:   make(chan *AnalysisJob, cfg.QueueSize),
	}

	e.Extractor = NewExtractor(d.Repo, d.Reasoner, d.Embedder, d.Bus, d.Clock, d.Policy, d.Metrics, d.Logger)
	e.Graph = NewGraphBuilder(d.Repo, d.Reasoner, d.Clock, d.Metrics, d.Logger)
	e.Confidence = NewConfidenceScorer(d.Repo, d.Reasoner, d.Logger)
	e.Retriever = NewRetriever(d.Repo, d.Reasoner, d.Embedder, d.Clock, cfg, d.Metrics, d.Logger)
	e.Trends = NewTrendTracker(d.Repo, d.Reasoner, d.Clock, d.Policy, cfg.TrendWindowDays, d.Logger)
	e.Depth = NewDepthCalculator(d.Repo, d.Bus, d.Clock, d.Policy, d.Logger)
	e.Predictor = NewPredictor(d.Repo, e.Trends, d.Clock, d.Policy, cfg, d.Metrics, d.Logger)
	e.Scheduler = NewScheduler(d.Repo, d.Bus, d.Dispatcher, e.Predictor, d.Clock, cfg, d.Metrics, d.Logger)

	e.subscriptions = append(e.subscriptions,
		bus.Subscribe(d.Bus, e.onAnalyzeInteraction),
		bus.Subscribe(d.Bus, e.onMemoryCreated),
	)
	return e, nil
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Start starts the worker pool and, if enabled, the scheduler loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	if e.queue == nil {
		// Restarted after Shutdown.
		e.queue = make(chan *AnalysisJob, e.config.QueueSize)
	}

	// Jobs outlive the caller's context so queued work can drain on shutdown.
	e.jobCtx = context.WithoutCancel(ctx)
	e.startWorkerPool()

	if e.config.SchedulerEnabled {
		schedCtx, cancel := context.WithCancel(ctx)
		e.schedulerCancel = cancel
		e.schedulerDone = make(chan struct{})
		go func() {
			defer close(e.schedulerDone)
			e.Scheduler.Run(schedCtx)
		}()
	}

	e.started = true
	e.logger.Info().
		Int("workers", e.config.NumWorkers).
		Int("queue_size", e.config.QueueSize).
		Bool("scheduler", e.config.SchedulerEnabled).
		Msg("engine started")
	return nil
}

// Shutdown stops the scheduler and drains the worker pool. Jobs still
// queued when ShutdownTimeout expires are dropped.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.shuttingDown = true
	queue := e.queue
	e.mu.Unlock()

	e.logger.Info().Msg("shutting down engine")

	if e.schedulerCancel != nil {
		e.schedulerCancel()
		<-e.schedulerDone
		e.schedulerCancel = nil
	}

	// No Submit can be mid-send: they hold the read lock and shuttingDown is set.
	err := e.stopWorkerPool(ctx, queue)

	e.mu.Lock()
	e.queue = nil
	e.started = false
	e.shuttingDown = false
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn().Err(err).Msg("worker pool shutdown incomplete")
		return err
	}
	e.logger.Info().Msg("engine shut down")
	return nil
}

// Close removes the engine's bus subscriptions.
func (e *Engine) Close() {
	for _, id := range e.subscriptions {
		e.bus.Unsubscribe(id)
	}
	e.subscriptions = nil
}

// Submit queues a finished conversation for analysis without blocking.
// It returns false when the engine is not running or the queue is full.
func (e *Engine) Submit(job *AnalysisJob) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started || e.shuttingDown {
		e.logger.Warn().Str("user_id", job.UserID).Str("session_id", job.SessionID).Msg("engine not running, dropping analysis job")
		return false
	}
	if job.Timestamp.IsZero() {
		job.Timestamp = e.clock.Now()
	}

	select {
	case e.queue <- job:
		e.metrics.AddQueueDepth(context.Background(), 1)
		return true
	default:
		e.logger.Warn().
			Str("user_id", job.UserID).
			Str("session_id", job.SessionID).
			Int("queue_size", e.config.QueueSize).
			Msg("analysis queue full, dropping job")
		return false
	}
}

// QueueLength returns the number of jobs waiting for a worker.
func (e *Engine) QueueLength() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queue)
}

func (e *Engine) onAnalyzeInteraction(_ context.Context, ev bus.AnalyzeInteraction) error {
	e.Submit(&AnalysisJob{UserID: ev.UserID, SessionID: ev.SessionID, Transcript: ev.Transcript})
	return nil
}

// onMemoryCreated records timeline samples and, if configured, scores the
// new memory's confidence.
func (e *Engine) onMemoryCreated(ctx context.Context, ev bus.MemoryCreated) error {
	var errs []error
	if _, err := e.Trends.RecordFromMemory(ctx, ev.Memory); err != nil {
		errs = append(errs, err)
	}
	if e.config.RescoreOnExtraction {
		var ie *llm.InferenceError
		if _, err := e.Confidence.Score(ctx, ev.Memory.ID); err != nil && !errors.As(err, &ie) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) startWorkerPool() {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.analysisWorker(e.queue, i)
	}
	e.logger.Debug().Int("workers", e.config.NumWorkers).Msg("analysis workers started")
}

// stopWorkerPool closes the queue and waits for workers to drain.
func (e *Engine) stopWorkerPool(ctx context.Context, queue chan *AnalysisJob) error {
	close(queue)

	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		e.logger.Warn().Int("remaining", len(queue)).Msg("shutdown timeout reached, analysis jobs may be dropped")
		return nil
	case <-ctx.Done():
		e.logger.Warn().Int("remaining", len(queue)).Msg("context cancelled, analysis jobs may be dropped")
		return ctx.Err()
	}
}

func (e *Engine) analysisWorker(queue <-chan *AnalysisJob, workerID int) {
	defer e.workerWaitGroup.Done()
	for job := range queue {
		e.metrics.AddQueueDepth(e.jobCtx, -1)
		if err := e.Analyze(e.jobCtx, job); err != nil {
			e.logger.Error().Err(err).
				Int("worker", workerID).
				Str("user_id", job.UserID).
				Str("session_id", job.SessionID).
				Msg("analysis failed")
		}
	}
}

// Analyze runs the full pipeline for one conversation synchronously:
// memory extraction, graph building and depth recomputation. A failure in
// one stage does not stop the next.
func (e *Engine) Analyze(ctx context.Context, job *AnalysisJob) error {
	start := time.Now()
	log := e.logger.With().Str("user_id", job.UserID).Str("session_id", job.SessionID).Logger()

	var errs []error
	memories, err := e.Extractor.Extract(ctx, job.UserID, job.SessionID, job.Transcript)
	if err != nil {
		errs = append(errs, fmt.Errorf("extract: %w", err))
	}

	update, err := e.Graph.Build(ctx, job.UserID, job.Transcript.UserText())
	if err != nil {
		errs = append(errs, fmt.Errorf("graph: %w", err))
	}

	depth, err := e.Depth.Recompute(ctx, job.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("depth: %w", err))
	}

	ev := log.Info().Int("memories", len(memories)).Dur("elapsed", time.Since(start))
	if update != nil {
		ev = ev.Int("nodes", len(update.Nodes)).Int("edges", len(update.Edges))
	}
	if depth != nil {
		ev = ev.Str("stage", string(depth.Stage))
	}
	ev.Msg("interaction analysed")
	return errors.Join(errs...)
}

// RecordMessage appends a chat message for a user. An empty sessionID
// resolves to the user's active session, creating one when none exists.
func (e *Engine) RecordMessage(ctx context.Context, userID, sessionID, role, text string) (*types.Message, error) {
	if userID == "" || strings.TrimSpace(text) == "" {
		return nil, storage.ErrInvalidInput
	}
	if role != types.RoleUser && role != types.RoleAssistant {
		return nil, fmt.Errorf("%w: unknown role %q", storage.ErrInvalidInput, role)
	}
	now := e.clock.Now()

	if err := e.repo.EnsureUser(ctx, &types.User{ID: userID, CreatedAt: now}); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	if sessionID == "" {
		s, err := e.repo.LatestActiveSession(ctx, userID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s = &types.Session{ID: uuid.NewString(), UserID: userID, StartedAt: now}
			if err := e.repo.CreateSession(ctx, s); err != nil {
				return nil, fmt.Errorf("create session: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("latest session: %w", err)
		}
		sessionID = s.ID
	} else {
		s, err := e.repo.GetSession(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			s = &types.Session{ID: sessionID, UserID: userID, StartedAt: now}
			if err := e.repo.CreateSession(ctx, s); err != nil {
				return nil, fmt.Errorf("create session: %w", err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if s.UserID != userID {
			return nil, fmt.Errorf("%w: session %s belongs to another user", storage.ErrInvalidInput, sessionID)
		}
	}

	msg := &types.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
	if _, err := e.repo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// EndSession closes a session and publishes its transcript for analysis.
// Ending an already ended session does nothing.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Active() {
		return s, nil
	}

	now := e.clock.Now()
	if err := e.repo.EndSession(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	s.EndedAt = &now

	msgs, err := e.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	e.bus.Publish(ctx, bus.AnalyzeInteraction{
		UserID:     s.UserID,
		SessionID:  s.ID,
		Transcript: types.TranscriptFromMessages(msgs),
	})
	e.logger.Debug().Str("user_id", s.UserID).Str("session_id", s.ID).Int("messages", len(msgs)).Msg("session ended")
	return s, nil
}

// PublishInteraction submits an externally supplied transcript for
// analysis.
func (e *Engine) PublishInteraction(ctx context.Context, userID, sessionID string, transcript types.Transcript) error {
	if userID == "" || len(transcript) == 0 {
		return storage.ErrInvalidInput
	}
	if err := e.repo.EnsureUser(ctx, &types.User{ID: userID, CreatedAt: e.clock.Now()}); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	e.bus.Publish(ctx, bus.AnalyzeInteraction{UserID: userID, SessionID: sessionID, Transcript: transcript})
	return nil
}

// Trend returns a metric trend with an insight sentence when one can be
// produced.
func (e *Engine) Trend(ctx context.Context, userID, metric string, windowDays int) (*types.Trend, error) {
	t, err := e.Trends.Trend(ctx, userID, metric, windowDays)
	if err != nil {
		return nil, err
	}
	t.Insight = e.Trends.Insight(ctx, t)
	return t, nil
}

// ListMemories returns a user's memories, newest first.
func (e *Engine) ListMemories(ctx context.Context, userID string, filter storage.MemoryFilter) ([]*types.Memory, error) {
	return e.repo.ListMemories(ctx, userID, filter)
}

// DeleteMemory hard-deletes a memory with its samples and unsent triggers.
func (e *Engine) DeleteMemory(ctx context.Context, memoryID string) error {
	if err := e.repo.DeleteMemory(ctx, memoryID); err != nil {
		return err
	}
	e.logger.Info().Str("memory_id", memoryID).Msg("memory deleted")
	return nil
}
