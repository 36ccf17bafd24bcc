// Package engine implements the cognitive memory pipeline: memory extraction,
// knowledge graph building, confidence scoring, semantic retrieval, trend
// tracking, relationship depth and the proactive engagement scheduler.
//
// The chat path never waits on analysis. Ending a session publishes
// bus.AnalyzeInteraction; the Engine enqueues it onto a bounded worker pool
// and returns immediately.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/riya/internal/config"
	"github.com/scrypster/riya/pkg/types"
)

// AnalysisJob is one finished conversation waiting for a worker.
type AnalysisJob struct {
	UserID     string
	SessionID  string
	Transcript types.Transcript

	// Timestamp is when the job was queued.
	Timestamp time.Time
}

// Config holds configuration for the engine and its components.
type Config struct {
	// NumWorkers is the number of analysis worker goroutines (default: 2).
	NumWorkers int

	// QueueSize is the size of the analysis job queue buffer (default: 100).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// RetrievalLimit is the default number of memories returned by Retrieve (default: 5).
	RetrievalLimit int

	// RetrievalTimeout bounds a synchronous retrieval (default: 20s).
	RetrievalTimeout time.Duration

	// MaxCandidates caps the working set scored per retrieval (default: 50).
	MaxCandidates int

	// ScoringConcurrency caps parallel relevance calls (default: 4).
	ScoringConcurrency int

	// TrendWindowDays is the default trend window (default: 30).
	TrendWindowDays int

	// RescoreOnExtraction scores confidence for every new memory (default: true).
	RescoreOnExtraction bool

	// SchedulerEnabled starts the dispatch and prediction loops with the engine.
	SchedulerEnabled bool

	DispatchInterval time.Duration // default: 5m
	PredictInterval  time.Duration // default: 6h
	LookAhead        time.Duration // default: 24h
	StaleAfter       time.Duration // default: 72h
	DispatchBatch    int           // default: 100
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:          2,
		QueueSize:           100,
		ShutdownTimeout:     30 * time.Second,
		RetrievalLimit:      5,
		RetrievalTimeout:    20 * time.Second,
		MaxCandidates:       50,
		ScoringConcurrency:  4,
		TrendWindowDays:     30,
		RescoreOnExtraction: true,
		SchedulerEnabled:    true,
		DispatchInterval:    5 * time.Minute,
		PredictInterval:     6 * time.Hour,
		LookAhead:           24 * time.Hour,
		StaleAfter:          72 * time.Hour,
		DispatchBatch:       100,
	}
}

// ConfigFrom maps the application configuration onto an engine Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		NumWorkers:          cfg.Engine.NumWorkers,
		QueueSize:           cfg.Engine.QueueSize,
		ShutdownTimeout:     cfg.Engine.ShutdownTimeout,
		RetrievalLimit:      cfg.Engine.RetrievalLimit,
		RetrievalTimeout:    cfg.Engine.RetrievalTimeout,
		MaxCandidates:       cfg.Engine.MaxCandidates,
		ScoringConcurrency:  cfg.Engine.ScoringConcurrency,
		TrendWindowDays:     cfg.Engine.TrendWindowDays,
		RescoreOnExtraction: cfg.Engine.RescoreOnExtraction,
		SchedulerEnabled:    cfg.Scheduler.Enabled,
		DispatchInterval:    cfg.Scheduler.DispatchInterval,
		PredictInterval:     cfg.Scheduler.PredictInterval,
		LookAhead:           cfg.Scheduler.LookAhead,
		StaleAfter:          cfg.Scheduler.StaleAfter,
		DispatchBatch:       cfg.Scheduler.DispatchBatch,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.RetrievalLimit < 1 {
		return fmt.Errorf("RetrievalLimit must be >= 1, got %d", c.RetrievalLimit)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("MaxCandidates must be >= 1, got %d", c.MaxCandidates)
	}
	if c.ScoringConcurrency < 1 {
		return fmt.Errorf("ScoringConcurrency must be >= 1, got %d", c.ScoringConcurrency)
	}
	if c.TrendWindowDays < 1 {
		return fmt.Errorf("TrendWindowDays must be >= 1, got %d", c.TrendWindowDays)
	}
	if c.SchedulerEnabled && (c.DispatchInterval <= 0 || c.PredictInterval <= 0) {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("StaleAfter must be > 0, got %v", c.StaleAfter)
	}
	return nil
}
