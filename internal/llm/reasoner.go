package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scrypster/riya/internal/observe"
)

// Request is one structured reasoning call. Op names the call for logs and
// metrics (see the Op* constants); System carries the fixed instructions and
// User the per-call input.
type Request struct {
	Op     string
	System string
	User   string
}

// Reasoner turns a prompt into a decoded, validated structure. out must be a
// pointer to the expected response shape. Every failure is an
// *InferenceError.
type Reasoner interface {
	Infer(ctx context.Context, req Request, out any) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Timeout       time.Duration // Per-call bound (default: 30s)
	RatePerSecond float64       // Sustained call rate (default: 2)
	Burst         int           // Limiter burst (default: 4)
}

// Service is the Reasoner used in production. Each call is bounded by a
// timeout, waits on a token-bucket limiter, runs through the generator's
// circuit breaker and is strictly decoded.
type Service struct {
	gen     TextGenerator
	limiter *rate.Limiter
	timeout time.Duration
	metrics *observe.Metrics
	logger  zerolog.Logger
}

// NewService wraps gen. metrics may be nil.
func NewService(gen TextGenerator, cfg ServiceConfig, metrics *observe.Metrics, logger zerolog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	return &Service{
		gen:     gen,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		timeout: cfg.Timeout,
		metrics: metrics,
		logger:  logger.With().Str("component", "reasoner").Str("model", gen.GetModel()).Logger(),
	}
}

// Infer implements Reasoner.
func (s *Service) Infer(ctx context.Context, req Request, out any) (err error) {
	start := time.Now()
	defer func() {
		kind := ""
		var ie *InferenceError
		if errors.As(err, &ie) {
			kind = string(ie.Kind)
		}
		s.metrics.RecordInference(ctx, req.Op, time.Since(start), kind)
		if err != nil {
			s.logger.Debug().Err(err).Str("op", req.Op).Dur("elapsed", time.Since(start)).Msg("inference failed")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return classify(req.Op, err)
	}

	raw, err := s.gen.Complete(ctx, req.System, req.User)
	if err != nil {
		return classify(req.Op, err)
	}
	return DecodeStrict(req.Op, raw, out)
}

var _ Reasoner = (*Service)(nil)
