package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// PredictSummary counts the outcome of a prediction run.
type PredictSummary struct {
	Users   int `json:"users"`
	Created int `json:"created"`
	Failed  int `json:"failed"`
}

// Predictor proposes proactive triggers from a user's recent history.
type Predictor struct {
	repo    storage.Repository
	trends  *TrendTracker
	clock   clock.Clock
	policy  *policy.Policy
	cfg     Config
	metrics *observe.Metrics
	logger  zerolog.Logger
}

// NewPredictor creates a predictor.
func NewPredictor(repo storage.Repository, trends *TrendTracker, clk clock.Clock, pol *policy.Policy, cfg Config, metrics *observe.Metrics, logger zerolog.Logger) *Predictor {
	return &Predictor{
		repo:    repo,
		trends:  trends,
		clock:   clk,
		policy:  pol,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "predictor").Logger(),
	}
}

// PredictAll runs PredictUser for every user with bounded concurrency. One
// user's failure does not stop the others.
func (p *Predictor) PredictAll(ctx context.Context) (PredictSummary, error) {
	var sum PredictSummary
	users, err := p.repo.ListUserIDs(ctx)
	if err != nil {
		return sum, fmt.Errorf("list users: %w", err)
	}
	sum.Users = len(users)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.ScoringConcurrency))
	for _, userID := range users {
		g.Go(func() error {
			created, err := p.PredictUser(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				p.logger.Error().Err(err).Str("user_id", userID).Msg("prediction failed")
				return nil
			}
			sum.Created += len(created)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info().
		Int("users", sum.Users).
		Int("created", sum.Created).
		Int("failed", sum.Failed).
		Msg("prediction run complete")
	return sum, ctx.Err()
}

// PredictUser proposes candidates for one user, filters them by confidence,
// cooldown and pending duplicates, and stores the survivors.
func (p *Predictor) PredictUser(ctx context.Context, userID string) ([]*types.EngagementTrigger, error) {
	now := p.clock.Now()
	candidates, err := p.Candidates(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	// Highest confidence first so batch dedupe keeps the strongest.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })

	seen := make(map[types.TriggerType]bool)
	var created []*types.EngagementTrigger
	for _, c := range candidates {
		if c.Confidence < p.policy.Prediction.ConfidenceFloor || seen[c.Type] {
			continue
		}
		seen[c.Type] = true

		blocked, err := p.blocked(ctx, c, now)
		if err != nil {
			return created, err
		}
		if blocked {
			continue
		}

		if err := p.repo.CreateTrigger(ctx, c); err != nil {
			return created, fmt.Errorf("create %s trigger: %w", c.Type, err)
		}
		p.metrics.RecordTriggerCreated(ctx, string(c.Type))
		p.logger.Info().
			Str("user_id", userID).
			Str("trigger_id", c.ID).
			Str("type", string(c.Type)).
			Float64("confidence", c.Confidence).
			Time("scheduled_for", c.ScheduledFor).
			Msg("trigger predicted")
		created = append(created, c)
	}
	return created, nil
}

// blocked reports whether a candidate is inside its type's cooldown or
// duplicates an unsent trigger in the current window.
func (p *Predictor) blocked(ctx context.Context, c *types.EngagementTrigger, now time.Time) (bool, error) {
	if cd := p.policy.Cooldown(c.Type); cd > 0 {
		recent, err := p.repo.ListUserTriggers(ctx, c.UserID, storage.TriggerFilter{
			Type:      c.Type,
			Sent:      storage.Bool(true),
			SentAfter: now.Add(-cd),
		})
		if err != nil {
			return false, fmt.Errorf("list sent triggers: %w", err)
		}
		if len(recent) > 0 {
			return true, nil
		}
	}

	pending, err := p.repo.ListUserTriggers(ctx, c.UserID, storage.TriggerFilter{
		Type:          c.Type,
		Sent:          storage.Bool(false),
		ScheduledFrom: now.Add(-p.cfg.StaleAfter),
		ScheduledTo:   now.Add(p.cfg.LookAhead),
	})
	if err != nil {
		return false, fmt.Errorf("list pending triggers: %w", err)
	}
	return len(pending) > 0, nil
}

// Candidates returns every proposal for a user before filtering.
func (p *Predictor) Candidates(ctx context.Context, userID string, now time.Time) ([]*types.EngagementTrigger, error) {
	pred := p.policy.Prediction
	since := now.Add(-pred.HistoryWindow)

	sessions, err := p.repo.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	messages, err := p.repo.ListUserMessages(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	memories, err := p.repo.ListMemories(ctx, userID, storage.MemoryFilter{CreatedAfter: since})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	stress, err := p.repo.ListSamples(ctx, userID, types.MetricStressLevel, since)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}

	newTrigger := func(t types.TriggerType, at time.Time, confidence float64, vars map[string]string) *types.EngagementTrigger {
		return &types.EngagementTrigger{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         t,
			ScheduledFor: at,
			Message:      p.policy.Template(t, vars),
			Confidence:   clampScore(math.Round(confidence*10) / 10),
			CreatedAt:    now,
		}
	}

	var out []*types.EngagementTrigger
	if c, ok := p.inactivity(sessions, messages, now); ok {
		out = append(out, newTrigger(types.TriggerMissYou, now, c, nil))
	}
	if at, weekday, c, ok := p.stressCluster(stress, now); ok {
		out = append(out, newTrigger(types.TriggerSupport, at, c, map[string]string{"weekday": weekday.String()}))
	}
	if at, c, ok := p.activeWindow(messages, pred.MorningHours, now); ok {
		out = append(out, newTrigger(types.TriggerGoodMorning, at, c, nil))
	}
	if at, c, ok := p.activeWindow(messages, pred.NightHours, now); ok {
		out = append(out, newTrigger(types.TriggerGoodNight, at, c, nil))
	}
	if m, c, ok := p.celebration(memories, now); ok {
		t := newTrigger(types.TriggerCelebration, now, c, map[string]string{"event": m.Summary()})
		t.MemoryID = m.ID
		out = append(out, t)
	}
	if m, c, ok := p.advice(memories); ok {
		t := newTrigger(types.TriggerAdvice, now, c, map[string]string{"event": m.Summary()})
		t.MemoryID = m.ID
		out = append(out, t)
	}
	if p.trends != nil {
		windowDays := int(pred.HistoryWindow / (24 * time.Hour))
		for _, rule := range p.policy.Metrics {
			trend, err := p.trends.Trend(ctx, userID, rule.Metric, windowDays)
			if err != nil {
				return nil, err
			}
			if trend.Direction == types.TrendDeclining {
				out = append(out, newTrigger(types.TriggerCheckIn, now, 70, nil))
				break
			}
		}
	}
	return out, nil
}

// InactivityThreshold is twice the median gap between session starts,
// clamped to the policy bounds. Users with too few sessions get the
// default.
func InactivityThreshold(sessions []*types.Session, pred policy.Prediction) time.Duration {
	if len(sessions) < pred.MinSessionsForGap {
		return pred.DefaultInactivity
	}
	starts := make([]time.Time, len(sessions))
	for i, s := range sessions {
		starts[i] = s.StartedAt
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	gaps := make([]time.Duration, 0, len(starts)-1)
	for i := 1; i < len(starts); i++ {
		gaps = append(gaps, starts[i].Sub(starts[i-1]))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })

	var median time.Duration
	if n := len(gaps); n%2 == 1 {
		median = gaps[n/2]
	} else {
		median = (gaps[n/2-1] + gaps[n/2]) / 2
	}
	return min(max(2*median, pred.MinInactivity), pred.MaxInactivity)
}

func (p *Predictor) inactivity(sessions []*types.Session, messages []*types.Message, now time.Time) (float64, bool) {
	if len(sessions) == 0 {
		return 0, false
	}
	var last time.Time
	for _, s := range sessions {
		if a := s.LastActivity(); a.After(last) {
			last = a
		}
	}
	for _, m := range messages {
		if m.Role == types.RoleUser && m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}

	threshold := InactivityThreshold(sessions, p.policy.Prediction)
	gap := now.Sub(last)
	if gap <= threshold {
		return 0, false
	}
	ratio := float64(gap) / float64(threshold)
	return math.Min(65+30*(ratio-1), 95), true
}

func (p *Predictor) stressCluster(samples []*types.MetricSample, now time.Time) (time.Time, time.Weekday, float64, bool) {
	pred := p.policy.Prediction
	counts := make(map[time.Weekday]int)
	for _, s := range samples {
		if s.Value >= pred.StressHighValue {
			counts[s.RecordedAt.UTC().Weekday()]++
		}
	}

	best, bestCount := time.Sunday, 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	if bestCount < pred.StressMinOccurrences {
		return time.Time{}, 0, 0, false
	}

	at := nextAt(now, best, 9)
	if at.Sub(now) > p.cfg.LookAhead {
		return time.Time{}, 0, 0, false
	}
	return at, best, math.Min(55+10*float64(bestCount), 95), true
}

// activeWindow proposes a greeting at the start of an hour window the user
// is habitually active in.
func (p *Predictor) activeWindow(messages []*types.Message, hours [2]int, now time.Time) (time.Time, float64, bool) {
	total, inWindow := 0, 0
	for _, m := range messages {
		if m.Role != types.RoleUser {
			continue
		}
		total++
		if h := m.CreatedAt.UTC().Hour(); h >= hours[0] && h < hours[1] {
			inWindow++
		}
	}
	if total < 5 {
		return time.Time{}, 0, false
	}
	share := float64(inWindow) / float64(total)
	if share < p.policy.Prediction.MinActiveHourShare {
		return time.Time{}, 0, false
	}

	day := now.UTC().Truncate(24 * time.Hour)
	at := day.Add(time.Duration(hours[0]) * time.Hour)
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	if at.Sub(now) > p.cfg.LookAhead {
		return time.Time{}, 0, false
	}
	return at, math.Min(50+50*share, 95), true
}

func (p *Predictor) celebration(memories []*types.Memory, now time.Time) (*types.Memory, float64, bool) {
	var best *types.Memory
	for _, m := range memories {
		if m.Contextual == nil || !m.Contextual.Significance.AtLeast(types.SignificanceMajor) {
			continue
		}
		if now.Sub(m.CreatedAt) > p.policy.Prediction.CelebrationWindow || p.policy.Valence(m) < 6.5 {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best, math.Min(70+2*best.Importance(), 95), true
}

// advice looks for negative memories recurring in one practical life area.
func (p *Predictor) advice(memories []*types.Memory) (*types.Memory, float64, bool) {
	areas := map[types.LifeArea]bool{
		types.LifeAreaCareer:  true,
		types.LifeAreaFinance: true,
		types.LifeAreaGrowth:  true,
	}
	counts := make(map[types.LifeArea]int)
	latest := make(map[types.LifeArea]*types.Memory)
	for _, m := range memories {
		if m.Contextual == nil || !areas[m.Contextual.LifeArea] || p.policy.Valence(m) >= 5 {
			continue
		}
		a := m.Contextual.LifeArea
		counts[a]++
		if l := latest[a]; l == nil || m.CreatedAt.After(l.CreatedAt) {
			latest[a] = m
		}
	}

	var bestArea types.LifeArea
	bestCount := 0
	for _, a := range types.ValidLifeAreas {
		if counts[a] > bestCount {
			bestArea, bestCount = a, counts[a]
		}
	}
	if bestCount < p.policy.Prediction.AdviceMinMemories {
		return nil, 0, false
	}
	return latest[bestArea], math.Min(60+10*float64(bestCount), 90), true
}

// nextAt returns the next instant after now that falls on weekday at hour
// UTC.
func nextAt(now time.Time, weekday time.Weekday, hour int) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	for i := 0; i < 8; i++ {
		at := day.Add(time.Duration(i)*24*time.Hour + time.Duration(hour)*time.Hour)
		if at.Weekday() == weekday && at.After(now) {
			return at
		}
	}
	return day.Add(7 * 24 * time.Hour)
}
