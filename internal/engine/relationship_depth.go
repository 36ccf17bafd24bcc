package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// Component caps of the intimacy score.
const (
	maxConversationScore = 40
	maxEngagementScore   = 30
	maxConsistencyScore  = 20
	maxTopicScore        = 10
)

// Milestone names. Stage milestones are "reached_<stage>".
const (
	MilestoneFirstSession = "first_session"
	MilestoneSessions10   = "sessions_10"
	MilestoneSessions50   = "sessions_50"
)

// History is everything ComputeDepth looks at.
type History struct {
	Sessions []*types.Session
	Messages []*types.Message // user and assistant messages
	Memories []*types.Memory
	Now      time.Time
}

// DepthScores is the component breakdown of a computed depth.
type DepthScores struct {
	Conversation          float64
	Engagement            float64
	Consistency           float64
	Topic                 float64
	ConsecutiveDays       int
	VulnerabilityMentions int
}

// ComputeDepth derives relationship depth from history. It has no side
// effects and the same history always yields the same depth.
func ComputeDepth(h History, p *policy.Policy) (*types.RelationshipDepth, DepthScores) {
	var sc DepthScores

	sessions := len(h.Sessions)
	sc.Conversation = math.Min(float64(sessions*2), maxConversationScore)

	if sessions > 0 {
		total := 0
		for _, s := range h.Sessions {
			total += s.MessageCount
		}
		avg := float64(total) / float64(sessions)
		sc.Engagement = math.Min(avg/10*30, maxEngagementScore)
	}

	sc.ConsecutiveDays = consecutiveActiveDays(h)
	sc.Consistency = math.Min(float64(sc.ConsecutiveDays)/30*20, maxConsistencyScore)

	topicSum := 0.0
	highVulnerability := 0
	insideJokes := 0
	for _, m := range h.Memories {
		topicSum += p.TopicWeight(m)
		if m.Emotional != nil && m.Emotional.Vulnerability >= p.Vulnerability.HighVulnerabilityThreshold {
			highVulnerability++
		}
		if p.IsInsideJoke(m) {
			insideJokes++
		}
	}
	sc.Topic = math.Min(topicSum/5, maxTopicScore)

	for _, msg := range h.Messages {
		if msg.Role == types.RoleUser {
			sc.VulnerabilityMentions += p.CountVulnerabilityMentions(msg.Text)
		}
	}

	intimacy := clampInt(int(math.Round(sc.Conversation + sc.Engagement + sc.Consistency + sc.Topic)))
	trust := clampInt(int(math.Round(
		p.Trust.PerVulnerabilityMention*float64(sc.VulnerabilityMentions) +
			p.Trust.PerConsecutiveDay*float64(sc.ConsecutiveDays) +
			p.Trust.PerSession*float64(sessions))))
	vulnerability := clampInt(int(math.Round(
		p.Vulnerability.PerVulnerabilityMention*float64(sc.VulnerabilityMentions) +
			p.Vulnerability.PerHighVulnerabilityMemory*float64(highVulnerability))))

	d := &types.RelationshipDepth{
		IntimacyScore:      intimacy,
		TrustScore:         trust,
		VulnerabilityLevel: vulnerability,
		Stage:              types.StageForScore(intimacy),
		InsideJokesCount:   insideJokes,
		Milestones:         historyMilestones(h, types.StageForScore(intimacy)),
		ComputedAt:         h.Now,
	}
	return d, sc
}

// consecutiveActiveDays counts the run of consecutive UTC calendar days with
// activity that ends on the most recent active day.
func consecutiveActiveDays(h History) int {
	days := make(map[time.Time]struct{})
	add := func(t time.Time) {
		if !t.IsZero() {
			days[t.UTC().Truncate(24*time.Hour)] = struct{}{}
		}
	}
	for _, s := range h.Sessions {
		add(s.StartedAt)
	}
	for _, m := range h.Messages {
		if m.Role == types.RoleUser {
			add(m.CreatedAt)
		}
	}
	if len(days) == 0 {
		return 0
	}

	var latest time.Time
	for d := range days {
		if d.After(latest) {
			latest = d
		}
	}
	streak := 0
	for d := latest; ; d = d.Add(-24 * time.Hour) {
		if _, ok := days[d]; !ok {
			break
		}
		streak++
	}
	return streak
}

func historyMilestones(h History, stage types.RelationshipStage) []types.Milestone {
	sessions := append([]*types.Session(nil), h.Sessions...)
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })

	var out []types.Milestone
	for _, ms := range []struct {
		name string
		n    int
	}{
		{MilestoneFirstSession, 1},
		{MilestoneSessions10, 10},
		{MilestoneSessions50, 50},
	} {
		if len(sessions) >= ms.n {
			out = append(out, types.Milestone{Name: ms.name, ReachedAt: sessions[ms.n-1].StartedAt})
		}
	}
	for _, s := range []types.RelationshipStage{types.StageFriendly, types.StageIntimate, types.StageDeepTrust} {
		if stage.Rank() >= s.Rank() {
			out = append(out, types.Milestone{Name: "reached_" + string(s), ReachedAt: h.Now})
		}
	}
	return out
}

// mergeMilestones unions previous and current, keeping the earliest
// timestamp for a name.
func mergeMilestones(previous, current []types.Milestone) []types.Milestone {
	byName := make(map[string]time.Time, len(previous)+len(current))
	for _, list := range [][]types.Milestone{previous, current} {
		for _, m := range list {
			if t, ok := byName[m.Name]; !ok || m.ReachedAt.Before(t) {
				byName[m.Name] = m.ReachedAt
			}
		}
	}
	out := make([]types.Milestone, 0, len(byName))
	for name, at := range byName {
		out = append(out, types.Milestone{Name: name, ReachedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReachedAt.Equal(out[j].ReachedAt) {
			return out[i].ReachedAt.Before(out[j].ReachedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func clampInt(v int) int {
	return max(0, min(100, v))
}

// DepthCalculator loads history, computes depth and keeps the stored copy
// current.
type DepthCalculator struct {
	repo   storage.Repository
	bus    *bus.Bus
	clock  clock.Clock
	policy *policy.Policy
	logger zerolog.Logger
}

// NewDepthCalculator creates a depth calculator.
func NewDepthCalculator(repo storage.Repository, b *bus.Bus, clk clock.Clock, pol *policy.Policy, logger zerolog.Logger) *DepthCalculator {
	return &DepthCalculator{
		repo:   repo,
		bus:    b,
		clock:  clk,
		policy: pol,
		logger: logger.With().Str("component", "relationship_depth").Logger(),
	}
}

// Recompute recalculates and stores a user's depth and publishes
// StageChanged when the stage differs from the stored one. A user with no
// stored depth counts as acquainted.
func (c *DepthCalculator) Recompute(ctx context.Context, userID string) (*types.RelationshipDepth, error) {
	h, err := c.loadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	previous, err := c.repo.GetDepth(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get depth: %w", err)
	}

	depth, scores := ComputeDepth(h, c.policy)
	depth.UserID = userID

	from := types.StageAcquainted
	if previous != nil {
		from = previous.Stage
		depth.Milestones = mergeMilestones(previous.Milestones, depth.Milestones)
	} else {
		depth.Milestones = mergeMilestones(nil, depth.Milestones)
	}

	if err := c.repo.UpsertDepth(ctx, depth); err != nil {
		return nil, fmt.Errorf("upsert depth: %w", err)
	}

	c.logger.Debug().
		Str("user_id", userID).
		Int("intimacy", depth.IntimacyScore).
		Int("trust", depth.TrustScore).
		Int("vulnerability", depth.VulnerabilityLevel).
		Float64("conversation", scores.Conversation).
		Float64("engagement", scores.Engagement).
		Float64("consistency", scores.Consistency).
		Float64("topic", scores.Topic).
		Str("stage", string(depth.Stage)).
		Msg("relationship depth recomputed")

	if depth.Stage != from {
		c.logger.Info().
			Str("user_id", userID).
			Str("from", string(from)).
			Str("to", string(depth.Stage)).
			Msg("relationship stage changed")
		c.bus.Publish(ctx, bus.StageChanged{UserID: userID, From: from, To: depth.Stage, Depth: depth})
	}
	return depth, nil
}

// Get returns the stored depth, or the cold-start state when none exists.
func (c *DepthCalculator) Get(ctx context.Context, userID string) (*types.RelationshipDepth, error) {
	d, err := c.repo.GetDepth(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.RelationshipDepth{
			UserID:     userID,
			Stage:      types.StageAcquainted,
			Milestones: []types.Milestone{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get depth: %w", err)
	}
	return d, nil
}

func (c *DepthCalculator) loadHistory(ctx context.Context, userID string) (History, error) {
	h := History{Now: c.clock.Now()}
	var err error
	if h.Sessions, err = c.repo.ListSessions(ctx, userID); err != nil {
		return h, fmt.Errorf("list sessions: %w", err)
	}
	if h.Messages, err = c.repo.ListUserMessages(ctx, userID, time.Time{}); err != nil {
		return h, fmt.Errorf("list messages: %w", err)
	}
	if h.Memories, err = c.repo.ListMemories(ctx, userID, storage.MemoryFilter{}); err != nil {
		return h, fmt.Errorf("list memories: %w", err)
	}
	return h, nil
}
