package types

import "time"

// RelationshipStage is the discrete classification of conversational intimacy.
type RelationshipStage string

// Stages in ascending order of intimacy.
const (
	StageAcquainted RelationshipStage = "acquainted" // [0,30)
	StageFriendly   RelationshipStage = "friendly"   // [30,60)
	StageIntimate   RelationshipStage = "intimate"   // [60,85)
	StageDeepTrust  RelationshipStage = "deep_trust" // [85,100]
)

// StageForScore maps an intimacy score to its stage. Scores outside
// [0,100] are clamped first.
func StageForScore(score int) RelationshipStage {
	score = max(0, min(100, score))
	switch {
	case score >= 85:
		return StageDeepTrust
	case score >= 60:
		return StageIntimate
	case score >= 30:
		return StageFriendly
	default:
		return StageAcquainted
	}
}

// Rank returns the stage's position (1-4), or 0 for an unknown stage.
func (s RelationshipStage) Rank() int {
	switch s {
	case StageAcquainted:
		return 1
	case StageFriendly:
		return 2
	case StageIntimate:
		return 3
	case StageDeepTrust:
		return 4
	}
	return 0
}

// StageGuidance is consumed by the chat prompt builder.
type StageGuidance struct {
	AllowedTopics []string `json:"allowed_topics"`
	Tone          string   `json:"tone"`
}

var stageGuidance = map[RelationshipStage]StageGuidance{
	StageAcquainted: {
		AllowedTopics: []string{"hobbies", "daily routine", "interests", "light humor"},
		Tone:          "warm and curious, avoid probing personal questions",
	},
	StageFriendly: {
		AllowedTopics: []string{"work", "friends", "plans", "opinions", "mild frustrations"},
		Tone:          "playful and supportive, reference shared history",
	},
	StageIntimate: {
		AllowedTopics: []string{"family", "relationships", "fears", "goals", "past experiences"},
		Tone:          "caring and personal, gently check in on earlier worries",
	},
	StageDeepTrust: {
		AllowedTopics: []string{"insecurities", "vulnerabilities", "life direction", "deep emotions"},
		Tone:          "deeply empathetic, honest and unhurried",
	},
}

// Guidance returns the prompt guidance for the stage.
func (s RelationshipStage) Guidance() StageGuidance {
	if g, ok := stageGuidance[s]; ok {
		return g
	}
	return stageGuidance[StageAcquainted]
}

// Milestone marks a relationship event, e.g. the first session or reaching a stage.
type Milestone struct {
	Name      string    `json:"name"`
	ReachedAt time.Time `json:"reached_at"`
}

// RelationshipDepth is the per-user materialized cache of relationship state.
// It is recomputed from history and never treated as a source of truth.
type RelationshipDepth struct {
	UserID             string            `json:"user_id"`
	IntimacyScore      int               `json:"intimacy_score"`      // 0-100
	TrustScore         int               `json:"trust_score"`         // 0-100
	VulnerabilityLevel int               `json:"vulnerability_level"` // 0-100
	Stage              RelationshipStage `json:"stage"`
	InsideJokesCount   int               `json:"inside_jokes_count"`
	Milestones         []Milestone       `json:"milestones,omitempty"`
	ComputedAt         time.Time         `json:"computed_at"`
}

// HasMilestone reports whether the named milestone was already reached.
func (d *RelationshipDepth) HasMilestone(name string) bool {
	for _, m := range d.Milestones {
		if m.Name == name {
			return true
		}
	}
	return false
}
