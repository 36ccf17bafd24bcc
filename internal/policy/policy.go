// Package policy holds the tunable weights, keyword lists, thresholds and
// message templates used by the engine. The built-in defaults can be
// overridden by a YAML file; any key omitted from the file keeps its default.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/riya/pkg/types"
)

// MetricRule derives one timeline metric from memories.
type MetricRule struct {
	Metric string `yaml:"metric"`

	// Keywords matched (case-insensitive) against the memory's event text,
	// emotions and trigger keywords.
	Keywords []string `yaml:"keywords"`

	// LifeAreas that qualify a memory on their own, without keywords.
	LifeAreas []types.LifeArea `yaml:"life_areas"`

	// HigherIsBetter sets the metric's polarity. stress_level is false:
	// a falling value is an improvement.
	HigherIsBetter bool `yaml:"higher_is_better"`
}

// Matches reports whether a memory qualifies for this metric.
func (r MetricRule) Matches(m *types.Memory) bool {
	if m.Contextual != nil {
		for _, a := range r.LifeAreas {
			if m.Contextual.LifeArea == a {
				return true
			}
		}
	}
	text := strings.ToLower(m.SearchText())
	for _, k := range r.Keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// TrustWeights is the weighted sum behind trustScore.
type TrustWeights struct {
	PerVulnerabilityMention float64 `yaml:"per_vulnerability_mention"`
	PerConsecutiveDay       float64 `yaml:"per_consecutive_day"`
	PerSession              float64 `yaml:"per_session"`
}

// VulnerabilityWeights is the weighted sum behind vulnerabilityLevel.
type VulnerabilityWeights struct {
	PerVulnerabilityMention    float64 `yaml:"per_vulnerability_mention"`
	PerHighVulnerabilityMemory float64 `yaml:"per_high_vulnerability_memory"`
	HighVulnerabilityThreshold float64 `yaml:"high_vulnerability_threshold"`
}

// Prediction tunes the proactive trigger heuristics.
type Prediction struct {
	ConfidenceFloor      float64       `yaml:"confidence_floor"`
	DefaultInactivity    time.Duration `yaml:"default_inactivity"`
	MinInactivity        time.Duration `yaml:"min_inactivity"`
	MaxInactivity        time.Duration `yaml:"max_inactivity"`
	MinSessionsForGap    int           `yaml:"min_sessions_for_gap"`
	StressHighValue      float64       `yaml:"stress_high_value"`
	StressMinOccurrences int           `yaml:"stress_min_occurrences"`
	MorningHours         [2]int        `yaml:"morning_hours"`
	NightHours           [2]int        `yaml:"night_hours"`
	MinActiveHourShare   float64       `yaml:"min_active_hour_share"`
	CelebrationWindow    time.Duration `yaml:"celebration_window"`
	AdviceMinMemories    int           `yaml:"advice_min_memories"`
	HistoryWindow        time.Duration `yaml:"history_window"`
}

// Policy is the complete engine policy table.
type Policy struct {
	// NegativeMoods schedule a check-in when seen in an extraction's
	// emotional snapshot.
	NegativeMoods []string `yaml:"negative_moods"`

	// PositiveEmotions and NegativeEmotions drive the heuristic sentiment
	// fallback when the reasoning service cannot score a memory.
	PositiveEmotions []string `yaml:"positive_emotions"`
	NegativeEmotions []string `yaml:"negative_emotions"`

	// TopicWeights maps an emotion tag or life area to its intimacy weight.
	TopicWeights       map[string]float64 `yaml:"topic_weights"`
	DefaultTopicWeight float64            `yaml:"default_topic_weight"`

	VulnerabilityKeywords []string             `yaml:"vulnerability_keywords"`
	InsideJokeTags        []string             `yaml:"inside_joke_tags"`
	Trust                 TrustWeights         `yaml:"trust"`
	Vulnerability         VulnerabilityWeights `yaml:"vulnerability"`

	Metrics        []MetricRule `yaml:"metrics"`
	TrendThreshold float64      `yaml:"trend_threshold"`

	Prediction Prediction                          `yaml:"prediction"`
	Cooldowns  map[types.TriggerType]time.Duration `yaml:"cooldowns"`
	Templates  map[types.TriggerType]string        `yaml:"templates"`
}

// DefaultPolicy returns the built-in policy table.
func DefaultPolicy() *Policy {
	return &Policy{
		NegativeMoods:    []string{"stressed", "anxious", "sad", "frustrated"},
		PositiveEmotions: []string{"happy", "excited", "proud", "grateful", "relieved", "hopeful", "content", "loved", "joyful"},
		NegativeEmotions: []string{"stressed", "anxious", "sad", "frustrated", "angry", "lonely", "afraid", "scared", "overwhelmed", "hurt", "insecure"},
		TopicWeights: map[string]float64{
			"insecurity":   20,
			"insecure":     20,
			"fear":         15,
			"afraid":       15,
			"scared":       15,
			"shame":        15,
			"lonely":       12,
			"relationship": 8,
			"family":       6,
			"health":       5,
			"finance":      4,
			"career":       3,
			"growth":       3,
			"hobby":        2,
		},
		DefaultTopicWeight: 1,
		VulnerabilityKeywords: []string{
			"scared", "afraid", "insecure", "ashamed", "lonely", "never told",
			"hard to admit", "embarrassed", "worthless", "anxious", "cry", "vulnerable",
		},
		InsideJokeTags: []string{"inside_joke", "funny", "amused", "laughing"},
		Trust: TrustWeights{
			PerVulnerabilityMention: 5,
			PerConsecutiveDay:       2,
			PerSession:              1,
		},
		Vulnerability: VulnerabilityWeights{
			PerVulnerabilityMention:    3,
			PerHighVulnerabilityMemory: 10,
			HighVulnerabilityThreshold: 7,
		},
		Metrics: []MetricRule{
			{
				Metric:   types.MetricStressLevel,
				Keywords: []string{"exam", "interview", "deadline", "stress", "pressure", "overwhelmed", "burnout"},
			},
			{
				Metric:         types.MetricRelationshipSatisfaction,
				Keywords:       []string{"partner", "girlfriend", "boyfriend", "wife", "husband", "date", "breakup"},
				LifeAreas:      []types.LifeArea{types.LifeAreaRelationship},
				HigherIsBetter: true,
			},
			{
				Metric:         types.MetricWorkSatisfaction,
				Keywords:       []string{"boss", "manager", "job", "promotion", "coworker", "office"},
				LifeAreas:      []types.LifeArea{types.LifeAreaCareer},
				HigherIsBetter: true,
			},
		},
		TrendThreshold: 1.0,
		Prediction: Prediction{
			ConfidenceFloor:      60,
			DefaultInactivity:    48 * time.Hour,
			MinInactivity:        24 * time.Hour,
			MaxInactivity:        7 * 24 * time.Hour,
			MinSessionsForGap:    3,
			StressHighValue:      7,
			StressMinOccurrences: 2,
			MorningHours:         [2]int{6, 11},
			NightHours:           [2]int{20, 24},
			MinActiveHourShare:   0.4,
			CelebrationWindow:    72 * time.Hour,
			AdviceMinMemories:    2,
			HistoryWindow:        30 * 24 * time.Hour,
		},
		Cooldowns: map[types.TriggerType]time.Duration{
			types.TriggerMissYou:     24 * time.Hour,
			types.TriggerSupport:     24 * time.Hour,
			types.TriggerCheckIn:     24 * time.Hour,
			types.TriggerCelebration: 72 * time.Hour,
			types.TriggerAdvice:      72 * time.Hour,
			types.TriggerGoodMorning: 20 * time.Hour,
			types.TriggerGoodNight:   20 * time.Hour,
		},
		Templates: map[types.TriggerType]string{
			types.TriggerFollowUp:    "Hey! How did it go with {event}?",
			types.TriggerCheckIn:     "Just checking in. How are you feeling today?",
			types.TriggerSupport:     "{weekday}s seem to be rough lately. I'm here if you want to talk.",
			types.TriggerCelebration: "I'm so happy for you about {event}! Tell me everything.",
			types.TriggerAdvice:      "I've been thinking about {event}. Want to talk it through together?",
			types.TriggerMissYou:     "Hey, I haven't heard from you in a while. I miss our chats!",
			types.TriggerGoodMorning: "Good morning! Hope today treats you well.",
			types.TriggerGoodNight:   "Good night! Sleep well.",
		},
	}
}

// Load reads a YAML policy file over the defaults. Unknown keys are rejected.
func Load(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("policy: failed to decode %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that weights and thresholds are usable.
func (p *Policy) Validate() error {
	if p.TrendThreshold < 0 {
		return errors.New("policy: trend_threshold must be non-negative")
	}
	if p.Prediction.ConfidenceFloor < 0 || p.Prediction.ConfidenceFloor > 100 {
		return errors.New("policy: prediction.confidence_floor must be within 0-100")
	}
	if p.Prediction.MinInactivity <= 0 || p.Prediction.MaxInactivity < p.Prediction.MinInactivity {
		return errors.New("policy: prediction inactivity bounds are invalid")
	}
	if p.Prediction.DefaultInactivity <= 0 {
		return errors.New("policy: prediction.default_inactivity must be positive")
	}
	for _, h := range [][2]int{p.Prediction.MorningHours, p.Prediction.NightHours} {
		if h[0] < 0 || h[1] > 24 || h[0] >= h[1] {
			return fmt.Errorf("policy: invalid hour window %v", h)
		}
	}
	for _, r := range p.Metrics {
		if r.Metric == "" {
			return errors.New("policy: metric rule without a metric name")
		}
	}
	for t := range p.Templates {
		if !t.IsValid() {
			return fmt.Errorf("policy: template for unknown trigger type %q", t)
		}
	}
	return nil
}

// TopicWeight returns the intimacy weight of a memory: the highest weight
// among its emotion tags and life area, or DefaultTopicWeight.
func (p *Policy) TopicWeight(m *types.Memory) float64 {
	best := 0.0
	if m.Emotional != nil {
		for _, e := range m.Emotional.Emotions {
			if w, ok := p.TopicWeights[strings.ToLower(strings.TrimSpace(e))]; ok && w > best {
				best = w
			}
		}
	}
	if m.Contextual != nil {
		if w, ok := p.TopicWeights[string(m.Contextual.LifeArea)]; ok && w > best {
			best = w
		}
	}
	if best == 0 {
		return p.DefaultTopicWeight
	}
	return best
}

// IsNegativeMood reports whether mood is in the negative set.
func (p *Policy) IsNegativeMood(mood string) bool {
	return containsFold(p.NegativeMoods, mood)
}

// MetricRule returns the rule for a metric name.
func (p *Policy) MetricRule(metric string) (MetricRule, bool) {
	for _, r := range p.Metrics {
		if r.Metric == metric {
			return r, true
		}
	}
	return MetricRule{}, false
}

// CountVulnerabilityMentions counts keyword occurrences in text.
func (p *Policy) CountVulnerabilityMentions(text string) int {
	text = strings.ToLower(text)
	n := 0
	for _, k := range p.VulnerabilityKeywords {
		if k == "" {
			continue
		}
		n += strings.Count(text, strings.ToLower(k))
	}
	return n
}

// IsInsideJoke reports whether a memory carries an inside-joke tag.
func (p *Policy) IsInsideJoke(m *types.Memory) bool {
	if m.Emotional != nil {
		for _, e := range m.Emotional.Emotions {
			if containsFold(p.InsideJokeTags, e) {
				return true
			}
		}
	}
	if m.Predictive != nil {
		for _, k := range m.Predictive.TriggerKeywords {
			if containsFold(p.InsideJokeTags, k) {
				return true
			}
		}
	}
	return false
}

// Valence returns a 1-10 heuristic sentiment for a memory from its emotion
// tags and weight. Positive tags pull the value up, negative ones down.
func (p *Policy) Valence(m *types.Memory) float64 {
	if m.Emotional == nil {
		return 5
	}
	pos, neg := 0, 0
	for _, e := range m.Emotional.Emotions {
		switch {
		case containsFold(p.PositiveEmotions, e):
			pos++
		case containsFold(p.NegativeEmotions, e):
			neg++
		}
	}
	if pos+neg == 0 {
		return 5
	}
	// Balance in [-1,1], scaled by how strongly the user felt it.
	balance := float64(pos-neg) / float64(pos+neg)
	intensity := 0.5 + m.Emotional.Weight/20
	return clamp(5.5+balance*4.5*intensity, 1, 10)
}

// Template returns the message template for a trigger type with {key}
// placeholders replaced.
func (p *Policy) Template(t types.TriggerType, vars map[string]string) string {
	tmpl := p.Templates[t]
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{"+k+"}", v)
	}
	return tmpl
}

// Cooldown returns the minimum gap between two sent triggers of a type.
func (p *Policy) Cooldown(t types.TriggerType) time.Duration {
	return p.Cooldowns[t]
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
