package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/pkg/types"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 60.0, p.Prediction.ConfidenceFloor)
	assert.Equal(t, 1.0, p.TrendThreshold)
	for _, tt := range []types.TriggerType{
		types.TriggerFollowUp, types.TriggerCheckIn, types.TriggerSupport, types.TriggerCelebration,
		types.TriggerAdvice, types.TriggerMissYou, types.TriggerGoodMorning, types.TriggerGoodNight,
	} {
		assert.NotEmpty(t, p.Templates[tt], "template for %s", tt)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().NegativeMoods, p.NegativeMoods)
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := writePolicy(t, `
trend_threshold: 2.5
topic_weights:
  hobby: 4
prediction:
  default_inactivity: 36h
cooldowns:
  miss_you: 48h
`)
	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.5, p.TrendThreshold)
	assert.Equal(t, 4.0, p.TopicWeights["hobby"])
	assert.Equal(t, 20.0, p.TopicWeights["insecurity"], "unlisted weights keep their default")
	assert.Equal(t, 36*time.Hour, p.Prediction.DefaultInactivity)
	assert.Equal(t, 24*time.Hour, p.Prediction.MinInactivity)
	assert.Equal(t, 48*time.Hour, p.Cooldown(types.TriggerMissYou))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writePolicy(t, "trend_treshold: 2\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writePolicy(t, "prediction:\n  confidence_floor: 150\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	p, err := Load(writePolicy(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.TrendThreshold)
}

func TestTopicWeight(t *testing.T) {
	p := DefaultPolicy()

	hobby := &types.Memory{
		Emotional:  &types.EmotionalLayer{Emotions: []string{"happy"}},
		Contextual: &types.ContextualLayer{LifeArea: types.LifeAreaHobby},
	}
	assert.Equal(t, 2.0, p.TopicWeight(hobby))

	insecure := &types.Memory{
		Emotional:  &types.EmotionalLayer{Emotions: []string{"Insecurity", "fear"}},
		Contextual: &types.ContextualLayer{LifeArea: types.LifeAreaHobby},
	}
	assert.Equal(t, 20.0, p.TopicWeight(insecure))

	p.TopicWeights = map[string]float64{}
	assert.Equal(t, 1.0, p.TopicWeight(hobby))
}

func TestValence(t *testing.T) {
	p := DefaultPolicy()

	happy := &types.Memory{Emotional: &types.EmotionalLayer{Weight: 8, Emotions: []string{"proud", "excited"}}}
	sad := &types.Memory{Emotional: &types.EmotionalLayer{Weight: 8, Emotions: []string{"sad", "lonely"}}}
	neutral := &types.Memory{Emotional: &types.EmotionalLayer{Weight: 8}}

	assert.Greater(t, p.Valence(happy), 7.0)
	assert.Less(t, p.Valence(sad), 4.0)
	assert.Equal(t, 5.0, p.Valence(neutral))
	assert.LessOrEqual(t, p.Valence(happy), 10.0)
	assert.GreaterOrEqual(t, p.Valence(sad), 1.0)
}

func TestMetricRuleMatches(t *testing.T) {
	p := DefaultPolicy()
	stress, ok := p.MetricRule(types.MetricStressLevel)
	require.True(t, ok)
	assert.False(t, stress.HigherIsBetter)

	m := &types.Memory{
		Surface:    &types.SurfaceLayer{Event: "Final exam next week"},
		Contextual: &types.ContextualLayer{LifeArea: types.LifeAreaGrowth},
	}
	assert.True(t, stress.Matches(m))

	work, _ := p.MetricRule(types.MetricWorkSatisfaction)
	assert.False(t, work.Matches(m))
	m.Contextual.LifeArea = types.LifeAreaCareer
	assert.True(t, work.Matches(m))
}

func TestTemplateAndMoods(t *testing.T) {
	p := DefaultPolicy()
	msg := p.Template(types.TriggerFollowUp, map[string]string{"event": "the interview"})
	assert.Equal(t, "Hey! How did it go with the interview?", msg)

	assert.True(t, p.IsNegativeMood("Stressed"))
	assert.False(t, p.IsNegativeMood("calm"))
	assert.Equal(t, 2, p.CountVulnerabilityMentions("I'm scared. I never told anyone."))
}
