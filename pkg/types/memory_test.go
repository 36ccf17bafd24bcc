package types_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/pkg/types"
)

func validMemory() *types.Memory {
	return &types.Memory{
		ID:     "mem-1",
		UserID: "user-1",
		Surface: &types.SurfaceLayer{
			Event:  "Interview at Acme on Friday",
			People: []string{"Priya"},
		},
		Emotional: &types.EmotionalLayer{
			Weight:        7,
			Emotions:      []string{"anxious", "hopeful"},
			Vulnerability: 5,
			Confidence:    0.8,
		},
		Contextual: &types.ContextualLayer{
			LifeArea:     types.LifeAreaCareer,
			Significance: types.SignificanceMajor,
		},
		Predictive: &types.PredictiveLayer{
			FollowUpNeeded:     true,
			BestFollowUpTiming: "in 2 days",
			Confidence:         0.7,
		},
	}
}

func TestMemoryValidate(t *testing.T) {
	require.NoError(t, validMemory().Validate())

	tests := []struct {
		name   string
		mutate func(m *types.Memory)
		field  string
	}{
		{"missing user", func(m *types.Memory) { m.UserID = "" }, "user_id"},
		{"missing surface", func(m *types.Memory) { m.Surface = nil }, "surface"},
		{"missing emotional", func(m *types.Memory) { m.Emotional = nil }, "emotional"},
		{"missing contextual", func(m *types.Memory) { m.Contextual = nil }, "contextual"},
		{"missing predictive", func(m *types.Memory) { m.Predictive = nil }, "predictive"},
		{"empty event", func(m *types.Memory) { m.Surface.Event = "  " }, "surface.event"},
		{"weight too high", func(m *types.Memory) { m.Emotional.Weight = 11 }, "emotional.weight"},
		{"negative vulnerability", func(m *types.Memory) { m.Emotional.Vulnerability = -1 }, "emotional.vulnerability"},
		{"confidence above one", func(m *types.Memory) { m.Emotional.Confidence = 80 }, "emotional.confidence"},
		{"unknown life area", func(m *types.Memory) { m.Contextual.LifeArea = "space" }, "contextual.life_area"},
		{"unknown significance", func(m *types.Memory) { m.Contextual.Significance = "huge" }, "contextual.significance"},
		{"prediction confidence", func(m *types.Memory) { m.Predictive.Confidence = 1.5 }, "predictive.confidence"},
		{"unknown status", func(m *types.Memory) { m.VerificationStatus = "maybe" }, "verification_status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMemory()
			tt.mutate(m)

			err := m.Validate()
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMemoryImportanceAndMentions(t *testing.T) {
	m := validMemory()
	assert.Equal(t, 7.0, m.Importance())

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.CreatedAt = created
	assert.Equal(t, created, m.LastMentionedAt())

	ref := created.Add(48 * time.Hour)
	m.LastReferencedAt = &ref
	assert.Equal(t, ref, m.LastMentionedAt())

	m.Emotional = nil
	assert.Zero(t, m.Importance())
}

func TestMemoryHasEmotion(t *testing.T) {
	m := validMemory()
	assert.True(t, m.HasEmotion("Anxious"))
	assert.True(t, m.HasEmotion("sad", "hopeful"))
	assert.False(t, m.HasEmotion("angry"))
}

func TestMemorySearchText(t *testing.T) {
	m := validMemory()
	m.Predictive.TriggerKeywords = []string{"interview"}
	text := m.SearchText()
	assert.Contains(t, text, "Interview at Acme")
	assert.Contains(t, text, "Priya")
	assert.Contains(t, text, "anxious")
	assert.Contains(t, text, "interview")
}

func TestVerificationStatusIsHumanSet(t *testing.T) {
	assert.True(t, types.VerificationUserConfirmed.IsHumanSet())
	assert.True(t, types.VerificationDisputed.IsHumanSet())
	assert.False(t, types.VerificationInferred.IsHumanSet())
	assert.False(t, types.VerificationHighConfidence.IsHumanSet())
	assert.False(t, types.VerificationNotVerified.IsHumanSet())
}

func TestSignificanceAtLeast(t *testing.T) {
	assert.True(t, types.SignificanceLifeChanging.AtLeast(types.SignificanceMajor))
	assert.True(t, types.SignificanceMajor.AtLeast(types.SignificanceMajor))
	assert.False(t, types.SignificanceModerate.AtLeast(types.SignificanceMajor))
}

func TestTriggerValidate(t *testing.T) {
	trig := &types.EngagementTrigger{
		UserID:       "user-1",
		Type:         types.TriggerCheckIn,
		ScheduledFor: time.Now(),
		Message:      "How are you holding up?",
		Confidence:   70,
	}
	require.NoError(t, trig.Validate())

	trig.Confidence = 0.7
	require.NoError(t, trig.Validate())

	trig.Type = "spam"
	assert.Error(t, trig.Validate())
}

func TestTranscript(t *testing.T) {
	tr := types.Transcript{
		{Role: types.RoleUser, Text: "I have an interview Friday"},
		{Role: types.RoleAssistant, Text: "Good luck!"},
		{Role: types.RoleUser, Text: "Thanks"},
	}
	assert.Equal(t, "user: I have an interview Friday\nassistant: Good luck!\nuser: Thanks", tr.String())
	assert.Equal(t, "I have an interview Friday\nThanks", tr.UserText())
}

func TestGraphNormalization(t *testing.T) {
	assert.Equal(t, "person", types.NormalizeNodeType(" Person "))
	assert.Equal(t, "works_at", types.NormalizeRelationship("Works  At"))
	assert.Equal(t, 5, types.ClampStrength(0))
	assert.Equal(t, 10, types.ClampStrength(42))
	assert.Equal(t, 1, types.ClampStrength(-3))
}
