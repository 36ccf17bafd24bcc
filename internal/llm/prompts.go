// Package llm provides the language reasoning service: provider clients for
// Ollama, OpenAI and Anthropic, circuit breaking, rate limiting, strict
// JSON-only prompt templates and a single decode step that turns a model
// response into a validated structure or an *InferenceError.
package llm

import (
	"fmt"
	"strings"
)

// Operation names used for logging and metrics.
const (
	OpExtract    = "extract_memories"
	OpGraph      = "extract_graph"
	OpRelevance  = "score_relevance"
	OpConfidence = "score_confidence"
	OpSentiment  = "score_sentiment"
	OpInsight    = "trend_insight"
)

const jsonOnly = `OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. NO extra fields.
Your response MUST start with { and end with }`

// ExtractionSystemPrompt instructs the model to pull four-layer memories out
// of a conversation transcript.
const ExtractionSystemPrompt = `TASK: Extract lasting personal memories about the USER from a companion chat transcript.
` + jsonOnly + `

Only extract facts the user would expect a close friend to remember. Skip small talk.

REQUIRED JSON STRUCTURE:
{
  "memories": [
    {
      "surface": {"event":"...","date":"...","people":["..."],"location":"..."},
      "emotional": {"weight":0-10,"emotions":["..."],"trajectory":"...","vulnerability":0-10,"confidence":0.0-1.0},
      "contextual": {"life_area":"relationship|career|family|health|growth|finance|hobby","recurring_theme":true|false,"significance":"minor|moderate|major|life_changing"},
      "predictive": {"followup_needed":true|false,"best_followup_timing":"...","suggested_angle":"...","trigger_keywords":["..."],"confidence":0.0-1.0}
    }
  ],
  "emotional_state": {"mood":"...","intensity":0-10}
}

RULES:
1. All four layers are required for every memory
2. best_followup_timing is an ISO date/time, "tomorrow", "in N days", "in N hours", "next week" or ""
3. mood is one word (e.g. happy, calm, stressed, anxious, sad, frustrated)
4. If nothing is worth remembering return {"memories":[],"emotional_state":{"mood":"neutral","intensity":0}}`

// ExtractionPrompt renders the transcript for extraction. now anchors
// relative dates.
func ExtractionPrompt(transcript, now string) string {
	return fmt.Sprintf(`CURRENT TIME: %s

TRANSCRIPT:
%s`, now, transcript)
}

// GraphSystemPrompt instructs the model to return entities and relations.
const GraphSystemPrompt = `TASK: Extract entities and relationships from what the user said.
` + jsonOnly + `

ENTITY TYPES: person, place, organization, pet, activity, thing, event

REQUIRED JSON STRUCTURE:
{"entities":[{"name":"Maya","type":"person"}],"relationships":[{"source":"Maya","target":"Lisbon","relation":"lives_in","strength":1-10}]}

RULES:
1. source and target MUST exactly match an entity name in the same response
2. relation is snake_case
3. strength: 1 = passing mention, 10 = central and repeated
4. If nothing found return {"entities":[],"relationships":[]}`

// GraphPrompt wraps the text to analyse.
func GraphPrompt(text string) string {
	return "TEXT:\n" + text
}

// RelevanceSystemPrompt carries the fixed relevance rubric.
const RelevanceSystemPrompt = `TASK: Rate how relevant a stored memory is to what the user just said.
` + jsonOnly + `

RUBRIC:
- 90-100: directly related (same event, person or plan)
- 70-89: same theme
- 50-69: contextually plausible
- 30-49: loosely related
- 0-29: unrelated

REQUIRED JSON STRUCTURE:
{"relevance":0-100}`

// RelevancePrompt pairs the utterance with one memory summary.
func RelevancePrompt(utterance, memory string) string {
	return fmt.Sprintf("USER SAID:\n%s\n\nMEMORY:\n%s", utterance, memory)
}

// ConfidenceSystemPrompt asks for the five-axis trust rating.
const ConfidenceSystemPrompt = `TASK: Audit an extracted memory against the transcript it came from.
` + jsonOnly + `

Score each axis 0-100:
- event_clarity: the event is clearly stated
- date_accuracy: the date matches what was said
- emotional_accuracy: emotions and weight match the user's words
- relationship_accuracy: people and relations are correct
- significance_accuracy: life area and significance are justified

REQUIRED JSON STRUCTURE:
{"event_clarity":0,"date_accuracy":0,"emotional_accuracy":0,"relationship_accuracy":0,"significance_accuracy":0,"uncertainties":["..."]}`

// ConfidencePrompt renders the memory and its source transcript.
func ConfidencePrompt(memoryJSON, transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		transcript = "(transcript unavailable)"
	}
	return fmt.Sprintf("MEMORY:\n%s\n\nTRANSCRIPT:\n%s", memoryJSON, transcript)
}

// SentimentSystemPrompt scores a single metric from a memory.
const SentimentSystemPrompt = `TASK: Score one wellbeing metric for the user based on a memory.
` + jsonOnly + `

Score 1-10 where 1 is the lowest possible level of the metric and 10 the highest.
For stress_level, 10 means extremely stressed.

REQUIRED JSON STRUCTURE:
{"score":1-10}`

// SentimentPrompt names the metric and the memory to score.
func SentimentPrompt(metric, memory string) string {
	return fmt.Sprintf("METRIC: %s\n\nMEMORY:\n%s", metric, memory)
}

// InsightSystemPrompt asks for a one-sentence reading of a trend.
const InsightSystemPrompt = `TASK: Write one warm, plain sentence describing how a wellbeing metric is changing for the user.
` + jsonOnly + `

REQUIRED JSON STRUCTURE:
{"insight":"..."}`

// InsightPrompt renders a trend summary.
func InsightPrompt(metric, direction string, values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.1f", v)
	}
	return fmt.Sprintf("METRIC: %s\nDIRECTION: %s\nVALUES (oldest first): %s", metric, direction, strings.Join(parts, ", "))
}
