package types

import (
	"strings"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is the minimal user record the engine needs.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one chat session. EndedAt is nil while the session is active.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// LastActivity returns the end time of the session, or its start if active.
func (s *Session) LastActivity() time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.StartedAt
}

// Message is one chat message inside a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one entry of a transcript.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Transcript is an ordered conversation.
type Transcript []Turn

// TranscriptFromMessages converts stored messages into a transcript.
func TranscriptFromMessages(msgs []*Message) Transcript {
	t := make(Transcript, 0, len(msgs))
	for _, m := range msgs {
		t = append(t, Turn{Role: m.Role, Text: m.Text})
	}
	return t
}

// String renders the transcript as "role: text" lines.
func (t Transcript) String() string {
	var b strings.Builder
	for i, turn := range t {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String()
}

// UserText joins all user turns, newest last.
func (t Transcript) UserText() string {
	parts := make([]string, 0, len(t))
	for _, turn := range t {
		if turn.Role == RoleUser && strings.TrimSpace(turn.Text) != "" {
			parts = append(parts, turn.Text)
		}
	}
	return strings.Join(parts, "\n")
}
