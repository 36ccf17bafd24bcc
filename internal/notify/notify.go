// Package notify delivers proactive messages to users and carries
// cross-process session events between the riya CLI and a running server
// using files in a shared data directory.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/pkg/types"
)

// ErrUserOffline is returned by a dispatcher that pushes to live
// connections when the user has none.
var ErrUserOffline = errors.New("notify: user offline")

// Notification is the payload handed to a Dispatcher after a trigger has
// been emitted into a session.
type Notification struct {
	TriggerID    string            `json:"trigger_id"`
	UserID       string            `json:"user_id"`
	SessionID    string            `json:"session_id"`
	Type         types.TriggerType `json:"type"`
	Message      string            `json:"message"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	SentAt       time.Time         `json:"sent_at"`
}

// NotificationFor builds the notification for an emitted trigger.
func NotificationFor(t *types.EngagementTrigger, sessionID string, sentAt time.Time) Notification {
	return Notification{
		TriggerID:    t.ID,
		UserID:       t.UserID,
		SessionID:    sessionID,
		Type:         t.Type,
		Message:      t.Message,
		ScheduledFor: t.ScheduledFor,
		SentAt:       sentAt,
	}
}

// Dispatcher hands a notification to an external channel. Delivery is best
// effort: the caller logs errors and does not retry.
type Dispatcher interface {
	Deliver(ctx context.Context, userID string, n Notification) error
}

// LogDispatcher only logs notifications.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher creates a dispatcher that writes one info line per
// notification.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "notify").Logger()}
}

// Deliver implements Dispatcher.
func (d *LogDispatcher) Deliver(_ context.Context, userID string, n Notification) error {
	d.logger.Info().
		Str("user_id", userID).
		Str("trigger_id", n.TriggerID).
		Str("session_id", n.SessionID).
		Str("type", string(n.Type)).
		Msg("notification delivered")
	return nil
}

// Multi fans a notification out to several dispatchers. Every dispatcher is
// tried; the errors are joined.
type Multi []Dispatcher

// Deliver implements Dispatcher.
func (m Multi) Deliver(ctx context.Context, userID string, n Notification) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Deliver(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Dispatcher = (*LogDispatcher)(nil)
	_ Dispatcher = Multi(nil)
)
