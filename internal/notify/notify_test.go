package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/pkg/types"
)

func TestEventWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewEventWriter(dir)

	require.NoError(t, w.SessionEnded("sess:abc/123", "u1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".event", filepath.Ext(entries[0].Name()))
}

// startInbox runs in until the test ends and returns the channel of
// session_ended events it handled.
func startInbox(t *testing.T, in *Inbox) <-chan Event {
	t.Helper()
	received := make(chan Event, 10)
	in.Handle(EventSessionEnded, func(_ context.Context, e Event) error {
		received <- e
		return nil
	})
	run, err := in.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return received
}

func TestInboxReceivesEvent(t *testing.T) {
	dir := t.TempDir()
	received := startInbox(t, NewInbox(dir, zerolog.Nop()))

	require.NoError(t, NewEventWriter(dir).SessionEnded("s-1", "u-1"))

	select {
	case e := <-received:
		assert.Equal(t, EventSessionEnded, e.Type)
		assert.Equal(t, "s-1", e.SessionID)
		assert.Equal(t, "u-1", e.UserID)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestInboxConsumesBacklog(t *testing.T) {
	dir := t.TempDir()
	writer := NewEventWriter(dir)
	require.NoError(t, writer.SessionEnded("drain-1", "u"))
	require.NoError(t, writer.SessionEnded("drain-2", "u"))

	received := startInbox(t, NewInbox(dir, zerolog.Nop()))

	require.Eventually(t, func() bool { return len(received) == 2 }, 3*time.Second, 10*time.Millisecond)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "consumed event files are removed")
}

func TestInboxDiscardsInvalidAndUnknownEvents(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"bad.event":       "{not json",
		"nosession.event": `{"type":"session_ended"}`,
		"other.event":     `{"type":"memory_created","session_id":"s-9"}`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	// A valid event written last marks the end of the backlog.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zz.event"), []byte(`{"type":"session_ended","session_id":"s-ok"}`), 0o600))

	received := startInbox(t, NewInbox(dir, zerolog.Nop()))

	select {
	case e := <-received:
		assert.Equal(t, "s-ok", e.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	assert.Empty(t, received)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}, 3*time.Second, 10*time.Millisecond, "discarded files are removed too")
}

func TestInboxHandlerErrorDoesNotStopLoop(t *testing.T) {
	dir := t.TempDir()
	in := NewInbox(dir, zerolog.Nop())
	calls := make(chan string, 10)
	in.Handle(EventSessionEnded, func(_ context.Context, e Event) error {
		calls <- e.SessionID
		return errors.New("session store unavailable")
	})
	run, err := in.Listen()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	w := NewEventWriter(dir)
	require.NoError(t, w.SessionEnded("s-1", "u"))
	require.NoError(t, w.SessionEnded("s-2", "u"))
	require.Eventually(t, func() bool { return len(calls) == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, Event{Type: EventSessionEnded, SessionID: "s"}.Validate())
	assert.Error(t, Event{Type: EventSessionEnded}.Validate())
	assert.ErrorIs(t, Event{Type: "memory_created", SessionID: "s"}.Validate(), ErrUnknownEvent)
}

func TestFileDispatcherWritesNotification(t *testing.T) {
	dir := t.TempDir()
	d := NewFileDispatcher(dir)

	sentAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n := NotificationFor(&types.EngagementTrigger{
		ID:           "trig-1",
		UserID:       "u1",
		Type:         types.TriggerMissYou,
		Message:      "Hey, it's been a while!",
		ScheduledFor: sentAt.Add(-time.Hour),
	}, "s1", sentAt)

	require.NoError(t, d.Deliver(context.Background(), "u1", n))
	// A second delivery of the same trigger overwrites.
	require.NoError(t, d.Deliver(context.Background(), "u1", n))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, "trig-1.json"))
	require.NoError(t, err)
	var got Notification
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, types.TriggerMissYou, got.Type)
	assert.True(t, got.SentAt.Equal(sentAt))
}

type failingDispatcher struct{ err error }

func (f failingDispatcher) Deliver(context.Context, string, Notification) error { return f.err }

type countingDispatcher struct{ n int }

func (c *countingDispatcher) Deliver(context.Context, string, Notification) error {
	c.n++
	return nil
}

func TestMultiTriesEveryDispatcher(t *testing.T) {
	counter := &countingDispatcher{}
	m := Multi{failingDispatcher{err: ErrUserOffline}, nil, counter, NewLogDispatcher(zerolog.Nop())}

	err := m.Deliver(context.Background(), "u1", Notification{TriggerID: "t1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUserOffline))
	assert.Equal(t, 1, counter.n)

	assert.NoError(t, Multi{counter}.Deliver(context.Background(), "u1", Notification{}))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "mem_general_abc_def", sanitizeID("mem:general:abc/def"))
}
