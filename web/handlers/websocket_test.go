package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/pkg/types"
	"github.com/scrypster/riya/web/handlers"
)

func newHub(t *testing.T) *handlers.WebSocketHub {
	t.Helper()
	hub := handlers.NewWebSocketHub([]string{"http://localhost:6464"}, zerolog.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func upgradeRequest(target, origin string) *http.Request {
	req := httptest.NewRequest("GET", target, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func TestWebSocketHub_ValidatesOrigin(t *testing.T) {
	hub := newHub(t)

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, upgradeRequest("/ws?user_id=u1", "http://evil.com"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Forbidden")
}

func TestWebSocketHub_RequiresUser(t *testing.T) {
	hub := newHub(t)

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, upgradeRequest("/ws", "http://localhost:6464"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketHub_DeliverOffline(t *testing.T) {
	hub := newHub(t)

	err := hub.Deliver(context.Background(), "u1", notify.Notification{TriggerID: "t1"})
	assert.ErrorIs(t, err, notify.ErrUserOffline)
}

func TestWebSocketHub_DeliverOnlyToUser(t *testing.T) {
	hub := newHub(t)

	mine := &handlers.MockClient{UserID: "u1", SendChan: make(chan []byte, 1)}
	other := &handlers.MockClient{UserID: "u2", SendChan: make(chan []byte, 1)}
	hub.Register(mine)
	hub.Register(other)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	err := hub.Deliver(context.Background(), "u1", notify.Notification{
		TriggerID: "t1",
		Type:      types.TriggerCheckIn,
		Message:   "How did the interview go?",
	})
	require.NoError(t, err)

	select {
	case frame := <-mine.SendChan:
		var env struct {
			Type string              `json:"type"`
			Data notify.Notification `json:"data"`
		}
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "notification", env.Type)
		assert.Equal(t, "t1", env.Data.TriggerID)
		assert.Equal(t, "How did the interview go?", env.Data.Message)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
	assert.Empty(t, other.SendChan)
}

func TestWebSocketHub_SlowClientDisconnected(t *testing.T) {
	hub := newHub(t)

	slow := &handlers.MockClient{UserID: "u1", SendChan: make(chan []byte)}
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.SendToUser("u1", "stage_changed", map[string]string{"to": "friendly"}))
	assert.Equal(t, 0, hub.ClientCount())

	_, open := <-slow.SendChan
	assert.False(t, open)
}

func TestWebSocketHub_RealConnection(t *testing.T) {
	hub := newHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=u1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Deliver(ctx, "u1", notify.Notification{TriggerID: "t9", Message: "miss you"}))

	_, frame, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"trigger_id":"t9"`)
	assert.Contains(t, string(frame), `"type":"notification"`)
}
