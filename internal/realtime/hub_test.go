package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"todo-tracker/internal/logging"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenResolver map[string]uuid.UUID

func (r tokenResolver) ResolveCaller(ctx context.Context, token string) (uuid.UUID, error) {
	if owner, ok := r[token]; ok {
		return owner, nil
	}
	return uuid.Nil, errors.New("unknown token")
}

type received struct {
	Type    string          `json:"type"`
	UserID  string          `json:"user_id"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, resolver CallerResolver, opts Options) (*Hub, string) {
	t.Helper()
	hub := NewHub(resolver, opts, logging.Discard())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

func join(t *testing.T, conn *websocket.Conn, token string) received {
	t.Helper()
	send(t, conn, map[string]string{"type": "join", "token": token})
	return readMessage(t, conn)
}

func TestHub_OwnerIsolation(t *testing.T) {
	ownerA := uuid.Must(uuid.NewV4())
	ownerB := uuid.Must(uuid.NewV4())
	hub, url := startHub(t, tokenResolver{"token-a": ownerA, "token-b": ownerB}, Options{})

	a1 := dial(t, url)
	a2 := dial(t, url)
	b1 := dial(t, url)

	ack := join(t, a1, "token-a")
	assert.Equal(t, "joined", ack.Type)
	assert.Equal(t, ownerA.String(), ack.UserID)
	join(t, a2, "token-a")
	join(t, b1, "token-b")

	assert.Equal(t, 2, hub.OwnerConnectionCount(ownerA))
	assert.Equal(t, 3, hub.ConnectionCount())

	todoID := uuid.Must(uuid.NewV4())
	hub.Broadcast(ownerA, NewEvent(EventTodoCreated, map[string]string{"id": todoID.String(), "title": "New"}))

	for _, conn := range []*websocket.Conn{a1, a2} {
		msg := readMessage(t, conn)
		assert.Equal(t, EventTodoCreated, msg.Type)
		assert.Contains(t, string(msg.Payload), todoID.String())
	}
	expectSilence(t, b1)
}

func TestHub_NothingBeforeJoin(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())
	hub, url := startHub(t, tokenResolver{"token": owner}, Options{})

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Stats()["open_connections"].(int64) == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(owner, NewEvent(EventTodoUpdated, nil))
	expectSilence(t, conn)
}

func TestHub_JoinRejected(t *testing.T) {
	hub, url := startHub(t, tokenResolver{}, Options{})
	conn := dial(t, url)

	msg := join(t, conn, "bogus")
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unauthorized", msg.Message)
	assert.Equal(t, 0, hub.ConnectionCount())

	send(t, conn, map[string]string{"type": "dance"})
	assert.Equal(t, "error", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "invalid message", readMessage(t, conn).Message)
}

func TestHub_RejoinMovesConnection(t *testing.T) {
	ownerA := uuid.Must(uuid.NewV4())
	ownerB := uuid.Must(uuid.NewV4())
	hub, url := startHub(t, tokenResolver{"a": ownerA, "b": ownerB}, Options{})

	conn := dial(t, url)
	join(t, conn, "a")
	join(t, conn, "b")

	assert.Equal(t, 0, hub.OwnerConnectionCount(ownerA))
	assert.Equal(t, 1, hub.OwnerConnectionCount(ownerB))

	hub.Broadcast(ownerA, NewEvent(EventTodoDeleted, IDPayload{ID: uuid.Must(uuid.NewV4())}))
	expectSilence(t, conn)

	send(t, conn, map[string]string{"type": "leave"})
	assert.Equal(t, "left", readMessage(t, conn).Type)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHub_CloseRemovesConnection(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())
	hub, url := startHub(t, tokenResolver{"t": owner}, Options{})

	conn := dial(t, url)
	join(t, conn, "t")
	require.Equal(t, 1, hub.OwnerConnectionCount(owner))

	conn.Close()
	require.Eventually(t, func() bool { return hub.OwnerConnectionCount(owner) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_EventsArriveInOrder(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())
	hub, url := startHub(t, tokenResolver{"t": owner}, Options{SendBuffer: 128})

	conn := dial(t, url)
	join(t, conn, "t")

	types := []string{EventTodoCreated, EventTodoUpdated, EventTodoDeleted, EventTodoRestored, EventTodoPermanentlyDeleted}
	for _, eventType := range types {
		hub.Broadcast(owner, NewEvent(eventType, nil))
	}
	for _, eventType := range types {
		assert.Equal(t, eventType, readMessage(t, conn).Type)
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(nil, Options{SendBuffer: 1}, logging.Discard())
	owner := uuid.Must(uuid.NewV4())
	c := &Client{hub: hub, send: make(chan []byte, 1), done: make(chan struct{})}
	hub.Join(owner, c)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(owner, NewEvent(EventTodoCreated, nil))
		hub.Broadcast(owner, NewEvent(EventTodoUpdated, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}
	assert.Len(t, c.send, 1)
	assert.Equal(t, int64(1), hub.Stats()["dropped_events"])
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(nil, Options{AllowedOrigins: []string{"http://app.example.com"}}, logging.Discard())

	req := httptest.NewRequest("GET", "http://api.example.com/ws", nil)
	assert.True(t, hub.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "http://app.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}
