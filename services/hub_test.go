package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyquiz/session"
)

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type hubFixture struct {
	stack
	hub *Hub
	srv *httptest.Server
}

func newHubFixture(t *testing.T) hubFixture {
	t.Helper()
	st := newStack(t)
	hub := NewHub(st.svc)
	st.fanout.Subscribe(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := strconv.ParseUint(r.URL.Query().Get("session"), 10, 64)
		playerID, _ := strconv.ParseUint(r.URL.Query().Get("player"), 10, 64)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.RegisterClient(conn, sessionID, playerID)
	}))
	t.Cleanup(srv.Close)

	return hubFixture{stack: st, hub: hub, srv: srv}
}

func (f hubFixture) dial(t *testing.T, sessionID, playerID uint64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		"?session=" + strconv.FormatUint(sessionID, 10) +
		"&player=" + strconv.FormatUint(playerID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of type want satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, want string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func snapshotWith(pred func(session.Snapshot) bool) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var snap session.Snapshot
		return json.Unmarshal(raw, &snap) == nil && pred(snap)
	}
}

func TestHub_SyncOnConnectAndPushOnChange(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	wa := f.svc.WaitingAreaID()

	conn := f.dial(t, wa, 0)
	readUntil(t, conn, "session_update", snapshotWith(func(s session.Snapshot) bool {
		return s.ID == wa && len(s.Players) == 0
	}))

	_, err := f.svc.Join(ctx, wa, &JoinSessionRequest{Username: "Alice"})
	require.NoError(t, err)

	readUntil(t, conn, "session_update", snapshotWith(func(s session.Snapshot) bool {
		return len(s.Players) == 1 && s.Players[0].Username == "Alice"
	}))
}

func TestHub_ClientFollowsPlayerIntoGame(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	wa := f.svc.WaitingAreaID()

	alice, err := f.svc.Join(ctx, wa, &JoinSessionRequest{Username: "Alice"})
	require.NoError(t, err)
	bob, err := f.svc.Join(ctx, wa, &JoinSessionRequest{Username: "Bob"})
	require.NoError(t, err)

	conn := f.dial(t, wa, alice.Player.ID)
	readUntil(t, conn, "session_update", nil)

	require.NoError(t, conn.WriteJSON(Message{Type: "ready"}))
	readUntil(t, conn, "session_update", snapshotWith(func(s session.Snapshot) bool {
		return s.ID == wa && s.ReadyCount == 1
	}))
	_, err = f.svc.MarkReady(wa, bob.Player.ID, nil)
	require.NoError(t, err)

	raw := readUntil(t, conn, "session_update", snapshotWith(func(s session.Snapshot) bool {
		return s.Kind == session.KindMultiplayer
	}))
	var game session.Snapshot
	require.NoError(t, json.Unmarshal(raw, &game))
	_, present := game.Player(alice.Player.ID)
	assert.True(t, present)

	located, err := f.svc.Locate(alice.Player.ID)
	require.NoError(t, err)
	assert.Equal(t, game.ID, located)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]uint64{alice.Player.ID}, f.hub.ConnectedPlayers(game.ID))
	}, time.Second, 5*time.Millisecond)
}

func TestHub_PingAndErrors(t *testing.T) {
	f := newHubFixture(t)
	wa := f.svc.WaitingAreaID()

	spectator := f.dial(t, wa, 0)
	readUntil(t, spectator, "session_update", nil)

	require.NoError(t, spectator.WriteJSON(Message{Type: "ping"}))
	readUntil(t, spectator, "pong", nil)

	require.NoError(t, spectator.WriteJSON(Message{Type: "ready"}))
	raw := readUntil(t, spectator, "error", nil)
	var failure errorPayload
	require.NoError(t, json.Unmarshal(raw, &failure))
	assert.Equal(t, "ready", failure.Op)

	player := f.dial(t, wa, 777)
	readUntil(t, player, "session_update", nil)
	require.NoError(t, player.WriteJSON(Message{Type: "evaluate"}))
	raw = readUntil(t, player, "error", nil)
	require.NoError(t, json.Unmarshal(raw, &failure))
	assert.Equal(t, "evaluate", failure.Op)
	assert.Contains(t, failure.Error, "not found")
}

func TestHub_SessionClosedBroadcast(t *testing.T) {
	f := newHubFixture(t)

	snap, err := f.svc.Create(&CreateSessionRequest{Kind: "multiplayer"})
	require.NoError(t, err)
	conn := f.dial(t, snap.ID, 0)
	readUntil(t, conn, "session_update", nil)

	sent := f.hub.BroadcastToSession(snap.ID, "notice", map[string]string{"text": "hello"})
	assert.Equal(t, 1, sent)
	readUntil(t, conn, "notice", nil)

	f.hub.SessionRemoved(context.Background(), snap)
	raw := readUntil(t, conn, "session_closed", nil)
	assert.Contains(t, string(raw), `"session_id":`+strconv.FormatUint(snap.ID, 10))
}
