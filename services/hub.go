package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"energyquiz/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Hub pushes session snapshots to websocket clients and accepts player
// actions from them. A client follows its player: when the player moves to
// another session the client moves with it.
type Hub struct {
	clients     map[*Client]bool
	unregister  chan *Client
	done        chan struct{}
	mutex       sync.RWMutex
	gameService *GameService
}

type Client struct {
	hub       *Hub
	id        string
	socket    *websocket.Conn
	send      chan []byte
	sessionID uint64 // guarded by hub.mutex
	playerID  uint64 // 0 for spectators
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

func NewHub(gameService *GameService) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		gameService: gameService,
	}
}

// Run serves unregistrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.unregister:
			h.mutex.Lock()
			if h.clients[client] {
				h.removeLocked(client)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			log.Info().Str("client_id", client.id).Int("clients", total).Msg("client unregistered")

		case <-ctx.Done():
			h.mutex.Lock()
			close(h.done)
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mutex.Unlock()
			return
		}
	}
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// deliverLocked queues data for c, dropping clients that cannot keep up.
func (h *Hub) deliverLocked(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		log.Warn().Str("client_id", c.id).Uint64("player_id", c.playerID).Msg("send buffer full, closing connection")
		h.removeLocked(c)
		return false
	}
}

func encode(messageType string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(Message{Type: messageType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", messageType).Msg("failed to marshal message")
		return nil, false
	}
	return data, true
}

// BroadcastToSession sends a message to every client attached to a session.
func (h *Hub) BroadcastToSession(sessionID uint64, messageType string, payload interface{}) int {
	data, ok := encode(messageType, payload)
	if !ok {
		return 0
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sent := 0
	for client := range h.clients {
		if client.sessionID == sessionID && h.deliverLocked(client, data) {
			sent++
		}
	}
	return sent
}

func (h *Hub) SessionChanged(_ context.Context, snap session.Snapshot) {
	data, ok := encode("session_update", snap)
	if !ok {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if client.playerID != 0 && client.sessionID != snap.ID {
			if _, present := snap.Player(client.playerID); !present {
				continue
			}
			log.Debug().
				Str("client_id", client.id).
				Uint64("from", client.sessionID).
				Uint64("to", snap.ID).
				Msg("client follows player")
			client.sessionID = snap.ID
		}
		if client.sessionID == snap.ID {
			h.deliverLocked(client, data)
		}
	}
}

func (h *Hub) SessionFinished(_ context.Context, snap session.Snapshot) {
	h.BroadcastToSession(snap.ID, "session_finished", map[string]interface{}{
		"session_id": snap.ID,
		"standings":  snap.Standings(),
	})
}

func (h *Hub) SessionRemoved(_ context.Context, snap session.Snapshot) {
	h.BroadcastToSession(snap.ID, "session_closed", map[string]interface{}{
		"session_id":      snap.ID,
		"next_session_id": snap.NextSessionID,
	})
}

// ConnectedPlayers lists the player ids with a live connection to a session.
func (h *Hub) ConnectedPlayers(sessionID uint64) []uint64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var ids []uint64
	for client := range h.clients {
		if client.sessionID == sessionID && client.playerID != 0 {
			ids = append(ids, client.playerID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (h *Hub) IsPlayerConnected(playerID uint64) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.playerID == playerID {
			return true
		}
	}
	return false
}

// RegisterClient attaches conn to a session and starts its pumps. A zero
// playerID registers a spectator. It returns nil once the hub has stopped.
func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID, playerID uint64) *Client {
	client := &Client{
		hub:       h,
		id:        uuid.NewString(),
		socket:    conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: sessionID,
		playerID:  playerID,
	}

	h.mutex.Lock()
	select {
	case <-h.done:
		h.mutex.Unlock()
		conn.Close()
		return nil
	default:
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mutex.Unlock()

	log.Info().
		Str("client_id", client.id).
		Uint64("session_id", sessionID).
		Uint64("player_id", playerID).
		Int("clients", total).
		Msg("client registered")

	go client.writePump()
	go client.readPump()

	client.sync()
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (c *Client) currentSession() uint64 {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	return c.sessionID
}

// reply queues a message for this client only.
func (c *Client) reply(messageType string, payload interface{}) {
	data, ok := encode(messageType, payload)
	if !ok {
		return
	}
	c.hub.mutex.Lock()
	defer c.hub.mutex.Unlock()
	if c.hub.clients[c] {
		c.hub.deliverLocked(c, data)
	}
}

func (c *Client) fail(op string, err error) {
	c.reply("error", errorPayload{Op: op, Error: err.Error()})
}

func (c *Client) sync() {
	snap, err := c.hub.gameService.Get(context.Background(), c.currentSession())
	if err != nil {
		c.fail("sync", err)
		return
	}
	c.reply("session_update", snap)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.fail("decode", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var errSpectator = errors.New("spectators cannot act in a session")

func (c *Client) handleMessage(msg inboundMessage) {
	svc := c.hub.gameService
	sessionID := c.currentSession()

	switch msg.Type {
	case "ping":
		c.reply("pong", nil)
		return
	case "sync":
		c.sync()
		return
	}

	if c.playerID == 0 {
		c.fail(msg.Type, errSpectator)
		return
	}

	switch msg.Type {
	case "ready":
		var req ReadyRequest
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				c.fail(msg.Type, err)
				return
			}
		}
		if _, err := svc.MarkReady(sessionID, c.playerID, &req); err != nil {
			c.fail(msg.Type, err)
		}

	case "answer":
		var req SubmitAnswerRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.fail(msg.Type, err)
			return
		}
		if err := svc.SubmitAnswer(sessionID, c.playerID, &req); err != nil {
			c.fail(msg.Type, err)
		}

	case "joker":
		var req UseJokerRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.fail(msg.Type, err)
			return
		}
		res, err := svc.UseJoker(sessionID, c.playerID, &req)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply("joker_result", res)

	case "evaluate":
		ev, err := svc.Evaluate(sessionID, c.playerID)
		if err != nil {
			c.fail(msg.Type, err)
			return
		}
		c.reply("evaluation", ev)

	case "leave":
		if _, err := svc.Leave(sessionID, c.playerID); err != nil {
			c.fail(msg.Type, err)
		}

	default:
		log.Debug().Str("type", msg.Type).Str("client_id", c.id).Msg("unknown message type")
		c.fail(msg.Type, errors.New("unknown message type"))
	}
}
