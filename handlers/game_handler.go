package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"energyquiz/middleware"
	"energyquiz/services"
)

type GameHandler struct {
	gameService      *services.GameService
	hub              *services.Hub
	upgrader         websocket.Upgrader
	leaderboardLimit int
}

func NewGameHandler(gameService *services.GameService, hub *services.Hub, leaderboardLimit int) *GameHandler {
	return &GameHandler{
		gameService: gameService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is open for every route
			},
		},
		leaderboardLimit: leaderboardLimit,
	}
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// seatPlayer parses the player id from the path and checks it against the
// seat token.
func seatPlayer(c *gin.Context) (uint64, bool) {
	playerID, ok := parseID(c, "playerID")
	if !ok {
		return 0, false
	}
	if seat, ok := middleware.SeatPlayerID(c); !ok || seat != playerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Seat token does not match player"})
		return 0, false
	}
	return playerID, true
}

func (h *GameHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.gameService.List())
}

func (h *GameHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.gameService.Create(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *GameHandler) GetWaitingArea(c *gin.Context) {
	snap, err := h.gameService.Get(c.Request.Context(), h.gameService.WaitingAreaID())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *GameHandler) GetSession(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}

	snap, err := h.gameService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// PollSession long-polls for a snapshot newer than the since query
// parameter.
func (h *GameHandler) PollSession(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since version"})
		return
	}

	snap, err := h.gameService.Poll(c.Request.Context(), id, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *GameHandler) JoinSession(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	var req services.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gameService.Join(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *GameHandler) StartSession(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}

	snap, err := h.gameService.Start(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *GameHandler) PlayAgain(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}

	snap, err := h.gameService.PlayAgain(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *GameHandler) CurrentQuestion(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}

	q, err := h.gameService.CurrentQuestion(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *GameHandler) LeaveSession(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	playerID, ok := seatPlayer(c)
	if !ok {
		return
	}

	player, err := h.gameService.Leave(id, playerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

func (h *GameHandler) MarkReady(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	playerID, ok := seatPlayer(c)
	if !ok {
		return
	}
	var req services.ReadyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	count, err := h.gameService.MarkReady(id, playerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready_count": count})
}

func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	playerID, ok := seatPlayer(c)
	if !ok {
		return
	}
	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.gameService.SubmitAnswer(id, playerID, &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Answer recorded"})
}

func (h *GameHandler) UseJoker(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	playerID, ok := seatPlayer(c)
	if !ok {
		return
	}
	var req services.UseJokerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gameService.UseJoker(id, playerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *GameHandler) Evaluate(c *gin.Context) {
	id, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	playerID, ok := seatPlayer(c)
	if !ok {
		return
	}

	ev, err := h.gameService.Evaluate(id, playerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h *GameHandler) LocatePlayer(c *gin.Context) {
	playerID, ok := parseID(c, "playerID")
	if !ok {
		return
	}

	sessionID, err := h.gameService.Locate(playerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"player_id": playerID, "session_id": sessionID})
}

func (h *GameHandler) Leaderboard(c *gin.Context) {
	limit := h.leaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	entries, err := h.gameService.Leaderboard(c.Request.Context(), c.Param("kind"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ServeWS upgrades the request and attaches the connection to the hub. The
// playerID path parameter is optional; without it the client spectates.
func (h *GameHandler) ServeWS(c *gin.Context) {
	sessionID, ok := parseID(c, "sessionID")
	if !ok {
		return
	}
	var playerID uint64
	if c.Param("playerID") != "" {
		if playerID, ok = seatPlayer(c); !ok {
			return
		}
		// The player may have been transferred since the client last looked.
		if located, err := h.gameService.Locate(playerID); err == nil {
			sessionID = located
		}
	}

	if _, err := h.gameService.Get(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Warn().Err(err).Uint64("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}

	log.Info().Uint64("session_id", sessionID).Uint64("player_id", playerID).Msg("websocket connection established")
	h.hub.RegisterClient(conn, sessionID, playerID)
}
