package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"energyquiz/handlers"
	"energyquiz/middleware"
)

func SetupRoutes(
	router *gin.Engine,
	gameHandler *handlers.GameHandler,
	activityHandler *handlers.ActivityHandler,
	seats middleware.SeatVerifier,
) {
	seatAuth := middleware.SeatAuth(seats)

	// API routes
	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.GET("", gameHandler.ListSessions)
			sessions.POST("", gameHandler.CreateSession)
			sessions.GET("/waiting-area", gameHandler.GetWaitingArea)
			sessions.GET("/:sessionID", gameHandler.GetSession)
			sessions.GET("/:sessionID/poll", gameHandler.PollSession)
			sessions.GET("/:sessionID/question", gameHandler.CurrentQuestion)
			sessions.POST("/:sessionID/start", gameHandler.StartSession)
			sessions.POST("/:sessionID/play-again", gameHandler.PlayAgain)
			sessions.POST("/:sessionID/players", gameHandler.JoinSession)

			// Player actions need the seat token issued on join
			seated := sessions.Group("/:sessionID/players/:playerID", seatAuth)
			{
				seated.DELETE("", gameHandler.LeaveSession)
				seated.POST("/ready", gameHandler.MarkReady)
				seated.POST("/answer", gameHandler.SubmitAnswer)
				seated.POST("/jokers", gameHandler.UseJoker)
				seated.GET("/evaluation", gameHandler.Evaluate)
			}
		}

		api.GET("/players/:playerID/session", gameHandler.LocatePlayer)
		api.GET("/leaderboard/:kind", gameHandler.Leaderboard)

		if activityHandler != nil {
			activities := api.Group("/activities")
			{
				activities.GET("", activityHandler.ListActivities)
				activities.POST("", activityHandler.CreateActivity)
				activities.GET("/:id", activityHandler.GetActivity)
				activities.DELETE("/:id", activityHandler.DeleteActivity)
			}
		}
	}

	// WebSocket endpoints for live session updates
	router.GET("/ws/:sessionID", gameHandler.ServeWS)
	router.GET("/ws/:sessionID/:playerID", seatAuth, gameHandler.ServeWS)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
