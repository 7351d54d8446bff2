package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"energyquiz/services"
)

const PlayerIDKey = "player_id"

// SeatVerifier checks seat tokens.
type SeatVerifier interface {
	VerifySeat(token string) (*services.SeatClaims, error)
}

// SeatAuth requires a seat token, from the Authorization header or the
// token query parameter (browsers cannot set headers on websocket
// upgrades), and stores the seat's player id in the context.
func SeatAuth(verifier SeatVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			bearer, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be a bearer token"})
				return
			}
			token = bearer
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Seat token required"})
			return
		}

		claims, err := verifier.VerifySeat(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid seat token"})
			return
		}
		c.Set(PlayerIDKey, claims.PlayerID)
		c.Next()
	}
}

// SeatPlayerID returns the player id set by SeatAuth.
func SeatPlayerID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(PlayerIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
