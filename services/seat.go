package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSeat = errors.New("invalid seat token")

// SeatClaims bind a bearer to the player id it joined as. A player keeps its
// id across transfers, so the token stays valid when the player moves
// between sessions.
type SeatClaims struct {
	PlayerID uint64 `json:"pid"`
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// SeatIssuer signs and verifies seat tokens.
type SeatIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSeatIssuer(secret string, ttl time.Duration) *SeatIssuer {
	return &SeatIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *SeatIssuer) Issue(playerID uint64, username string) (string, error) {
	now := s.now()
	claims := SeatClaims{
		PlayerID: playerID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(playerID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign seat token: %w", err)
	}
	return token, nil
}

func (s *SeatIssuer) Verify(raw string) (*SeatClaims, error) {
	var claims SeatClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeat, err)
	}
	if claims.PlayerID == 0 {
		return nil, ErrInvalidSeat
	}
	return &claims, nil
}
