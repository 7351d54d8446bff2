package models

import (
	"time"

	"gorm.io/gorm"
)

// Game is a finished session.
type Game struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	SessionID uint64         `json:"session_id" gorm:"index;not null"`
	Kind      string         `json:"kind" gorm:"not null"` // singleplayer, multiplayer, survival, time_attack
	Rounds    int            `json:"rounds" gorm:"not null"`
	Abandoned bool           `json:"abandoned" gorm:"not null;default:false"` // every player left before the end
	EndedAt   time.Time      `json:"ended_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Scores  []GameScore  `json:"scores,omitempty" gorm:"foreignKey:GameID"`
	Answers []GameAnswer `json:"answers,omitempty" gorm:"foreignKey:GameID"`
}

// GameScore is one player's final standing in a game.
type GameScore struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	GameID    uint      `json:"game_id" gorm:"index;not null"`
	PlayerID  uint      `json:"player_id" gorm:"index;not null"`
	Points    int       `json:"points" gorm:"not null"`
	Rank      int       `json:"rank" gorm:"not null"`
	Left      bool      `json:"left" gorm:"not null;default:false"` // removed before the game ended
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Player Player `json:"player,omitempty"`
}
