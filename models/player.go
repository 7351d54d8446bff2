package models

import (
	"time"

	"gorm.io/gorm"
)

// Player is the durable record behind a display name. Usernames are stored
// lower-cased so best scores follow a name regardless of its spelling.
type Player struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Username         string         `json:"username" gorm:"uniqueIndex;not null"`
	DisplayName      string         `json:"display_name" gorm:"not null"`
	BestSingleplayer int            `json:"best_singleplayer" gorm:"not null;default:0"`
	BestMultiplayer  int            `json:"best_multiplayer" gorm:"not null;default:0"`
	BestSurvival     int            `json:"best_survival" gorm:"not null;default:0"`
	BestTimeAttack   int            `json:"best_time_attack" gorm:"not null;default:0"`
	GamesPlayed      int            `json:"games_played" gorm:"not null;default:0"`
	LastPlayedAt     *time.Time     `json:"last_played_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Scores []GameScore `json:"scores,omitempty" gorm:"foreignKey:PlayerID"`
}
