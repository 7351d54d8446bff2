package models

import (
	"time"
)

// GameAnswer records the points one player earned in one round.
type GameAnswer struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	GameID       uint      `json:"game_id" gorm:"index;not null"`
	PlayerID     uint      `json:"player_id" gorm:"not null"`
	Round        int       `json:"round" gorm:"not null"`
	QuestionKind string    `json:"question_kind" gorm:"not null"`
	Points       int       `json:"points" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}
