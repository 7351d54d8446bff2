package models

import (
	"time"

	"gorm.io/gorm"

	"energyquiz/question"
)

type Activity struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Name        string         `json:"name" gorm:"uniqueIndex;not null"`
	Consumption float64        `json:"consumption" gorm:"not null"` // per occurrence, in Unit
	Unit        string         `json:"unit" gorm:"not null;default:'kWh'"`
	Category    string         `json:"category" gorm:"index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// ToQuestion converts the row into the generator's activity type.
func (a Activity) ToQuestion() question.Activity {
	return question.Activity{
		ID:          a.ID,
		Name:        a.Name,
		Consumption: a.Consumption,
		Unit:        a.Unit,
		Category:    a.Category,
	}
}
