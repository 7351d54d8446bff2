package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"energyquiz/models"
	"energyquiz/question"
)

var ErrActivityNotFound = errors.New("activity not found")

// ActivityService manages the activity catalog and serves it to the
// question generator.
type ActivityService struct {
	db *gorm.DB
}

func NewActivityService(db *gorm.DB) *ActivityService {
	return &ActivityService{db: db}
}

type CreateActivityRequest struct {
	Name        string  `json:"name" binding:"required"`
	Consumption float64 `json:"consumption" binding:"required,gt=0"`
	Unit        string  `json:"unit"`
	Category    string  `json:"category"`
}

func (s *ActivityService) CreateActivity(ctx context.Context, req *CreateActivityRequest) (*models.Activity, error) {
	activity := models.Activity{
		Name:        strings.TrimSpace(req.Name),
		Consumption: req.Consumption,
		Unit:        req.Unit,
		Category:    req.Category,
	}
	if activity.Unit == "" {
		activity.Unit = "kWh"
	}

	if err := s.db.WithContext(ctx).Create(&activity).Error; err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}
	return &activity, nil
}

// ListActivities returns the catalog ordered by name, optionally narrowed to
// one category.
func (s *ActivityService) ListActivities(ctx context.Context, category string) ([]models.Activity, error) {
	var activities []models.Activity
	query := s.db.WithContext(ctx).Order("name")
	if category != "" {
		query = query.Where("category = ?", category)
	}
	err := query.Find(&activities).Error
	return activities, err
}

func (s *ActivityService) GetActivity(ctx context.Context, id uint) (*models.Activity, error) {
	var activity models.Activity
	err := s.db.WithContext(ctx).First(&activity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

func (s *ActivityService) DeleteActivity(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Activity{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActivityNotFound
	}
	return nil
}

// Import upserts activities by name in one transaction and returns how many
// rows were written.
func (s *ActivityService) Import(ctx context.Context, activities []question.Activity) (int, error) {
	rows := make([]models.Activity, 0, len(activities))
	for _, a := range activities {
		rows = append(rows, models.Activity{
			Name:        a.Name,
			Consumption: a.Consumption,
			Unit:        a.Unit,
			Category:    a.Category,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"consumption", "unit", "category", "updated_at"}),
		}).CreateInBatches(&rows, 100).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to import activities: %w", err)
	}
	return len(rows), nil
}

// RandomActivity implements question.Source over the activities table.
func (s *ActivityService) RandomActivity(ctx context.Context, rng *rand.Rand) (question.Activity, error) {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Activity{}).Count(&count).Error; err != nil {
		return question.Activity{}, fmt.Errorf("failed to count activities: %w", err)
	}
	if count == 0 {
		return question.Activity{}, question.ErrEmptySource
	}

	var activity models.Activity
	if err := db.Order("id").Offset(rng.IntN(int(count))).First(&activity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Rows deleted between count and fetch.
			return question.Activity{}, question.ErrEmptySource
		}
		return question.Activity{}, fmt.Errorf("failed to load activity: %w", err)
	}
	return activity.ToQuestion(), nil
}
