package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"energyquiz/models"
	"energyquiz/session"
)

// PlayerService persists best scores and finished games.
type PlayerService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPlayerService(db *gorm.DB) *PlayerService {
	return &PlayerService{db: db, now: time.Now}
}

// BestScores returns the stored best scores for username; unknown names
// have none.
func (s *PlayerService) BestScores(ctx context.Context, username string) (session.BestScores, error) {
	var player models.Player
	err := s.db.WithContext(ctx).Where("username = ?", strings.ToLower(username)).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.BestScores{}, nil
	}
	if err != nil {
		return session.BestScores{}, fmt.Errorf("failed to load player %q: %w", username, err)
	}
	return bestScoresOf(player), nil
}

// GetPlayer returns the durable record for username.
func (s *PlayerService) GetPlayer(ctx context.Context, username string) (*models.Player, error) {
	var player models.Player
	err := s.db.WithContext(ctx).
		Where("username = ?", strings.ToLower(username)).
		Preload("Scores", func(db *gorm.DB) *gorm.DB {
			return db.Order("game_scores.created_at DESC").Limit(20)
		}).
		First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrPlayerNotFound
	}
	return &player, err
}

// RecordGame stores a finished game with every player's final standing and
// per-round points. Removed players are recorded with Left set. Best scores
// only ever go up.
func (s *PlayerService) RecordGame(ctx context.Context, snap session.Snapshot) error {
	standings := snap.Standings()
	if len(standings) == 0 {
		return nil
	}
	left := make(map[uint64]bool, len(snap.RemovedPlayers))
	for _, p := range snap.RemovedPlayers {
		left[p.ID] = true
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game := models.Game{
			SessionID: snap.ID,
			Kind:      snap.Kind.String(),
			Rounds:    snap.Round,
			Abandoned: len(snap.Players) == 0,
			EndedAt:   s.now(),
		}
		if err := tx.Create(&game).Error; err != nil {
			return fmt.Errorf("failed to create game: %w", err)
		}

		rowIDs := make(map[uint64]uint, len(standings))
		for rank, p := range standings {
			record, err := s.upsertPlayer(tx, p, snap.Kind, game.EndedAt)
			if err != nil {
				return err
			}
			rowIDs[p.ID] = record.ID

			score := models.GameScore{
				GameID:   game.ID,
				PlayerID: record.ID,
				Points:   p.Points,
				Rank:     rank + 1,
				Left:     left[p.ID],
			}
			if err := tx.Create(&score).Error; err != nil {
				return fmt.Errorf("failed to store score for %q: %w", p.Username, err)
			}
		}

		answers := make([]models.GameAnswer, 0, len(snap.History))
		for _, rec := range snap.History {
			playerID, ok := rowIDs[rec.PlayerID]
			if !ok {
				continue
			}
			answers = append(answers, models.GameAnswer{
				GameID:       game.ID,
				PlayerID:     playerID,
				Round:        rec.Round,
				QuestionKind: rec.Kind.String(),
				Points:       rec.Points,
			})
		}
		if len(answers) > 0 {
			if err := tx.CreateInBatches(&answers, 200).Error; err != nil {
				return fmt.Errorf("failed to store round results: %w", err)
			}
		}
		return nil
	})
}

func (s *PlayerService) upsertPlayer(tx *gorm.DB, p session.Player, kind session.Kind, at time.Time) (*models.Player, error) {
	var record models.Player
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("username = ?", strings.ToLower(p.Username)).
		First(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.Player{
			Username:    strings.ToLower(p.Username),
			DisplayName: p.Username,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load player %q: %w", p.Username, err)
	}

	best := bestScoresOf(record).Raise(kind, p.Points)
	record.BestSingleplayer = best.Singleplayer
	record.BestMultiplayer = best.Multiplayer
	record.BestSurvival = best.Survival
	record.BestTimeAttack = best.TimeAttack
	record.GamesPlayed++
	record.LastPlayedAt = &at

	if err := tx.Save(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to save player %q: %w", p.Username, err)
	}
	return &record, nil
}

func bestScoresOf(p models.Player) session.BestScores {
	return session.BestScores{
		Singleplayer: p.BestSingleplayer,
		Multiplayer:  p.BestMultiplayer,
		Survival:     p.BestSurvival,
		TimeAttack:   p.BestTimeAttack,
	}
}
