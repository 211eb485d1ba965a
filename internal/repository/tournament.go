package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tournament-rewards/internal/models"
)

// ErrAlreadyDistributed is returned when the reward_distributed flag was set
// by someone else between the check and the update.
var ErrAlreadyDistributed = errors.New("tournament rewards already distributed")

type TournamentRepository struct {
	db *gorm.DB
}

func NewTournamentRepository(db *gorm.DB) *TournamentRepository {
	return &TournamentRepository{db: db}
}

func (r *TournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// GetByID returns nil, nil when the tournament does not exist.
func (r *TournamentRepository) GetByID(ctx context.Context, id uint64) (*models.Tournament, error) {
	var t models.Tournament
	err := r.db.WithContext(ctx).First(&t, id).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListAwaitingSettlement returns completed tournaments whose rewards were not
// distributed yet, oldest first.
func (r *TournamentRepository) ListAwaitingSettlement(ctx context.Context, limit int) ([]models.Tournament, error) {
	var tournaments []models.Tournament
	query := r.db.WithContext(ctx).
		Where("status = ? AND reward_distributed = ?", models.TournamentStatusCompleted, false).
		Order("id ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&tournaments).Error
	return tournaments, err
}

// MarkRewardDistributed flips reward_distributed 0→1 and stores the summary in
// one transaction. The conditional update is the check-then-set: exactly one
// caller can ever see RowsAffected == 1.
func (r *TournamentRepository) MarkRewardDistributed(ctx context.Context, id uint64, summary models.JSONB) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.Tournament{}).
			Where("id = ? AND reward_distributed = ?", id, false).
			Updates(map[string]interface{}{
				"reward_distributed":   true,
				"distributed_at":       now,
				"distribution_summary": summary,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrAlreadyDistributed
		}
		return nil
	})
}
