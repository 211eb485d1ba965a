package repository

import (
	"context"

	"gorm.io/gorm"

	"tournament-rewards/internal/models"
)

type RewardTierRepository struct {
	db *gorm.DB
}

func NewRewardTierRepository(db *gorm.DB) *RewardTierRepository {
	return &RewardTierRepository{db: db}
}

// GetByTournament returns the tiers ordered by rank ascending.
func (r *RewardTierRepository) GetByTournament(ctx context.Context, tournamentID uint64) ([]models.RewardTier, error) {
	var tiers []models.RewardTier
	err := r.db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("tier_rank ASC").
		Find(&tiers).Error
	return tiers, err
}

// ReplaceForTournament swaps the prize schedule of a tournament whose rewards
// have not been distributed. The distributed check runs in the same
// transaction as the write.
func (r *RewardTierRepository) ReplaceForTournament(ctx context.Context, tournamentID uint64, tiers []models.RewardTier) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tournament
		if err := tx.First(&t, tournamentID).Error; err != nil {
			return err
		}
		if t.RewardDistributed {
			return ErrAlreadyDistributed
		}

		if err := tx.Where("tournament_id = ?", tournamentID).Delete(&models.RewardTier{}).Error; err != nil {
			return err
		}
		if len(tiers) == 0 {
			return nil
		}
		for i := range tiers {
			tiers[i].ID = 0
			tiers[i].TournamentID = tournamentID
		}
		return tx.Create(&tiers).Error
	})
}
