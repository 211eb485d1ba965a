package repository

import (
	"context"

	"gorm.io/gorm"

	"tournament-rewards/internal/models"
)

type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *models.Participant) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// GetWalletIndex maps wallet address to participant for one tournament. The
// map is keyed by the address exactly as stored so lookups stay
// case-sensitive regardless of the database collation.
func (r *ParticipantRepository) GetWalletIndex(ctx context.Context, tournamentID uint64) (map[string]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Find(&participants).Error
	if err != nil {
		return nil, err
	}

	index := make(map[string]models.Participant, len(participants))
	for _, p := range participants {
		index[p.WalletAddress] = p
	}
	return index, nil
}
