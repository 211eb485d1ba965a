package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tournament-rewards/internal/models"
)

// ErrDuplicateSuccess is returned when a SUCCESS row with the same success
// key already exists.
var ErrDuplicateSuccess = errors.New("ledger: success already recorded")

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends entry. SUCCESS rows are checked against their success key
// inside the insert transaction; the unique index backs the check up when two
// writers race.
func (r *LedgerRepository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.SuccessKey != nil {
			var count int64
			err := tx.Model(&models.LedgerEntry{}).
				Where("success_key = ?", *entry.SuccessKey).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateSuccess
			}
		}

		err := tx.Create(entry).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSuccess
		}
		return err
	})
}

func (r *LedgerRepository) ExistsSuccessByKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("success_key = ? AND status = ?", key, models.LedgerStatusSuccess).
		Count(&count).Error
	return count > 0, err
}

func (r *LedgerRepository) ExistsSuccessByTxHash(ctx context.Context, txHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("tx_hash = ? AND status = ?", txHash, models.LedgerStatusSuccess).
		Count(&count).Error
	return count > 0, err
}

// LatestSubmittedForTier returns the newest RECEIVE_REWARD row for the tier
// that carries a tx hash, or nil when nothing was ever submitted.
func (r *LedgerRepository) LatestSubmittedForTier(ctx context.Context, tournamentID uint64, rank int) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("tournament_id = ? AND tier_rank = ? AND type = ? AND tx_hash <> ''",
			tournamentID, rank, models.LedgerTypeReceiveReward).
		Order("id DESC").
		First(&entry).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) GetByTournament(ctx context.Context, tournamentID uint64) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) GetRecent(ctx context.Context, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if limit <= 0 {
		limit = 10
	}
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) CountByStatus(ctx context.Context, tournamentID uint64, entryType models.LedgerEntryType, status models.LedgerStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("tournament_id = ? AND type = ? AND status = ?", tournamentID, entryType, status).
		Count(&count).Error
	return count, err
}
