package service

import (
	"context"
	stderrors "errors"

	"tournament-rewards/internal/models"
	"tournament-rewards/internal/repository"
	"tournament-rewards/pkg/errors"
)

// LedgerWriter is the settlement engine's only path into the transaction
// history table.
type LedgerWriter struct {
	repo *repository.LedgerRepository
}

func NewLedgerWriter(repo *repository.LedgerRepository) *LedgerWriter {
	return &LedgerWriter{repo: repo}
}

// Record appends entry. SUCCESS rows get their success key here: payouts are
// keyed by (tournament, rank), everything else by tx hash.
func (w *LedgerWriter) Record(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.Status == models.LedgerStatusSuccess && entry.SuccessKey == nil {
		key := models.TxSuccessKey(entry.TxHash)
		if entry.Type == models.LedgerTypeReceiveReward && entry.TournamentID != nil && entry.Rank != nil {
			key = models.TierSuccessKey(*entry.TournamentID, *entry.Rank)
		}
		entry.SuccessKey = &key
	}

	err := w.repo.Create(ctx, entry)
	if stderrors.Is(err, repository.ErrDuplicateSuccess) {
		return errors.New(errors.ErrAlreadySettled, "success already recorded", err)
	}
	if err != nil {
		return errors.New(errors.ErrLedgerWrite, "failed to write ledger entry", err)
	}
	return nil
}

// HasSucceeded reports whether the tier already has a SUCCESS payout row.
func (w *LedgerWriter) HasSucceeded(ctx context.Context, tournamentID uint64, rank int) (bool, error) {
	ok, err := w.repo.ExistsSuccessByKey(ctx, models.TierSuccessKey(tournamentID, rank))
	if err != nil {
		return false, errors.New(errors.ErrLedgerWrite, "failed to query ledger", err)
	}
	return ok, nil
}

func (w *LedgerWriter) HasSucceededTx(ctx context.Context, txHash string) (bool, error) {
	ok, err := w.repo.ExistsSuccessByTxHash(ctx, txHash)
	if err != nil {
		return false, errors.New(errors.ErrLedgerWrite, "failed to query ledger", err)
	}
	return ok, nil
}

// LatestSubmitted returns the newest payout row for the tier that carries a
// tx hash, or nil.
func (w *LedgerWriter) LatestSubmitted(ctx context.Context, tournamentID uint64, rank int) (*models.LedgerEntry, error) {
	entry, err := w.repo.LatestSubmittedForTier(ctx, tournamentID, rank)
	if err != nil {
		return nil, errors.New(errors.ErrLedgerWrite, "failed to query ledger", err)
	}
	return entry, nil
}

func (w *LedgerWriter) ForTournament(ctx context.Context, tournamentID uint64) ([]models.LedgerEntry, error) {
	entries, err := w.repo.GetByTournament(ctx, tournamentID)
	if err != nil {
		return nil, errors.New(errors.ErrLedgerWrite, "failed to query ledger", err)
	}
	return entries, nil
}
