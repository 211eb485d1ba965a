package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tournament-rewards/internal/database"
	"tournament-rewards/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func seedTournament(t *testing.T, db *gorm.DB, status models.TournamentStatus) *models.Tournament {
	t.Helper()
	tour := &models.Tournament{Name: "spring cup", Status: status, TotalRounds: 3}
	require.NoError(t, NewTournamentRepository(db).Create(context.Background(), tour))
	return tour
}

func ptr[T any](v T) *T { return &v }

func TestTournamentMarkRewardDistributedOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTournamentRepository(db)
	tour := seedTournament(t, db, models.TournamentStatusCompleted)

	summary := models.JSONB{"total_distributed": "9000000000000000000"}
	require.NoError(t, repo.MarkRewardDistributed(ctx, tour.ID, summary))
	assert.ErrorIs(t, repo.MarkRewardDistributed(ctx, tour.ID, summary), ErrAlreadyDistributed)

	got, err := repo.GetByID(ctx, tour.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.RewardDistributed)
	assert.NotNil(t, got.DistributedAt)
	assert.Equal(t, "9000000000000000000", got.DistributionSummary["total_distributed"])
}

func TestTournamentGetByIDMissing(t *testing.T) {
	db := newTestDB(t)
	got, err := NewTournamentRepository(db).GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListAwaitingSettlement(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTournamentRepository(db)

	done := seedTournament(t, db, models.TournamentStatusCompleted)
	seedTournament(t, db, models.TournamentStatusActive)
	settled := seedTournament(t, db, models.TournamentStatusCompleted)
	require.NoError(t, repo.MarkRewardDistributed(ctx, settled.ID, nil))

	list, err := repo.ListAwaitingSettlement(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, done.ID, list[0].ID)
}

func TestRewardTiersOrderedAndImmutableAfterSettlement(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tour := seedTournament(t, db, models.TournamentStatusCompleted)
	repo := NewRewardTierRepository(db)

	require.NoError(t, repo.ReplaceForTournament(ctx, tour.ID, []models.RewardTier{
		{Rank: 3, RewardAmount: decimal.NewFromInt(1)},
		{Rank: 1, RewardAmount: decimal.NewFromInt(5)},
		{Rank: 2, RewardAmount: decimal.RequireFromString("2.5")},
	}))

	tiers, err := repo.GetByTournament(ctx, tour.ID)
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{tiers[0].Rank, tiers[1].Rank, tiers[2].Rank})
	assert.True(t, tiers[1].RewardAmount.Equal(decimal.RequireFromString("2.5")))

	require.NoError(t, NewTournamentRepository(db).MarkRewardDistributed(ctx, tour.ID, nil))
	err = repo.ReplaceForTournament(ctx, tour.ID, []models.RewardTier{{Rank: 1, RewardAmount: decimal.NewFromInt(1)}})
	assert.ErrorIs(t, err, ErrAlreadyDistributed)

	tiers, err = repo.GetByTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Len(t, tiers, 3)
}

func TestParticipantWalletIndexIsCaseSensitive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tour := seedTournament(t, db, models.TournamentStatusCompleted)
	repo := NewParticipantRepository(db)

	wallet := "0xAbC0000000000000000000000000000000000001"
	require.NoError(t, repo.Create(ctx, &models.Participant{TournamentID: tour.ID, UserID: 7, WalletAddress: wallet}))

	index, err := repo.GetWalletIndex(ctx, tour.ID)
	require.NoError(t, err)
	_, ok := index[wallet]
	assert.True(t, ok)
	_, ok = index["0xabc0000000000000000000000000000000000001"]
	assert.False(t, ok)
}

func TestLedgerSuccessWrittenAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(db)
	tour := seedTournament(t, db, models.TournamentStatusCompleted)

	newSuccess := func(hash string) *models.LedgerEntry {
		return &models.LedgerEntry{
			TournamentID: ptr(tour.ID),
			Rank:         ptr(1),
			Actor:        "0xcustodian",
			Type:         models.LedgerTypeReceiveReward,
			TxHash:       hash,
			Amount:       "5000000000000000000",
			Status:       models.LedgerStatusSuccess,
			Description:  models.RewardDescription(tour.ID, 1),
			SuccessKey:   ptr(models.TierSuccessKey(tour.ID, 1)),
		}
	}

	require.NoError(t, repo.Create(ctx, newSuccess("0xaaa")))
	assert.ErrorIs(t, repo.Create(ctx, newSuccess("0xbbb")), ErrDuplicateSuccess)

	ok, err := repo.ExistsSuccessByKey(ctx, models.TierSuccessKey(tour.ID, 1))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsSuccessByTxHash(ctx, "0xaaa")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsSuccessByTxHash(ctx, "0xbbb")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.CountByStatus(ctx, tour.ID, models.LedgerTypeReceiveReward, models.LedgerStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedgerLatestSubmittedForTier(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(db)
	tour := seedTournament(t, db, models.TournamentStatusCompleted)

	latest, err := repo.LatestSubmittedForTier(ctx, tour.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, e := range []models.LedgerEntry{
		{TxHash: "", Status: models.LedgerStatusFailed},
		{TxHash: "0x01", Status: models.LedgerStatusPending},
		{TxHash: "0x01", Status: models.LedgerStatusFailed},
	} {
		e := e
		e.TournamentID = ptr(tour.ID)
		e.Rank = ptr(2)
		e.Actor = "0xcustodian"
		e.Type = models.LedgerTypeReceiveReward
		e.Amount = "3"
		e.Description = models.RewardDescription(tour.ID, 2)
		require.NoError(t, repo.Create(ctx, &e))
	}

	latest, err = repo.LatestSubmittedForTier(ctx, tour.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "0x01", latest.TxHash)
	assert.Equal(t, models.LedgerStatusFailed, latest.Status)

	all, err := repo.GetByTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
