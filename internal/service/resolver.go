package service

import (
	"context"
	"fmt"
	"sort"

	"tournament-rewards/internal/blockchain"
	"tournament-rewards/internal/models"
	"tournament-rewards/internal/repository"
	"tournament-rewards/pkg/errors"
)

// RewardPair joins one prize tier with the finisher in the same position.
// Participant is nil when the finisher's wallet is not registered for the
// tournament; such pairs are skipped and flagged for manual review.
type RewardPair struct {
	Tier        models.RewardTier
	Entry       blockchain.LeaderboardEntry
	Participant *models.Participant
}

type RewardResolver struct {
	tierRepo        *repository.RewardTierRepository
	participantRepo *repository.ParticipantRepository
}

func NewRewardResolver(tierRepo *repository.RewardTierRepository, participantRepo *repository.ParticipantRepository) *RewardResolver {
	return &RewardResolver{
		tierRepo:        tierRepo,
		participantRepo: participantRepo,
	}
}

// Resolve loads the tournament's tiers and participants and pairs them with
// the leaderboard.
func (r *RewardResolver) Resolve(ctx context.Context, tournamentID uint64, leaderboard []blockchain.LeaderboardEntry) ([]RewardPair, error) {
	tiers, err := r.tierRepo.GetByTournament(ctx, tournamentID)
	if err != nil {
		return nil, errors.New(errors.ErrSettlementConfig, "failed to load reward tiers", err)
	}
	if len(tiers) == 0 {
		return nil, errors.New(errors.ErrSettlementConfig,
			fmt.Sprintf("tournament %d has no reward tiers", tournamentID), nil)
	}

	index, err := r.participantRepo.GetWalletIndex(ctx, tournamentID)
	if err != nil {
		return nil, errors.New(errors.ErrSettlementConfig, "failed to load participants", err)
	}

	return PairRewards(tiers, leaderboard, index)
}

// PairRewards sorts tiers by rank ascending and the leaderboard by score
// descending, then pairs them by position up to the shorter of the two.
// Neither input slice is modified.
func PairRewards(tiers []models.RewardTier, leaderboard []blockchain.LeaderboardEntry, participants map[string]models.Participant) ([]RewardPair, error) {
	sortedTiers := append([]models.RewardTier(nil), tiers...)
	sort.SliceStable(sortedTiers, func(i, j int) bool {
		return sortedTiers[i].Rank < sortedTiers[j].Rank
	})
	for i := 1; i < len(sortedTiers); i++ {
		if sortedTiers[i].Rank == sortedTiers[i-1].Rank {
			return nil, errors.New(errors.ErrSettlementConfig,
				fmt.Sprintf("duplicate reward tier rank %d", sortedTiers[i].Rank), nil)
		}
	}

	ranked := append([]blockchain.LeaderboardEntry(nil), leaderboard...)
	blockchain.SortLeaderboard(ranked)

	n := len(sortedTiers)
	if len(ranked) < n {
		n = len(ranked)
	}

	pairs := make([]RewardPair, 0, n)
	for i := 0; i < n; i++ {
		pair := RewardPair{Tier: sortedTiers[i], Entry: ranked[i]}
		if p, ok := participants[ranked[i].WalletAddress]; ok {
			pair.Participant = &p
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
