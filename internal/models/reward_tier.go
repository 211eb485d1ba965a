package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardTier is the prize for one finishing position. RewardAmount is in
// whole ETH; conversion to wei happens at the chain boundary.
type RewardTier struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TournamentID uint64          `gorm:"not null;uniqueIndex:uk_tournament_rank" json:"tournament_id"`
	Rank         int             `gorm:"column:tier_rank;not null;uniqueIndex:uk_tournament_rank" json:"rank"`
	RewardAmount decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"reward_amount"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (RewardTier) TableName() string {
	return "reward_tiers"
}
