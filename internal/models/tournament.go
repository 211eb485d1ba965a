package models

import (
	"time"
)

type TournamentStatus string

const (
	TournamentStatusDraft     TournamentStatus = "DRAFT"
	TournamentStatusActive    TournamentStatus = "ACTIVE"
	TournamentStatusCompleted TournamentStatus = "COMPLETED"
	TournamentStatusCancelled TournamentStatus = "CANCELLED"
)

// Tournament carries only the fields settlement reads or writes; the rest of
// the tournament record belongs to the tournament-management service.
type Tournament struct {
	ID                  uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string           `gorm:"size:255;not null" json:"name"`
	Status              TournamentStatus `gorm:"size:20;not null;index" json:"status"`
	TotalRounds         uint64           `gorm:"not null;default:0" json:"total_rounds"`
	RewardDistributed   bool             `gorm:"not null;default:false;index" json:"reward_distributed"`
	DistributedAt       *time.Time       `json:"distributed_at,omitempty"`
	DistributionSummary JSONB            `gorm:"type:text" json:"distribution_summary,omitempty"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Tournament) TableName() string {
	return "tournaments"
}
