package models

import (
	"time"
)

type Participant struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TournamentID  uint64    `gorm:"not null;uniqueIndex:uk_tournament_wallet" json:"tournament_id"`
	UserID        uint64    `gorm:"not null;index" json:"user_id"`
	WalletAddress string    `gorm:"size:42;not null;uniqueIndex:uk_tournament_wallet" json:"wallet_address"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Participant) TableName() string {
	return "tournament_participants"
}
