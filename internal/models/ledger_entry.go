package models

import (
	"fmt"
	"time"
)

type LedgerEntryType string

const (
	LedgerTypeFundContract  LedgerEntryType = "FUND_CONTRACT"
	LedgerTypeReceiveReward LedgerEntryType = "RECEIVE_REWARD"
)

type LedgerStatus string

const (
	LedgerStatusPending LedgerStatus = "PENDING"
	LedgerStatusSuccess LedgerStatus = "SUCCESS"
	LedgerStatusFailed  LedgerStatus = "FAILED"
)

// LedgerEntry is an append-only record of one money movement. Rows are never
// updated; a transaction's lifecycle shows up as PENDING followed by SUCCESS
// or FAILED.
//
// SuccessKey is only set on SUCCESS rows and is unique, which holds the
// "at most one success per tier / per tx hash" rule at the database level.
type LedgerEntry struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TournamentID  *uint64         `gorm:"index:idx_ledger_tier" json:"tournament_id,omitempty"`
	ParticipantID *uint64         `gorm:"index" json:"participant_id,omitempty"`
	Rank          *int            `gorm:"column:tier_rank;index:idx_ledger_tier" json:"rank,omitempty"`
	Actor         string          `gorm:"size:64;not null" json:"actor"`
	Type          LedgerEntryType `gorm:"size:20;not null;index" json:"type"`
	TxHash        string          `gorm:"size:66;index" json:"tx_hash"`
	Nonce         *uint64         `json:"nonce,omitempty"`
	Amount        string          `gorm:"size:78;not null" json:"amount"`
	Status        LedgerStatus    `gorm:"size:10;not null;index" json:"status"`
	BlockNumber   *uint64         `json:"block_number,omitempty"`
	Description   string          `gorm:"size:255;not null" json:"description"`
	SuccessKey    *string         `gorm:"size:128;uniqueIndex" json:"-"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "transaction_history"
}

// RewardDescription is the canonical description of a tier payout; it is
// identical across runs so a re-run can find what an earlier run recorded.
func RewardDescription(tournamentID uint64, rank int) string {
	return fmt.Sprintf("tournament:%d:rank:%d", tournamentID, rank)
}

// TierSuccessKey identifies the single SUCCESS payout allowed for a tier.
func TierSuccessKey(tournamentID uint64, rank int) string {
	return "reward:" + RewardDescription(tournamentID, rank)
}

// TxSuccessKey identifies the single SUCCESS row allowed for a funding tx.
func TxSuccessKey(txHash string) string {
	return "tx:" + txHash
}
