package service

import (
	"encoding/json"
	"math/big"
	"sort"
	"time"

	"tournament-rewards/internal/blockchain"
	"tournament-rewards/internal/models"
)

type SettlementState string

const (
	StateNotStarted  SettlementState = "NOT_STARTED"
	StateLoading     SettlementState = "LOADING"
	StateFunding     SettlementState = "FUNDING"
	StatePaying      SettlementState = "PAYING"
	StateReconciling SettlementState = "RECONCILING"
	StateSettled     SettlementState = "SETTLED"
	// StateIncomplete ends a run that paid what it could but left at least
	// one tier failed or unresolved; the tournament stays open for a re-run.
	StateIncomplete SettlementState = "INCOMPLETE"
	StateAborted    SettlementState = "ABORTED"
)

type AttemptStatus string

const (
	AttemptPending        AttemptStatus = "PENDING"
	AttemptSent           AttemptStatus = "SENT"
	AttemptConfirmed      AttemptStatus = "CONFIRMED"
	AttemptFailed         AttemptStatus = "FAILED"
	AttemptSkipped        AttemptStatus = "SKIPPED"
	AttemptAlreadySettled AttemptStatus = "ALREADY_SETTLED"
)

const (
	skipUnmatchedWallet = "UNMATCHED_WALLET"
	skipUnresolved      = "UNRESOLVED"
)

// SettlementAttempt tracks one tier through a single run. It is owned by the
// run and written by at most one payout task.
type SettlementAttempt struct {
	Rank          int
	Wallet        string
	Amount        *big.Int
	ParticipantID uint64
	UserID        uint64
	Status        AttemptStatus
	SkipReason    string
	TxHash        string
	Nonce         *uint64
	BlockNumber   uint64
	Err           error
}

// blocksSettlement reports whether this attempt keeps the tournament from
// being marked distributed.
func (a *SettlementAttempt) blocksSettlement() bool {
	switch a.Status {
	case AttemptConfirmed, AttemptAlreadySettled:
		return false
	case AttemptSkipped:
		return a.SkipReason == skipUnresolved
	}
	return true
}

type Distribution struct {
	Rank          int    `json:"rank"`
	Wallet        string `json:"wallet"`
	ParticipantID uint64 `json:"participant_id"`
	UserID        uint64 `json:"user_id"`
	Amount        string `json:"amount"`
	AmountEth     string `json:"amount_eth"`
	TxHash        string `json:"tx_hash"`
	BlockNumber   uint64 `json:"block_number"`
}

type SkippedTier struct {
	Rank   int    `json:"rank"`
	Wallet string `json:"wallet"`
	Reason string `json:"reason"`
}

type FailedPayout struct {
	Rank   int    `json:"rank"`
	Wallet string `json:"wallet"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error"`
}

// SettlementSummary is returned to the caller and stored on the tournament
// once it is settled. Amounts are wei unless suffixed _eth.
type SettlementSummary struct {
	RunID               string          `json:"run_id"`
	TournamentID        uint64          `json:"tournament_id"`
	State               SettlementState `json:"state"`
	Settled             bool            `json:"settled"`
	TotalDistributed    string          `json:"total_distributed"`
	TotalDistributedEth string          `json:"total_distributed_eth"`
	Distributions       []Distribution  `json:"distributions"`
	AlreadySettled      int             `json:"already_settled"`
	Skipped             []SkippedTier   `json:"skipped,omitempty"`
	Failed              []FailedPayout  `json:"failed,omitempty"`
	Warnings            []string        `json:"warnings,omitempty"`
	Funding             *FundingResult  `json:"funding,omitempty"`
	StartedAt           time.Time       `json:"started_at"`
	FinishedAt          time.Time       `json:"finished_at"`
}

func buildSummary(runID string, tournamentID uint64, attempts []*SettlementAttempt, funding *FundingResult, warnings []string, startedAt time.Time) *SettlementSummary {
	summary := &SettlementSummary{
		RunID:         runID,
		TournamentID:  tournamentID,
		Distributions: []Distribution{},
		Warnings:      warnings,
		Funding:       funding,
		StartedAt:     startedAt,
	}

	total := new(big.Int)
	for _, a := range attempts {
		switch a.Status {
		case AttemptConfirmed:
			total.Add(total, a.Amount)
			summary.Distributions = append(summary.Distributions, Distribution{
				Rank:          a.Rank,
				Wallet:        a.Wallet,
				ParticipantID: a.ParticipantID,
				UserID:        a.UserID,
				Amount:        a.Amount.String(),
				AmountEth:     blockchain.FromWei(a.Amount).String(),
				TxHash:        a.TxHash,
				BlockNumber:   a.BlockNumber,
			})
		case AttemptAlreadySettled:
			summary.AlreadySettled++
		case AttemptSkipped:
			summary.Skipped = append(summary.Skipped, SkippedTier{Rank: a.Rank, Wallet: a.Wallet, Reason: a.SkipReason})
		default:
			failed := FailedPayout{Rank: a.Rank, Wallet: a.Wallet, TxHash: a.TxHash}
			if a.Amount != nil {
				failed.Amount = a.Amount.String()
			}
			if a.Err != nil {
				failed.Error = a.Err.Error()
			}
			summary.Failed = append(summary.Failed, failed)
		}
	}

	sort.Slice(summary.Distributions, func(i, j int) bool {
		return summary.Distributions[i].Rank < summary.Distributions[j].Rank
	})
	summary.TotalDistributed = total.String()
	summary.TotalDistributedEth = blockchain.FromWei(total).String()
	return summary
}

// JSONB renders the summary for the tournament's distribution_summary column.
func (s *SettlementSummary) JSONB() (models.JSONB, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
