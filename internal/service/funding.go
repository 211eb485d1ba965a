package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"tournament-rewards/internal/blockchain"
	"tournament-rewards/internal/config"
	"tournament-rewards/internal/models"
	"tournament-rewards/pkg/errors"
	"tournament-rewards/pkg/logger"
)

// FundingResult describes what the guarantor did before payouts started.
// Wei amounts are decimal strings.
type FundingResult struct {
	ToppedUp      bool    `json:"topped_up"`
	TxHash        string  `json:"tx_hash,omitempty"`
	Nonce         *uint64 `json:"nonce,omitempty"`
	BlockNumber   uint64  `json:"block_number,omitempty"`
	Amount        string  `json:"amount,omitempty"`
	Required      string  `json:"required"`
	BalanceBefore string  `json:"balance_before,omitempty"`
	BalanceAfter  string  `json:"balance_after,omitempty"`
}

// BalanceGuarantor makes sure the rewards contract can cover a run's payouts
// by topping it up from the custodial account.
type BalanceGuarantor struct {
	chain          ChainGateway
	signer         blockchain.TxSigner
	ledger         *LedgerWriter
	marginPercent  decimal.Decimal
	marginMin      decimal.Decimal
	gasReserve     decimal.Decimal
	confirmTimeout time.Duration
}

func NewBalanceGuarantor(chain ChainGateway, signer blockchain.TxSigner, ledger *LedgerWriter, cfg config.SettlementConfig, chainCfg config.ChainConfig) *BalanceGuarantor {
	return &BalanceGuarantor{
		chain:          chain,
		signer:         signer,
		ledger:         ledger,
		marginPercent:  cfg.SafetyMarginPercentValue(),
		marginMin:      cfg.SafetyMarginMinValue(),
		gasReserve:     cfg.GasReserveValue(),
		confirmTimeout: confirmTimeout(chainCfg),
	}
}

// Shortfall returns how much to send so the contract holds required plus the
// safety margin, or zero when balance already covers required.
func (g *BalanceGuarantor) Shortfall(required, balance *big.Int) *big.Int {
	if balance.Cmp(required) >= 0 {
		return new(big.Int)
	}

	req := decimal.NewFromBigInt(required, 0)
	margin := req.Mul(g.marginPercent).Div(decimal.NewFromInt(100)).Ceil()
	// sub-wei minimums round up rather than vanish
	margin = decimal.Max(margin, g.marginMin.Shift(18).Ceil())

	shortfall := req.Sub(decimal.NewFromBigInt(balance, 0)).Add(margin)
	return shortfall.BigInt()
}

// EnsureFunded tops the contract up when its balance is below required. The
// funding transaction is confirmed and ledgered before it returns, so no
// payout can start against an unfunded contract.
func (g *BalanceGuarantor) EnsureFunded(ctx context.Context, required *big.Int, seq *blockchain.NonceSequencer, tournamentID *uint64) (*FundingResult, error) {
	balance, err := g.chain.ContractBalance(ctx)
	if err != nil {
		return nil, err
	}

	result := &FundingResult{
		Required:      required.String(),
		BalanceBefore: balance.String(),
		BalanceAfter:  balance.String(),
	}

	shortfall := g.Shortfall(required, balance)
	if shortfall.Sign() == 0 {
		return result, nil
	}

	if err := g.checkCustodial(ctx, shortfall); err != nil {
		return nil, err
	}

	hash, nonce, receipt, err := g.send(ctx, shortfall, seq, tournamentID)
	if err != nil {
		return nil, err
	}
	result.ToppedUp = true
	result.TxHash = hash.Hex()
	result.Nonce = &nonce
	result.Amount = shortfall.String()
	result.BlockNumber = receipt.BlockNumber.Uint64()

	after, err := g.chain.ContractBalance(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrFunding, "failed to re-read contract balance after funding", err)
	}
	result.BalanceAfter = after.String()
	if after.Cmp(required) < 0 {
		return nil, errors.New(errors.ErrFunding,
			fmt.Sprintf("contract balance %s still below required %s after funding", after, required), nil)
	}

	return result, nil
}

// Fund sends amount wei to the contract unconditionally.
func (g *BalanceGuarantor) Fund(ctx context.Context, amount *big.Int, seq *blockchain.NonceSequencer) (*FundingResult, error) {
	if err := g.checkCustodial(ctx, amount); err != nil {
		return nil, err
	}

	hash, nonce, receipt, err := g.send(ctx, amount, seq, nil)
	if err != nil {
		return nil, err
	}

	result := &FundingResult{
		ToppedUp:    true,
		TxHash:      hash.Hex(),
		Nonce:       &nonce,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Amount:      amount.String(),
		Required:    amount.String(),
	}
	if after, err := g.chain.ContractBalance(ctx); err == nil {
		result.BalanceAfter = after.String()
	}
	return result, nil
}

func (g *BalanceGuarantor) checkCustodial(ctx context.Context, amount *big.Int) error {
	custodial, err := g.chain.BalanceOf(ctx, g.signer.Address())
	if err != nil {
		return err
	}

	reserve, err := blockchain.ToWei(g.gasReserve)
	if err != nil {
		return errors.New(errors.ErrSettlementConfig, "invalid gas reserve", err)
	}
	needed := new(big.Int).Add(amount, reserve)
	if custodial.Cmp(needed) < 0 {
		return errors.New(errors.ErrInsufficientCustodialFunds,
			fmt.Sprintf("custodial balance %s ETH cannot cover %s ETH plus %s ETH gas reserve",
				blockchain.FromWei(custodial), blockchain.FromWei(amount), g.gasReserve), nil)
	}
	return nil
}

func (g *BalanceGuarantor) send(ctx context.Context, amount *big.Int, seq *blockchain.NonceSequencer, tournamentID *uint64) (common.Hash, uint64, *types.Receipt, error) {
	actor := g.signer.Address().Hex()
	description := "manual contract funding"
	if tournamentID != nil {
		description = fmt.Sprintf("fund contract for tournament:%d", *tournamentID)
	}

	entry := func(status models.LedgerStatus, hash string, nonce *uint64) *models.LedgerEntry {
		return &models.LedgerEntry{
			TournamentID: tournamentID,
			Actor:        actor,
			Type:         models.LedgerTypeFundContract,
			TxHash:       hash,
			Nonce:        nonce,
			Amount:       amount.String(),
			Status:       status,
			Description:  description,
		}
	}
	// ledger rows are written even if the caller goes away mid-flight
	persistCtx := context.WithoutCancel(ctx)

	nonce, hash, err := seq.Submit(ctx, func(n uint64) (common.Hash, error) {
		return g.chain.SendFunding(ctx, g.signer, amount, n)
	})
	if err != nil {
		failed := entry(models.LedgerStatusFailed, "", nil)
		if hash != (common.Hash{}) {
			failed.TxHash = hash.Hex()
			failed.Nonce = &nonce
		}
		if recErr := g.ledger.Record(persistCtx, failed); recErr != nil {
			logger.WithFields(map[string]interface{}{"error": recErr.Error()}).Error("Failed to record failed funding")
		}
		return hash, nonce, nil, errors.New(errors.ErrFunding, "failed to send funding transaction", err)
	}

	log := logger.WithFields(map[string]interface{}{
		"tx_hash": hash.Hex(),
		"nonce":   nonce,
		"amount":  blockchain.FromWei(amount).String(),
	})
	log.Info("Funding transaction sent")

	if err := g.ledger.Record(persistCtx, entry(models.LedgerStatusPending, hash.Hex(), &nonce)); err != nil {
		log.WithField("error", err.Error()).Error("Failed to record pending funding")
	}

	waitCtx, cancel := context.WithTimeout(persistCtx, g.confirmTimeout)
	defer cancel()

	receipt, err := g.chain.WaitMined(waitCtx, hash)
	if err == nil && receipt.Status != types.ReceiptStatusSuccessful {
		err = fmt.Errorf("funding transaction %s reverted", hash.Hex())
	}
	if err != nil {
		if recErr := g.ledger.Record(persistCtx, entry(models.LedgerStatusFailed, hash.Hex(), &nonce)); recErr != nil {
			log.WithField("error", recErr.Error()).Error("Failed to record failed funding")
		}
		return hash, nonce, nil, errors.New(errors.ErrFunding, "funding transaction not confirmed", err)
	}

	success := entry(models.LedgerStatusSuccess, hash.Hex(), &nonce)
	block := receipt.BlockNumber.Uint64()
	success.BlockNumber = &block
	if err := g.ledger.Record(persistCtx, success); err != nil {
		log.WithField("error", err.Error()).Error("Funding confirmed but ledger write failed")
	}

	log.WithField("block_number", block).Info("Funding transaction confirmed")
	return hash, nonce, receipt, nil
}
