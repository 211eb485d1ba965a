package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tournament-rewards/internal/blockchain"
	"tournament-rewards/internal/config"
	"tournament-rewards/internal/lock"
	"tournament-rewards/internal/models"
	"tournament-rewards/internal/repository"
	"tournament-rewards/pkg/errors"
	"tournament-rewards/pkg/logger"
	"tournament-rewards/pkg/retry"
)

// ChainGateway is everything settlement needs from the chain. *blockchain.Client
// implements it.
type ChainGateway interface {
	GetLeaderboard(ctx context.Context, tournamentID, round uint64) ([]blockchain.LeaderboardEntry, error)
	ContractBalance(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	MinedNonce(ctx context.Context, account common.Address) (uint64, error)
	SendPayout(ctx context.Context, signer blockchain.TxSigner, winner common.Address, amount *big.Int, nonce uint64) (common.Hash, error)
	SendFunding(ctx context.Context, signer blockchain.TxSigner, amount *big.Int, nonce uint64) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type SettlementService struct {
	tournamentRepo *repository.TournamentRepository
	tierRepo       *repository.RewardTierRepository
	resolver       *RewardResolver
	guarantor      *BalanceGuarantor
	ledger         *LedgerWriter
	chain          ChainGateway
	signer         blockchain.TxSigner
	locker         lock.Locker
	pool           pond.Pool

	contractAddr   string
	finalRound     uint64
	confirmTimeout time.Duration
	readRetry      retry.Config

	// signerMu serializes every chain-mutating run on the custodial account
	signerMu sync.Mutex
}

func NewSettlementService(
	tournamentRepo *repository.TournamentRepository,
	tierRepo *repository.RewardTierRepository,
	participantRepo *repository.ParticipantRepository,
	ledgerRepo *repository.LedgerRepository,
	chain ChainGateway,
	signer blockchain.TxSigner,
	locker lock.Locker,
	cfg config.SettlementConfig,
	chainCfg config.ChainConfig,
) *SettlementService {
	ledger := NewLedgerWriter(ledgerRepo)

	workers := cfg.MaxConcurrentPayouts
	if workers <= 0 {
		workers = 1
	}

	readRetry := retry.DefaultConfig()
	readRetry.MaxRetries = cfg.ReadRetries

	return &SettlementService{
		tournamentRepo: tournamentRepo,
		tierRepo:       tierRepo,
		resolver:       NewRewardResolver(tierRepo, participantRepo),
		guarantor:      NewBalanceGuarantor(chain, signer, ledger, cfg, chainCfg),
		ledger:         ledger,
		chain:          chain,
		signer:         signer,
		locker:         locker,
		pool:           pond.NewPool(workers),
		contractAddr:   chainCfg.ContractAddress,
		finalRound:     cfg.FinalRound,
		confirmTimeout: confirmTimeout(chainCfg),
		readRetry:      readRetry,
	}
}

// Close waits for in-flight payout tasks and stops the worker pool.
func (s *SettlementService) Close() {
	s.pool.StopAndWait()
}

func confirmTimeout(chainCfg config.ChainConfig) time.Duration {
	if d := chainCfg.ConfirmTimeoutDuration(); d > 0 {
		return d
	}
	return 3 * time.Minute
}

// Settle distributes a completed tournament's rewards. Fatal preconditions
// return an error before any transaction is sent. Once payouts begin the
// caller always gets a summary; per-tier failures are listed in it and the
// tournament stays open for a re-run.
func (s *SettlementService) Settle(ctx context.Context, tournamentID uint64) (*SettlementSummary, error) {
	runID := uuid.NewString()
	startedAt := time.Now()
	log := logger.WithRun(runID, tournamentID)

	release, ok, err := s.locker.TryLock(ctx, lock.TournamentKey(tournamentID))
	if err != nil {
		return nil, errors.New(errors.ErrSettlementBusy, "failed to acquire tournament lock", err)
	}
	if !ok {
		return nil, errors.New(errors.ErrSettlementBusy,
			fmt.Sprintf("settlement of tournament %d already in progress", tournamentID), nil)
	}
	defer release()

	s.signerMu.Lock()
	defer s.signerMu.Unlock()

	state := StateLoading
	setState := func(next SettlementState) {
		log.WithFields(logrus.Fields{"from": state, "to": next}).Info("Settlement state change")
		state = next
	}
	abort := func(err error) (*SettlementSummary, error) {
		setState(StateAborted)
		log.WithField("error", err.Error()).Warn("Settlement aborted")
		return nil, err
	}
	log.Info("Settlement started")

	tournament, err := s.loadTournament(ctx, tournamentID)
	if err != nil {
		return abort(err)
	}

	leaderboard, err := s.fetchLeaderboard(ctx, tournamentID)
	if err != nil {
		return abort(err)
	}
	if len(leaderboard) == 0 {
		return abort(errors.New(errors.ErrSettlementConfig,
			fmt.Sprintf("no final leaderboard recorded for tournament %d", tournament.ID), nil))
	}

	pairs, err := s.resolver.Resolve(ctx, tournamentID, leaderboard)
	if err != nil {
		return abort(err)
	}

	attempts, warnings, err := s.prepareAttempts(ctx, log, tournamentID, pairs)
	if err != nil {
		return abort(err)
	}

	var payable []*SettlementAttempt
	required := new(big.Int)
	for _, a := range attempts {
		if a.Status == AttemptPending {
			payable = append(payable, a)
			required.Add(required, a.Amount)
		}
	}

	var funding *FundingResult
	if len(payable) > 0 {
		setState(StateFunding)

		seq, err := blockchain.NewNonceSequencerFromChain(ctx, s.chain, s.signer.Address())
		if err != nil {
			return abort(err)
		}
		log.WithField("start_nonce", seq.Start()).Debug("Nonce sequencer initialised")

		funding, err = s.guarantor.EnsureFunded(ctx, required, seq, &tournamentID)
		if err != nil {
			return abort(err)
		}

		setState(StatePaying)
		s.payAll(ctx, log, tournamentID, seq, payable)
	}

	setState(StateReconciling)
	summary := buildSummary(runID, tournamentID, attempts, funding, warnings, startedAt)

	settleable := true
	for _, a := range attempts {
		if a.blocksSettlement() {
			settleable = false
			break
		}
	}

	if !settleable {
		setState(StateIncomplete)
		summary.State = state
		summary.FinishedAt = time.Now()
		log.WithFields(logrus.Fields{
			"failed":  len(summary.Failed),
			"skipped": len(summary.Skipped),
		}).Warn("Settlement incomplete, tournament left open for re-run")
		return summary, nil
	}

	summary.State = StateSettled
	summary.Settled = true
	summary.FinishedAt = time.Now()
	if err := s.markSettled(ctx, tournamentID, summary); err != nil {
		summary.State = StateIncomplete
		summary.Settled = false
		summary.Warnings = append(summary.Warnings, err.Error())
		log.WithField("error", err.Error()).Error("Payouts reconciled but settlement flag not written")
		return summary, nil
	}

	setState(StateSettled)
	log.WithFields(logrus.Fields{
		"total_distributed": summary.TotalDistributedEth,
		"distributions":     len(summary.Distributions),
		"already_settled":   summary.AlreadySettled,
	}).Info("Settlement completed")
	return summary, nil
}

func (s *SettlementService) loadTournament(ctx context.Context, tournamentID uint64) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, errors.New(errors.ErrSettlementConfig, "failed to load tournament", err)
	}
	if tournament == nil {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("tournament %d not found", tournamentID), nil)
	}
	if tournament.RewardDistributed {
		return nil, errors.New(errors.ErrAlreadySettled,
			fmt.Sprintf("tournament %d rewards already distributed", tournamentID), nil)
	}
	if tournament.Status != models.TournamentStatusCompleted {
		return nil, errors.New(errors.ErrSettlementConfig,
			fmt.Sprintf("tournament %d is %s, not COMPLETED", tournamentID, tournament.Status), nil)
	}
	if s.finalRound <= tournament.TotalRounds {
		return nil, errors.New(errors.ErrSettlementConfig,
			fmt.Sprintf("final round sentinel %d collides with tournament round count %d", s.finalRound, tournament.TotalRounds), nil)
	}
	return tournament, nil
}

func (s *SettlementService) fetchLeaderboard(ctx context.Context, tournamentID uint64) ([]blockchain.LeaderboardEntry, error) {
	var leaderboard []blockchain.LeaderboardEntry
	err := retry.WithBackoff(ctx, s.readRetry, "get_leaderboard", func() error {
		var err error
		leaderboard, err = s.chain.GetLeaderboard(ctx, tournamentID, s.finalRound)
		return err
	})
	if err != nil && !errors.HasCode(err, errors.ErrChainRead) {
		err = errors.New(errors.ErrChainRead, "failed to read leaderboard", err)
	}
	return leaderboard, err
}

// prepareAttempts turns resolved pairs into attempts and decides, per tier,
// whether it still needs a payout. Nothing here touches chain state.
func (s *SettlementService) prepareAttempts(ctx context.Context, log *logrus.Entry, tournamentID uint64, pairs []RewardPair) ([]*SettlementAttempt, []string, error) {
	attempts := make([]*SettlementAttempt, 0, len(pairs))
	var warnings []string

	for _, pair := range pairs {
		amount, err := blockchain.ToWei(pair.Tier.RewardAmount)
		if err != nil || amount.Sign() <= 0 {
			return nil, nil, errors.New(errors.ErrSettlementConfig,
				fmt.Sprintf("invalid reward amount %s for rank %d", pair.Tier.RewardAmount, pair.Tier.Rank), err)
		}

		a := &SettlementAttempt{
			Rank:   pair.Tier.Rank,
			Wallet: pair.Entry.WalletAddress,
			Amount: amount,
			Status: AttemptPending,
		}
		attempts = append(attempts, a)

		if pair.Participant == nil {
			a.Status = AttemptSkipped
			a.SkipReason = skipUnmatchedWallet
			msg := fmt.Sprintf("rank %d wallet %s is not a registered participant, needs manual review", a.Rank, a.Wallet)
			warnings = append(warnings, msg)
			log.WithFields(logrus.Fields{"rank": a.Rank, "wallet": a.Wallet}).Warn("Unmatched leaderboard wallet skipped")
			continue
		}
		a.ParticipantID = pair.Participant.ID
		a.UserID = pair.Participant.UserID

		done, err := s.ledger.HasSucceeded(ctx, tournamentID, a.Rank)
		if err != nil {
			return nil, nil, err
		}
		if done {
			a.Status = AttemptAlreadySettled
			continue
		}

		warning, err := s.reconcile(ctx, log, tournamentID, a)
		if err != nil {
			return nil, nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}
	return attempts, warnings, nil
}

// reconcile checks an earlier run's submitted transaction for a tier that has
// no SUCCESS row. A mined success is recorded and counted as settled. A revert,
// or a transaction whose nonce slot is provably no longer its own, leaves the
// tier payable. Anything else is never blindly resubmitted.
func (s *SettlementService) reconcile(ctx context.Context, log *logrus.Entry, tournamentID uint64, a *SettlementAttempt) (string, error) {
	prev, err := s.ledger.LatestSubmitted(ctx, tournamentID, a.Rank)
	if err != nil || prev == nil {
		return "", err
	}

	// nonces are read before the receipt so a transaction mined in between
	// shows up as a receipt rather than as a dropped slot
	dropped := false
	if prev.Nonce != nil {
		dropped, err = s.nonceSlotLost(ctx, *prev.Nonce)
		if err != nil {
			return "", err
		}
	}

	hash := common.HexToHash(prev.TxHash)
	receipt, err := s.chain.Receipt(ctx, hash)
	if err != nil {
		return "", err
	}

	fields := logrus.Fields{"rank": a.Rank, "tx_hash": prev.TxHash}
	switch {
	case receipt == nil && dropped:
		log.WithFields(fields).Info("Earlier payout never mined and its nonce is free or reused, tier will be resubmitted")
		return "", nil

	case receipt == nil:
		a.Status = AttemptSkipped
		a.SkipReason = skipUnresolved
		a.TxHash = prev.TxHash
		log.WithFields(fields).Warn("Earlier payout has no receipt yet, tier left unresolved")
		return fmt.Sprintf("rank %d: earlier payout %s not mined yet, not resubmitted", a.Rank, prev.TxHash), nil

	case receipt.Status == types.ReceiptStatusSuccessful:
		block := receipt.BlockNumber.Uint64()
		entry := payoutEntry(tournamentID, a, s.signer.Address().Hex(), models.LedgerStatusSuccess)
		entry.TxHash = prev.TxHash
		entry.Nonce = prev.Nonce
		entry.BlockNumber = &block
		if err := s.ledger.Record(ctx, entry); err != nil && !errors.HasCode(err, errors.ErrAlreadySettled) {
			return "", err
		}
		a.Status = AttemptAlreadySettled
		a.TxHash = prev.TxHash
		log.WithFields(fields).Info("Earlier payout confirmed on chain, recorded as settled")
		return "", nil

	default:
		log.WithFields(fields).Info("Earlier payout reverted, tier will be resubmitted")
		return "", nil
	}
}

// nonceSlotLost reports whether a transaction sent with nonce can no longer
// be mined: either another transaction was mined with that nonce, or the node
// holds nothing at that nonce at all.
func (s *SettlementService) nonceSlotLost(ctx context.Context, nonce uint64) (bool, error) {
	account := s.signer.Address()
	mined, err := s.chain.MinedNonce(ctx, account)
	if err != nil {
		return false, err
	}
	if mined > nonce {
		return true, nil
	}
	pending, err := s.chain.PendingNonce(ctx, account)
	if err != nil {
		return false, err
	}
	return pending <= nonce, nil
}

func (s *SettlementService) payAll(ctx context.Context, log *logrus.Entry, tournamentID uint64, seq *blockchain.NonceSequencer, payable []*SettlementAttempt) {
	group := s.pool.NewGroup()
	for _, a := range payable {
		group.Submit(func() {
			s.payout(ctx, log, tournamentID, seq, a)
		})
	}
	if err := group.Wait(); err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, pond.ErrGroupStopped) {
		log.WithField("error", err.Error()).Warn("Payout group finished with error")
	}
}

// payout runs one tier: submit under the sequencer, record PENDING, wait for
// the receipt, record the outcome. Nothing here aborts the run.
func (s *SettlementService) payout(ctx context.Context, runLog *logrus.Entry, tournamentID uint64, seq *blockchain.NonceSequencer, a *SettlementAttempt) {
	log := runLog.WithFields(logrus.Fields{"rank": a.Rank, "wallet": a.Wallet})
	actor := s.signer.Address().Hex()
	persistCtx := context.WithoutCancel(ctx)

	fail := func(err error) {
		a.Status = AttemptFailed
		a.Err = err
		entry := payoutEntry(tournamentID, a, actor, models.LedgerStatusFailed)
		if recErr := s.ledger.Record(persistCtx, entry); recErr != nil {
			log.WithField("error", recErr.Error()).Error("Failed to record failed payout")
		}
		log.WithField("error", err.Error()).Warn("Payout failed")
	}

	if err := ctx.Err(); err != nil {
		a.Status = AttemptFailed
		a.Err = fmt.Errorf("not submitted: %w", err)
		return
	}

	if !common.IsHexAddress(a.Wallet) {
		fail(errors.New(errors.ErrPayout, fmt.Sprintf("invalid recipient address %q", a.Wallet), nil))
		return
	}
	winner := common.HexToAddress(a.Wallet)

	nonce, hash, err := seq.Submit(ctx, func(n uint64) (common.Hash, error) {
		return s.chain.SendPayout(ctx, s.signer, winner, a.Amount, n)
	})
	if err != nil {
		if hash != (common.Hash{}) {
			// the node may still mine it; the hash lets the next run reconcile
			a.TxHash = hash.Hex()
			a.Nonce = &nonce
		}
		fail(errors.New(errors.ErrPayout, "failed to submit payout", err))
		return
	}

	a.Status = AttemptSent
	a.TxHash = hash.Hex()
	a.Nonce = &nonce
	log = log.WithFields(logrus.Fields{"nonce": nonce, "tx_hash": a.TxHash})
	log.Info("Payout submitted")

	if err := s.ledger.Record(persistCtx, payoutEntry(tournamentID, a, actor, models.LedgerStatusPending)); err != nil {
		log.WithField("error", err.Error()).Error("Failed to record pending payout")
	}

	// submitted transactions are always awaited, even after the caller left
	waitCtx, cancel := context.WithTimeout(persistCtx, s.confirmTimeout)
	defer cancel()

	receipt, err := s.chain.WaitMined(waitCtx, hash)
	if err != nil {
		fail(errors.New(errors.ErrPayout, "payout not confirmed", err))
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		fail(errors.New(errors.ErrPayout, fmt.Sprintf("payout %s reverted", a.TxHash), nil))
		return
	}

	a.Status = AttemptConfirmed
	a.BlockNumber = receipt.BlockNumber.Uint64()
	entry := payoutEntry(tournamentID, a, actor, models.LedgerStatusSuccess)
	entry.BlockNumber = &a.BlockNumber
	if err := s.ledger.Record(persistCtx, entry); err != nil {
		// the transfer happened; the PENDING row lets the next run reconcile it
		log.WithField("error", err.Error()).Error("Payout confirmed but ledger write failed")
	}
	log.WithField("block_number", a.BlockNumber).Info("Payout confirmed")
}

func payoutEntry(tournamentID uint64, a *SettlementAttempt, actor string, status models.LedgerStatus) *models.LedgerEntry {
	rank := a.Rank
	entry := &models.LedgerEntry{
		TournamentID: &tournamentID,
		Rank:         &rank,
		Actor:        actor,
		Type:         models.LedgerTypeReceiveReward,
		TxHash:       a.TxHash,
		Nonce:        a.Nonce,
		Amount:       a.Amount.String(),
		Status:       status,
		Description:  models.RewardDescription(tournamentID, rank),
	}
	if a.ParticipantID != 0 {
		pid := a.ParticipantID
		entry.ParticipantID = &pid
	}
	return entry
}

func (s *SettlementService) markSettled(ctx context.Context, tournamentID uint64, summary *SettlementSummary) error {
	doc, err := summary.JSONB()
	if err != nil {
		return errors.New(errors.ErrLedgerWrite, "failed to encode settlement summary", err)
	}
	err = s.tournamentRepo.MarkRewardDistributed(context.WithoutCancel(ctx), tournamentID, doc)
	if stderrors.Is(err, repository.ErrAlreadyDistributed) {
		return errors.New(errors.ErrAlreadySettled, "settlement flag already set", err)
	}
	if err != nil {
		return errors.New(errors.ErrLedgerWrite, "failed to set settlement flag", err)
	}
	return nil
}

// FundContract sends amount ETH from the custodial account to the rewards
// contract outside of any settlement run.
func (s *SettlementService) FundContract(ctx context.Context, amount decimal.Decimal) (*FundingResult, error) {
	if !amount.IsPositive() {
		return nil, errors.New(errors.ErrInvalidAmount, "funding amount must be positive", nil)
	}
	wei, err := blockchain.ToWei(amount)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidAmount, "invalid funding amount", err)
	}

	s.signerMu.Lock()
	defer s.signerMu.Unlock()

	seq, err := blockchain.NewNonceSequencerFromChain(ctx, s.chain, s.signer.Address())
	if err != nil {
		return nil, err
	}
	return s.guarantor.Fund(ctx, wei, seq)
}

// ContractBalance is the rewards contract balance in wei and ETH.
type ContractBalance struct {
	Address string `json:"address,omitempty"`
	Wei     string `json:"wei"`
	Eth     string `json:"eth"`
}

func (s *SettlementService) GetContractBalance(ctx context.Context) (*ContractBalance, error) {
	balance, err := s.chain.ContractBalance(ctx)
	if err != nil {
		return nil, err
	}
	return &ContractBalance{
		Address: s.contractAddr,
		Wei:     balance.String(),
		Eth:     blockchain.FromWei(balance).String(),
	}, nil
}

// TierInput is one entry of a prize schedule update.
type TierInput struct {
	Rank   int             `json:"rank"`
	Amount decimal.Decimal `json:"amount"`
}

// ReplaceTiers swaps a tournament's prize schedule. It is refused once the
// tournament's rewards are distributed.
func (s *SettlementService) ReplaceTiers(ctx context.Context, tournamentID uint64, inputs []TierInput) ([]models.RewardTier, error) {
	if len(inputs) == 0 {
		return nil, errors.New(errors.ErrSettlementConfig, "at least one reward tier is required", nil)
	}
	seen := make(map[int]bool, len(inputs))
	tiers := make([]models.RewardTier, 0, len(inputs))
	for _, in := range inputs {
		if in.Rank <= 0 {
			return nil, errors.New(errors.ErrSettlementConfig, fmt.Sprintf("rank %d must be positive", in.Rank), nil)
		}
		if seen[in.Rank] {
			return nil, errors.New(errors.ErrSettlementConfig, fmt.Sprintf("duplicate rank %d", in.Rank), nil)
		}
		seen[in.Rank] = true
		if !in.Amount.IsPositive() {
			return nil, errors.New(errors.ErrInvalidAmount, fmt.Sprintf("rank %d amount must be positive", in.Rank), nil)
		}
		if _, err := blockchain.ToWei(in.Amount); err != nil {
			return nil, errors.New(errors.ErrInvalidAmount, fmt.Sprintf("rank %d amount", in.Rank), err)
		}
		tiers = append(tiers, models.RewardTier{Rank: in.Rank, RewardAmount: in.Amount})
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, errors.New(errors.ErrSettlementConfig, "failed to load tournament", err)
	}
	if tournament == nil {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("tournament %d not found", tournamentID), nil)
	}

	err = s.tierRepo.ReplaceForTournament(ctx, tournamentID, tiers)
	if stderrors.Is(err, repository.ErrAlreadyDistributed) {
		return nil, errors.New(errors.ErrAlreadySettled, "reward tiers are immutable after settlement", err)
	}
	if err != nil {
		return nil, errors.New(errors.ErrSettlementConfig, "failed to replace reward tiers", err)
	}

	logger.WithTournament(tournamentID).WithField("tiers", len(tiers)).Info("Reward tiers replaced")

	return s.tierRepo.GetByTournament(ctx, tournamentID)
}

// Ledger lists every ledger row recorded for a tournament, oldest first.
func (s *SettlementService) Ledger(ctx context.Context, tournamentID uint64) ([]models.LedgerEntry, error) {
	return s.ledger.ForTournament(ctx, tournamentID)
}

// PendingTournaments lists completed tournaments still awaiting settlement.
func (s *SettlementService) PendingTournaments(ctx context.Context, limit int) ([]models.Tournament, error) {
	return s.tournamentRepo.ListAwaitingSettlement(ctx, limit)
}
