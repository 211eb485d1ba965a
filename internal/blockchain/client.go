package blockchain

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"tournament-rewards/internal/config"
	"tournament-rewards/pkg/errors"
	"tournament-rewards/pkg/logger"
	"tournament-rewards/pkg/retry"
)

// Backend is the subset of ethclient.Client the settlement engine uses.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// TxSigner signs transactions for the custodial account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type Client struct {
	chainCfg *config.ChainConfig
	backend  Backend
	contract common.Address
	chainID  *big.Int
}

// NewClient dials the configured RPC endpoint.
func NewClient(chainCfg *config.ChainConfig) (*Client, error) {
	client, err := ethclient.Dial(chainCfg.RPCURL)
	if err != nil {
		return nil, errors.New(errors.ErrRPConnect,
			fmt.Sprintf("failed to connect RPC: %s", chainCfg.RPCURL), err)
	}
	return NewClientWithBackend(chainCfg, client), nil
}

func NewClientWithBackend(chainCfg *config.ChainConfig, backend Backend) *Client {
	return &Client{
		chainCfg: chainCfg,
		backend:  backend,
		contract: common.HexToAddress(chainCfg.ContractAddress),
		chainID:  new(big.Int).SetUint64(chainCfg.ChainID),
	}
}

func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) ContractAddress() common.Address {
	return c.contract
}

func (c *Client) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := c.chainCfg.ReadTimeoutDuration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// GetLeaderboard calls getLeaderboard(tournamentID, round) and parses the
// returned JSON. Every failure, including a malformed payload, is a
// CHAIN_READ_ERROR; decode failures are additionally marked retry.Permanent.
func (c *Client) GetLeaderboard(ctx context.Context, tournamentID, round uint64) ([]LeaderboardEntry, error) {
	input, err := rewardsABI.Pack(methodGetLeaderboard,
		new(big.Int).SetUint64(tournamentID), new(big.Int).SetUint64(round))
	if err != nil {
		return nil, errors.New(errors.ErrChainRead, "failed to encode getLeaderboard call", err)
	}

	ctx, cancel := c.readContext(ctx)
	defer cancel()

	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, errors.New(errors.ErrChainRead,
			fmt.Sprintf("getLeaderboard(%d, %d) failed", tournamentID, round), err)
	}

	// a payload that does not decode will not decode on the next attempt either
	values, err := rewardsABI.Unpack(methodGetLeaderboard, output)
	if err != nil || len(values) != 1 {
		return nil, &retry.Permanent{Err: errors.New(errors.ErrChainRead, "failed to decode getLeaderboard result", err)}
	}
	payload, ok := values[0].(string)
	if !ok {
		return nil, &retry.Permanent{Err: errors.New(errors.ErrChainRead, "getLeaderboard returned a non-string value", nil)}
	}

	entries, err := ParseLeaderboard(payload)
	if err != nil {
		return nil, &retry.Permanent{Err: errors.New(errors.ErrChainRead, "malformed leaderboard payload", err)}
	}

	logger.WithTournament(tournamentID).WithFields(map[string]interface{}{
		"round":   round,
		"entries": len(entries),
	}).Info("Fetched leaderboard")

	return entries, nil
}

// ContractBalance returns the rewards contract's balance in wei.
func (c *Client) ContractBalance(ctx context.Context) (*big.Int, error) {
	return c.BalanceOf(ctx, c.contract)
}

func (c *Client) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := c.readContext(ctx)
	defer cancel()

	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errors.New(errors.ErrChainRead,
			fmt.Sprintf("failed to read balance of %s", account.Hex()), err)
	}
	return balance, nil
}

func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := c.readContext(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, errors.New(errors.ErrChainRead,
			fmt.Sprintf("failed to read pending nonce of %s", account.Hex()), err)
	}
	return nonce, nil
}

// MinedNonce returns the account's transaction count at the latest block.
func (c *Client) MinedNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := c.readContext(ctx)
	defer cancel()

	nonce, err := c.backend.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, errors.New(errors.ErrChainRead,
			fmt.Sprintf("failed to read mined nonce of %s", account.Hex()), err)
	}
	return nonce, nil
}

// SendPayout signs and broadcasts payoutReward(winner, amount) with the given
// nonce and returns the transaction hash.
func (c *Client) SendPayout(ctx context.Context, signer TxSigner, winner common.Address, amount *big.Int, nonce uint64) (common.Hash, error) {
	input, err := rewardsABI.Pack(methodPayoutReward, winner, amount)
	if err != nil {
		return common.Hash{}, errors.New(errors.ErrChainWrite, "failed to encode payoutReward call", err)
	}
	return c.sendContractTx(ctx, signer, nil, input, nonce)
}

// SendFunding signs and broadcasts fundContract() carrying amount wei.
func (c *Client) SendFunding(ctx context.Context, signer TxSigner, amount *big.Int, nonce uint64) (common.Hash, error) {
	input, err := rewardsABI.Pack(methodFundContract)
	if err != nil {
		return common.Hash{}, errors.New(errors.ErrChainWrite, "failed to encode fundContract call", err)
	}
	return c.sendContractTx(ctx, signer, amount, input, nonce)
}

func (c *Client) sendContractTx(ctx context.Context, signer TxSigner, value *big.Int, input []byte, nonce uint64) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	from := signer.Address()

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.New(errors.ErrChainWrite, "failed to suggest gas price", err)
	}
	if m := c.chainCfg.GasPriceMultiplierPercent; m > 0 {
		gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(m)), big.NewInt(100))
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &c.contract,
		Value: value,
		Data:  input,
	})
	if err != nil || gas == 0 {
		logger.WithFields(map[string]interface{}{
			"from":      from.Hex(),
			"nonce":     nonce,
			"gas_limit": c.chainCfg.GasLimit,
		}).Warn("Gas estimation failed, using configured gas limit")
		gas = c.chainCfg.GasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.contract,
		Value:    value,
		Data:     input,
	})

	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, err
	}

	// the hash goes back with the error: the node may hold the transaction
	// even though the call failed
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), errors.New(errors.ErrChainWrite,
			fmt.Sprintf("failed to send transaction with nonce %d", nonce), err)
	}
	return signed.Hash(), nil
}

// Receipt returns the receipt of txHash, or nil when the node does not know
// the transaction as mined.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := c.readContext(ctx)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if stderrors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrChainRead,
			fmt.Sprintf("failed to fetch receipt %s", txHash.Hex()), err)
	}
	return receipt, nil
}

// WaitMined polls for the receipt of txHash until it is mined or ctx ends.
// Callers bound ctx with the confirmation timeout.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	interval := c.chainCfg.PollIntervalDuration()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !stderrors.Is(err, ethereum.NotFound) {
			logger.WithFields(map[string]interface{}{
				"tx_hash": txHash.Hex(),
				"error":   err.Error(),
			}).Debug("Receipt lookup failed, polling again")
		}

		select {
		case <-ctx.Done():
			return nil, errors.New(errors.ErrChainRead,
				fmt.Sprintf("timed out waiting for %s", txHash.Hex()), ctx.Err())
		case <-ticker.C:
		}
	}
}
