package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"tournament-rewards/internal/blockchain"
	"tournament-rewards/pkg/errors"
)

type sentTx struct {
	kind   string
	to     common.Address
	amount *big.Int
	nonce  uint64
	hash   common.Hash
}

// fakeChain is an in-memory rewards contract plus custodial account.
type fakeChain struct {
	mu sync.Mutex

	leaderboard      []blockchain.LeaderboardEntry
	leaderboardErr   error
	leaderboardCalls int

	contractBalance  *big.Int
	custodialBalance *big.Int
	pendingNonce     uint64

	failSend     map[common.Address]bool
	revertPayout map[common.Address]bool
	neverMine    map[common.Address]bool
	// sendTimeout payouts are broadcast and mined but the call still errors
	sendTimeout map[common.Address]bool
	// fundingLost funding transactions mine without crediting the contract
	fundingLost bool
	// afterSend runs outside the lock after each broadcast transaction
	afterSend func(tx sentTx)

	sent     []sentTx
	receipts map[common.Hash]*types.Receipt
	block    uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		contractBalance:  new(big.Int),
		custodialBalance: new(big.Int),
		failSend:         map[common.Address]bool{},
		revertPayout:     map[common.Address]bool{},
		neverMine:        map[common.Address]bool{},
		sendTimeout:      map[common.Address]bool{},
		receipts:         map[common.Hash]*types.Receipt{},
		block:            100,
	}
}

func eth(v string) *big.Int {
	wei, err := blockchain.ToWei(decimal.RequireFromString(v))
	if err != nil {
		panic(err)
	}
	return wei
}

func (f *fakeChain) GetLeaderboard(context.Context, uint64, uint64) ([]blockchain.LeaderboardEntry, error) {
	f.mu.Lock()
	f.leaderboardCalls++
	f.mu.Unlock()
	if f.leaderboardErr != nil {
		return nil, f.leaderboardErr
	}
	return append([]blockchain.LeaderboardEntry(nil), f.leaderboard...), nil
}

func (f *fakeChain) ContractBalance(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.contractBalance), nil
}

func (f *fakeChain) BalanceOf(_ context.Context, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.custodialBalance), nil
}

func (f *fakeChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

// MinedNonce is the lowest nonce still waiting to be mined, or the pending
// nonce when everything sent has a receipt.
func (f *fakeChain) MinedNonce(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mined := f.pendingNonce
	for _, tx := range f.sent {
		if _, ok := f.receipts[tx.hash]; !ok && tx.nonce < mined {
			mined = tx.nonce
		}
	}
	return mined, nil
}

func (f *fakeChain) nextHash(tag string, nonce uint64) common.Hash {
	return common.BytesToHash([]byte(fmt.Sprintf("%s-%d-%d", tag, nonce, len(f.sent))))
}

func (f *fakeChain) notify(tx sentTx) {
	if f.afterSend != nil {
		f.afterSend(tx)
	}
}

func (f *fakeChain) SendPayout(ctx context.Context, _ blockchain.TxSigner, winner common.Address, amount *big.Int, nonce uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, errors.New(errors.ErrChainWrite, "send cancelled", err)
	}

	f.mu.Lock()
	if f.failSend[winner] {
		// signed, then refused by the node
		hash := f.nextHash("rejected-"+winner.Hex(), nonce)
		f.mu.Unlock()
		return hash, errors.New(errors.ErrChainWrite, "node rejected transaction", nil)
	}

	hash := f.nextHash(winner.Hex(), nonce)
	tx := sentTx{kind: "payout", to: winner, amount: new(big.Int).Set(amount), nonce: nonce, hash: hash}
	f.sent = append(f.sent, tx)
	f.pendingNonce = nonce + 1

	if !f.neverMine[winner] {
		f.block++
		status := types.ReceiptStatusSuccessful
		if f.revertPayout[winner] {
			status = types.ReceiptStatusFailed
		} else {
			f.contractBalance.Sub(f.contractBalance, amount)
		}
		f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(f.block), TxHash: hash}
	}
	timeout := f.sendTimeout[winner]
	f.mu.Unlock()

	f.notify(tx)
	if timeout {
		return hash, errors.New(errors.ErrChainWrite, "send timed out", nil)
	}
	return hash, nil
}

func (f *fakeChain) SendFunding(ctx context.Context, _ blockchain.TxSigner, amount *big.Int, nonce uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, errors.New(errors.ErrChainWrite, "send cancelled", err)
	}

	f.mu.Lock()
	hash := f.nextHash("fund", nonce)
	tx := sentTx{kind: "fund", amount: new(big.Int).Set(amount), nonce: nonce, hash: hash}
	f.sent = append(f.sent, tx)
	f.pendingNonce = nonce + 1
	f.block++
	if !f.fundingLost {
		f.contractBalance.Add(f.contractBalance, amount)
	}
	f.custodialBalance.Sub(f.custodialBalance, amount)
	f.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: new(big.Int).SetUint64(f.block), TxHash: hash}
	f.mu.Unlock()

	f.notify(tx)
	return hash, nil
}

func (f *fakeChain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		f.mu.Lock()
		r, ok := f.receipts[hash]
		f.mu.Unlock()
		if ok {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.New(errors.ErrChainRead, "timed out waiting for receipt", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (f *fakeChain) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[hash], nil
}

// mine makes a never-mined transaction appear with the given status.
func (f *fakeChain) mine(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block++
	f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(f.block), TxHash: hash}
}

func (f *fakeChain) sentOf(kind string) []sentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentTx
	for _, tx := range f.sent {
		if tx.kind == kind {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fakeChain) allSent() []sentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTx(nil), f.sent...)
}

type stubSigner struct {
	addr common.Address
}

func (s stubSigner) Address() common.Address { return s.addr }

func (s stubSigner) SignTx(tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
	return tx, nil
}
