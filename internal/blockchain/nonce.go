package blockchain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tournament-rewards/pkg/logger"
)

const acceptCheckTimeout = 10 * time.Second

// PendingNonceReader is the one chain read the sequencer needs.
type PendingNonceReader interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSequencer hands out transaction nonces for the custodial signer during
// a single settlement run. It is seeded once from the node's pending count and
// never re-reads the chain afterwards; concurrent callers are serialized by mu.
type NonceSequencer struct {
	mu    sync.Mutex
	start uint64
	next  uint64

	// reader and account let Submit ask the node whether a send that
	// returned an error was accepted anyway. Without them such a nonce is
	// treated as used.
	reader  PendingNonceReader
	account common.Address
}

func NewNonceSequencer(start uint64) *NonceSequencer {
	return &NonceSequencer{start: start, next: start}
}

// NewNonceSequencerFromChain seeds a sequencer with the account's pending
// transaction count.
func NewNonceSequencerFromChain(ctx context.Context, reader PendingNonceReader, account common.Address) (*NonceSequencer, error) {
	start, err := reader.PendingNonce(ctx, account)
	if err != nil {
		return nil, err
	}
	seq := NewNonceSequencer(start)
	seq.reader = reader
	seq.account = account
	return seq, nil
}

// Next allocates the next nonce unconditionally.
func (s *NonceSequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	s.next++
	return n
}

// Submit runs send with the next nonce while holding the sequencer lock.
// Signing happens inside send, which keeps key material behind the same lock.
//
// send returns the hash of the transaction it signed, also when broadcasting
// failed. A zero hash with an error means nothing left the process and the
// nonce is reused. An error with a hash is ambiguous: the node may have taken
// the transaction before the call failed. Submit then reads the pending nonce;
// if the node counts the transaction the nonce is consumed and the send is
// reported as successful, if it does not the nonce is reused, and if the read
// fails the nonce is consumed and the error returned.
func (s *NonceSequencer) Submit(ctx context.Context, send func(nonce uint64) (common.Hash, error)) (uint64, common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next

	hash, err := send(n)
	if err == nil {
		s.next++
		return n, hash, nil
	}
	if hash == (common.Hash{}) {
		return n, hash, err
	}

	log := logger.WithFields(map[string]interface{}{
		"nonce":   n,
		"tx_hash": hash.Hex(),
		"error":   err.Error(),
	})

	if s.reader == nil {
		s.next++
		log.Warn("Broadcast outcome unknown, nonce treated as used")
		return n, hash, err
	}

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), acceptCheckTimeout)
	defer cancel()
	pending, readErr := s.reader.PendingNonce(checkCtx, s.account)
	switch {
	case readErr != nil:
		s.next++
		log.WithField("read_error", readErr.Error()).Warn("Broadcast outcome unknown, nonce treated as used")
		return n, hash, err
	case pending > n:
		s.next++
		log.Warn("Send reported an error but the node accepted the transaction")
		return n, hash, nil
	default:
		return n, hash, err
	}
}

// Start is the nonce the sequencer was seeded with.
func (s *NonceSequencer) Start() uint64 {
	return s.start
}

// Allocated is the number of nonces consumed so far.
func (s *NonceSequencer) Allocated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next - s.start
}
