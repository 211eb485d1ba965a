package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"tournament-rewards/internal/config"
	"tournament-rewards/pkg/errors"
)

// Vault decrypts the custodial private key with AES-256-CBC. The AES key and
// IV come from process configuration; rotating either makes every key
// encrypted under the old pair undecryptable.
type Vault struct {
	key []byte
	iv  []byte
}

func New(cfg config.VaultConfig) (*Vault, error) {
	key, err := decodeHex(cfg.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, errors.New(errors.ErrDecryption, "vault.encryption_key must be 32 hex-encoded bytes", err)
	}
	iv, err := decodeHex(cfg.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errors.New(errors.ErrDecryption, "vault.iv must be 16 hex-encoded bytes", err)
	}
	return &Vault{key: key, iv: iv}, nil
}

// Encrypt returns the hex ciphertext of a hex private key, in the format
// Unlock expects.
func (v *Vault) Encrypt(privateKeyHex string) (string, error) {
	raw, err := decodeHex(privateKeyHex)
	if err != nil {
		return "", errors.New(errors.ErrDecryption, "private key is not valid hex", err)
	}
	defer wipe(raw)
	if _, err := crypto.ToECDSA(raw); err != nil {
		return "", errors.New(errors.ErrDecryption, "not a valid secp256k1 private key", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", errors.New(errors.ErrDecryption, "failed to init cipher", err)
	}
	plain := pkcs7Pad(raw, aes.BlockSize)
	defer wipe(plain)

	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, v.iv).CryptBlocks(out, plain)
	return hex.EncodeToString(out), nil
}

// Unlock decrypts encryptedHex into a Signer. The caller must Wipe it.
func (v *Vault) Unlock(encryptedHex string) (*Signer, error) {
	ciphertext, err := decodeHex(encryptedHex)
	if err != nil {
		return nil, errors.New(errors.ErrDecryption, "encrypted key is not valid hex", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New(errors.ErrDecryption, "encrypted key has an invalid length", nil)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, errors.New(errors.ErrDecryption, "failed to init cipher", err)
	}

	plain := make([]byte, len(ciphertext))
	defer wipe(plain)
	cipher.NewCBCDecrypter(block, v.iv).CryptBlocks(plain, ciphertext)

	raw, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, errors.New(errors.ErrDecryption, "failed to decrypt key", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, errors.New(errors.ErrDecryption, "decrypted data is not a private key", err)
	}

	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// WithSigner unlocks the key, runs fn and wipes the key before returning.
func (v *Vault) WithSigner(encryptedHex string, fn func(*Signer) error) error {
	s, err := v.Unlock(encryptedHex)
	if err != nil {
		return err
	}
	defer s.Wipe()
	return fn(s)
}

// Signer holds one decrypted private key.
type Signer struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, errors.New(errors.ErrDecryption, "signer already wiped", nil)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, errors.New(errors.ErrChainWrite, "failed to sign transaction", err)
	}
	return signed, nil
}

// Wipe zeroes the private scalar and drops the key.
func (s *Signer) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return
	}
	words := s.key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	s.key.D.SetInt64(0)
	s.key = nil
}

// CustodialSigner keeps only the ciphertext and decrypts it for each
// signature, so no key material outlives a single SignTx call.
type CustodialSigner struct {
	vault     *Vault
	encrypted string
	address   common.Address
}

// NewCustodialSigner checks that encryptedHex decrypts and records the
// account address.
func NewCustodialSigner(v *Vault, encryptedHex string) (*CustodialSigner, error) {
	var addr common.Address
	err := v.WithSigner(encryptedHex, func(s *Signer) error {
		addr = s.Address()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CustodialSigner{vault: v, encrypted: encryptedHex, address: addr}, nil
}

func (c *CustodialSigner) Address() common.Address {
	return c.address
}

func (c *CustodialSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	var signed *types.Transaction
	err := c.vault.WithSigner(c.encrypted, func(s *Signer) error {
		var err error
		signed, err = s.SignTx(tx, chainID)
		return err
	})
	return signed, err
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	return hex.DecodeString(s)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
