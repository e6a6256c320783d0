package ledger

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrUnknownSigner is returned when no key is held for the requested sender.
var ErrUnknownSigner = errors.New("ledger: no signing key for sender")

// Signer signs transactions on behalf of session addresses.
type Signer interface {
	SignTx(from common.Address, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// Keyring is an in-process Signer backed by secp256k1 private keys.
type Keyring struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyring loads hex encoded private keys, with or without 0x prefix.
func NewKeyring(hexKeys ...string) (*Keyring, error) {
	ring := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, raw := range hexKeys {
		key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer key %d: %w", i, err)
		}
		ring.Add(key)
	}
	return ring, nil
}

// Add registers a key and returns the address it signs for.
func (k *Keyring) Add(key *ecdsa.PrivateKey) common.Address {
	addr := gethcrypto.PubkeyToAddress(key.PublicKey)
	k.mu.Lock()
	k.keys[addr] = key
	k.mu.Unlock()
	return addr
}

// Addresses lists the senders this keyring can sign for.
func (k *Keyring) Addresses() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	return out
}

// SignTx implements Signer.
func (k *Keyring) SignTx(from common.Address, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	k.mu.RLock()
	key, ok := k.keys[from]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownSigner, from.Hex())
	}
	return gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), key)
}
