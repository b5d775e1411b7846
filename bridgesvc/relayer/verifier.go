package relayer

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"gobridgeledger/types"
)

// Verifier checks that a message id carries at least threshold signatures from distinct
// known validators
type Verifier struct {
	mu         sync.RWMutex
	validators map[common.Address]struct{}
	threshold  int
}

func NewVerifier(validators []common.Address, threshold int) (*Verifier, error) {
	v := &Verifier{validators: make(map[common.Address]struct{})}
	for _, a := range validators {
		v.validators[a] = struct{}{}
	}
	if err := v.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Verifier) SetThreshold(threshold int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if threshold <= 0 || threshold > len(v.validators) {
		return types.Errorf(types.ErrInvalidRequest, "threshold %d out of range for %d validators", threshold, len(v.validators))
	}
	v.threshold = threshold
	return nil
}

func (v *Verifier) AddValidator(a common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.validators[a] = struct{}{}
}

// RemoveValidator refuses to drop below the threshold
func (v *Verifier) RemoveValidator(a common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.validators[a]; !ok {
		return nil
	}
	if len(v.validators)-1 < v.threshold {
		return types.Errorf(types.ErrInvalidRequest, "removing %s leaves fewer validators than threshold %d", a.Hex(), v.threshold)
	}
	delete(v.validators, a)
	return nil
}

func (v *Verifier) IsValidator(a common.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, ok := v.validators[a]
	return ok
}

func (v *Verifier) Threshold() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.threshold
}

// Verify recovers every signature over id; unknown signers and duplicates do not count
func (v *Verifier) Verify(id common.Hash, signatures [][]byte) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	seen := make(map[common.Address]struct{})
	for _, sig := range signatures {
		signer, err := RecoverSigner(id, sig)
		if err != nil {
			continue
		}
		if _, ok := v.validators[signer]; !ok {
			continue
		}
		seen[signer] = struct{}{}
	}
	if len(seen) < v.threshold {
		return types.Errorf(types.ErrInvalidProof, "%d of %d required validator signatures", len(seen), v.threshold)
	}
	return nil
}

func prefixHash(data []byte) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256Hash([]byte(msg))
}

// RecoverSigner accepts 65 byte signatures with v in {0,1,27,28} over the prefixed id
func RecoverSigner(id common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 && sig[64] != 0 && sig[64] != 1 {
		return common.Address{}, fmt.Errorf("wrong signature checksum %d", sig[64])
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(prefixHash(id.Bytes()).Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("cannot decode public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a validator signature for id, as validators do off-chain
func Sign(key *ecdsa.PrivateKey, id common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(prefixHash(id.Bytes()).Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
