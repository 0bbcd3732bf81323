package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Secret is the one-time signing key generated at order placement.
// It stays with the maker (or a relay) off-ledger; only the derived
// witness address is ever recorded in a commitment key.
type Secret struct {
	key     *ecdsa.PrivateKey
	witness common.Address
}

// GenerateCommitment produces a fresh secp256k1 keypair: the secret the
// maker keeps, and the public witness address recorded with the order.
// Each commitment authorizes at most one order; reusing a witness across
// orders is a caller error the protocol does not detect.
func GenerateCommitment() (*Secret, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("generate witness key: %w", err)
	}

	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, common.Address{}, fmt.Errorf("unexpected public key type")
	}

	witness := crypto.PubkeyToAddress(*pub)
	return &Secret{key: key, witness: witness}, witness, nil
}

// SecretFromHex loads a secret from a hex-encoded private key
// ("0x" prefix optional).
func SecretFromHex(hexKey string) (*Secret, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse witness secret: %w", err)
	}

	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type")
	}

	return &Secret{key: key, witness: crypto.PubkeyToAddress(*pub)}, nil
}

// Witness returns the public witness address derived from the secret.
func (s *Secret) Witness() common.Address {
	return s.witness
}

// Hex returns the secret as hex WITHOUT 0x prefix.
// WARNING: keep this off-ledger; never log it.
func (s *Secret) Hex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.key))
}

// SignDigest signs a 32-byte digest and returns a 65-byte [R || S || V]
// signature suitable for recovery-based verification.
func (s *Secret) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// ExecutorDigest computes the message an execution agent must have signed
// by the witness secret: keccak256(executor || key). Binding both the
// submitting executor and the full commitment key means a captured
// signature cannot be replayed by another agent, nor against another
// order that (incorrectly) shares the same witness.
func ExecutorDigest(executor common.Address, key common.Hash) common.Hash {
	return crypto.Keccak256Hash(executor.Bytes(), key.Bytes())
}

// VerifyWitness recovers the signer of digest from a 65-byte signature and
// checks it against the expected witness address. Fails closed: malformed
// input yields false, never an error.
func VerifyWitness(witness common.Address, digest common.Hash, sig []byte) bool {
	if len(sig) != 65 {
		return false
	}

	// crypto.Ecrecover wants V in {0,1}; accept {27,28} as well since
	// wallet tooling commonly emits that form.
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	if s[64] > 1 {
		return false
	}

	pubBytes, err := crypto.Ecrecover(digest.Bytes(), s)
	if err != nil {
		return false
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == witness
}
