package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Registry is the stateless-storage order ledger: a presence flag per
// commitment key plus escrow accounting, never a full order record.
// Place and Release are the only mutation points; Release is the single
// destruction path both execution and cancellation funnel through, which
// is what makes escrow release at-most-once.
type Registry struct {
	st    *State
	vault *Vault
}

func NewRegistry(st *State, vault *Vault) *Registry {
	return &Registry{st: st, vault: vault}
}

// Exists reports whether key is marked present. Pure lookup; exposed to
// off-ledger agents discovering fillable orders.
func (r *Registry) Exists(key common.Hash) bool {
	return r.st.HasOrder(key)
}

// Place marks key present and pulls the escrow from funder into custody.
// Fails with ErrOrderExists on a key collision, leaving funder untouched.
func (r *Registry) Place(key common.Hash, asset AssetID, amount *uint256.Int, funder common.Address) error {
	if r.st.HasOrder(key) {
		return fmt.Errorf("%w: %s", ErrOrderExists, key.Hex())
	}
	if amount.IsZero() {
		return fmt.Errorf("escrow amount must be positive")
	}
	if err := r.vault.Pull(funder, asset, amount); err != nil {
		return fmt.Errorf("escrow %s: %w", key.Hex(), err)
	}
	r.st.CreateOrder(key, asset, amount)
	return nil
}

// Release clears key's presence flag and returns the escrowed asset and
// amount for disbursement by the caller. The flag-clear and the escrow
// handover are one journaled step, so a second Release of the same key
// observes ErrOrderNotFound rather than racing the first.
func (r *Registry) Release(key common.Hash) (AssetID, *uint256.Int, error) {
	entry, ok := r.st.DeleteOrder(key)
	if !ok {
		return AssetID{}, nil, fmt.Errorf("%w: %s", ErrOrderNotFound, key.Hex())
	}
	return entry.Asset, new(uint256.Int).Set(entry.Amount), nil
}
