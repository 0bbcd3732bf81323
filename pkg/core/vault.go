package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Vault is the asset custody primitive. It moves balances between ledger
// accounts and holds escrow under its own custody address. Every move is
// journaled through State, so it unwinds with the enclosing operation.
type Vault struct {
	st      *State
	custody common.Address
}

func NewVault(st *State, custody common.Address) *Vault {
	return &Vault{st: st, custody: custody}
}

// Custody returns the address escrowed funds are held under.
func (v *Vault) Custody() common.Address {
	return v.custody
}

// Pull transfers amount of asset from an account into protocol custody.
// Fails closed on insufficient balance.
func (v *Vault) Pull(from common.Address, asset AssetID, amount *uint256.Int) error {
	return v.Transfer(from, v.custody, asset, amount)
}

// Push transfers amount of asset out of protocol custody to an account.
func (v *Vault) Push(to common.Address, asset AssetID, amount *uint256.Int) error {
	return v.Transfer(v.custody, to, asset, amount)
}

// Transfer moves amount of asset between two ledger accounts.
func (v *Vault) Transfer(from, to common.Address, asset AssetID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := v.st.Debit(from, asset, amount); err != nil {
		return err
	}
	v.st.Credit(to, asset, amount)
	return nil
}

// Mint credits an account out of thin air. This is the bridge/faucet edge
// of the ledger: deposits arriving from outside the protocol's domain.
func (v *Vault) Mint(to common.Address, asset AssetID, amount *uint256.Int) {
	v.st.Credit(to, asset, amount)
}

// BalanceOf reports an account's balance in one asset.
func (v *Vault) BalanceOf(addr common.Address, asset AssetID) *uint256.Int {
	return v.st.BalanceOf(addr, asset)
}
