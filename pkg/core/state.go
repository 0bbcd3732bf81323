package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// escrowEntry is the accounting record paired with an order's presence
// flag: which asset is held and how much. It is the only thing the
// protocol remembers about an order besides the key itself.
type escrowEntry struct {
	Asset  AssetID      `json:"asset"`
	Amount *uint256.Int `json:"amount"`
}

// State is the shared mutable ledger: per-account asset balances, the
// order presence set, and the parallel escrow accounting map. Every
// mutation is journaled so a top-level operation can be reverted as a
// unit. State itself is not goroutine-safe; the App serializes access.
type State struct {
	balances map[common.Address]map[AssetID]*uint256.Int
	orders   map[common.Hash]struct{}
	escrow   map[common.Hash]escrowEntry

	journal        *journal
	validRevisions []revision
	nextRevisionID int
}

type revision struct {
	id           int
	journalIndex int
}

func NewState() *State {
	return &State{
		balances: make(map[common.Address]map[AssetID]*uint256.Int),
		orders:   make(map[common.Hash]struct{}),
		escrow:   make(map[common.Hash]escrowEntry),
		journal:  newJournal(),
	}
}

// Snapshot marks the current state and returns an identifier that can be
// passed to RevertToSnapshot. Snapshots nest.
func (st *State) Snapshot() int {
	id := st.nextRevisionID
	st.nextRevisionID++
	st.validRevisions = append(st.validRevisions, revision{id, st.journal.length()})
	return id
}

// RevertToSnapshot undoes every mutation made since the snapshot was taken.
func (st *State) RevertToSnapshot(id int) {
	idx := -1
	for i := len(st.validRevisions) - 1; i >= 0; i-- {
		if st.validRevisions[i].id == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		panic(fmt.Sprintf("revision id %d not found", id))
	}
	st.journal.revert(st, st.validRevisions[idx].journalIndex)
	st.validRevisions = st.validRevisions[:idx]
}

// BalanceOf returns a copy of an account's balance in one asset.
func (st *State) BalanceOf(addr common.Address, asset AssetID) *uint256.Int {
	if assets, ok := st.balances[addr]; ok {
		if bal, ok := assets[asset]; ok {
			return new(uint256.Int).Set(bal)
		}
	}
	return uint256.NewInt(0)
}

// BalancesOf returns a copy of every non-zero balance of an account.
func (st *State) BalancesOf(addr common.Address) map[AssetID]*uint256.Int {
	out := make(map[AssetID]*uint256.Int)
	for asset, bal := range st.balances[addr] {
		if !bal.IsZero() {
			out[asset] = new(uint256.Int).Set(bal)
		}
	}
	return out
}

// setBalance installs a balance without journaling. nil removes the record.
// Only journal reverts and the store loader call this.
func (st *State) setBalance(addr common.Address, asset AssetID, v *uint256.Int) {
	if v == nil {
		if assets, ok := st.balances[addr]; ok {
			delete(assets, asset)
			if len(assets) == 0 {
				delete(st.balances, addr)
			}
		}
		return
	}
	assets, ok := st.balances[addr]
	if !ok {
		assets = make(map[AssetID]*uint256.Int)
		st.balances[addr] = assets
	}
	assets[asset] = v
}

// journaledSet records the previous value before overwriting a balance.
func (st *State) journaledSet(addr common.Address, asset AssetID, v *uint256.Int) {
	var prev *uint256.Int
	if assets, ok := st.balances[addr]; ok {
		if bal, ok := assets[asset]; ok {
			prev = new(uint256.Int).Set(bal)
		}
	}
	st.journal.append(balanceChange{ref: balanceRef{addr, asset}, prev: prev})
	st.setBalance(addr, asset, v)
}

// Credit adds amount to an account balance.
func (st *State) Credit(addr common.Address, asset AssetID, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	next := new(uint256.Int).Add(st.BalanceOf(addr, asset), amount)
	st.journaledSet(addr, asset, next)
}

// Debit removes amount from an account balance, failing closed if the
// balance does not cover it.
func (st *State) Debit(addr common.Address, asset AssetID, amount *uint256.Int) error {
	bal := st.BalanceOf(addr, asset)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of %s, need %s",
			ErrInsufficientBalance, addr.Hex(), bal, asset.Hex(), amount)
	}
	st.journaledSet(addr, asset, new(uint256.Int).Sub(bal, amount))
	return nil
}

// HasOrder reports whether a commitment key is marked present.
func (st *State) HasOrder(key common.Hash) bool {
	_, ok := st.orders[key]
	return ok
}

// CreateOrder marks a key present and records its escrow accounting.
// The caller has already checked non-existence.
func (st *State) CreateOrder(key common.Hash, asset AssetID, amount *uint256.Int) {
	st.orders[key] = struct{}{}
	st.escrow[key] = escrowEntry{Asset: asset, Amount: new(uint256.Int).Set(amount)}
	st.journal.append(orderPlaced{key: key})
}

// DeleteOrder clears a key's presence flag and returns its escrow record.
// Flag-clear and escrow removal are one journal entry, so a revert brings
// both back together.
func (st *State) DeleteOrder(key common.Hash) (escrowEntry, bool) {
	entry, ok := st.escrow[key]
	if !ok {
		return escrowEntry{}, false
	}
	delete(st.orders, key)
	delete(st.escrow, key)
	st.journal.append(orderReleased{key: key, entry: entry})
	return entry, true
}

// Finalise discards journal history once a top-level operation has fully
// committed or fully reverted. Snapshots taken before Finalise are dead.
func (st *State) Finalise() {
	st.journal.reset()
	st.validRevisions = st.validRevisions[:0]
}

// AmountToU256 converts an order-parameter amount into ledger arithmetic,
// rejecting negatives and values beyond 256 bits.
func AmountToU256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount")
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount overflows 256 bits")
	}
	return u, nil
}
