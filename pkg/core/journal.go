package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is a reversible state mutation. Entries are appended as
// mutations happen and undone in reverse order on revert.
type journalEntry interface {
	revert(*State)
	// dirtied reports the storage record this entry touched, for the
	// post-commit flush. Either balance (ok) or order key (ok).
	dirtied() (balanceRef, common.Hash, bool)
}

type balanceRef struct {
	addr  common.Address
	asset AssetID
}

type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) append(e journalEntry) {
	j.entries = append(j.entries, e)
}

func (j *journal) length() int {
	return len(j.entries)
}

// revert unwinds entries down to (and excluding) the given length.
func (j *journal) revert(st *State, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(st)
	}
	j.entries = j.entries[:snapshot]
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
}

// dirty collects every balance record and order key touched since the
// journal was last reset.
func (j *journal) dirty() (map[balanceRef]struct{}, map[common.Hash]struct{}) {
	bals := make(map[balanceRef]struct{})
	keys := make(map[common.Hash]struct{})
	for _, e := range j.entries {
		ref, key, isBalance := e.dirtied()
		if isBalance {
			bals[ref] = struct{}{}
		} else {
			keys[key] = struct{}{}
		}
	}
	return bals, keys
}

// balanceChange restores a balance to its previous value. prev == nil
// means the record did not exist.
type balanceChange struct {
	ref  balanceRef
	prev *uint256.Int
}

func (c balanceChange) revert(st *State) {
	st.setBalance(c.ref.addr, c.ref.asset, c.prev)
}

func (c balanceChange) dirtied() (balanceRef, common.Hash, bool) {
	return c.ref, common.Hash{}, true
}

// orderPlaced undoes a registry placement: presence flag and escrow record
// disappear together.
type orderPlaced struct {
	key common.Hash
}

func (c orderPlaced) revert(st *State) {
	delete(st.orders, c.key)
	delete(st.escrow, c.key)
}

func (c orderPlaced) dirtied() (balanceRef, common.Hash, bool) {
	return balanceRef{}, c.key, false
}

// orderReleased restores a released order, escrow record included.
type orderReleased struct {
	key   common.Hash
	entry escrowEntry
}

func (c orderReleased) revert(st *State) {
	st.orders[c.key] = struct{}{}
	st.escrow[c.key] = c.entry
}

func (c orderReleased) dirtied() (balanceRef, common.Hash, bool) {
	return balanceRef{}, c.key, false
}
