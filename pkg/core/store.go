package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pebble key schema:
//
//	bal:{address}:{asset}  -> 32-byte big-endian balance
//	ord:{key}              -> JSON escrow entry (presence implied)
//
// Prefix layout allows range scans to rebuild the whole ledger on open.
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
)

func balanceKey(ref balanceRef) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, ref.addr.Hex(), ref.asset.Hex()))
}

func orderStoreKey(key common.Hash) []byte {
	return []byte(prefixOrder + key.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Store persists ledger state in Pebble. All writes happen through Flush,
// which commits every record one top-level operation dirtied as a single
// atomic batch.
type Store struct {
	db *pebble.DB
}

func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load rebuilds in-memory state from disk. Called once on open, before any
// operation runs, so it writes directly without journaling.
func (s *Store) Load(st *State) error {
	if err := s.loadBalances(st); err != nil {
		return err
	}
	return s.loadOrders(st)
}

func (s *Store) loadBalances(st *State) error {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("balance scan: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		parts := strings.Split(string(iter.Key())[len(prefixBalance):], ":")
		if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			continue
		}
		if len(iter.Value()) != 32 {
			continue
		}
		bal := new(uint256.Int).SetBytes(iter.Value())
		st.setBalance(common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), bal)
	}
	return nil
}

func (s *Store) loadOrders(st *State) error {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("order scan: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		keyHex := string(iter.Key())[len(prefixOrder):]
		var entry escrowEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		key := common.HexToHash(keyHex)
		st.orders[key] = struct{}{}
		st.escrow[key] = entry
	}
	return nil
}

// Flush writes the dirtied records of a committed operation atomically.
// Values are read back from live state, so a record dirtied then reverted
// within the operation is simply rewritten with its unchanged value.
func (s *Store) Flush(st *State, bals map[balanceRef]struct{}, keys map[common.Hash]struct{}) error {
	if len(bals) == 0 && len(keys) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for ref := range bals {
		bal := st.BalanceOf(ref.addr, ref.asset)
		if bal.IsZero() {
			if err := batch.Delete(balanceKey(ref), nil); err != nil {
				return err
			}
			continue
		}
		b32 := bal.Bytes32()
		if err := batch.Set(balanceKey(ref), b32[:], nil); err != nil {
			return err
		}
	}

	for key := range keys {
		entry, ok := st.escrow[key]
		if !ok {
			if err := batch.Delete(orderStoreKey(key), nil); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal escrow entry: %w", err)
		}
		if err := batch.Set(orderStoreKey(key), data, nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
