package core

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	testAsset = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestStateCreditDebit(t *testing.T) {
	st := NewState()

	st.Credit(alice, testAsset, uint256.NewInt(100))
	if got := st.BalanceOf(alice, testAsset); got.Uint64() != 100 {
		t.Fatalf("balance = %s, want 100", got)
	}

	if err := st.Debit(alice, testAsset, uint256.NewInt(40)); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if got := st.BalanceOf(alice, testAsset); got.Uint64() != 60 {
		t.Fatalf("balance = %s, want 60", got)
	}

	// Fail closed on overdraft, balance untouched
	err := st.Debit(alice, testAsset, uint256.NewInt(61))
	if err == nil {
		t.Fatal("overdraft succeeded")
	}
	if got := st.BalanceOf(alice, testAsset); got.Uint64() != 60 {
		t.Fatalf("balance after failed debit = %s, want 60", got)
	}
}

func TestSnapshotRevertBalances(t *testing.T) {
	st := NewState()
	st.Credit(alice, testAsset, uint256.NewInt(100))

	snap := st.Snapshot()
	st.Credit(bob, testAsset, uint256.NewInt(5))
	if err := st.Debit(alice, testAsset, uint256.NewInt(30)); err != nil {
		t.Fatal(err)
	}

	st.RevertToSnapshot(snap)

	if got := st.BalanceOf(alice, testAsset); got.Uint64() != 100 {
		t.Errorf("alice balance = %s, want 100", got)
	}
	if got := st.BalanceOf(bob, testAsset); !got.IsZero() {
		t.Errorf("bob balance = %s, want 0", got)
	}
	if _, ok := st.balances[bob]; ok {
		t.Error("bob balance record survived revert")
	}
}

func TestSnapshotRevertOrders(t *testing.T) {
	st := NewState()
	key := common.HexToHash("0x01")

	snap := st.Snapshot()
	st.CreateOrder(key, testAsset, uint256.NewInt(500))
	if !st.HasOrder(key) {
		t.Fatal("order missing after create")
	}

	st.RevertToSnapshot(snap)
	if st.HasOrder(key) {
		t.Error("order survived revert")
	}
	if _, ok := st.escrow[key]; ok {
		t.Error("escrow record survived revert")
	}

	// Release then revert restores both flag and escrow
	st.CreateOrder(key, testAsset, uint256.NewInt(500))
	snap = st.Snapshot()
	if _, ok := st.DeleteOrder(key); !ok {
		t.Fatal("delete failed")
	}
	st.RevertToSnapshot(snap)
	if !st.HasOrder(key) {
		t.Error("order not restored by revert")
	}
	entry, ok := st.escrow[key]
	if !ok || entry.Amount.Uint64() != 500 {
		t.Errorf("escrow not restored: %+v", entry)
	}
}

func TestNestedSnapshots(t *testing.T) {
	st := NewState()
	st.Credit(alice, testAsset, uint256.NewInt(10))

	outer := st.Snapshot()
	st.Credit(alice, testAsset, uint256.NewInt(10))
	inner := st.Snapshot()
	st.Credit(alice, testAsset, uint256.NewInt(10))

	st.RevertToSnapshot(inner)
	if got := st.BalanceOf(alice, testAsset); got.Uint64() != 20 {
		t.Fatalf("after inner revert = %s, want 20", got)
	}

	st.RevertToSnapshot(outer)
	if got := st.BalanceOf(alice, testAsset); got.Uint64() != 10 {
		t.Fatalf("after outer revert = %s, want 10", got)
	}
}

func TestJournalDirtyTracking(t *testing.T) {
	st := NewState()
	key := common.HexToHash("0x02")

	st.Credit(alice, testAsset, uint256.NewInt(1))
	st.CreateOrder(key, testAsset, uint256.NewInt(1))

	bals, keys := st.journal.dirty()
	if _, ok := bals[balanceRef{alice, testAsset}]; !ok {
		t.Error("balance not marked dirty")
	}
	if _, ok := keys[key]; !ok {
		t.Error("order key not marked dirty")
	}

	st.Finalise()
	bals, keys = st.journal.dirty()
	if len(bals) != 0 || len(keys) != 0 {
		t.Error("dirty sets not cleared by finalise")
	}
}
