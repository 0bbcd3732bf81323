package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/seinj0312/furu-limit-order-handler/params"
	wcrypto "github.com/seinj0312/furu-limit-order-handler/pkg/crypto"
	"github.com/seinj0312/furu-limit-order-handler/pkg/util"
)

// brokenStore fails every flush, standing in for a full disk.
type brokenStore struct {
	calls int
}

func (s *brokenStore) Flush(st *State, bals map[balanceRef]struct{}, keys map[common.Hash]struct{}) error {
	s.calls++
	return errors.New("no space left on device")
}

func (s *brokenStore) Close() error { return nil }

func newBrokenStoreApp(store persister) *App {
	cfg := params.Protocol{
		ModuleAddress: testModule,
		VaultAddress:  common.HexToAddress("0x36049D479A97CdE1fC6E2a5D2caE30B666Ebf92B"),
	}
	return newApp(cfg, nil, store, NewState(), nil, util.RealClock{})
}

func TestFlushFailureUnwindsMemory(t *testing.T) {
	store := &brokenStore{}
	app := newBrokenStoreApp(store)

	err := app.Deposit(alice, NativeAsset, big.NewInt(1000))
	if err == nil {
		t.Fatal("deposit reported success with a failing store")
	}
	if store.calls != 1 {
		t.Fatalf("flush calls = %d, want 1", store.calls)
	}

	// The caller was told the operation failed; memory must agree.
	if got := app.BalanceOf(alice, NativeAsset); got.Sign() != 0 {
		t.Errorf("balance = %s after failed persist, want 0", got)
	}
}

func TestFlushFailureUnwindsPlacement(t *testing.T) {
	store := &brokenStore{}
	app := newBrokenStoreApp(store)

	// Seed directly, bypassing the failing persist path.
	app.st.Credit(alice, NativeAsset, uint256.NewInt(1000))
	app.st.Finalise()

	_, witness, _ := wcrypto.GenerateCommitment()
	steps := placeSteps(t, NativeAsset, testAsset, big.NewInt(700), big.NewInt(1), witness, true)
	if err := app.RunBatch(alice, steps); err == nil {
		t.Fatal("batch reported success with a failing store")
	}

	order := OrderParams{
		Module: testModule, SellToken: NativeAsset, BuyToken: testAsset,
		MinReturn: big.NewInt(1), Witness: witness,
	}
	if exists, _, _ := app.ExistsOrder(order, alice); exists {
		t.Error("order present after failed persist")
	}
	if got := app.BalanceOf(alice, NativeAsset); got.Int64() != 1000 {
		t.Errorf("balance = %s after failed persist, want 1000", got)
	}
}

func TestOpsContinueAfterFlushFailure(t *testing.T) {
	store := &brokenStore{}
	app := newBrokenStoreApp(store)

	if err := app.Deposit(alice, NativeAsset, big.NewInt(500)); err == nil {
		t.Fatal("expected persist failure")
	}

	// Later operations start from a clean journal, not a poisoned one.
	app.store = nil
	if err := app.Deposit(alice, NativeAsset, big.NewInt(500)); err != nil {
		t.Fatalf("deposit after recovery: %v", err)
	}
	if got := app.BalanceOf(alice, NativeAsset); got.Int64() != 500 {
		t.Errorf("balance = %s, want 500", got)
	}
}
