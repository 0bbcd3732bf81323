package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/seinj0312/furu-limit-order-handler/params"
	"github.com/seinj0312/furu-limit-order-handler/pkg/util"
)

// App owns the shared ledger and serializes every top-level operation
// against it: one mutex, one snapshot per operation, fully applied or
// fully discarded. This is the single global order of operations the
// protocol's atomicity story rests on.
// persister is the durable half of apply. *Store implements it; tests
// substitute failing ones to exercise the flush-error unwind.
type persister interface {
	Flush(st *State, bals map[balanceRef]struct{}, keys map[common.Hash]struct{}) error
	Close() error
}

type App struct {
	mu sync.Mutex

	st    *State
	store persister // nil = in-memory only

	vault    *Vault
	registry *Registry
	gateway  *Gateway
	batch    *BatchExecutor

	module common.Address

	log  *zap.SugaredLogger
	subs []func(Event)
}

// NewApp builds an in-memory app. Used by tests and embedders that manage
// their own durability.
func NewApp(cfg params.Protocol, router SwapProvider, logger *zap.Logger) *App {
	return newApp(cfg, router, nil, NewState(), logger, util.RealClock{})
}

// NewAppWithStore builds an app backed by a Pebble store at dbPath,
// replaying persisted balances and orders into memory.
func NewAppWithStore(cfg params.Protocol, router SwapProvider, dbPath string, logger *zap.Logger) (*App, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	st := NewState()
	if err := store.Load(st); err != nil {
		store.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return newApp(cfg, router, store, st, logger, util.RealClock{}), nil
}

func newApp(cfg params.Protocol, router SwapProvider, store persister, st *State, logger *zap.Logger, clock util.Clock) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	vault := NewVault(st, cfg.VaultAddress)
	registry := NewRegistry(st, vault)
	gateway := NewGateway(registry, vault, router, cfg.ExecFeeBps, clock)

	batch := NewBatchExecutor(vault)
	batch.Register(cfg.ModuleAddress, NewLimitOrderHandler(registry, cfg.ModuleAddress))
	batch.Register(FundsModuleAddress, NewFundsHandler(vault))

	return &App{
		st:       st,
		store:    store,
		vault:    vault,
		registry: registry,
		gateway:  gateway,
		batch:    batch,
		module:   cfg.ModuleAddress,
		log:      logger.Sugar(),
	}
}

// FundsModuleAddress is the well-known target of the funds-injection
// handler, registered alongside the configured limit-order module.
var FundsModuleAddress = common.HexToAddress("0x95f44674C3b8A3EC56589A8ddAC7D7FD09DB3e8E")

func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Module returns the limit-order handler module address orders are keyed
// under.
func (a *App) Module() common.Address {
	return a.module
}

// OnEvent registers a callback invoked after each committed lifecycle
// transition. Callbacks run on the operation's goroutine; keep them cheap.
func (a *App) OnEvent(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, fn)
}

func (a *App) emit(events ...Event) {
	for _, ev := range events {
		for _, fn := range a.subs {
			fn(ev)
		}
	}
}

// apply runs op as one atomic unit: snapshot, run, revert-on-error,
// flush-on-success, publish events. The app mutex must be held.
func (a *App) apply(op func() ([]Event, error)) error {
	snap := a.st.Snapshot()
	events, err := op()
	if err != nil {
		a.st.RevertToSnapshot(snap)
		a.st.Finalise()
		return err
	}

	if a.store != nil {
		bals, keys := a.st.journal.dirty()
		if ferr := a.store.Flush(a.st, bals, keys); ferr != nil {
			// The pebble batch is all-or-nothing, so disk saw none of
			// this operation; unwind memory to match before reporting
			// failure.
			a.log.Errorw("state_flush_failed", "err", ferr)
			a.st.RevertToSnapshot(snap)
			a.st.Finalise()
			return fmt.Errorf("persist state: %w", ferr)
		}
	}
	a.st.Finalise()

	a.emit(events...)
	return nil
}

// RunBatch executes an ordered step sequence for maker, all-or-nothing.
func (a *App) RunBatch(maker common.Address, steps []Step) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.apply(func() ([]Event, error) {
		placed, err := a.batch.Run(maker, steps)
		if err != nil {
			return nil, err
		}
		events := make([]Event, len(placed))
		for i, p := range placed {
			events[i] = Event{Type: EventOrderPlaced, Key: p.Key, Maker: maker, Data: p}
		}
		return events, nil
	})
	if err != nil {
		a.log.Infow("batch_rejected", "maker", maker.Hex(), "steps", len(steps), "err", err)
		return err
	}
	a.log.Infow("batch_applied", "maker", maker.Hex(), "steps", len(steps))
	return nil
}

// Execute fills an order on behalf of executor.
func (a *App) Execute(ctx context.Context, p OrderParams, maker, executor common.Address, sig, routing []byte) (*FillReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var receipt *FillReceipt
	err := a.apply(func() ([]Event, error) {
		r, err := a.gateway.Execute(ctx, p, maker, executor, sig, routing)
		if err != nil {
			return nil, err
		}
		receipt = r
		return []Event{{Type: EventOrderExecuted, Key: r.Key, Maker: maker, Data: r}}, nil
	})
	if err != nil {
		a.log.Infow("execute_rejected", "maker", maker.Hex(), "executor", executor.Hex(), "err", err)
		return nil, err
	}
	a.log.Infow("order_executed",
		"key", receipt.Key.Hex(),
		"maker", maker.Hex(),
		"executor", executor.Hex(),
		"bought", receipt.Bought.String(),
		"fee", receipt.Fee.String(),
	)
	return receipt, nil
}

// Cancel refunds an order's escrow to its maker. caller must sign the
// commitment key; see Gateway.Cancel for the authorization model.
func (a *App) Cancel(caller common.Address, p OrderParams, authSig []byte) (AssetID, *big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		asset  AssetID
		refund *big.Int
	)
	err := a.apply(func() ([]Event, error) {
		key, kerr := KeyFor(p, caller)
		if kerr != nil {
			return nil, kerr
		}
		var cerr error
		asset, refund, cerr = a.gateway.Cancel(caller, p, authSig)
		if cerr != nil {
			return nil, cerr
		}
		return []Event{{Type: EventOrderCancelled, Key: key, Maker: caller}}, nil
	})
	if err != nil {
		a.log.Infow("cancel_rejected", "caller", caller.Hex(), "err", err)
		return AssetID{}, nil, err
	}
	a.log.Infow("order_cancelled", "maker", caller.Hex(), "refund", refund.String())
	return asset, refund, nil
}

// Deposit credits an account from outside the protocol's domain (bridge
// or faucet edge).
func (a *App) Deposit(to common.Address, asset AssetID, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.apply(func() ([]Event, error) {
		u, err := AmountToU256(amount)
		if err != nil {
			return nil, err
		}
		if u.IsZero() {
			return nil, fmt.Errorf("deposit amount must be positive")
		}
		a.vault.Mint(to, asset, u)
		return nil, nil
	})
}

// DeriveKey computes the commitment key the given parameters and maker
// identity resolve to. Public read interface for off-ledger agents.
func (a *App) DeriveKey(p OrderParams, maker common.Address) (common.Hash, error) {
	return KeyFor(p, maker)
}

// ExistsOrder reports presence of the order the parameters resolve to.
func (a *App) ExistsOrder(p OrderParams, maker common.Address) (bool, common.Hash, error) {
	key, err := KeyFor(p, maker)
	if err != nil {
		return false, common.Hash{}, err
	}
	return a.ExistsKey(key), key, nil
}

// ExistsKey reports presence of a raw commitment key.
func (a *App) ExistsKey(key common.Hash) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry.Exists(key)
}

// BalanceOf reports an account's ledger balance in one asset.
func (a *App) BalanceOf(addr common.Address, asset AssetID) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.BalanceOf(addr, asset).ToBig()
}

// BalancesOf reports every non-zero balance of an account.
func (a *App) BalancesOf(addr common.Address) map[AssetID]*big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[AssetID]*big.Int)
	for asset, bal := range a.st.BalancesOf(addr) {
		out[asset] = bal.ToBig()
	}
	return out
}
