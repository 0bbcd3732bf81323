package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Step is one entry of a batch: a handler module target, an optional
// native-asset value to forward, and an opaque ABI-encoded call payload.
type Step struct {
	Target  common.Address `json:"target"`
	Value   *big.Int       `json:"value,omitempty"`
	Payload []byte         `json:"payload"`
}

// CallContext is the delegated execution context a handler runs in for the
// duration of one batch. Funds is an ephemeral account holding whatever
// the batch has gathered so far (forwarded value, injected tokens); it has
// no identity beyond the invocation and is swept empty at the end.
type CallContext struct {
	Maker common.Address
	Funds common.Address
	Value *big.Int

	// Placed accumulates orders created during the batch so the caller
	// can publish events after the operation commits.
	Placed []PlacedOrder
}

// PlacedOrder records a placement that happened inside a batch.
type PlacedOrder struct {
	Key       common.Hash `json:"key"`
	SellToken AssetID     `json:"sellToken"`
	Amount    *big.Int    `json:"amount"`
}

// Handler is a pre-vetted module a batch step may target. Which modules
// exist is decided at wiring time; the executor is never handed an
// unvetted target.
type Handler interface {
	Call(ctx *CallContext, payload []byte) error
}

// batchFundsAccount is the ledger address of the ephemeral batch context.
// Top-level operations are serialized, so a single well-known address
// suffices; it is provably empty outside a running batch.
var batchFundsAccount = common.BytesToAddress(crypto.Keccak256([]byte("batch/funds"))[12:])

// BatchExecutor runs ordered step sequences atomically. It performs no
// rollback itself: every mutation is journaled, and the owning operation
// reverts its snapshot when Run returns a StepError, erasing the effects
// of every step that already ran.
type BatchExecutor struct {
	vault    *Vault
	handlers map[common.Address]Handler
}

func NewBatchExecutor(vault *Vault) *BatchExecutor {
	return &BatchExecutor{
		vault:    vault,
		handlers: make(map[common.Address]Handler),
	}
}

// Register installs a handler module at a target address.
func (b *BatchExecutor) Register(target common.Address, h Handler) {
	b.handlers[target] = h
}

// Run executes steps in order against maker's delegated context. The
// first failing step aborts the sequence with a StepError naming its
// index; the caller must then revert the enclosing snapshot. On success,
// leftover context funds are swept back to the maker so nothing survives
// the invocation.
func (b *BatchExecutor) Run(maker common.Address, steps []Step) ([]PlacedOrder, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	ctx := &CallContext{
		Maker: maker,
		Funds: batchFundsAccount,
	}

	for i, step := range steps {
		h, ok := b.handlers[step.Target]
		if !ok {
			return nil, &StepError{Index: i, Err: fmt.Errorf("unknown handler module %s", step.Target.Hex())}
		}

		ctx.Value = new(big.Int)
		if step.Value != nil && step.Value.Sign() != 0 {
			value, err := AmountToU256(step.Value)
			if err != nil {
				return nil, &StepError{Index: i, Err: err}
			}
			if err := b.vault.Transfer(maker, ctx.Funds, NativeAsset, value); err != nil {
				return nil, &StepError{Index: i, Err: err}
			}
			ctx.Value = new(big.Int).Set(step.Value)
		}

		if err := h.Call(ctx, step.Payload); err != nil {
			return nil, &StepError{Index: i, Err: err}
		}
	}

	// Sweep whatever the steps left behind back to the maker.
	for asset, bal := range b.vault.st.BalancesOf(ctx.Funds) {
		if err := b.vault.Transfer(ctx.Funds, maker, asset, bal); err != nil {
			return nil, fmt.Errorf("sweep context funds: %w", err)
		}
	}

	return ctx.Placed, nil
}
