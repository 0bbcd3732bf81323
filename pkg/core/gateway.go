package core

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	wcrypto "github.com/seinj0312/furu-limit-order-handler/pkg/crypto"
	"github.com/seinj0312/furu-limit-order-handler/pkg/util"
)

// SwapProvider realizes a fill's price through an external exchange.
// Implementations may fail or lie; the gateway verifies outcomes itself.
// Quote exists so the gateway can reject an unfillable order before the
// provider executes anything irreversible: a swap cannot be unwound by
// the ledger journal once it has hit the external market.
type SwapProvider interface {
	// Quote prices the swap without executing it.
	Quote(ctx context.Context, sellAsset common.Address, amount *big.Int, data []byte) (*big.Int, error)
	Swap(ctx context.Context, sellAsset common.Address, amount *big.Int, data []byte) (*big.Int, error)
}

// RoutingData is the execution-time auxiliary blob an agent supplies:
// who receives the execution fee, how much, and the provider-specific
// swap instructions the gateway passes through opaquely.
type RoutingData struct {
	Relayer  common.Address
	Fee      *big.Int
	SwapData []byte
}

var (
	bytesTy     = mustABIType("bytes")
	routingArgs = abi.Arguments{{Type: addressTy}, {Type: uint256Ty}, {Type: bytesTy}}
)

// EncodeRoutingData ABI-encodes routing data.
func EncodeRoutingData(rd RoutingData) ([]byte, error) {
	fee := rd.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if fee.Sign() < 0 {
		return nil, fmt.Errorf("negative execution fee")
	}
	return routingArgs.Pack(rd.Relayer, fee, rd.SwapData)
}

// DecodeRoutingData is the inverse of EncodeRoutingData.
func DecodeRoutingData(data []byte) (RoutingData, error) {
	vals, err := routingArgs.Unpack(data)
	if err != nil {
		return RoutingData{}, fmt.Errorf("decode routing data: %w", err)
	}
	relayer, ok1 := vals[0].(common.Address)
	fee, ok2 := vals[1].(*big.Int)
	swapData, ok3 := vals[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return RoutingData{}, fmt.Errorf("decode routing data: bad tuple")
	}
	return RoutingData{Relayer: relayer, Fee: fee, SwapData: swapData}, nil
}

// Gateway orchestrates fills and cancellations. It holds no state of its
// own: everything flows through the registry and vault so the enclosing
// operation's journal snapshot can unwind any failure completely.
type Gateway struct {
	registry *Registry
	vault    *Vault
	router   SwapProvider

	// feeBpsCap bounds the execution fee relative to gross proceeds,
	// in basis points. 0 = uncapped.
	feeBpsCap int64

	clock util.Clock
}

func NewGateway(registry *Registry, vault *Vault, router SwapProvider, feeBpsCap int64, clock util.Clock) *Gateway {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Gateway{
		registry:  registry,
		vault:     vault,
		router:    router,
		feeBpsCap: feeBpsCap,
		clock:     clock,
	}
}

// Execute fills an order. Steps, each a precondition for the next:
// recompute the key and confirm presence; verify the witness signature
// over a digest binding this executor AND this key; release the escrow;
// enforce the fee bound and the maker's net minimum-return floor against
// a quote; realize the swap; re-enforce both against the realized output;
// then disburse. The caller reverts the whole invocation on any error, so
// a failed attempt leaves the order intact and retryable. The quote
// pre-flight keeps the common failure (market below the floor) from ever
// reaching the external market, where the journal cannot follow.
func (g *Gateway) Execute(ctx context.Context, params OrderParams, maker, executor common.Address, sig, routing []byte) (*FillReceipt, error) {
	key, err := KeyFor(params, maker)
	if err != nil {
		return nil, err
	}

	if !g.registry.Exists(key) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, key.Hex())
	}

	digest := wcrypto.ExecutorDigest(executor, key)
	if !wcrypto.VerifyWitness(params.Witness, digest, sig) {
		return nil, fmt.Errorf("%w: key %s executor %s", ErrInvalidSignature, key.Hex(), executor.Hex())
	}

	rd, err := DecodeRoutingData(routing)
	if err != nil {
		return nil, err
	}

	asset, amount, err := g.registry.Release(key)
	if err != nil {
		return nil, err
	}
	if asset != params.SellToken {
		// Key collision across assets is cryptographically excluded;
		// reaching this means corrupted state.
		return nil, fmt.Errorf("escrow asset %s does not match order sell token %s", asset.Hex(), params.SellToken.Hex())
	}

	quoted, err := g.router.Quote(ctx, asset, amount.ToBig(), rd.SwapData)
	if err != nil {
		return nil, fmt.Errorf("%w: quote: %v", ErrRouterFailure, err)
	}
	if err := g.checkReturn(rd.Fee, quoted, params.MinReturn); err != nil {
		return nil, err
	}

	// Escrow leaves custody toward the exchange.
	if err := g.vault.st.Debit(g.vault.Custody(), asset, amount); err != nil {
		return nil, err
	}

	bought, err := g.router.Swap(ctx, asset, amount.ToBig(), rd.SwapData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouterFailure, err)
	}
	boughtU, err := AmountToU256(bought)
	if err != nil {
		return nil, fmt.Errorf("%w: provider reported unusable output", ErrRouterFailure)
	}

	// The quote is not trusted: re-verify against the realized output.
	if err := g.checkReturn(rd.Fee, bought, params.MinReturn); err != nil {
		return nil, err
	}

	fee := rd.Fee
	net := new(big.Int).Sub(bought, fee)

	// Proceeds arrive in custody, then pay out. This ordering keeps the
	// floor check strictly before any transfer a maker could observe.
	g.vault.st.Credit(g.vault.Custody(), params.BuyToken, boughtU)

	netU, _ := uint256.FromBig(net)
	feeU, _ := uint256.FromBig(fee)
	if err := g.vault.Push(maker, params.BuyToken, netU); err != nil {
		return nil, err
	}
	if err := g.vault.Push(rd.Relayer, params.BuyToken, feeU); err != nil {
		return nil, err
	}

	return &FillReceipt{
		Key:       key,
		Maker:     maker,
		Executor:  executor,
		SellToken: params.SellToken,
		BuyToken:  params.BuyToken,
		AmountIn:  amount.ToBig(),
		Bought:    bought,
		Fee:       new(big.Int).Set(fee),
		Timestamp: g.clock.Now().UnixMilli(),
	}, nil
}

// checkReturn enforces the fee bound and the maker's net floor against
// gross proceeds (quoted or realized).
func (g *Gateway) checkReturn(fee, gross, floor *big.Int) error {
	if g.feeBpsCap > 0 {
		maxFee := new(big.Int).Mul(gross, big.NewInt(g.feeBpsCap))
		maxFee.Div(maxFee, big.NewInt(10000))
		if fee.Cmp(maxFee) > 0 {
			return fmt.Errorf("%w: fee %s exceeds cap %s", ErrExcessiveFee, fee, maxFee)
		}
	}
	if fee.Cmp(gross) >= 0 {
		return fmt.Errorf("%w: fee %s consumes proceeds %s", ErrInsufficientReturn, fee, gross)
	}
	net := new(big.Int).Sub(gross, fee)
	if net.Cmp(floor) < 0 {
		return fmt.Errorf("%w: net %s below floor %s", ErrInsufficientReturn, net, floor)
	}
	return nil
}

// Cancel withdraws the escrow behind an order back to its maker. The
// caller authenticates by signing the commitment key with their account
// key; the key is then recomputed with the caller AS the maker, so a
// non-maker supplying someone else's parameters lands on a key that does
// not exist and learns nothing beyond "not found".
func (g *Gateway) Cancel(caller common.Address, params OrderParams, authSig []byte) (AssetID, *big.Int, error) {
	key, err := KeyFor(params, caller)
	if err != nil {
		return AssetID{}, nil, err
	}

	if !wcrypto.VerifyWitness(caller, CancelDigest(key), authSig) {
		return AssetID{}, nil, fmt.Errorf("%w: cancel signature does not recover %s", ErrUnauthorized, caller.Hex())
	}

	asset, amount, err := g.registry.Release(key)
	if err != nil {
		return AssetID{}, nil, err
	}

	if err := g.vault.Push(caller, asset, amount); err != nil {
		return AssetID{}, nil, err
	}
	return asset, amount.ToBig(), nil
}
