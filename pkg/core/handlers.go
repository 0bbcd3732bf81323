package core

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Handler payloads are 4-byte-selector-prefixed ABI calls, so a batch can
// carry heterogeneous sub-operations as opaque bytes and each module
// decodes only what it understands.

func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

var (
	injectSelector = selector("inject(address[],uint256[])")
	placeSelector  = selector("placeLimitOrder(address,address,uint256,uint256,address)")

	injectArgs = abi.Arguments{{Type: addressesT}, {Type: uint256sT}}
	placeArgs  = abi.Arguments{
		{Type: addressTy}, // sellToken
		{Type: addressTy}, // buyToken
		{Type: uint256Ty}, // amount
		{Type: uint256Ty}, // minReturn
		{Type: addressTy}, // witness
	}
)

func splitPayload(payload []byte) ([4]byte, []byte, error) {
	if len(payload) < 4 {
		return [4]byte{}, nil, fmt.Errorf("payload shorter than selector")
	}
	var sel [4]byte
	copy(sel[:], payload[:4])
	return sel, payload[4:], nil
}

// EncodeInject builds a funds-injection payload pulling the given token
// amounts from the maker into the batch context.
func EncodeInject(tokens []AssetID, amounts []*big.Int) ([]byte, error) {
	if len(tokens) != len(amounts) {
		return nil, fmt.Errorf("tokens/amounts length mismatch")
	}
	packed, err := injectArgs.Pack(tokens, amounts)
	if err != nil {
		return nil, err
	}
	return append(injectSelector[:], packed...), nil
}

// EncodePlaceOrder builds a placement payload. The witness secret is NOT
// part of it; only the derived witness address travels with the order.
func EncodePlaceOrder(sellToken, buyToken AssetID, amount, minReturn *big.Int, witness common.Address) ([]byte, error) {
	packed, err := placeArgs.Pack(sellToken, buyToken, amount, minReturn, witness)
	if err != nil {
		return nil, err
	}
	return append(placeSelector[:], packed...), nil
}

// FundsHandler moves ERC20-style assets from the maker into the batch
// context ahead of a placement. Native value travels as step value
// instead, never through inject.
type FundsHandler struct {
	vault *Vault
}

func NewFundsHandler(vault *Vault) *FundsHandler {
	return &FundsHandler{vault: vault}
}

func (h *FundsHandler) Call(ctx *CallContext, payload []byte) error {
	sel, data, err := splitPayload(payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(sel[:], injectSelector[:]) {
		return fmt.Errorf("funds handler: unknown selector %x", sel)
	}

	vals, err := injectArgs.Unpack(data)
	if err != nil {
		return fmt.Errorf("decode inject: %w", err)
	}
	tokens, ok1 := vals[0].([]common.Address)
	amounts, ok2 := vals[1].([]*big.Int)
	if !ok1 || !ok2 || len(tokens) != len(amounts) {
		return fmt.Errorf("decode inject: bad arguments")
	}

	for i, token := range tokens {
		if token == NativeAsset {
			return fmt.Errorf("native asset travels as step value, not inject")
		}
		amount, err := AmountToU256(amounts[i])
		if err != nil {
			return fmt.Errorf("inject amount %d: %w", i, err)
		}
		if err := h.vault.Transfer(ctx.Maker, ctx.Funds, token, amount); err != nil {
			return err
		}
	}
	return nil
}

// LimitOrderHandler places conditional orders: it derives the commitment
// key from the decoded parameters and the batch's maker, then escrows the
// sell amount out of the batch context.
type LimitOrderHandler struct {
	registry *Registry
	module   common.Address
}

func NewLimitOrderHandler(registry *Registry, module common.Address) *LimitOrderHandler {
	return &LimitOrderHandler{registry: registry, module: module}
}

func (h *LimitOrderHandler) Call(ctx *CallContext, payload []byte) error {
	sel, data, err := splitPayload(payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(sel[:], placeSelector[:]) {
		return fmt.Errorf("limit order handler: unknown selector %x", sel)
	}

	vals, err := placeArgs.Unpack(data)
	if err != nil {
		return fmt.Errorf("decode place order: %w", err)
	}
	sellToken, ok1 := vals[0].(common.Address)
	buyToken, ok2 := vals[1].(common.Address)
	amount, ok3 := vals[2].(*big.Int)
	minReturn, ok4 := vals[3].(*big.Int)
	witness, ok5 := vals[4].(common.Address)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return fmt.Errorf("decode place order: bad arguments")
	}

	if sellToken == buyToken {
		return fmt.Errorf("sell and buy token must differ")
	}
	if witness == (common.Address{}) {
		return fmt.Errorf("zero witness")
	}

	orderData, err := EncodeOrderData(buyToken, minReturn)
	if err != nil {
		return err
	}
	key := OrderKey(h.module, sellToken, ctx.Maker, witness, orderData)

	amountU, err := AmountToU256(amount)
	if err != nil {
		return err
	}
	if err := h.registry.Place(key, sellToken, amountU, ctx.Funds); err != nil {
		return err
	}

	ctx.Placed = append(ctx.Placed, PlacedOrder{
		Key:       key,
		SellToken: sellToken,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}
