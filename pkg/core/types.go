package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AssetID identifies a transferable asset. ERC20-style assets use their
// contract address; the chain's native asset uses the conventional
// 0xEeee...EEeE sentinel.
type AssetID = common.Address

// NativeAsset is the sentinel asset ID for the chain's native currency.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// OrderParams are the public parameters of a conditional order. The
// registry never stores them; every call that touches an order re-supplies
// them and proves a match by recomputing the commitment key.
type OrderParams struct {
	Module    common.Address // handler module the order was placed under
	SellToken AssetID
	BuyToken  AssetID
	MinReturn *big.Int
	Witness   common.Address // one-time public identity authorizing execution
}

// FillReceipt reports a completed execution for observability.
type FillReceipt struct {
	Key       common.Hash    `json:"key"`
	Maker     common.Address `json:"maker"`
	Executor  common.Address `json:"executor"`
	SellToken AssetID        `json:"sellToken"`
	BuyToken  AssetID        `json:"buyToken"`
	AmountIn  *big.Int       `json:"amountIn"`
	Bought    *big.Int       `json:"bought"` // gross router output
	Fee       *big.Int       `json:"fee"`    // paid to the relayer from proceeds
	Timestamp int64          `json:"timestamp"`
}

var (
	addressTy  = mustABIType("address")
	uint256Ty  = mustABIType("uint256")
	addressesT = mustABIType("address[]")
	uint256sT  = mustABIType("uint256[]")

	orderDataArgs = abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// EncodeOrderData ABI-encodes the module-specific order data tuple
// (buyToken, minReturn). This is the variable part of the commitment key.
func EncodeOrderData(buyToken AssetID, minReturn *big.Int) ([]byte, error) {
	if minReturn == nil || minReturn.Sign() < 0 {
		return nil, fmt.Errorf("invalid min return")
	}
	return orderDataArgs.Pack(buyToken, minReturn)
}

// DecodeOrderData is the inverse of EncodeOrderData.
func DecodeOrderData(data []byte) (AssetID, *big.Int, error) {
	vals, err := orderDataArgs.Unpack(data)
	if err != nil {
		return AssetID{}, nil, fmt.Errorf("decode order data: %w", err)
	}
	buyToken, ok := vals[0].(common.Address)
	if !ok {
		return AssetID{}, nil, fmt.Errorf("decode order data: bad buy token")
	}
	minReturn, ok := vals[1].(*big.Int)
	if !ok {
		return AssetID{}, nil, fmt.Errorf("decode order data: bad min return")
	}
	return buyToken, minReturn, nil
}
