// Package router provides the external swap provider the execution
// gateway delegates price realization to. The provider is opaque and
// potentially adversarial; the gateway never trusts its reported output
// without enforcing the order's minimum-return floor itself.
package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// SwapData carries the router-specific half of an execution's routing
// data: the hop path from sell asset to buy asset.
type SwapData struct {
	Path []common.Address
}

var (
	addressesTy  = mustABIType("address[]")
	swapDataArgs = abi.Arguments{{Type: addressesTy}}
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// EncodeSwapData ABI-encodes a swap path.
func EncodeSwapData(path []common.Address) ([]byte, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("swap path needs at least 2 hops")
	}
	return swapDataArgs.Pack(path)
}

// DecodeSwapData is the inverse of EncodeSwapData.
func DecodeSwapData(data []byte) (SwapData, error) {
	vals, err := swapDataArgs.Unpack(data)
	if err != nil {
		return SwapData{}, fmt.Errorf("decode swap data: %w", err)
	}
	path, ok := vals[0].([]common.Address)
	if !ok || len(path) < 2 {
		return SwapData{}, fmt.Errorf("decode swap data: bad path")
	}
	return SwapData{Path: path}, nil
}

// Failing is a provider that always errors. Used in tests to exercise the
// gateway's router-failure unwind.
type Failing struct {
	Reason string
}

func (f *Failing) Quote(ctx context.Context, sellAsset common.Address, amount *big.Int, data []byte) (*big.Int, error) {
	return nil, fmt.Errorf("quote rejected: %s", f.Reason)
}

func (f *Failing) Swap(ctx context.Context, sellAsset common.Address, amount *big.Int, data []byte) (*big.Int, error) {
	return nil, fmt.Errorf("swap rejected: %s", f.Reason)
}
