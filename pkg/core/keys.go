package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderKey derives the commitment key an order lives under:
//
//	keccak256(module || sellToken || maker || witness || keccak256(data))
//
// All address fields are fixed 20 bytes and the variable-length data is
// hashed first, so distinct inputs cannot alias each other. Identical
// inputs always derive the same key; the registry relies on this to let
// callers prove order parameters without the registry storing them.
func OrderKey(module common.Address, sellToken AssetID, maker, witness common.Address, data []byte) common.Hash {
	return crypto.Keccak256Hash(
		module.Bytes(),
		sellToken.Bytes(),
		maker.Bytes(),
		witness.Bytes(),
		crypto.Keccak256(data),
	)
}

// KeyFor derives the commitment key for public order parameters and a
// maker identity. Convenience wrapper over OrderKey + EncodeOrderData.
func KeyFor(params OrderParams, maker common.Address) (common.Hash, error) {
	data, err := EncodeOrderData(params.BuyToken, params.MinReturn)
	if err != nil {
		return common.Hash{}, err
	}
	return OrderKey(params.Module, params.SellToken, maker, params.Witness, data), nil
}

// CancelDigest is the message a maker signs to authenticate a cancellation:
// keccak256("cancel:" || key). Scoped by prefix so a cancellation signature
// can never double as an execution authorization.
func CancelDigest(key common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("cancel:"), key.Bytes())
}
