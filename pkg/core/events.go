package core

import (
	"github.com/ethereum/go-ethereum/common"
)

// Event channel names. Off-ledger agents subscribe to these to discover
// fillable orders and to observe terminal lifecycle transitions.
const (
	EventOrderPlaced    = "order_placed"
	EventOrderExecuted  = "order_executed"
	EventOrderCancelled = "order_cancelled"
)

// Event is a committed lifecycle transition. Events are published only
// after the operation that produced them has been durably committed.
type Event struct {
	Type  string         `json:"type"`
	Key   common.Hash    `json:"key"`
	Maker common.Address `json:"maker"`
	Data  any            `json:"data,omitempty"`
}
