package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/seinj0312/furu-limit-order-handler/pkg/core"
)

// JSON wire types. Addresses and byte blobs are 0x-hex; amounts are
// decimal strings so callers never lose precision to JSON numbers.

// OrderParamsJSON mirrors core.OrderParams.
type OrderParamsJSON struct {
	Module    string `json:"module"`
	SellToken string `json:"sellToken"`
	BuyToken  string `json:"buyToken"`
	MinReturn string `json:"minReturn"`
	Witness   string `json:"witness"`
}

func (o OrderParamsJSON) toParams() (core.OrderParams, error) {
	for name, v := range map[string]string{
		"module": o.Module, "sellToken": o.SellToken,
		"buyToken": o.BuyToken, "witness": o.Witness,
	} {
		if !common.IsHexAddress(v) {
			return core.OrderParams{}, fmt.Errorf("invalid %s address", name)
		}
	}
	minReturn, ok := new(big.Int).SetString(o.MinReturn, 10)
	if !ok || minReturn.Sign() < 0 {
		return core.OrderParams{}, fmt.Errorf("invalid minReturn")
	}
	return core.OrderParams{
		Module:    common.HexToAddress(o.Module),
		SellToken: common.HexToAddress(o.SellToken),
		BuyToken:  common.HexToAddress(o.BuyToken),
		MinReturn: minReturn,
		Witness:   common.HexToAddress(o.Witness),
	}, nil
}

// KeyRequest asks for the commitment key some parameters resolve to.
type KeyRequest struct {
	Order OrderParamsJSON `json:"order"`
	Maker string          `json:"maker"`
}

// KeyResponse also reports presence so discovery is one round trip.
type KeyResponse struct {
	Key    string `json:"key"`
	Exists bool   `json:"exists"`
}

// ExistsResponse answers a raw key lookup.
type ExistsResponse struct {
	Key    string `json:"key"`
	Exists bool   `json:"exists"`
}

// BatchStepJSON is one step of a batch submission.
type BatchStepJSON struct {
	Target  string `json:"target"`
	Value   string `json:"value,omitempty"` // decimal, native asset
	Payload string `json:"payload"`         // 0x-hex ABI call
}

// BatchRequest submits an atomic step sequence for a maker.
type BatchRequest struct {
	Maker string          `json:"maker"`
	Steps []BatchStepJSON `json:"steps"`
}

func (r BatchRequest) toSteps() ([]core.Step, error) {
	steps := make([]core.Step, len(r.Steps))
	for i, s := range r.Steps {
		if !common.IsHexAddress(s.Target) {
			return nil, fmt.Errorf("step %d: invalid target", i)
		}
		payload, err := hexutil.Decode(s.Payload)
		if err != nil {
			return nil, fmt.Errorf("step %d: invalid payload: %v", i, err)
		}
		value := new(big.Int)
		if s.Value != "" {
			v, ok := new(big.Int).SetString(s.Value, 10)
			if !ok || v.Sign() < 0 {
				return nil, fmt.Errorf("step %d: invalid value", i)
			}
			value = v
		}
		steps[i] = core.Step{
			Target:  common.HexToAddress(s.Target),
			Value:   value,
			Payload: payload,
		}
	}
	return steps, nil
}

// ExecuteRequest submits a fill.
type ExecuteRequest struct {
	Order     OrderParamsJSON `json:"order"`
	Maker     string          `json:"maker"`
	Executor  string          `json:"executor"`
	Signature string          `json:"signature"` // witness signature, 0x-hex
	Routing   string          `json:"routing"`   // routing data, 0x-hex
}

// CancelRequest withdraws an order's escrow back to its maker.
type CancelRequest struct {
	Order     OrderParamsJSON `json:"order"`
	Maker     string          `json:"maker"`
	Signature string          `json:"signature"` // maker cancel signature, 0x-hex
}

// CancelResponse reports the refunded escrow.
type CancelResponse struct {
	Asset  string `json:"asset"`
	Refund string `json:"refund"`
}

// FillReceiptJSON is the wire form of a fill receipt. Amounts are decimal
// strings like everywhere else on this surface.
type FillReceiptJSON struct {
	Key       string `json:"key"`
	Maker     string `json:"maker"`
	Executor  string `json:"executor"`
	SellToken string `json:"sellToken"`
	BuyToken  string `json:"buyToken"`
	AmountIn  string `json:"amountIn"`
	Bought    string `json:"bought"`
	Fee       string `json:"fee"`
	Timestamp int64  `json:"timestamp"`
}

func fillReceiptJSON(r *core.FillReceipt) FillReceiptJSON {
	return FillReceiptJSON{
		Key:       r.Key.Hex(),
		Maker:     r.Maker.Hex(),
		Executor:  r.Executor.Hex(),
		SellToken: r.SellToken.Hex(),
		BuyToken:  r.BuyToken.Hex(),
		AmountIn:  r.AmountIn.String(),
		Bought:    r.Bought.String(),
		Fee:       r.Fee.String(),
		Timestamp: r.Timestamp,
	}
}

// PlacedOrderJSON is the wire form of a placement event payload.
type PlacedOrderJSON struct {
	Key       string `json:"key"`
	SellToken string `json:"sellToken"`
	Amount    string `json:"amount"`
}

func placedOrderJSON(p core.PlacedOrder) PlacedOrderJSON {
	return PlacedOrderJSON{
		Key:       p.Key.Hex(),
		SellToken: p.SellToken.Hex(),
		Amount:    p.Amount.String(),
	}
}

// EventJSON is the wire form of a lifecycle event on the feed.
type EventJSON struct {
	Type  string      `json:"type"`
	Key   string      `json:"key"`
	Maker string      `json:"maker"`
	Data  interface{} `json:"data,omitempty"`
}

func eventJSON(ev core.Event) EventJSON {
	out := EventJSON{Type: ev.Type, Key: ev.Key.Hex(), Maker: ev.Maker.Hex()}
	switch d := ev.Data.(type) {
	case *core.FillReceipt:
		out.Data = fillReceiptJSON(d)
	case core.PlacedOrder:
		out.Data = placedOrderJSON(d)
	default:
		out.Data = ev.Data
	}
	return out
}

// BalancesResponse maps asset addresses to decimal amounts.
type BalancesResponse struct {
	Address  string            `json:"address"`
	Balances map[string]string `json:"balances"`
}

// ErrorResponse carries the structured failure class alongside the detail,
// so agents can decide whether to retry.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// WSSubscribeRequest is the client->server subscription control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}
