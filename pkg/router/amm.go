package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AMM is a constant-product (x*y=k) pool router with the classic 0.3%
// LP fee. It plays the role of the external exchange orders are realized
// against: tests and the demo node trade against it directly to move the
// market, exactly how the fillability of a resting order changes in the
// wild.
type AMM struct {
	mu    sync.Mutex
	pools map[pairKey]*pool
}

type pairKey struct {
	a, b common.Address // sorted
}

type pool struct {
	reserveA *big.Int // reserve of pairKey.a
	reserveB *big.Int // reserve of pairKey.b
}

func NewAMM() *AMM {
	return &AMM{pools: make(map[pairKey]*pool)}
}

func sortPair(x, y common.Address) (pairKey, bool) {
	if x.Cmp(y) < 0 {
		return pairKey{a: x, b: y}, false
	}
	return pairKey{a: y, b: x}, true
}

// AddLiquidity seeds (or tops up) the pool for an asset pair.
func (m *AMM) AddLiquidity(assetX, assetY common.Address, amountX, amountY *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, flipped := sortPair(assetX, assetY)
	if flipped {
		amountX, amountY = amountY, amountX
	}
	p, ok := m.pools[key]
	if !ok {
		p = &pool{reserveA: new(big.Int), reserveB: new(big.Int)}
		m.pools[key] = p
	}
	p.reserveA.Add(p.reserveA, amountX)
	p.reserveB.Add(p.reserveB, amountY)
}

// Reserves returns copies of the pool reserves for (assetX, assetY),
// in that order.
func (m *AMM) Reserves(assetX, assetY common.Address) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, flipped, err := m.pool(assetX, assetY)
	if err != nil {
		return nil, nil, err
	}
	rx, ry := new(big.Int).Set(p.reserveA), new(big.Int).Set(p.reserveB)
	if flipped {
		rx, ry = ry, rx
	}
	return rx, ry, nil
}

func (m *AMM) pool(x, y common.Address) (*pool, bool, error) {
	key, flipped := sortPair(x, y)
	p, ok := m.pools[key]
	if !ok {
		return nil, false, fmt.Errorf("no pool for %s/%s", x.Hex(), y.Hex())
	}
	return p, flipped, nil
}

// getAmountOut applies the constant-product formula with a 0.3% fee:
//
//	out = (in*997*reserveOut) / (reserveIn*1000 + in*997)
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(1000))
	den.Add(den, inWithFee)
	return num.Div(num, den)
}

// GetAmountsOut quotes a multi-hop swap without mutating reserves.
// Mirrors the V2 router call the original relies on for pricing orders.
func (m *AMM) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.amountsOutLocked(amountIn, path)
}

func (m *AMM) amountsOutLocked(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("path needs at least 2 hops")
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		p, flipped, err := m.pool(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		rIn, rOut := p.reserveA, p.reserveB
		if flipped {
			rIn, rOut = rOut, rIn
		}
		amounts[i+1] = getAmountOut(amounts[i], rIn, rOut)
	}
	return amounts, nil
}

// SwapExact executes a swap along path, mutating reserves, and returns the
// realized output. Used by tests to shift the market price.
func (m *AMM) SwapExact(amountIn *big.Int, path []common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapLocked(amountIn, path)
}

func (m *AMM) swapLocked(amountIn *big.Int, path []common.Address) (*big.Int, error) {
	amounts, err := m.amountsOutLocked(amountIn, path)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(path)-1; i++ {
		p, flipped, _ := m.pool(path[i], path[i+1])
		rIn, rOut := p.reserveA, p.reserveB
		if flipped {
			rIn, rOut = rOut, rIn
		}
		rIn.Add(rIn, amounts[i])
		rOut.Sub(rOut, amounts[i+1])
	}
	return new(big.Int).Set(amounts[len(amounts)-1]), nil
}

// Quote implements the gateway's swap provider contract: the price the
// encoded hop path would realize right now, without touching reserves.
func (m *AMM) Quote(ctx context.Context, sellAsset common.Address, amount *big.Int, data []byte) (*big.Int, error) {
	sd, err := m.decodeFor(ctx, sellAsset, data)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	amounts, err := m.amountsOutLocked(amount, sd.Path)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}

// Swap implements the gateway's swap provider contract. The routing blob
// is an encoded hop path; the path must start at sellAsset.
func (m *AMM) Swap(ctx context.Context, sellAsset common.Address, amount *big.Int, data []byte) (*big.Int, error) {
	sd, err := m.decodeFor(ctx, sellAsset, data)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapLocked(amount, sd.Path)
}

func (m *AMM) decodeFor(ctx context.Context, sellAsset common.Address, data []byte) (SwapData, error) {
	if err := ctx.Err(); err != nil {
		return SwapData{}, err
	}
	sd, err := DecodeSwapData(data)
	if err != nil {
		return SwapData{}, err
	}
	if sd.Path[0] != sellAsset {
		return SwapData{}, fmt.Errorf("swap path starts at %s, selling %s", sd.Path[0].Hex(), sellAsset.Hex())
	}
	return sd, nil
}
