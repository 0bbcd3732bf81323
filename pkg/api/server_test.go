package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/seinj0312/furu-limit-order-handler/params"
	"github.com/seinj0312/furu-limit-order-handler/pkg/core"
	wcrypto "github.com/seinj0312/furu-limit-order-handler/pkg/crypto"
	"github.com/seinj0312/furu-limit-order-handler/pkg/router"
)

var (
	testModule = common.HexToAddress("0x037fc8e71445910e1E0bBb2a0896d5e9A7485318")
	testDAI    = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	maker      = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	agent      = common.HexToAddress("0x3CACa7b48D0573D793d3b0279b5F0029180E83b6")
)

func newTestServer(t *testing.T) (*Server, *core.App, *router.AMM) {
	t.Helper()
	amm := router.NewAMM()
	amm.AddLiquidity(core.NativeAsset, testDAI, big.NewInt(1_000_000_000), big.NewInt(3_000_000_000))

	cfg := params.Protocol{
		ModuleAddress: testModule,
		VaultAddress:  common.HexToAddress("0x36049D479A97CdE1fC6E2a5D2caE30B666Ebf92B"),
	}
	app := core.NewApp(cfg, amm, nil)
	return NewServer(app, []string{"*"}, nil), app, amm
}

func doJSON(t *testing.T, s *Server, method, path string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec.Code
}

func orderJSON(minReturn *big.Int, witness common.Address) OrderParamsJSON {
	return OrderParamsJSON{
		Module:    testModule.Hex(),
		SellToken: core.NativeAsset.Hex(),
		BuyToken:  testDAI.Hex(),
		MinReturn: minReturn.String(),
		Witness:   witness.Hex(),
	}
}

// placeViaAPI funds the maker and submits a native-sell placement batch.
func placeViaAPI(t *testing.T, s *Server, app *core.App, amount, minReturn *big.Int, witness common.Address) {
	t.Helper()
	if err := app.Deposit(maker, core.NativeAsset, amount); err != nil {
		t.Fatal(err)
	}
	payload, err := core.EncodePlaceOrder(core.NativeAsset, testDAI, amount, minReturn, witness)
	if err != nil {
		t.Fatal(err)
	}
	req := BatchRequest{
		Maker: maker.Hex(),
		Steps: []BatchStepJSON{{
			Target:  testModule.Hex(),
			Value:   amount.String(),
			Payload: hexutil.Encode(payload),
		}},
	}
	if code := doJSON(t, s, "POST", "/api/v1/batch", req, nil); code != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", code)
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	var resp map[string]string
	if code := doJSON(t, s, "GET", "/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s, app, _ := newTestServer(t)
	secret, witness, err := wcrypto.GenerateCommitment()
	if err != nil {
		t.Fatal(err)
	}
	minReturn := big.NewInt(2500)

	// Key derivation before placement: known key, absent
	var keyResp KeyResponse
	keyReq := KeyRequest{Order: orderJSON(minReturn, witness), Maker: maker.Hex()}
	if code := doJSON(t, s, "POST", "/api/v1/orders/key", keyReq, &keyResp); code != http.StatusOK {
		t.Fatalf("key status = %d", code)
	}
	if keyResp.Exists {
		t.Error("order reported present before placement")
	}

	placeViaAPI(t, s, app, big.NewInt(1000), minReturn, witness)

	// Raw key lookup now sees it
	var exResp ExistsResponse
	if code := doJSON(t, s, "GET", "/api/v1/orders/"+keyResp.Key, nil, &exResp); code != http.StatusOK {
		t.Fatalf("exists status = %d", code)
	}
	if !exResp.Exists {
		t.Fatal("placed order not visible")
	}

	// Fill it
	key := common.HexToHash(keyResp.Key)
	sig, err := secret.SignDigest(wcrypto.ExecutorDigest(agent, key).Bytes())
	if err != nil {
		t.Fatal(err)
	}
	swapData, _ := router.EncodeSwapData([]common.Address{core.NativeAsset, testDAI})
	routing, _ := core.EncodeRoutingData(core.RoutingData{
		Relayer: agent, Fee: big.NewInt(5), SwapData: swapData,
	})

	execReq := ExecuteRequest{
		Order:     orderJSON(minReturn, witness),
		Maker:     maker.Hex(),
		Executor:  agent.Hex(),
		Signature: hexutil.Encode(sig),
		Routing:   hexutil.Encode(routing),
	}
	var receipt FillReceiptJSON
	if code := doJSON(t, s, "POST", "/api/v1/orders/execute", execReq, &receipt); code != http.StatusOK {
		t.Fatalf("execute status = %d", code)
	}
	if receipt.Key != key.Hex() {
		t.Errorf("receipt key = %s, want %s", receipt.Key, key.Hex())
	}

	// Balances reflect the net proceeds
	var bal BalancesResponse
	if code := doJSON(t, s, "GET", "/api/v1/accounts/"+maker.Hex()+"/balances", nil, &bal); code != http.StatusOK {
		t.Fatalf("balances status = %d", code)
	}
	got, ok := new(big.Int).SetString(bal.Balances[testDAI.Hex()], 10)
	if !ok || got.Cmp(minReturn) < 0 {
		t.Errorf("maker proceeds = %v, want >= %s", bal.Balances, minReturn)
	}

	// Second fill of the same order: not found
	var errResp ErrorResponse
	req := httptest.NewRequest("POST", "/api/v1/orders/execute", jsonBody(t, execReq))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("refill status = %d, want 404", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Class != "not_found" {
		t.Errorf("error class = %q, want not_found", errResp.Class)
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestExecuteBadSignatureOverHTTP(t *testing.T) {
	s, app, _ := newTestServer(t)
	_, witness, _ := wcrypto.GenerateCommitment()
	placeViaAPI(t, s, app, big.NewInt(1000), big.NewInt(1), witness)

	swapData, _ := router.EncodeSwapData([]common.Address{core.NativeAsset, testDAI})
	routing, _ := core.EncodeRoutingData(core.RoutingData{Relayer: agent, SwapData: swapData})

	execReq := ExecuteRequest{
		Order:     orderJSON(big.NewInt(1), witness),
		Maker:     maker.Hex(),
		Executor:  agent.Hex(),
		Signature: hexutil.Encode(make([]byte, 65)),
		Routing:   hexutil.Encode(routing),
	}
	var errResp ErrorResponse
	if code := doJSON(t, s, "POST", "/api/v1/orders/execute", execReq, &errResp); code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if errResp.Class != "invalid_signature" {
		t.Errorf("class = %q, want invalid_signature", errResp.Class)
	}
}

func TestCancelOverHTTP(t *testing.T) {
	s, app, _ := newTestServer(t)

	// The maker needs a real key to sign the cancellation
	makerSecret, makerAddr, _ := wcrypto.GenerateCommitment()
	_, witness, _ := wcrypto.GenerateCommitment()
	amount := big.NewInt(800)
	if err := app.Deposit(makerAddr, core.NativeAsset, amount); err != nil {
		t.Fatal(err)
	}
	payload, _ := core.EncodePlaceOrder(core.NativeAsset, testDAI, amount, big.NewInt(1), witness)
	batch := BatchRequest{
		Maker: makerAddr.Hex(),
		Steps: []BatchStepJSON{{Target: testModule.Hex(), Value: amount.String(), Payload: hexutil.Encode(payload)}},
	}
	if code := doJSON(t, s, "POST", "/api/v1/batch", batch, nil); code != http.StatusOK {
		t.Fatalf("batch status = %d", code)
	}

	key, err := app.DeriveKey(core.OrderParams{
		Module: testModule, SellToken: core.NativeAsset, BuyToken: testDAI,
		MinReturn: big.NewInt(1), Witness: witness,
	}, makerAddr)
	if err != nil {
		t.Fatal(err)
	}
	authSig, _ := makerSecret.SignDigest(core.CancelDigest(key).Bytes())

	order := orderJSON(big.NewInt(1), witness)
	var resp CancelResponse
	req := CancelRequest{Order: order, Maker: makerAddr.Hex(), Signature: hexutil.Encode(authSig)}
	if code := doJSON(t, s, "POST", "/api/v1/orders/cancel", req, &resp); code != http.StatusOK {
		t.Fatalf("cancel status = %d", code)
	}
	if resp.Refund != "800" {
		t.Errorf("refund = %s, want 800", resp.Refund)
	}

	// Cancelling again: gone
	var errResp ErrorResponse
	if code := doJSON(t, s, "POST", "/api/v1/orders/cancel", req, &errResp); code != http.StatusNotFound {
		t.Fatalf("re-cancel status = %d, want 404", code)
	}
}

func TestDuplicatePlacementConflict(t *testing.T) {
	s, app, _ := newTestServer(t)
	_, witness, _ := wcrypto.GenerateCommitment()

	placeViaAPI(t, s, app, big.NewInt(500), big.NewInt(1), witness)

	// Same parameters again: the batch unwinds on the duplicate key
	if err := app.Deposit(maker, core.NativeAsset, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	payload, _ := core.EncodePlaceOrder(core.NativeAsset, testDAI, big.NewInt(500), big.NewInt(1), witness)
	batch := BatchRequest{
		Maker: maker.Hex(),
		Steps: []BatchStepJSON{{Target: testModule.Hex(), Value: "500", Payload: hexutil.Encode(payload)}},
	}
	var errResp ErrorResponse
	if code := doJSON(t, s, "POST", "/api/v1/batch", batch, &errResp); code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", code)
	}
	if errResp.Class != "already_exists" {
		t.Errorf("class = %q, want already_exists", errResp.Class)
	}

	// Funds swept back, not lost
	if got := app.BalanceOf(maker, core.NativeAsset); got.Int64() != 500 {
		t.Errorf("maker balance = %s, want 500", got)
	}
}

// TestAmountsSerializeAsStrings pins the wire convention: 18-decimal
// amounts exceed float64 precision, so every amount field leaves the
// server as a decimal string, receipts and events included.
func TestAmountsSerializeAsStrings(t *testing.T) {
	s, app, amm := newTestServer(t)

	var feed []json.RawMessage
	app.OnEvent(func(ev core.Event) {
		data, err := json.Marshal(eventJSON(ev))
		if err != nil {
			t.Errorf("marshal event: %v", err)
			return
		}
		feed = append(feed, data)
	})

	// 10^21: far past 2^53, representable only as a string
	amount, _ := new(big.Int).SetString("1000000000000000000000", 10)
	secret, witness, err := wcrypto.GenerateCommitment()
	if err != nil {
		t.Fatal(err)
	}

	// Deepen the pool so the order is fillable at this scale
	bigR, _ := new(big.Int).SetString("1000000000000000000000000000", 10)
	bigR3 := new(big.Int).Mul(bigR, big.NewInt(3))
	if err := app.Deposit(maker, core.NativeAsset, amount); err != nil {
		t.Fatal(err)
	}
	placeViaAPIWithPool(t, s, amm, amount, witness, bigR, bigR3)

	key, _ := app.DeriveKey(core.OrderParams{
		Module: testModule, SellToken: core.NativeAsset, BuyToken: testDAI,
		MinReturn: big.NewInt(1), Witness: witness,
	}, maker)
	sig, _ := secret.SignDigest(wcrypto.ExecutorDigest(agent, key).Bytes())
	swapData, _ := router.EncodeSwapData([]common.Address{core.NativeAsset, testDAI})
	routing, _ := core.EncodeRoutingData(core.RoutingData{Relayer: agent, Fee: big.NewInt(1), SwapData: swapData})

	execReq := ExecuteRequest{
		Order: OrderParamsJSON{
			Module: testModule.Hex(), SellToken: core.NativeAsset.Hex(),
			BuyToken: testDAI.Hex(), MinReturn: "1", Witness: witness.Hex(),
		},
		Maker:     maker.Hex(),
		Executor:  agent.Hex(),
		Signature: hexutil.Encode(sig),
		Routing:   hexutil.Encode(routing),
	}

	req := httptest.NewRequest("POST", "/api/v1/orders/execute", jsonBody(t, execReq))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d: %s", rec.Code, rec.Body.String())
	}

	// Decode untyped: amount fields must be JSON strings, digit-exact
	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	got, ok := raw["amountIn"].(string)
	if !ok {
		t.Fatalf("amountIn is %T, want string", raw["amountIn"])
	}
	if got != amount.String() {
		t.Errorf("amountIn = %q, want %q", got, amount.String())
	}
	for _, field := range []string{"bought", "fee"} {
		if _, ok := raw[field].(string); !ok {
			t.Errorf("%s is %T, want string", field, raw[field])
		}
	}

	// The event feed carries the same wire form
	if len(feed) == 0 {
		t.Fatal("no events observed")
	}
	for _, msg := range feed {
		var ev map[string]interface{}
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		data, ok := ev["data"].(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"amount", "amountIn", "bought", "fee"} {
			if v, present := data[field]; present {
				if _, isString := v.(string); !isString {
					t.Errorf("event %s field %s is %T, want string", ev["type"], field, v)
				}
			}
		}
	}
}

// placeViaAPIWithPool seeds a fresh pool scale and places a native-sell
// order for an already-funded maker.
func placeViaAPIWithPool(t *testing.T, s *Server, amm *router.AMM, amount *big.Int, witness common.Address, rNative, rQuote *big.Int) {
	t.Helper()
	amm.AddLiquidity(core.NativeAsset, testDAI, rNative, rQuote)
	payload, err := core.EncodePlaceOrder(core.NativeAsset, testDAI, amount, big.NewInt(1), witness)
	if err != nil {
		t.Fatal(err)
	}
	req := BatchRequest{
		Maker: maker.Hex(),
		Steps: []BatchStepJSON{{
			Target:  testModule.Hex(),
			Value:   amount.String(),
			Payload: hexutil.Encode(payload),
		}},
	}
	if code := doJSON(t, s, "POST", "/api/v1/batch", req, nil); code != http.StatusOK {
		t.Fatalf("batch status = %d", code)
	}
}

func TestRequestValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Bad maker address
	req := KeyRequest{Order: orderJSON(big.NewInt(1), agent), Maker: "not-an-address"}
	if code := doJSON(t, s, "POST", "/api/v1/orders/key", req, nil); code != http.StatusBadRequest {
		t.Errorf("bad maker status = %d, want 400", code)
	}

	// Bad minReturn
	bad := orderJSON(big.NewInt(1), agent)
	bad.MinReturn = "-5"
	if code := doJSON(t, s, "POST", "/api/v1/orders/key", KeyRequest{Order: bad, Maker: maker.Hex()}, nil); code != http.StatusBadRequest {
		t.Errorf("negative minReturn status = %d, want 400", code)
	}

	// Malformed key lookup
	if code := doJSON(t, s, "GET", "/api/v1/orders/0x1234", nil, nil); code != http.StatusBadRequest {
		t.Errorf("short key status = %d, want 400", code)
	}

	// Bad balance address
	if code := doJSON(t, s, "GET", "/api/v1/accounts/zzz/balances", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad address status = %d, want 400", code)
	}
}
