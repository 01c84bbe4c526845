package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"givepool/core/types"
	"givepool/crypto"
	"givepool/native/settlement"
	statestore "givepool/state/settlement"
	"givepool/storage"
)

const (
	testSecret   = "test-secret"
	testIssuer   = "givepool-test"
	testAudience = "settlementd"
)

func addr20(suffix byte) [20]byte {
	var a [20]byte
	a[len(a)-1] = suffix
	return a
}

func bech32Of(a [20]byte) string {
	return crypto.MustNewAddress(crypto.GivePrefix, a[:]).String()
}

type testHarness struct {
	server *Server
	store  *statestore.Store
	engine *settlement.Engine

	bridge [20]byte
	staker [20]byte
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store := statestore.NewStore(storage.NewMemDB())
	engine := settlement.NewEngine(addr20(0x01), addr20(0x02), settlement.DefaultYieldSplit)
	engine.SetState(store)
	engine.SetPoolID("default")

	bridge := addr20(0x04)
	staker := addr20(0x10)
	engine.SetBridgeCaller(bridge)
	if err := engine.RegisterFundraiser("clean-water", addr20(0x03), "default"); err != nil {
		t.Fatalf("register fundraiser: %v", err)
	}
	if err := store.PutAccount(staker, &types.Account{Balance: big.NewInt(10_000)}); err != nil {
		t.Fatalf("fund staker: %v", err)
	}
	store.Commit()

	server := NewServer(Config{
		Engine:       engine,
		AuthSecret:   testSecret,
		AuthIssuer:   testIssuer,
		AuthAudience: testAudience,

		RateLimitPerSecond: 1_000,
		RateLimitBurst:     1_000,
	})
	return &testHarness{server: server, store: store, engine: engine, bridge: bridge, staker: staker}
}

func signToken(t *testing.T, subject string, scopes string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"scope": scopes,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (h *testHarness) call(t *testing.T, token, method string, params interface{}) (*RPCResponse, int) {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{},
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(encoded))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	resp := &RPCResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), resp); err != nil {
		t.Fatalf("decode response (%d): %v: %s", rec.Code, err, rec.Body.String())
	}
	return resp, rec.Code
}

func resultField(t *testing.T, resp *RPCResponse, key string) string {
	t.Helper()
	obj, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is not an object: %#v", resp.Result)
	}
	value, ok := obj[key].(string)
	if !ok {
		t.Fatalf("result field %q missing: %#v", key, obj)
	}
	return value
}

func TestMethodNotFound(t *testing.T) {
	h := newTestHarness(t)
	resp, _ := h.call(t, "", "settlement_unknown", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	h := newTestHarness(t)
	for _, method := range []string{
		"settlement_stake",
		"settlement_handleCrossChainDonation",
		"settlement_harvestAndDistribute",
	} {
		resp, status := h.call(t, "", method, map[string]string{"amount": "1"})
		if status != http.StatusUnauthorized {
			t.Fatalf("%s: status %d want 401", method, status)
		}
		if resp.Error == nil || resp.Error.Code != codeUnauthorized {
			t.Fatalf("%s: error %+v", method, resp.Error)
		}
	}
}

func TestBridgeMethodsRequireBridgeScope(t *testing.T) {
	h := newTestHarness(t)
	clientToken := signToken(t, bech32Of(h.staker), "client")
	resp, status := h.call(t, clientToken, "settlement_handleCrossChainDonation", map[string]interface{}{
		"actor":         bech32Of(h.staker),
		"fundraiserId":  "clean-water",
		"amount":        "500",
		"sourceChainId": 137,
		"fingerprint":   "0x00",
	})
	if status != http.StatusForbidden {
		t.Fatalf("status %d want 403", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("error %+v", resp.Error)
	}
}

func TestRejectsWrongSecret(t *testing.T) {
	h := newTestHarness(t)
	claims := jwt.MapClaims{
		"sub": bech32Of(h.staker),
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, status := h.call(t, forged, "settlement_stake", map[string]string{"amount": "1"})
	if status != http.StatusUnauthorized {
		t.Fatalf("status %d want 401", status)
	}
}

func TestDonationFlowEndToEnd(t *testing.T) {
	h := newTestHarness(t)
	bridgeToken := signToken(t, bech32Of(h.bridge), "bridge")
	donor := bech32Of(h.staker)

	hashResp, _ := h.call(t, "", "settlement_computeDonationMessageHash", map[string]interface{}{
		"actor":         donor,
		"fundraiserId":  "clean-water",
		"amount":        "500",
		"sourceChainId": 137,
	})
	if hashResp.Error != nil {
		t.Fatalf("compute hash: %+v", hashResp.Error)
	}
	fingerprint := resultField(t, hashResp, "fingerprint")

	params := map[string]interface{}{
		"actor":         donor,
		"fundraiserId":  "clean-water",
		"amount":        "500",
		"sourceChainId": 137,
		"fingerprint":   fingerprint,
	}
	applyResp, _ := h.call(t, bridgeToken, "settlement_handleCrossChainDonation", params)
	if applyResp.Error != nil {
		t.Fatalf("apply donation: %+v", applyResp.Error)
	}

	dupResp, _ := h.call(t, bridgeToken, "settlement_handleCrossChainDonation", params)
	if dupResp.Error == nil || dupResp.Error.Code != codeDuplicateMessage {
		t.Fatalf("duplicate donation: %+v", dupResp.Error)
	}

	totalResp, _ := h.call(t, "", "settlement_fundraiserTotal", map[string]string{"fundraiserId": "clean-water"})
	if got := resultField(t, totalResp, "totalDonations"); got != "500" {
		t.Fatalf("fundraiser total: %q want 500", got)
	}

	processedResp, _ := h.call(t, "", "settlement_isMessageProcessed", map[string]string{"fingerprint": fingerprint})
	obj := processedResp.Result.(map[string]interface{})
	if processed, _ := obj["processed"].(bool); !processed {
		t.Fatalf("fingerprint not reported processed: %#v", processedResp.Result)
	}
}

func TestStakeAndPositionFlow(t *testing.T) {
	h := newTestHarness(t)
	stakerToken := signToken(t, bech32Of(h.staker), "client")

	stakeResp, _ := h.call(t, stakerToken, "settlement_stake", map[string]string{"amount": "1000"})
	if stakeResp.Error != nil {
		t.Fatalf("stake: %+v", stakeResp.Error)
	}

	posResp, _ := h.call(t, "", "settlement_position", map[string]string{"staker": bech32Of(h.staker)})
	if got := resultField(t, posResp, "principal"); got != "1000" {
		t.Fatalf("principal: %q want 1000", got)
	}

	overResp, _ := h.call(t, stakerToken, "settlement_unstake", map[string]string{"amount": "2000"})
	if overResp.Error == nil || overResp.Error.Code != codeInsufficientPrincipal {
		t.Fatalf("oversized unstake: %+v", overResp.Error)
	}
}

func TestSetYieldSplitValidationCode(t *testing.T) {
	h := newTestHarness(t)
	stakerToken := signToken(t, bech32Of(h.staker), "client")
	resp, _ := h.call(t, stakerToken, "settlement_setYieldSplit", map[string]uint32{
		"causeBps":    9_000,
		"stakerBps":   1_900,
		"platformBps": 200,
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidSplit {
		t.Fatalf("invalid split: %+v", resp.Error)
	}
}

func TestLegacyDonationDisabledCode(t *testing.T) {
	h := newTestHarness(t)
	bridgeToken := signToken(t, bech32Of(h.bridge), "bridge")
	resp, _ := h.call(t, bridgeToken, "settlement_handleCrossChainDonationLegacy", map[string]interface{}{
		"actor":        bech32Of(h.staker),
		"fundraiserId": "clean-water",
		"amount":       "100",
	})
	if resp.Error == nil || resp.Error.Code != codeLegacyDisabled {
		t.Fatalf("legacy path: %+v", resp.Error)
	}
}
