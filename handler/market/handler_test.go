package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bankGateway "onchain-marketplace/gateway/bank"
	"onchain-marketplace/gateway/ledger"
	bankHandler "onchain-marketplace/handler/bank"
	bankUsecase "onchain-marketplace/usecase/bank"
	marketUsecase "onchain-marketplace/usecase/market"
)

const (
	testOwner = "0x1111111111111111111111111111111111111111"
	testBuyer = "0x2222222222222222222222222222222222222222"
)

// newTestRouter はmain.goと同じルーティングを組み立てる
func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	bank := bankGateway.NewEthBank()
	marketLedger, err := ledger.NewMarketLedger(testOwner, bank)
	require.NoError(t, err)

	marketHdlr := NewMarketHandler(marketUsecase.NewMarketUsecase(marketLedger, ""))
	bankHdlr := bankHandler.NewBankHandler(bankUsecase.NewBankUsecase(bank))

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/market/items", marketHdlr.HandleListItem).Methods("POST")
	router.HandleFunc("/api/v1/market/items/{itemId}", marketHdlr.HandleGetItem).Methods("GET")
	router.HandleFunc("/api/v1/market/items/{itemId}/buy", marketHdlr.HandleBuyItem).Methods("POST")
	router.HandleFunc("/api/v1/market/items/{itemId}/refund", marketHdlr.HandleRefund).Methods("POST")
	router.HandleFunc("/api/v1/market/withdraw", marketHdlr.HandleWithdraw).Methods("POST")
	router.HandleFunc("/api/v1/market/info", marketHdlr.HandleMarketInfo).Methods("GET")
	router.HandleFunc("/api/v1/market/balance/{address}", marketHdlr.HandleGetBalance).Methods("GET")
	router.HandleFunc("/api/v1/market/events", marketHdlr.HandlePastEvents).Methods("GET")
	router.HandleFunc("/api/v1/market/verify-tx", marketHdlr.HandleVerifyTransaction).Methods("POST")
	router.HandleFunc("/api/v1/bank/fund", bankHdlr.HandleFundAccount).Methods("POST")
	router.HandleFunc("/api/v1/bank/balance/{address}", bankHdlr.HandleGetBalance).Methods("GET")
	return router
}

func doJSON(t *testing.T, router *mux.Router, method string, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandleListItem(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/market/items", map[string]interface{}{
		"from":          testOwner,
		"name":          "Apple",
		"unit_cost_wei": "1000000000000000000",
		"quantity":      10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["tx_hash"])

	rec = doJSON(t, router, "GET", "/api/v1/market/items/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Apple", body["name"])
	assert.Equal(t, "1000000000000000000", body["unit_cost_wei"])
	assert.Equal(t, float64(10), body["quantity"])
}

func TestHandleListItem_NotOwner(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/market/items", map[string]interface{}{
		"from":          testBuyer,
		"name":          "Apple",
		"unit_cost_wei": "100",
		"quantity":      10,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleListItem_MissingFrom(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/market/items", map[string]interface{}{
		"name": "Apple",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetItem_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/api/v1/market/items/5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/market/items/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBuyRefundWithdrawFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/bank/fund", map[string]interface{}{
		"address":    testBuyer,
		"amount_wei": "2000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/items", map[string]interface{}{
		"from":          testOwner,
		"name":          "Apple",
		"unit_cost_wei": "1000000000000000000",
		"quantity":      10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/items/0/buy", map[string]interface{}{
		"from":        testBuyer,
		"quantity":    2,
		"payment_wei": "2000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	txHash := decodeBody(t, rec)["tx_hash"].(string)

	rec = doJSON(t, router, "POST", "/api/v1/market/verify-tx", map[string]interface{}{"tx_hash": txHash})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	rec = doJSON(t, router, "GET", "/api/v1/market/balance/"+testBuyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2000000000000000000", decodeBody(t, rec)["balance_wei"])

	rec = doJSON(t, router, "POST", "/api/v1/market/items/0/refund", map[string]interface{}{
		"from":     testBuyer,
		"quantity": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/bank/balance/"+testBuyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000000000000000000", decodeBody(t, rec)["balance_wei"])

	rec = doJSON(t, router, "POST", "/api/v1/market/withdraw", map[string]interface{}{"from": testOwner})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/market/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "0", body["pool_balance_wei"])
	assert.Equal(t, float64(1), body["item_count"])

	rec = doJSON(t, router, "GET", "/api/v1/market/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody(t, rec)["events"].([]interface{})
	assert.Len(t, events, 4)
}

func TestHandleBuyItem_FailureStatuses(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/bank/fund", map[string]interface{}{
		"address":    testBuyer,
		"amount_wei": "5000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// 存在しないidは支払い額に関係なく404
	rec = doJSON(t, router, "POST", "/api/v1/market/items/7/buy", map[string]interface{}{
		"from":        testBuyer,
		"quantity":    1,
		"payment_wei": "5000000000000000000",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/items", map[string]interface{}{
		"from":          testOwner,
		"name":          "Apple",
		"unit_cost_wei": "1000000000000000000",
		"quantity":      2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/items/0/buy", map[string]interface{}{
		"from":        testBuyer,
		"quantity":    2,
		"payment_wei": "1000000000000000000",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/items/0/buy", map[string]interface{}{
		"from":        testBuyer,
		"quantity":    3,
		"payment_wei": "3000000000000000000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleWithdraw_Failures(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/market/withdraw", map[string]interface{}{"from": testBuyer})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/withdraw", map[string]interface{}{"from": testOwner})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleVerifyTransaction_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/market/verify-tx", map[string]interface{}{
		"tx_hash": "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/market/verify-tx", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
