package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	bankGateway "onchain-marketplace/gateway/bank"
	"onchain-marketplace/gateway/ledger"
	usecase "onchain-marketplace/usecase/market"
)

type MarketHandler struct {
	marketUC usecase.MarketUsecase
}

func NewMarketHandler(uc usecase.MarketUsecase) *MarketHandler {
	return &MarketHandler{marketUC: uc}
}

// writeError はレジャーの失敗条件をHTTPステータスに対応付ける
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidId), errors.Is(err, ledger.ErrTxNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientPayment), errors.Is(err, bankGateway.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrSoldOut),
		errors.Is(err, ledger.ErrNothingToRefund),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNothingToWithdraw),
		errors.Is(err, ledger.ErrArithmeticOverflow):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrRefundTransferFailed),
		errors.Is(err, ledger.ErrWithdrawTransferFailed),
		errors.Is(err, bankGateway.ErrTransferRejected):
		status = http.StatusBadGateway
	case errors.Is(err, bankGateway.ErrInvalidAmount):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// parseItemId はパスパラメータの商品IDを取り出す
func parseItemId(r *http.Request) (uint64, error) {
	vars := mux.Vars(r)
	return strconv.ParseUint(vars["itemId"], 10, 64)
}

// ListItemRequest は出品APIの入力
type ListItemRequest struct {
	From        string `json:"from"`
	Name        string `json:"name"`
	UnitCostWei string `json:"unit_cost_wei"`
	Quantity    uint64 `json:"quantity"`
}

// HandleListItem は商品をカタログに登録する
func (h *MarketHandler) HandleListItem(w http.ResponseWriter, r *http.Request) {
	var req ListItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}

	txHash, err := h.marketUC.ListItem(r.Context(), req.From, req.Name, req.UnitCostWei, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{"tx_hash": txHash})
}

// BuyItemRequest は購入APIの入力。payment_wei が添付支払い額(msg.value相当)。
type BuyItemRequest struct {
	From       string `json:"from"`
	Quantity   uint64 `json:"quantity"`
	PaymentWei string `json:"payment_wei"`
}

// HandleBuyItem は商品を購入する
func (h *MarketHandler) HandleBuyItem(w http.ResponseWriter, r *http.Request) {
	itemId, err := parseItemId(r)
	if err != nil {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	var req BuyItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}

	txHash, err := h.marketUC.BuyItem(r.Context(), req.From, itemId, req.Quantity, req.PaymentWei)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{"tx_hash": txHash})
}

// RefundRequest は返金APIの入力
type RefundRequest struct {
	From     string `json:"from"`
	Quantity uint64 `json:"quantity"`
}

// HandleRefund は購入者残高から返金する
func (h *MarketHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	itemId, err := parseItemId(r)
	if err != nil {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}

	txHash, err := h.marketUC.Refund(r.Context(), req.From, itemId, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{"tx_hash": txHash})
}

// WithdrawRequest は引き出しAPIの入力
type WithdrawRequest struct {
	From string `json:"from"`
}

// HandleWithdraw は資金プール全額をオーナーへ送金する
func (h *MarketHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}

	txHash, err := h.marketUC.Withdraw(r.Context(), req.From)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{"tx_hash": txHash})
}

// HandleGetItem はカタログから商品情報を取得
func (h *MarketHandler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	itemId, err := parseItemId(r)
	if err != nil {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	item, err := h.marketUC.GetItem(r.Context(), itemId)
	if err != nil {
		writeError(w, err)
		return
	}

	// UnitCostをstring形式に変換してレスポンス
	writeJSON(w, map[string]interface{}{
		"item_id":       item.ItemId,
		"name":          item.Name,
		"unit_cost_wei": item.UnitCost.String(),
		"quantity":      item.Quantity,
	})
}

// HandleMarketInfo はコントラクト情報を返す
func (h *MarketHandler) HandleMarketInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.marketUC.GetInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

// HandleGetBalance は購入者残高（返金可能額）を返す
func (h *MarketHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := h.marketUC.GetBalance(r.Context(), vars["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, balance)
}

// VerifyTxRequest はトランザクション検証リクエスト
type VerifyTxRequest struct {
	TxHash string `json:"tx_hash"`
}

// HandleVerifyTransaction はトランザクションを検証
func (h *MarketHandler) HandleVerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req VerifyTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TxHash == "" {
		http.Error(w, "tx_hash is required", http.StatusBadRequest)
		return
	}

	verification, err := h.marketUC.VerifyTransaction(r.Context(), req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, verification)
}

// HandlePastEvents は過去のイベントをスキャンして返す
func (h *MarketHandler) HandlePastEvents(w http.ResponseWriter, r *http.Request) {
	var fromBlock uint64
	if v := r.URL.Query().Get("from_block"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid from_block", http.StatusBadRequest)
			return
		}
		fromBlock = parsed
	}

	var toBlock *uint64
	if v := r.URL.Query().Get("to_block"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid to_block", http.StatusBadRequest)
			return
		}
		toBlock = &parsed
	}

	events, err := h.marketUC.PastEvents(r.Context(), fromBlock, toBlock)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"events": events})
}
