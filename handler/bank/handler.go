package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	usecase "onchain-marketplace/usecase/bank"
)

type BankHandler struct {
	bankUC usecase.BankUsecase
}

func NewBankHandler(uc usecase.BankUsecase) *BankHandler {
	return &BankHandler{bankUC: uc}
}

// FundRequest はフォーセットAPIの入力
type FundRequest struct {
	Address   string `json:"address"`
	AmountWei string `json:"amount_wei"`
}

// HandleFundAccount はアカウントにネイティブ通貨を付与する（デモ用）
func (h *BankHandler) HandleFundAccount(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	balance, err := h.bankUC.FundAccount(r.Context(), req.Address, req.AmountWei)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// HandleGetBalance はアカウントのネイティブ通貨残高を返す
func (h *BankHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	balance, err := h.bankUC.GetBalance(r.Context(), vars["address"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}
