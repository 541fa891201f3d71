package model

import (
	"math/big"
)

// EventType はコントラクトイベントの種類
type EventType string

const (
	EventItemListed EventType = "ItemListed"
	EventItemSold   EventType = "ItemSold"
	EventRefunded   EventType = "Refunded"
	EventWithdrawn  EventType = "Withdrawn"
)

// MarketEvent はマーケットプレイスコントラクトのイベントを表す
type MarketEvent struct {
	Type     EventType `json:"type"`
	TxHash   string    `json:"tx_hash"`
	BlockNo  uint64    `json:"block_number"`
	ItemId   uint64    `json:"item_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	UnitCost *big.Int  `json:"unit_cost,omitempty"`
	Quantity uint64    `json:"quantity,omitempty"`
	Amount   *big.Int  `json:"amount,omitempty"`
	Buyer    string    `json:"buyer,omitempty"`
	Owner    string    `json:"owner,omitempty"`
}

// MarketItem はカタログに登録された商品情報
type MarketItem struct {
	ItemId   uint64   `json:"item_id"`
	Name     string   `json:"name"`
	UnitCost *big.Int `json:"unit_cost"` // 単価 (Wei)
	Quantity uint64   `json:"quantity"`  // 残り在庫数
}

// MarketInfo はコントラクトの公開状態のスナップショット
type MarketInfo struct {
	ContractAddress string `json:"contract_address"`
	Owner           string `json:"owner"`
	ItemCount       uint64 `json:"item_count"`
	PoolBalanceWei  string `json:"pool_balance_wei"` // コントラクトが保持する資金総額
	BlockNumber     uint64 `json:"block_number"`
}

// TxVerification はトランザクション検証結果
type TxVerification struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"` // "success", "not_found"
	BlockNumber uint64 `json:"block_number,omitempty"`
	Operation   string `json:"operation,omitempty"` // "listItem", "buyItem", "refund", "withdraw"
	Success     bool   `json:"success"`
}

// AccountBalance は外部アカウントの残高情報
type AccountBalance struct {
	Address    string `json:"address"`
	BalanceWei string `json:"balance_wei"`
}
