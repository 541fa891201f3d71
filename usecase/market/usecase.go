package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"onchain-marketplace/gateway/ledger"
	"onchain-marketplace/model"
)

// MarketUsecase はマーケットプレイス関連のビジネスロジック
type MarketUsecase interface {
	// StartEventListener はイベントリスナーを開始
	StartEventListener(ctx context.Context) error

	// ListItem は商品を出品する（オーナーのみ）
	ListItem(ctx context.Context, from string, name string, unitCostWei string, quantity uint64) (string, error)

	// BuyItem は支払いを添付して商品を購入する
	BuyItem(ctx context.Context, from string, itemId uint64, quantity uint64, paymentWei string) (string, error)

	// Refund は購入者残高から返金を受ける
	Refund(ctx context.Context, from string, itemId uint64, quantity uint64) (string, error)

	// Withdraw は資金プール全額をオーナーへ引き出す
	Withdraw(ctx context.Context, from string) (string, error)

	// GetItem はカタログから商品情報を取得
	GetItem(ctx context.Context, itemId uint64) (*model.MarketItem, error)

	// GetInfo はコントラクトの公開状態を取得
	GetInfo(ctx context.Context) (*model.MarketInfo, error)

	// GetBalance は購入者残高を取得
	GetBalance(ctx context.Context, address string) (*model.AccountBalance, error)

	// VerifyTransaction はトランザクションを検証
	VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error)

	// PastEvents は過去のイベントを収集して返す
	PastEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]*model.MarketEvent, error)
}

type marketUsecase struct {
	gateway        ledger.LedgerGateway
	backendBaseURL string
}

func NewMarketUsecase(gw ledger.LedgerGateway, backendBaseURL string) *marketUsecase {
	return &marketUsecase{
		gateway:        gw,
		backendBaseURL: backendBaseURL,
	}
}

// StartEventListener はイベントリスナーを開始し、イベントをメインバックエンドに通知
func (uc *marketUsecase) StartEventListener(ctx context.Context) error {
	eventChan, err := uc.gateway.SubscribeEvents(ctx)
	if err != nil {
		return err
	}

	go func() {
		for event := range eventChan {
			uc.handleEvent(event)
		}
	}()

	log.Println("Market event listener started")
	return nil
}

// handleEvent はイベントを処理してメインバックエンドに通知
func (uc *marketUsecase) handleEvent(event *model.MarketEvent) {
	log.Printf("Received event: %s (block %d, tx: %s)", event.Type, event.BlockNo, event.TxHash)

	var endpoint string
	var payload interface{}

	switch event.Type {
	case model.EventItemListed:
		endpoint = "/api/v1/blockchain/item-listed"
		payload = map[string]interface{}{
			"name":          event.Name,
			"unit_cost_wei": event.UnitCost.String(),
			"quantity":      event.Quantity,
			"block_number":  event.BlockNo,
			"tx_hash":       event.TxHash,
		}

	case model.EventItemSold:
		endpoint = "/api/v1/blockchain/item-sold"
		payload = map[string]interface{}{
			"chain_item_id":  event.ItemId,
			"buyer":          event.Buyer,
			"total_cost_wei": event.Amount.String(),
			"block_number":   event.BlockNo,
			"tx_hash":        event.TxHash,
		}

	case model.EventRefunded:
		endpoint = "/api/v1/blockchain/refunded"
		payload = map[string]interface{}{
			"chain_item_id": event.ItemId,
			"buyer":         event.Buyer,
			"quantity":      event.Quantity,
			"amount_wei":    event.Amount.String(),
			"block_number":  event.BlockNo,
			"tx_hash":       event.TxHash,
		}

	case model.EventWithdrawn:
		endpoint = "/api/v1/blockchain/withdrawn"
		payload = map[string]interface{}{
			"owner":        event.Owner,
			"amount_wei":   event.Amount.String(),
			"block_number": event.BlockNo,
			"tx_hash":      event.TxHash,
		}

	default:
		log.Printf("Unknown event type: %s", event.Type)
		return
	}

	if uc.backendBaseURL == "" {
		return
	}
	if err := uc.notifyBackend(endpoint, payload); err != nil {
		log.Printf("Failed to notify backend for event %s: %v", event.Type, err)
	}
}

// notifyBackend はメインバックエンドにイベントを通知
func (uc *marketUsecase) notifyBackend(endpoint string, payload interface{}) error {
	url := uc.backendBaseURL + endpoint

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("Backend returned status %d for %s", resp.StatusCode, endpoint)
	}

	return nil
}

func (uc *marketUsecase) ListItem(ctx context.Context, from string, name string, unitCostWei string, quantity uint64) (string, error) {
	unitCost, err := parseWei(unitCostWei)
	if err != nil {
		return "", err
	}
	txHash, err := uc.gateway.ListItem(ctx, common.HexToAddress(from), name, unitCost, quantity)
	if err != nil {
		return "", err
	}
	return txHash.Hex(), nil
}

func (uc *marketUsecase) BuyItem(ctx context.Context, from string, itemId uint64, quantity uint64, paymentWei string) (string, error) {
	payment, err := parseWei(paymentWei)
	if err != nil {
		return "", err
	}
	txHash, err := uc.gateway.BuyItem(ctx, common.HexToAddress(from), itemId, quantity, payment)
	if err != nil {
		return "", err
	}
	return txHash.Hex(), nil
}

func (uc *marketUsecase) Refund(ctx context.Context, from string, itemId uint64, quantity uint64) (string, error) {
	txHash, err := uc.gateway.Refund(ctx, common.HexToAddress(from), itemId, quantity)
	if err != nil {
		return "", err
	}
	return txHash.Hex(), nil
}

func (uc *marketUsecase) Withdraw(ctx context.Context, from string) (string, error) {
	txHash, err := uc.gateway.Withdraw(ctx, common.HexToAddress(from))
	if err != nil {
		return "", err
	}
	return txHash.Hex(), nil
}

func (uc *marketUsecase) GetItem(ctx context.Context, itemId uint64) (*model.MarketItem, error) {
	return uc.gateway.GetItem(ctx, itemId)
}

func (uc *marketUsecase) GetInfo(ctx context.Context) (*model.MarketInfo, error) {
	return uc.gateway.GetInfo(ctx)
}

func (uc *marketUsecase) GetBalance(ctx context.Context, address string) (*model.AccountBalance, error) {
	balance := uc.gateway.BalanceOf(common.HexToAddress(address))
	return &model.AccountBalance{
		Address:    common.HexToAddress(address).Hex(),
		BalanceWei: balance.String(),
	}, nil
}

func (uc *marketUsecase) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	return uc.gateway.VerifyTransaction(ctx, txHash)
}

// PastEvents はスキャン結果をスライスに集めて返す
func (uc *marketUsecase) PastEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]*model.MarketEvent, error) {
	eventChan, err := uc.gateway.ScanPastEvents(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	events := make([]*model.MarketEvent, 0)
	for event := range eventChan {
		events = append(events, event)
	}
	return events, nil
}

// parseWei は10進文字列のWei額を検証して返す
func parseWei(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid wei amount: " + value)
	}
	return amount, nil
}
