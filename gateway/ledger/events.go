package ledger

import (
	"context"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"onchain-marketplace/model"
)

// ===============================================
// イベントの発行
// ===============================================

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func uint64Topic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

// appendLog はABIエンコード済みログを記録し、購読者に配信する。
// 呼び出し側でロックを取ること。
func (l *MarketLedger) appendLog(vLog types.Log) {
	vLog.Address = l.contractAddress
	vLog.BlockNumber = l.blockNo
	vLog.Index = uint(len(l.logs))
	l.logs = append(l.logs, vLog)

	event := l.parseLog(vLog)
	if event == nil {
		return
	}
	for _, sub := range l.subs {
		select {
		case sub <- event:
		default:
			log.Printf("Event subscriber is slow, dropping event %s (tx: %s)", event.Type, event.TxHash)
		}
	}
}

func (l *MarketLedger) emitItemListed(txHash common.Hash, name string, unitCost *big.Int, quantity uint64) {
	ev := l.contractABI.Events["ItemListed"]
	data, err := ev.Inputs.NonIndexed().Pack(name, unitCost, new(big.Int).SetUint64(quantity))
	if err != nil {
		log.Printf("Failed to pack ItemListed: %v", err)
		return
	}
	l.appendLog(types.Log{
		Topics: []common.Hash{ev.ID},
		Data:   data,
		TxHash: txHash,
	})
}

func (l *MarketLedger) emitItemSold(txHash common.Hash, buyer common.Address, itemId uint64, totalCost *big.Int) {
	ev := l.contractABI.Events["ItemSold"]
	data, err := ev.Inputs.NonIndexed().Pack(totalCost)
	if err != nil {
		log.Printf("Failed to pack ItemSold: %v", err)
		return
	}
	l.appendLog(types.Log{
		Topics: []common.Hash{ev.ID, addressTopic(buyer), uint64Topic(itemId)},
		Data:   data,
		TxHash: txHash,
	})
}

func (l *MarketLedger) emitRefunded(txHash common.Hash, buyer common.Address, itemId uint64, quantity uint64, amount *big.Int) {
	ev := l.contractABI.Events["Refunded"]
	data, err := ev.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(quantity), amount)
	if err != nil {
		log.Printf("Failed to pack Refunded: %v", err)
		return
	}
	l.appendLog(types.Log{
		Topics: []common.Hash{ev.ID, addressTopic(buyer), uint64Topic(itemId)},
		Data:   data,
		TxHash: txHash,
	})
}

func (l *MarketLedger) emitWithdrawn(txHash common.Hash, amount *big.Int) {
	ev := l.contractABI.Events["Withdrawn"]
	data, err := ev.Inputs.NonIndexed().Pack(amount)
	if err != nil {
		log.Printf("Failed to pack Withdrawn: %v", err)
		return
	}
	l.appendLog(types.Log{
		Topics: []common.Hash{ev.ID, addressTopic(l.owner)},
		Data:   data,
		TxHash: txHash,
	})
}

// ===============================================
// イベントの購読・スキャン
// ===============================================

// SubscribeEvents はコントラクトイベントを購読する。
// ctx がキャンセルされると購読は解除されチャネルは閉じられる。
func (l *MarketLedger) SubscribeEvents(ctx context.Context) (<-chan *model.MarketEvent, error) {
	eventChan := make(chan *model.MarketEvent, 100)

	l.mu.Lock()
	subID := l.nextSubID
	l.nextSubID++
	l.subs[subID] = eventChan
	l.mu.Unlock()

	log.Printf("Event subscription %d started for contract %s", subID, l.contractAddress.Hex())

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, subID)
		l.mu.Unlock()
		close(eventChan)
		log.Printf("Event subscription %d unsubscribed", subID)
	}()

	return eventChan, nil
}

// ScanPastEvents は保持しているログから過去のイベントをスキャンする
func (l *MarketLedger) ScanPastEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) (<-chan *model.MarketEvent, error) {
	l.mu.Lock()
	pastLogs := make([]types.Log, len(l.logs))
	copy(pastLogs, l.logs)
	currentBlock := l.blockNo
	l.mu.Unlock()

	actualToBlock := currentBlock
	if toBlock != nil {
		actualToBlock = *toBlock
	}

	eventChan := make(chan *model.MarketEvent, 100)
	go func() {
		defer close(eventChan)

		log.Printf("Scanning past events: blocks %d-%d (%d logs retained)", fromBlock, actualToBlock, len(pastLogs))
		for _, vLog := range pastLogs {
			if vLog.BlockNumber < fromBlock || vLog.BlockNumber > actualToBlock {
				continue
			}
			event := l.parseLog(vLog)
			if event == nil {
				log.Printf("Failed to parse past event from log (tx: %s)", vLog.TxHash.Hex())
				continue
			}
			select {
			case <-ctx.Done():
				return
			case eventChan <- event:
			}
		}
	}()

	return eventChan, nil
}

// ===============================================
// ログのデコード
// ===============================================

// parseLog はログをMarketEventに変換する
func (l *MarketLedger) parseLog(vLog types.Log) *model.MarketEvent {
	if len(vLog.Topics) == 0 {
		log.Printf("Received log with no topics (tx: %s)", vLog.TxHash.Hex())
		return nil
	}

	switch vLog.Topics[0] {
	case l.contractABI.Events["ItemListed"].ID:
		return l.parseItemListed(vLog)
	case l.contractABI.Events["ItemSold"].ID:
		return l.parseItemSold(vLog)
	case l.contractABI.Events["Refunded"].ID:
		return l.parseRefunded(vLog)
	case l.contractABI.Events["Withdrawn"].ID:
		return l.parseWithdrawn(vLog)
	default:
		log.Printf("Unknown event signature: %s (tx: %s)", vLog.Topics[0].Hex(), vLog.TxHash.Hex())
		return nil
	}
}

func (l *MarketLedger) parseItemListed(vLog types.Log) *model.MarketEvent {
	event := &model.MarketEvent{
		Type:    model.EventItemListed,
		TxHash:  vLog.TxHash.Hex(),
		BlockNo: vLog.BlockNumber,
	}

	data := make(map[string]interface{})
	if err := l.contractABI.UnpackIntoMap(data, "ItemListed", vLog.Data); err != nil {
		log.Printf("Failed to unpack ItemListed: %v", err)
		return event
	}

	if name, ok := data["name"].(string); ok {
		event.Name = name
	}
	if unitCost, ok := data["unitCost"].(*big.Int); ok {
		event.UnitCost = unitCost
	}
	if quantity, ok := data["quantity"].(*big.Int); ok {
		event.Quantity = quantity.Uint64()
	}
	return event
}

func (l *MarketLedger) parseItemSold(vLog types.Log) *model.MarketEvent {
	event := &model.MarketEvent{
		Type:    model.EventItemSold,
		TxHash:  vLog.TxHash.Hex(),
		BlockNo: vLog.BlockNumber,
	}

	// indexed: buyer, itemId
	if len(vLog.Topics) >= 3 {
		event.Buyer = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.ItemId = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
	}

	data := make(map[string]interface{})
	if err := l.contractABI.UnpackIntoMap(data, "ItemSold", vLog.Data); err != nil {
		log.Printf("Failed to unpack ItemSold: %v", err)
		return event
	}

	if totalCost, ok := data["totalCost"].(*big.Int); ok {
		event.Amount = totalCost
	}
	return event
}

func (l *MarketLedger) parseRefunded(vLog types.Log) *model.MarketEvent {
	event := &model.MarketEvent{
		Type:    model.EventRefunded,
		TxHash:  vLog.TxHash.Hex(),
		BlockNo: vLog.BlockNumber,
	}

	// indexed: buyer, itemId
	if len(vLog.Topics) >= 3 {
		event.Buyer = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.ItemId = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
	}

	data := make(map[string]interface{})
	if err := l.contractABI.UnpackIntoMap(data, "Refunded", vLog.Data); err != nil {
		log.Printf("Failed to unpack Refunded: %v", err)
		return event
	}

	if quantity, ok := data["quantity"].(*big.Int); ok {
		event.Quantity = quantity.Uint64()
	}
	if amount, ok := data["amount"].(*big.Int); ok {
		event.Amount = amount
	}
	return event
}

func (l *MarketLedger) parseWithdrawn(vLog types.Log) *model.MarketEvent {
	event := &model.MarketEvent{
		Type:    model.EventWithdrawn,
		TxHash:  vLog.TxHash.Hex(),
		BlockNo: vLog.BlockNumber,
	}

	// indexed: owner
	if len(vLog.Topics) >= 2 {
		event.Owner = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
	}

	data := make(map[string]interface{})
	if err := l.contractABI.UnpackIntoMap(data, "Withdrawn", vLog.Data); err != nil {
		log.Printf("Failed to unpack Withdrawn: %v", err)
		return event
	}

	if amount, ok := data["amount"].(*big.Int); ok {
		event.Amount = amount
	}
	return event
}
