package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	bankGateway "onchain-marketplace/gateway/bank"
	"onchain-marketplace/model"
)

// LedgerGateway はマーケットプレイスコントラクトとの連携を担当
type LedgerGateway interface {
	// ListItem は商品をカタログに登録する（オーナーのみ）
	ListItem(ctx context.Context, caller common.Address, name string, unitCost *big.Int, quantity uint64) (common.Hash, error)

	// BuyItem は添付された支払い額 payment で商品を購入する
	BuyItem(ctx context.Context, buyer common.Address, itemId uint64, quantity uint64, payment *big.Int) (common.Hash, error)

	// Refund は購入者残高から返金する
	Refund(ctx context.Context, caller common.Address, itemId uint64, quantity uint64) (common.Hash, error)

	// Withdraw はコントラクトの資金プール全額をオーナーに送金する（オーナーのみ）
	Withdraw(ctx context.Context, caller common.Address) (common.Hash, error)

	// GetItem はカタログから商品情報を取得
	GetItem(ctx context.Context, itemId uint64) (*model.MarketItem, error)

	// GetInfo はコントラクトの公開状態を返す
	GetInfo(ctx context.Context) (*model.MarketInfo, error)

	// BalanceOf は購入者残高（返金可能額）を返す
	BalanceOf(addr common.Address) *big.Int

	// GetContractAddress はコントラクトアドレスを返す
	GetContractAddress() string

	// VerifyTransaction はトランザクションを検証
	VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error)

	// SubscribeEvents はコントラクトイベントを購読
	SubscribeEvents(ctx context.Context) (<-chan *model.MarketEvent, error)

	// ScanPastEvents は過去のブロックからイベントをスキャン
	ScanPastEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) (<-chan *model.MarketEvent, error)
}

// item はストレージ上の商品エントリ
type item struct {
	name     string
	unitCost *big.Int
	quantity uint64
}

// MarketLedger はMarketplaceコントラクトのインプロセス実装。
// 全操作は単一のミューテックスで直列化され、1操作 = 1ブロックとして
// 成功時のみ状態がコミットされる（失敗時は全ロールバック）。
type MarketLedger struct {
	mu              sync.Mutex
	contractAddress common.Address
	contractABI     abi.ABI
	owner           common.Address
	bank            bankGateway.NativeBank

	items     map[uint64]*item
	itemCount uint64
	balances  map[common.Address]*big.Int

	blockNo  uint64
	logs     []types.Log
	receipts map[common.Hash]*model.TxVerification

	subs      map[int]chan *model.MarketEvent
	nextSubID int
}

// NewMarketLedger は新しいマーケットプレイスレジャーを作成する。
// コントラクトアドレスはオーナーから決定的に導出される。
func NewMarketLedger(ownerAddr string, bank bankGateway.NativeBank) (*MarketLedger, error) {
	parsedABI, err := abi.JSON(strings.NewReader(MarketplaceABI))
	if err != nil {
		log.Printf("Failed to parse ABI: %v", err)
		return nil, err
	}

	owner := common.HexToAddress(ownerAddr)
	if owner == (common.Address{}) {
		return nil, errors.New("owner must not be the zero address")
	}

	contractAddress := crypto.CreateAddress(owner, 0)
	log.Printf("=== Initializing Marketplace Ledger ===")
	log.Printf("Owner: %s", owner.Hex())
	log.Printf("Contract Address: %s", contractAddress.Hex())

	for _, eventName := range []string{"ItemListed", "ItemSold", "Refunded", "Withdrawn"} {
		if event, ok := parsedABI.Events[eventName]; ok {
			log.Printf("Event '%s' - Signature: %s", eventName, event.ID.Hex())
		} else {
			return nil, errors.New("event " + eventName + " missing from ABI")
		}
	}

	return &MarketLedger{
		contractAddress: contractAddress,
		contractABI:     parsedABI,
		owner:           owner,
		bank:            bank,
		items:           make(map[uint64]*item),
		balances:        make(map[common.Address]*big.Int),
		receipts:        make(map[common.Hash]*model.TxVerification),
		subs:            make(map[int]chan *model.MarketEvent),
	}, nil
}

func (l *MarketLedger) GetContractAddress() string {
	return l.contractAddress.Hex()
}

// Owner はオーナーアドレスを返す
func (l *MarketLedger) Owner() common.Address {
	return l.owner
}

// ===============================================
// 状態のスナップショットとロールバック
// ===============================================

type stateSnapshot struct {
	items     map[uint64]*item
	itemCount uint64
	balances  map[common.Address]*big.Int
	bank      map[common.Address]*big.Int
}

// snapshot は操作開始時点の状態コピーを取る。呼び出し側でロックを取ること。
func (l *MarketLedger) snapshot() *stateSnapshot {
	snap := &stateSnapshot{
		items:     make(map[uint64]*item, len(l.items)),
		itemCount: l.itemCount,
		balances:  make(map[common.Address]*big.Int, len(l.balances)),
		bank:      l.bank.Snapshot(),
	}
	for id, it := range l.items {
		snap.items[id] = &item{name: it.name, unitCost: new(big.Int).Set(it.unitCost), quantity: it.quantity}
	}
	for addr, bal := range l.balances {
		snap.balances[addr] = new(big.Int).Set(bal)
	}
	return snap
}

// restore は操作中の全変更を破棄してスナップショット時点に巻き戻す
func (l *MarketLedger) restore(snap *stateSnapshot) {
	l.items = snap.items
	l.itemCount = snap.itemCount
	l.balances = snap.balances
	l.bank.Restore(snap.bank)
}

// ===============================================
// 状態変更オペレーション
// ===============================================

// ListItem は商品をカタログ末尾(id = itemCount)に追加する。
// 名前・単価・数量の内容検証は行わない（ゼロ値も重複もそのまま受理する）。
func (l *MarketLedger) ListItem(ctx context.Context, caller common.Address, name string, unitCost *big.Int, quantity uint64) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return common.Hash{}, ErrNotOwner
	}
	if unitCost == nil {
		unitCost = new(big.Int)
	}

	id := l.itemCount
	l.items[id] = &item{name: name, unitCost: new(big.Int).Set(unitCost), quantity: quantity}
	l.itemCount++

	txHash := l.commit("listItem")
	l.emitItemListed(txHash, name, unitCost, quantity)
	log.Printf("Listed item %d: %s (unit cost %s Wei, quantity %d)", id, name, unitCost.String(), quantity)
	return txHash, nil
}

// BuyItem は添付された支払い額を資金プールに移し、在庫を減らして
// 購入者残高に支払い「全額」を計上する（過払い分も返金可能残高になる）。
func (l *MarketLedger) BuyItem(ctx context.Context, buyer common.Address, itemId uint64, quantity uint64, payment *big.Int) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if payment == nil {
		payment = new(big.Int)
	}
	snap := l.snapshot()

	// msg.value 相当の送金: 購入者 → コントラクト
	if err := l.bank.Transfer(buyer, l.contractAddress, payment); err != nil {
		return common.Hash{}, err
	}

	if itemId >= l.itemCount {
		l.restore(snap)
		return common.Hash{}, ErrInvalidId
	}
	it := l.items[itemId]

	totalCost, err := mulCost(it.unitCost, quantity)
	if err != nil {
		l.restore(snap)
		return common.Hash{}, err
	}
	if payment.Cmp(totalCost) < 0 {
		l.restore(snap)
		return common.Hash{}, ErrInsufficientPayment
	}
	if it.quantity < quantity {
		l.restore(snap)
		return common.Hash{}, ErrInsufficientStock
	}
	// 在庫充足チェックの後に売り切れチェックを行う。
	// 在庫0の商品を数量0で購入しようとした場合もここで失敗する。
	if it.quantity == 0 {
		l.restore(snap)
		return common.Hash{}, ErrSoldOut
	}

	it.quantity -= quantity
	l.balances[buyer] = new(big.Int).Add(l.balanceOf(buyer), payment)

	txHash := l.commit("buyItem")
	l.emitItemSold(txHash, buyer, itemId, totalCost)
	log.Printf("Item %d sold to %s: quantity %d, total cost %s Wei (paid %s)", itemId, buyer.Hex(), quantity, totalCost.String(), payment.String())
	return txHash, nil
}

// Refund は購入者残高から unitCost×quantity を差し引き、同額をネイティブ通貨で
// 呼び出し元に送金して在庫を戻す。itemId はカタログ範囲を検査しない:
// 範囲外のidはゼロ値の商品として読まれ、返金額0のままマッピング上の
// 幻エントリに数量が加算される（itemCountは変わらない）。
func (l *MarketLedger) Refund(ctx context.Context, caller common.Address, itemId uint64, quantity uint64) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshot()

	bal := l.balanceOf(caller)
	if bal.Sign() == 0 {
		return common.Hash{}, ErrNothingToRefund
	}

	it, ok := l.items[itemId]
	if !ok {
		it = &item{unitCost: new(big.Int)}
		l.items[itemId] = it
	}

	amount, err := mulCost(it.unitCost, quantity)
	if err != nil {
		l.restore(snap)
		return common.Hash{}, err
	}

	// 在庫の加算は残高チェックより前に行われる（元の順序を保存）。
	// 後続のチェックに失敗した場合はスナップショットで巻き戻るため、
	// 失敗した返金がこの加算を残すことはない。
	newQty := it.quantity + quantity
	if newQty < it.quantity {
		l.restore(snap)
		return common.Hash{}, ErrArithmeticOverflow
	}
	it.quantity = newQty

	if bal.Cmp(amount) < 0 {
		l.restore(snap)
		return common.Hash{}, ErrInsufficientBalance
	}
	l.balances[caller] = new(big.Int).Sub(bal, amount)

	// 送金は操作の最終ステップ。失敗したら全変更を破棄する。
	if err := l.bank.Transfer(l.contractAddress, caller, amount); err != nil {
		log.Printf("Refund transfer of %s Wei to %s failed: %v", amount.String(), caller.Hex(), err)
		l.restore(snap)
		return common.Hash{}, ErrRefundTransferFailed
	}

	txHash := l.commit("refund")
	l.emitRefunded(txHash, caller, itemId, quantity, amount)
	log.Printf("Refunded %s Wei to %s for item %d (quantity %d)", amount.String(), caller.Hex(), itemId, quantity)
	return txHash, nil
}

// Withdraw は資金プール全額をオーナーに送金する。
// プールには返金されていない購入者残高の裏付け資金も含まれる。
func (l *MarketLedger) Withdraw(ctx context.Context, caller common.Address) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return common.Hash{}, ErrNotOwner
	}
	pool := l.bank.BalanceOf(l.contractAddress)
	if pool.Sign() == 0 {
		return common.Hash{}, ErrNothingToWithdraw
	}

	snap := l.snapshot()
	if err := l.bank.Transfer(l.contractAddress, l.owner, pool); err != nil {
		log.Printf("Withdraw transfer of %s Wei to %s failed: %v", pool.String(), l.owner.Hex(), err)
		l.restore(snap)
		return common.Hash{}, ErrWithdrawTransferFailed
	}

	txHash := l.commit("withdraw")
	l.emitWithdrawn(txHash, pool)
	log.Printf("Withdrawn %s Wei to owner %s", pool.String(), l.owner.Hex())
	return txHash, nil
}

// ===============================================
// 参照オペレーション
// ===============================================

// GetItem はカタログから商品情報を取得。id < itemCount のみ有効。
func (l *MarketLedger) GetItem(ctx context.Context, itemId uint64) (*model.MarketItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if itemId >= l.itemCount {
		return nil, ErrInvalidId
	}
	it := l.items[itemId]
	return &model.MarketItem{
		ItemId:   itemId,
		Name:     it.name,
		UnitCost: new(big.Int).Set(it.unitCost),
		Quantity: it.quantity,
	}, nil
}

// GetInfo はコントラクトの公開状態を返す
func (l *MarketLedger) GetInfo(ctx context.Context) (*model.MarketInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &model.MarketInfo{
		ContractAddress: l.contractAddress.Hex(),
		Owner:           l.owner.Hex(),
		ItemCount:       l.itemCount,
		PoolBalanceWei:  l.bank.BalanceOf(l.contractAddress).String(),
		BlockNumber:     l.blockNo,
	}, nil
}

// BalanceOf は購入者残高を返す（未登録アドレスはゼロ）
func (l *MarketLedger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceOf(addr))
}

// VerifyTransaction はトランザクションを検証
func (l *MarketLedger) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	txHashObj := common.HexToHash(txHash)
	if txHashObj.Big().Cmp(big.NewInt(0)) == 0 {
		return nil, errors.New("invalid transaction hash format")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	receipt, ok := l.receipts[txHashObj]
	if !ok {
		return nil, ErrTxNotFound
	}
	return receipt, nil
}

// balanceOf は購入者残高を返す。呼び出し側でロックを取ること。
func (l *MarketLedger) balanceOf(addr common.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return new(big.Int)
}

// commit は操作を1ブロックとして確定し、レシートを発行する
func (l *MarketLedger) commit(operation string) common.Hash {
	l.blockNo++

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.blockNo)
	txHash := crypto.Keccak256Hash(l.contractAddress.Bytes(), buf[:], []byte(operation))

	l.receipts[txHash] = &model.TxVerification{
		TxHash:      txHash.Hex(),
		Status:      "success",
		BlockNumber: l.blockNo,
		Operation:   operation,
		Success:     true,
	}
	return txHash
}

// mulCost は unitCost × quantity を計算する。uint256の上限を超えたら失敗。
func mulCost(unitCost *big.Int, quantity uint64) (*big.Int, error) {
	total := new(big.Int).Mul(unitCost, new(big.Int).SetUint64(quantity))
	if total.Cmp(math.MaxBig256) > 0 {
		return nil, ErrArithmeticOverflow
	}
	return total, nil
}
