package gateway

import (
	"errors"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ===============================================
// 1. インターフェース定義
// ===============================================

// NativeBank はネイティブ通貨(Wei)の勘定を担当する。
// コントラクトの資金プールも一つのアカウントとしてここに載る。
type NativeBank interface {
	// BalanceOf はアドレスの残高を返す
	BalanceOf(addr common.Address) *big.Int

	// Deposit はアドレスに残高を付与する（デモ用フォーセット）
	Deposit(addr common.Address, amount *big.Int) error

	// Transfer は from から to へ amount Wei を送金する。
	// 残高不足・受取拒否の場合はエラーを返し、状態は変更しない。
	Transfer(from common.Address, to common.Address, amount *big.Int) error

	// SetRejecting は受取を拒否するアドレスを設定する
	// （receive関数を持たないコントラクト等の送金失敗を再現する）
	SetRejecting(addr common.Address, reject bool)

	// Snapshot は全残高のコピーを返す
	Snapshot() map[common.Address]*big.Int

	// Restore はSnapshotで取得した状態に巻き戻す
	Restore(snap map[common.Address]*big.Int)
}

var (
	ErrInvalidAmount     = errors.New("invalid transfer amount")
	ErrInsufficientFunds = errors.New("insufficient funds for transfer")
	ErrTransferRejected  = errors.New("transfer rejected by recipient")
)

// ===============================================
// 2. 実装: EthBank
// ===============================================

// EthBank はインメモリのWei勘定帳
type EthBank struct {
	mu        sync.Mutex
	accounts  map[common.Address]*big.Int
	rejecting map[common.Address]bool
}

func NewEthBank() *EthBank {
	return &EthBank{
		accounts:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
	}
}

func (b *EthBank) BalanceOf(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(addr))
}

func (b *EthBank) Deposit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[addr] = new(big.Int).Add(b.balance(addr), amount)
	log.Printf("Deposited %s Wei to %s (balance: %s)", amount.String(), addr.Hex(), b.accounts[addr].String())
	return nil
}

func (b *EthBank) Transfer(from common.Address, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejecting[to] {
		log.Printf("Transfer rejected: %s does not accept funds", to.Hex())
		return ErrTransferRejected
	}
	fromBal := b.balance(from)
	if fromBal.Cmp(amount) < 0 {
		log.Printf("Insufficient funds: %s has %s Wei, needs %s", from.Hex(), fromBal.String(), amount.String())
		return ErrInsufficientFunds
	}

	b.accounts[from] = new(big.Int).Sub(fromBal, amount)
	b.accounts[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}

func (b *EthBank) SetRejecting(addr common.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejecting[addr] = true
	} else {
		delete(b.rejecting, addr)
	}
}

func (b *EthBank) Snapshot() map[common.Address]*big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := make(map[common.Address]*big.Int, len(b.accounts))
	for addr, bal := range b.accounts {
		snap[addr] = new(big.Int).Set(bal)
	}
	return snap
}

func (b *EthBank) Restore(snap map[common.Address]*big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = make(map[common.Address]*big.Int, len(snap))
	for addr, bal := range snap {
		b.accounts[addr] = new(big.Int).Set(bal)
	}
}

// balance は残高を返す（未登録アドレスはゼロ）。呼び出し側でロックを取ること。
func (b *EthBank) balance(addr common.Address) *big.Int {
	if bal, ok := b.accounts[addr]; ok {
		return bal
	}
	return new(big.Int)
}
