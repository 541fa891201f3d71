package gateway

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestDepositAndBalance(t *testing.T) {
	bank := NewEthBank()

	assert.Equal(t, int64(0), bank.BalanceOf(addrA).Int64())

	require.NoError(t, bank.Deposit(addrA, big.NewInt(100)))
	require.NoError(t, bank.Deposit(addrA, big.NewInt(50)))
	assert.Equal(t, int64(150), bank.BalanceOf(addrA).Int64())

	assert.ErrorIs(t, bank.Deposit(addrA, big.NewInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, bank.Deposit(addrA, nil), ErrInvalidAmount)
}

func TestTransfer(t *testing.T) {
	bank := NewEthBank()
	require.NoError(t, bank.Deposit(addrA, big.NewInt(100)))

	require.NoError(t, bank.Transfer(addrA, addrB, big.NewInt(40)))
	assert.Equal(t, int64(60), bank.BalanceOf(addrA).Int64())
	assert.Equal(t, int64(40), bank.BalanceOf(addrB).Int64())

	// 残高不足では状態は変わらない
	err := bank.Transfer(addrA, addrB, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(60), bank.BalanceOf(addrA).Int64())
	assert.Equal(t, int64(40), bank.BalanceOf(addrB).Int64())
}

func TestTransfer_RejectingRecipient(t *testing.T) {
	bank := NewEthBank()
	require.NoError(t, bank.Deposit(addrA, big.NewInt(100)))

	bank.SetRejecting(addrB, true)
	err := bank.Transfer(addrA, addrB, big.NewInt(10))
	assert.ErrorIs(t, err, ErrTransferRejected)
	assert.Equal(t, int64(100), bank.BalanceOf(addrA).Int64())

	bank.SetRejecting(addrB, false)
	require.NoError(t, bank.Transfer(addrA, addrB, big.NewInt(10)))
	assert.Equal(t, int64(10), bank.BalanceOf(addrB).Int64())
}

func TestSnapshotRestore(t *testing.T) {
	bank := NewEthBank()
	require.NoError(t, bank.Deposit(addrA, big.NewInt(100)))

	snap := bank.Snapshot()
	require.NoError(t, bank.Transfer(addrA, addrB, big.NewInt(70)))
	require.NoError(t, bank.Deposit(addrB, big.NewInt(5)))

	bank.Restore(snap)
	assert.Equal(t, int64(100), bank.BalanceOf(addrA).Int64())
	assert.Equal(t, int64(0), bank.BalanceOf(addrB).Int64())

	// スナップショットは取得後の変更と独立している
	require.NoError(t, bank.Deposit(addrA, big.NewInt(1)))
	assert.Equal(t, 0, snap[addrA].Cmp(big.NewInt(100)))
}
