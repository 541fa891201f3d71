package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bankGateway "onchain-marketplace/gateway/bank"
)

const testAddr = "0x4444444444444444444444444444444444444444"

func TestFundAccount(t *testing.T) {
	uc := NewBankUsecase(bankGateway.NewEthBank())
	ctx := context.Background()

	balance, err := uc.FundAccount(ctx, testAddr, "1000")
	require.NoError(t, err)
	assert.Equal(t, "1000", balance.BalanceWei)

	// 残高は累積する
	balance, err = uc.FundAccount(ctx, testAddr, "500")
	require.NoError(t, err)
	assert.Equal(t, "1500", balance.BalanceWei)

	_, err = uc.FundAccount(ctx, testAddr, "abc")
	assert.Error(t, err)
	_, err = uc.FundAccount(ctx, testAddr, "-1")
	assert.Error(t, err)
}

func TestGetBalance(t *testing.T) {
	uc := NewBankUsecase(bankGateway.NewEthBank())
	ctx := context.Background()

	balance, err := uc.GetBalance(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, "0", balance.BalanceWei)
}
