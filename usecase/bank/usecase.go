package usecase

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	bankGateway "onchain-marketplace/gateway/bank"
	"onchain-marketplace/model"
)

// BankUsecase はネイティブ通貨アカウントのビジネスロジックを定義
type BankUsecase interface {
	// FundAccount はデモ用フォーセットとしてアカウントに残高を付与する
	FundAccount(ctx context.Context, address string, amountWei string) (*model.AccountBalance, error)

	// GetBalance はアカウントのネイティブ通貨残高を返す
	GetBalance(ctx context.Context, address string) (*model.AccountBalance, error)
}

type bankUsecase struct {
	bank bankGateway.NativeBank
}

func NewBankUsecase(bank bankGateway.NativeBank) *bankUsecase {
	return &bankUsecase{
		bank: bank,
	}
}

func (uc *bankUsecase) FundAccount(ctx context.Context, address string, amountWei string) (*model.AccountBalance, error) {
	addr := common.HexToAddress(address)
	amount, ok := new(big.Int).SetString(amountWei, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid wei amount: " + amountWei)
	}

	if err := uc.bank.Deposit(addr, amount); err != nil {
		return nil, err
	}
	return &model.AccountBalance{
		Address:    addr.Hex(),
		BalanceWei: uc.bank.BalanceOf(addr).String(),
	}, nil
}

func (uc *bankUsecase) GetBalance(ctx context.Context, address string) (*model.AccountBalance, error) {
	addr := common.HexToAddress(address)
	return &model.AccountBalance{
		Address:    addr.Hex(),
		BalanceWei: uc.bank.BalanceOf(addr).String(),
	}, nil
}
