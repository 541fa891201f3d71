package ledger

import "errors"

// コントラクトの失敗条件。各操作は必ずこのいずれかを返し、
// 失敗時は状態変更が一切残らない（全ロールバック）。
var (
	ErrNotOwner               = errors.New("caller is not the owner")
	ErrInvalidId              = errors.New("invalid item id")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrSoldOut                = errors.New("item sold out")
	ErrNothingToRefund        = errors.New("nothing to refund")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrRefundTransferFailed   = errors.New("refund transfer failed")
	ErrNothingToWithdraw      = errors.New("nothing to withdraw")
	ErrWithdrawTransferFailed = errors.New("withdraw transfer failed")
	ErrArithmeticOverflow     = errors.New("arithmetic overflow")
	ErrTxNotFound             = errors.New("transaction not found")
)
