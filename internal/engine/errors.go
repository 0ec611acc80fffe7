package engine

import "errors"

var (
	// ErrInvalidQuantity 数量必须为正。
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrOverSell 卖出数量超过持仓。
	ErrOverSell = errors.New("sell quantity exceeds position")
	// ErrInsufficientCash 成交所需现金超过账户余额。
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrUnknownPosition 卖出未持有的标的。
	ErrUnknownPosition = errors.New("unknown position")
)

// RejectReason 为 Broker 校验失败的原因。
type RejectReason string

const (
	RejectNone                 RejectReason = ""
	RejectInsufficientCash     RejectReason = "INSUFFICIENT_CASH"
	RejectCashReserveViolation RejectReason = "CASH_RESERVE_VIOLATION"
	RejectBelowMinOrder        RejectReason = "BELOW_MIN_ORDER"
)

func (r RejectReason) String() string {
	return string(r)
}
