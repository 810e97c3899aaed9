package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 解析订单方向（大小写不敏感）
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Order 服务端返回的订单（只读，服务端权威）
// ID、时间戳和状态都由服务端分配，本地从不构造
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId,omitempty"`
	Symbol      Symbol          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	SubmittedAt time.Time       `json:"timestamp"`
	Status      string          `json:"status"`
}

// Notional 成交金额（价格 × 数量）
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// OrderIntent 用户下单意图（提交前）
// Quantity 为 0 表示未填写
type OrderIntent struct {
	Symbol   Symbol          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}
