package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol 标的代码（例如 AAPL）
type Symbol string

// NormalizeSymbol 去空白并转大写
func NormalizeSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

// DefaultSymbols 默认的固定标的集合（与行情服务端保持一致）
var DefaultSymbols = []Symbol{"AAPL", "TSLA", "AMZN", "INFY", "TCS"}

// Universe 固定的标的集合，启动时确定，不从行情流中发现新标的
type Universe struct {
	order []Symbol
	index map[Symbol]int
}

// NewUniverse 创建标的集合（去重、保持顺序、忽略空白）
func NewUniverse(symbols ...Symbol) *Universe {
	u := &Universe{index: make(map[Symbol]int, len(symbols))}
	for _, s := range symbols {
		s = NormalizeSymbol(string(s))
		if s == "" {
			continue
		}
		if _, ok := u.index[s]; ok {
			continue
		}
		u.index[s] = len(u.order)
		u.order = append(u.order, s)
	}
	return u
}

// Contains 判断标的是否属于集合
func (u *Universe) Contains(s Symbol) bool {
	if u == nil {
		return false
	}
	_, ok := u.index[s]
	return ok
}

// Symbols 返回标的列表副本（按配置顺序）
func (u *Universe) Symbols() []Symbol {
	if u == nil {
		return nil
	}
	out := make([]Symbol, len(u.order))
	copy(out, u.order)
	return out
}

// Len 标的数量
func (u *Universe) Len() int {
	if u == nil {
		return 0
	}
	return len(u.order)
}

// Direction 最近一次价格变化方向（仅用于展示）
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// DirectionFromChange 按 change > 0 判定方向；0 或缺失一律视为 down
func DirectionFromChange(change float64) Direction {
	if change > 0 {
		return DirectionUp
	}
	return DirectionDown
}

// Quote 单个标的的最新报价
type Quote struct {
	Symbol          Symbol          `json:"symbol"`
	Known           bool            `json:"known"` // false 表示尚未收到过任何价格
	Price           decimal.Decimal `json:"price"`
	Direction       Direction       `json:"direction"`
	ChangeExpiresAt *time.Time      `json:"changeExpiresAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UnknownQuote 返回尚无价格的占位报价
func UnknownQuote(s Symbol) Quote {
	return Quote{Symbol: s, Direction: DirectionNone}
}
