// Package events 组件之间传递的事件类型
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradedash/internal/domain"
)

// StreamEventKind 行情流事件类型
type StreamEventKind string

const (
	StreamOpened StreamEventKind = "open"
	StreamFrame  StreamEventKind = "frame"
	StreamError  StreamEventKind = "error"
	StreamClosed StreamEventKind = "closed"
)

// StreamEvent 连接 goroutine 发给分发 goroutine 的事件。
// Gen 是产生该事件的连接代数，分发时与当前代数不一致的事件直接丢弃。
type StreamEvent struct {
	Kind StreamEventKind
	Gen  uint64
	Data []byte // 仅 StreamFrame
	Err  error  // StreamError / StreamClosed
	At   time.Time
}

// QuoteUpdate 一帧内单个标的的报价更新
type QuoteUpdate struct {
	Symbol domain.Symbol
	Price  decimal.Decimal
	Change float64
}

// PriceFrame 解码后的行情帧
type PriceFrame struct {
	Type    string // initial | update
	Updates []QuoteUpdate
}

// QuoteApplied 一帧写入价格表后发出的通知（磁带记录、控制面观察）
type QuoteApplied struct {
	Quotes []domain.Quote
	At     time.Time
}
