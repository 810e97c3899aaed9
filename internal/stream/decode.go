package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/events"
)

const (
	FrameInitial = "initial"
	FrameUpdate  = "update"

	previewLen = 128
)

type wireQuote struct {
	Price  *decimal.Decimal `json:"price"`
	Change float64          `json:"change"`
}

type wireFrame struct {
	Type   string               `json:"type"`
	Prices map[string]wireQuote `json:"prices"`
}

// decodeFrame 解析一帧。格式错误返回 *domain.DecodeError；
// 未知 type 不算错误，由调用方根据 Type 决定是否忽略。
func decodeFrame(data []byte) (events.PriceFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return events.PriceFrame{}, decodeErr(err, data)
	}
	if w.Type == "" {
		return events.PriceFrame{}, decodeErr(errors.New("missing type"), data)
	}
	frame := events.PriceFrame{Type: w.Type}
	if !knownFrameType(w.Type) {
		return frame, nil
	}
	if w.Prices == nil {
		return events.PriceFrame{}, decodeErr(errors.New("missing prices"), data)
	}

	frame.Updates = make([]events.QuoteUpdate, 0, len(w.Prices))
	for sym, q := range w.Prices {
		if q.Price == nil {
			return events.PriceFrame{}, decodeErr(fmt.Errorf("%s: missing price", sym), data)
		}
		if q.Price.IsNegative() {
			return events.PriceFrame{}, decodeErr(fmt.Errorf("%s: negative price %s", sym, q.Price), data)
		}
		frame.Updates = append(frame.Updates, events.QuoteUpdate{
			Symbol: domain.NormalizeSymbol(sym),
			Price:  *q.Price,
			Change: q.Change,
		})
	}
	sort.Slice(frame.Updates, func(i, j int) bool { return frame.Updates[i].Symbol < frame.Updates[j].Symbol })
	return frame, nil
}

func knownFrameType(t string) bool {
	return t == FrameInitial || t == FrameUpdate
}

func decodeErr(err error, data []byte) *domain.DecodeError {
	preview := string(data)
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "..."
	}
	return &domain.DecodeError{Err: err, Preview: preview}
}
