// Package pricestore 保存固定标的集合的最新报价和变化方向。
// 写入方只有行情流的分发 goroutine 和登出清理，本包不持有任何定时器。
package pricestore

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/events"
)

// Observer 报价写入后的同步回调，不能阻塞
type Observer func(events.QuoteApplied)

// Update 一帧内单个标的的更新
type Update struct {
	Symbol    domain.Symbol
	Price     decimal.Decimal
	Direction domain.Direction
}

type Store struct {
	universe *domain.Universe
	now      func() time.Time

	mu        sync.RWMutex
	quotes    map[domain.Symbol]domain.Quote
	observers []Observer
}

func New(universe *domain.Universe) *Store {
	return &Store{
		universe: universe,
		now:      time.Now,
		quotes:   make(map[domain.Symbol]domain.Quote, universe.Len()),
	}
}

// Universe 标的集合
func (s *Store) Universe() *domain.Universe { return s.universe }

// Observe 注册观察者
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// SetQuote 写入单个标的报价，集合外的标的被忽略并返回 false
func (s *Store) SetQuote(symbol domain.Symbol, price decimal.Decimal, dir domain.Direction, changeExpiresAt *time.Time) bool {
	if !s.universe.Contains(symbol) {
		return false
	}
	now := s.now()
	q := domain.Quote{
		Symbol:          symbol,
		Known:           true,
		Price:           price,
		Direction:       dir,
		ChangeExpiresAt: copyTime(changeExpiresAt),
		UpdatedAt:       now,
	}

	s.mu.Lock()
	s.quotes[symbol] = q
	observers := s.observers
	s.mu.Unlock()

	notifyObservers(observers, events.QuoteApplied{Quotes: []domain.Quote{q}, At: now})
	return true
}

// ApplyFrame 在一个临界区内应用整帧：帧内标的更新价格和方向，
// 帧外的已知标的保留价格但方向复位为 none。返回帧内实际写入的报价。
func (s *Store) ApplyFrame(updates []Update, changeExpiresAt time.Time) []domain.Quote {
	now := s.now()
	present := make(map[domain.Symbol]struct{}, len(updates))
	applied := make([]domain.Quote, 0, len(updates))

	s.mu.Lock()
	for _, u := range updates {
		if !s.universe.Contains(u.Symbol) {
			continue
		}
		exp := changeExpiresAt
		q := domain.Quote{
			Symbol:          u.Symbol,
			Known:           true,
			Price:           u.Price,
			Direction:       u.Direction,
			ChangeExpiresAt: &exp,
			UpdatedAt:       now,
		}
		s.quotes[u.Symbol] = q
		present[u.Symbol] = struct{}{}
		applied = append(applied, q)
	}
	for sym, q := range s.quotes {
		if _, ok := present[sym]; ok {
			continue
		}
		q.Direction = domain.DirectionNone
		q.ChangeExpiresAt = nil
		s.quotes[sym] = q
	}
	observers := s.observers
	s.mu.Unlock()

	if len(applied) > 0 {
		notifyObservers(observers, events.QuoteApplied{Quotes: applied, At: now})
	}
	return applied
}

// ClearAllDirections 所有标的方向复位为 none，价格不变
func (s *Store) ClearAllDirections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, q := range s.quotes {
		q.Direction = domain.DirectionNone
		q.ChangeExpiresAt = nil
		s.quotes[sym] = q
	}
}

// Clear 清空全部报价（登出）
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = make(map[domain.Symbol]domain.Quote, s.universe.Len())
}

// Quote 最新报价；从未收到价格的标的返回 Known=false 的占位报价
func (s *Store) Quote(symbol domain.Symbol) domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.quotes[symbol]; ok {
		return cloneQuote(q)
	}
	return domain.UnknownQuote(symbol)
}

// Snapshot 按标的集合顺序返回全部报价
func (s *Store) Snapshot() []domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quote, 0, s.universe.Len())
	for _, sym := range s.universe.Symbols() {
		if q, ok := s.quotes[sym]; ok {
			out = append(out, cloneQuote(q))
		} else {
			out = append(out, domain.UnknownQuote(sym))
		}
	}
	return out
}

func notifyObservers(observers []Observer, ev events.QuoteApplied) {
	for _, fn := range observers {
		fn(ev)
	}
}

func cloneQuote(q domain.Quote) domain.Quote {
	q.ChangeExpiresAt = copyTime(q.ChangeExpiresAt)
	return q
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
