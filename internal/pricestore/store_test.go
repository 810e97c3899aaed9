package pricestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/events"
)

func newStore() *Store {
	return New(domain.NewUniverse(domain.DefaultSymbols...))
}

func TestStore_UnknownUntilReceived(t *testing.T) {
	s := newStore()
	q := s.Quote("AAPL")
	assert.False(t, q.Known)
	assert.Equal(t, domain.DirectionNone, q.Direction)

	snap := s.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, domain.Symbol("AAPL"), snap[0].Symbol)
	assert.Equal(t, domain.Symbol("TCS"), snap[4].Symbol)
}

func TestStore_SetQuoteIgnoresForeignSymbol(t *testing.T) {
	s := newStore()
	assert.False(t, s.SetQuote("MSFT", decimal.NewFromInt(1), domain.DirectionUp, nil))
	assert.True(t, s.SetQuote("AAPL", decimal.RequireFromString("178.5"), domain.DirectionUp, nil))

	q := s.Quote("AAPL")
	assert.True(t, q.Known)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("178.5")))
	assert.False(t, s.Quote("MSFT").Known)
}

func TestStore_ApplyFrameResetsAbsentDirections(t *testing.T) {
	s := newStore()
	exp := time.Now().Add(time.Second)

	s.ApplyFrame([]Update{
		{Symbol: "AAPL", Price: decimal.RequireFromString("101.5"), Direction: domain.DirectionUp},
		{Symbol: "TSLA", Price: decimal.RequireFromString("242.8"), Direction: domain.DirectionDown},
	}, exp)

	applied := s.ApplyFrame([]Update{
		{Symbol: "AAPL", Price: decimal.RequireFromString("100"), Direction: domain.DirectionDown},
		{Symbol: "ZZZ", Price: decimal.NewFromInt(5), Direction: domain.DirectionUp},
	}, exp)
	require.Len(t, applied, 1)

	aapl := s.Quote("AAPL")
	assert.Equal(t, domain.DirectionDown, aapl.Direction)
	require.NotNil(t, aapl.ChangeExpiresAt)

	tsla := s.Quote("TSLA")
	assert.True(t, tsla.Price.Equal(decimal.RequireFromString("242.8")))
	assert.Equal(t, domain.DirectionNone, tsla.Direction)
	assert.Nil(t, tsla.ChangeExpiresAt)
}

func TestStore_ClearAllDirectionsKeepsPrices(t *testing.T) {
	s := newStore()
	s.ApplyFrame([]Update{{Symbol: "AAPL", Price: decimal.RequireFromString("101.5"), Direction: domain.DirectionUp}}, time.Now())

	s.ClearAllDirections()
	q := s.Quote("AAPL")
	assert.Equal(t, domain.DirectionNone, q.Direction)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("101.5")))

	s.Clear()
	assert.False(t, s.Quote("AAPL").Known)
}

func TestStore_ObserverSeesAppliedQuotes(t *testing.T) {
	s := newStore()
	var got []events.QuoteApplied
	s.Observe(func(ev events.QuoteApplied) { got = append(got, ev) })

	s.ApplyFrame([]Update{{Symbol: "INFY", Price: decimal.RequireFromString("1450.75"), Direction: domain.DirectionUp}}, time.Now())
	s.ApplyFrame([]Update{{Symbol: "NOPE", Price: decimal.NewFromInt(1), Direction: domain.DirectionUp}}, time.Now())

	require.Len(t, got, 1)
	require.Len(t, got[0].Quotes, 1)
	assert.Equal(t, domain.Symbol("INFY"), got[0].Quotes[0].Symbol)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := newStore()
	exp := time.Now()
	s.ApplyFrame([]Update{{Symbol: "AAPL", Price: decimal.NewFromInt(1), Direction: domain.DirectionUp}}, exp)

	snap := s.Snapshot()
	*snap[0].ChangeExpiresAt = exp.Add(time.Hour)
	assert.True(t, s.Quote("AAPL").ChangeExpiresAt.Equal(exp))
}
