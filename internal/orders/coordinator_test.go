package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/notify"
	"github.com/betbot/tradedash/internal/pricestore"
)

type fakeAPI struct {
	mu         sync.Mutex
	listCalls  int
	created    []domain.OrderIntent
	tokens     []string
	log        []domain.Order
	listErr    error
	createErr  error
	listGate   chan struct{}
	createResp domain.Order
}

func (f *fakeAPI) ListOrders(ctx context.Context, token string) ([]domain.Order, error) {
	f.mu.Lock()
	f.listCalls++
	f.tokens = append(f.tokens, token)
	gate := f.listGate
	out := append([]domain.Order(nil), f.log...)
	err := f.listErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return out, err
}

func (f *fakeAPI) CreateOrder(ctx context.Context, token string, intent domain.OrderIntent) (domain.Order, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, intent)
	if f.createErr != nil {
		return domain.Order{}, "", f.createErr
	}
	o := f.createResp
	f.log = append([]domain.Order{o}, f.log...)
	return o, "Order placed successfully", nil
}

func (f *fakeAPI) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, len(f.created)
}

type fakeCreds struct {
	mu          sync.Mutex
	token       string
	invalidated []string
}

func (f *fakeCreds) Credential() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return "", domain.ErrNoSession
	}
	return f.token, nil
}

func (f *fakeCreds) Invalidate(credential, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, credential)
}

type fixture struct {
	c      *Coordinator
	api    *fakeAPI
	creds  *fakeCreds
	bus    *notify.Bus
	prices *pricestore.Store
}

func newFixture() *fixture {
	universe := domain.NewUniverse(domain.DefaultSymbols...)
	f := &fixture{
		api:    &fakeAPI{},
		creds:  &fakeCreds{token: "t1"},
		bus:    notify.NewBus(time.Minute),
		prices: pricestore.New(universe),
	}
	f.c = NewCoordinator(f.api, f.creds, f.prices, f.bus, universe)
	return f
}

func order(id string, sym domain.Symbol, side domain.Side, qty int) domain.Order {
	return domain.Order{ID: id, Symbol: sym, Side: side, Quantity: qty, Price: decimal.NewFromInt(100), Status: "completed"}
}

func TestSubmit_InvalidQuantityMakesNoCall(t *testing.T) {
	for _, qty := range []int{0, -3} {
		t.Run(fmt.Sprint(qty), func(t *testing.T) {
			f := newFixture()
			_, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "AAPL", Side: domain.SideBuy, Quantity: qty})

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "quantity", ve.Field)

			lists, creates := f.api.calls()
			assert.Zero(t, lists)
			assert.Zero(t, creates)

			n, ok := f.bus.Current()
			require.True(t, ok)
			assert.Equal(t, MsgInvalidQuantity, n.Message)
			assert.Equal(t, domain.NotificationError, n.Kind)
		})
	}
}

func TestSubmit_InvalidSymbolOrSide(t *testing.T) {
	f := newFixture()
	_, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "MSFT", Side: domain.SideBuy, Quantity: 1})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "symbol", ve.Field)

	_, err = f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "AAPL", Side: "HOLD", Quantity: 1})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "side", ve.Field)

	_, creates := f.api.calls()
	assert.Zero(t, creates)
}

func TestSubmit_ServerRejectionLeavesLogUntouched(t *testing.T) {
	f := newFixture()
	f.api.log = []domain.Order{order("o1", "AAPL", domain.SideBuy, 2)}
	require.NoError(t, f.c.Refresh(context.Background()))

	f.api.createErr = &domain.ServerError{Status: 400, Message: "insufficient holdings"}
	_, err := f.c.Submit(context.Background(), domain.OrderIntent{
		Symbol: "TSLA", Side: domain.SideSell, Quantity: 3, Price: decimal.NewFromInt(250),
	})
	require.Error(t, err)

	orders := f.c.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)

	lists, creates := f.api.calls()
	assert.Equal(t, 1, lists)
	assert.Equal(t, 1, creates)

	n, ok := f.bus.Current()
	require.True(t, ok)
	assert.Equal(t, "insufficient holdings", n.Message)
	assert.Equal(t, domain.NotificationError, n.Kind)
}

func TestSubmit_SuccessRefreshesWholeLog(t *testing.T) {
	f := newFixture()
	f.api.log = []domain.Order{order("o1", "AAPL", domain.SideBuy, 2)}
	f.api.createResp = order("o2", "TSLA", domain.SideBuy, 3)

	o, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "tsla", Side: "buy", Quantity: 3, Price: decimal.NewFromInt(250)})
	require.NoError(t, err)
	assert.Equal(t, "o2", o.ID)

	orders := f.c.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].ID)

	require.Len(t, f.api.created, 1)
	assert.Equal(t, domain.Symbol("TSLA"), f.api.created[0].Symbol)
	assert.Equal(t, domain.SideBuy, f.api.created[0].Side)

	n, _ := f.bus.Current()
	assert.Equal(t, "BUY order placed successfully!", n.Message)
	assert.Equal(t, domain.NotificationInfo, n.Kind)
}

func TestSubmit_ZeroPriceUsesLatestQuote(t *testing.T) {
	f := newFixture()
	f.prices.SetQuote("INFY", decimal.RequireFromString("1450.75"), domain.DirectionUp, nil)

	_, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "INFY", Side: domain.SideSell, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, f.api.created, 1)
	assert.True(t, f.api.created[0].Price.Equal(decimal.RequireFromString("1450.75")))
}

func TestSubmit_NetworkFailure(t *testing.T) {
	f := newFixture()
	f.api.createErr = &domain.NetworkError{Op: "create order", Err: errors.New("timeout")}

	_, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1})
	require.Error(t, err)
	n, _ := f.bus.Current()
	assert.Equal(t, MsgSubmitFailed, n.Message)
}

func TestSubmit_UnauthorizedInvalidatesSession(t *testing.T) {
	f := newFixture()
	f.api.createErr = fmt.Errorf("%w: Invalid or expired token", domain.ErrUnauthorized)

	_, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, []string{"t1"}, f.creds.invalidated)
}

func TestSubmit_NoSession(t *testing.T) {
	f := newFixture()
	f.creds.token = ""
	_, err := f.c.Submit(context.Background(), domain.OrderIntent{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNoSession)
	_, creates := f.api.calls()
	assert.Zero(t, creates)
}

func TestRefresh_ReplacesAndIsIdempotent(t *testing.T) {
	f := newFixture()
	f.api.log = []domain.Order{order("o2", "TSLA", domain.SideSell, 1), order("o1", "AAPL", domain.SideBuy, 2)}

	var snapshots [][]domain.Order
	f.c.Observe(func(o []domain.Order) { snapshots = append(snapshots, o) })

	require.NoError(t, f.c.Refresh(context.Background()))
	first := f.c.Orders()
	require.NoError(t, f.c.Refresh(context.Background()))
	assert.Equal(t, first, f.c.Orders())
	assert.Len(t, snapshots, 2)

	// 服务端记录变少时整体替换，不做合并
	f.api.log = []domain.Order{order("o3", "AMZN", domain.SideBuy, 5)}
	require.NoError(t, f.c.Refresh(context.Background()))
	orders := f.c.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "o3", orders[0].ID)
}

func TestRefresh_FailureKeepsLog(t *testing.T) {
	f := newFixture()
	f.api.log = []domain.Order{order("o1", "AAPL", domain.SideBuy, 2)}
	require.NoError(t, f.c.Refresh(context.Background()))

	f.api.listErr = &domain.NetworkError{Op: "list orders", Err: errors.New("refused")}
	require.Error(t, f.c.Refresh(context.Background()))
	assert.Len(t, f.c.Orders(), 1)
	_, ok := f.bus.Current()
	assert.False(t, ok)
}

func TestRefresh_DroppedAfterClear(t *testing.T) {
	f := newFixture()
	f.api.log = []domain.Order{order("o1", "AAPL", domain.SideBuy, 2)}
	f.api.listGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.c.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		lists, _ := f.api.calls()
		return lists == 1
	}, time.Second, time.Millisecond)
	f.c.Clear()
	close(f.api.listGate)

	require.NoError(t, <-done)
	assert.Empty(t, f.c.Orders())
}

func TestRefreshAsync(t *testing.T) {
	f := newFixture()
	f.api.log = []domain.Order{order("o1", "AAPL", domain.SideBuy, 2)}

	f.c.RefreshAsync()
	require.Eventually(t, func() bool { return len(f.c.Orders()) == 1 }, time.Second, 5*time.Millisecond)
}
