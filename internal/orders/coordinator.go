// Package orders 下单校验与提交，维护服务端权威的订单记录（只读缓存，从不本地插入）
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/metrics"
	"github.com/betbot/tradedash/internal/notify"
)

var log = logrus.WithField("component", "orders")

const (
	MsgInvalidQuantity = "Please enter a valid quantity"
	MsgInvalidSymbol   = "Invalid symbol"
	MsgInvalidSide     = "Invalid order side"
	MsgInvalidPrice    = "Invalid price"
	MsgSubmitFailed    = "Failed to place order"

	defaultRefreshTimeout = 15 * time.Second
)

// API 订单相关的远端接口（*gateway.Gateway）
type API interface {
	ListOrders(ctx context.Context, token string) ([]domain.Order, error)
	CreateOrder(ctx context.Context, token string, intent domain.OrderIntent) (domain.Order, string, error)
}

// Credentials 凭证来源（*session.Manager），每次调用时读取
type Credentials interface {
	Credential() (string, error)
	Invalidate(credential, reason string)
}

// QuoteSource 未填价格时用最新报价作为快照价格（*pricestore.Store）
type QuoteSource interface {
	Quote(symbol domain.Symbol) domain.Quote
}

// Observer 订单记录被替换后的回调，不能阻塞
type Observer func(orders []domain.Order)

type Coordinator struct {
	api      API
	creds    Credentials
	quotes   QuoteSource
	notifier notify.Publisher
	universe *domain.Universe

	RefreshTimeout time.Duration

	mu        sync.Mutex
	orders    []domain.Order
	gen       uint64 // Clear 时递增，过期的 Refresh 结果被丢弃
	observers []Observer
}

func NewCoordinator(api API, creds Credentials, quotes QuoteSource, notifier notify.Publisher, universe *domain.Universe) *Coordinator {
	return &Coordinator{
		api:            api,
		creds:          creds,
		quotes:         quotes,
		notifier:       notifier,
		universe:       universe,
		RefreshTimeout: defaultRefreshTimeout,
	}
}

// Observe 注册观察者
func (c *Coordinator) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Submit 校验并提交订单。成功后整表刷新订单记录；失败不修改本地记录
func (c *Coordinator) Submit(ctx context.Context, intent domain.OrderIntent) (domain.Order, error) {
	intent, err := c.validate(intent)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			metrics.OrdersRejected.Add(1)
			c.notifier.Publish(ve.Message, domain.NotificationError)
		}
		return domain.Order{}, err
	}

	cred, err := c.creds.Credential()
	if err != nil {
		return domain.Order{}, err
	}

	order, _, err := c.api.CreateOrder(ctx, cred, intent)
	if err != nil {
		c.handleSubmitError(cred, intent, err)
		return domain.Order{}, err
	}

	metrics.OrdersSubmitted.Add(1)
	log.Infof("✅ 下单成功: %s %s x%d @ %s (id=%s)", intent.Side, intent.Symbol, intent.Quantity, intent.Price, order.ID)
	c.notifier.Publish(fmt.Sprintf("%s order placed successfully!", intent.Side), domain.NotificationInfo)

	if err := c.Refresh(ctx); err != nil {
		log.Warnf("下单后刷新订单失败: %v", err)
	}
	return order, nil
}

func (c *Coordinator) handleSubmitError(cred string, intent domain.OrderIntent, err error) {
	if errors.Is(err, domain.ErrUnauthorized) {
		c.creds.Invalidate(cred, "下单返回 401")
		return
	}
	var se *domain.ServerError
	if errors.As(err, &se) {
		metrics.OrdersRejected.Add(1)
		log.Warnf("下单被拒绝: %s %s x%d: %s", intent.Side, intent.Symbol, intent.Quantity, se.Message)
		c.notifier.Publish(se.Message, domain.NotificationError)
		return
	}
	log.Errorf("下单失败: %v", err)
	c.notifier.Publish(MsgSubmitFailed, domain.NotificationError)
}

// validate 本地校验，失败不发起任何网络请求
func (c *Coordinator) validate(intent domain.OrderIntent) (domain.OrderIntent, error) {
	if intent.Quantity <= 0 {
		return intent, &domain.ValidationError{Field: "quantity", Message: MsgInvalidQuantity}
	}
	intent.Symbol = domain.NormalizeSymbol(string(intent.Symbol))
	if !c.universe.Contains(intent.Symbol) {
		return intent, &domain.ValidationError{Field: "symbol", Message: MsgInvalidSymbol}
	}

	side, ok := domain.ParseSide(string(intent.Side))
	if !ok {
		return intent, &domain.ValidationError{Field: "side", Message: MsgInvalidSide}
	}
	intent.Side = side

	if intent.Price.IsNegative() {
		return intent, &domain.ValidationError{Field: "price", Message: MsgInvalidPrice}
	}
	if intent.Price.IsZero() && c.quotes != nil {
		// 未填价格：用当前报价做快照（成交价以服务端为准）
		if q := c.quotes.Quote(intent.Symbol); q.Known {
			intent.Price = q.Price
		}
	}
	return intent, nil
}

// Refresh 拉取完整订单记录并整体替换；返回时若已 Clear 过则丢弃结果
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	cred, err := c.creds.Credential()
	if err != nil {
		return err
	}

	list, err := c.api.ListOrders(ctx, cred)
	if err != nil {
		metrics.RefreshErrors.Add(1)
		if errors.Is(err, domain.ErrUnauthorized) {
			c.creds.Invalidate(cred, "拉取订单返回 401")
		}
		log.Warnf("拉取订单失败: %v", err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Debugf("订单结果已过期（会话已重置），丢弃")
		return nil
	}
	c.orders = append([]domain.Order(nil), list...)
	observers := c.observers
	snapshot := c.copyLocked()
	c.mu.Unlock()

	metrics.OrderRefreshes.Add(1)
	log.Debugf("订单记录已刷新: %d 条", len(list))
	for _, fn := range observers {
		fn(snapshot)
	}
	return nil
}

// RefreshAsync 后台刷新（登录后首次加载），错误只记录日志
func (c *Coordinator) RefreshAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.RefreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrNoSession) {
			log.Warnf("后台刷新订单失败: %v", err)
		}
	}()
}

// Clear 清空本地订单记录（登出）
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.orders = nil
}

// Orders 订单记录副本（服务端顺序，最新在前）
func (c *Coordinator) Orders() []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

func (c *Coordinator) copyLocked() []domain.Order {
	out := make([]domain.Order, len(c.orders))
	copy(out, c.orders)
	return out
}
