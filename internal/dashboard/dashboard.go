// Package dashboard 组装各组件并负责会话变化时的联动：
// 登录后连接行情流并加载订单，登出时同步断开行情流、清空价格表和订单记录。
package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/credstore"
	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/gateway"
	"github.com/betbot/tradedash/internal/notify"
	"github.com/betbot/tradedash/internal/orders"
	"github.com/betbot/tradedash/internal/pricestore"
	"github.com/betbot/tradedash/internal/session"
	"github.com/betbot/tradedash/internal/stream"
	"github.com/betbot/tradedash/internal/tape"
	"github.com/betbot/tradedash/pkg/config"
)

var log = logrus.WithField("component", "dashboard")

// ErrTapeDisabled 未启用行情磁带
var ErrTapeDisabled = errors.New("tape is disabled")

// State 只读快照（控制面 /api/state）
type State struct {
	Session      domain.SessionState  `json:"session"`
	User         *domain.Session      `json:"user,omitempty"`
	AuthError    string               `json:"authError,omitempty"`
	Stream       domain.StreamState   `json:"stream"`
	Connected    bool                 `json:"connected"`
	Quotes       []domain.Quote       `json:"quotes"`
	Orders       []domain.Order       `json:"orders"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type Dashboard struct {
	Universe *domain.Universe
	Notifier *notify.Bus
	Prices   *pricestore.Store
	Stream   *stream.Client
	Session  *session.Manager
	Orders   *orders.Coordinator
	Gateway  *gateway.Gateway
	Tape     *tape.Recorder // 可能为 nil

	store credstore.Store
}

// New 按配置创建全部组件（尚未连接任何东西，需调用 Start）
func New(cfg *config.Config) (*Dashboard, error) {
	symbols := make([]domain.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, domain.Symbol(s))
	}
	if len(symbols) == 0 {
		symbols = domain.DefaultSymbols
	}
	universe := domain.NewUniverse(symbols...)

	store, err := credstore.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("打开凭证存储失败: %w", err)
	}

	d := &Dashboard{
		Universe: universe,
		Notifier: notify.NewBus(cfg.NotificationTTL),
		Prices:   pricestore.New(universe),
		Gateway:  gateway.NewFromConfig(cfg),
		store:    store,
	}
	d.Stream = stream.NewClient(stream.ConfigFrom(cfg), universe, d.Prices)
	d.Session = session.NewManager(store, d.Gateway, d.Notifier)
	d.Orders = orders.NewCoordinator(d.Gateway, d.Session, d.Prices, d.Notifier, universe)
	d.Session.AddListener(d)

	if cfg.Tape.Enabled {
		rec, err := tape.Open(cfg.Tape.DBPath, 0)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("打开行情磁带失败: %w", err)
		}
		d.Tape = rec
		d.Prices.Observe(rec.RecordQuotes)
		d.Orders.Observe(rec.RecordOrders)
	}

	log.Infof("dashboard 已创建: 标的=%v", universe.Symbols())
	return d, nil
}

// Start 启动行情分发并尝试恢复上次的会话
func (d *Dashboard) Start(ctx context.Context) error {
	if err := d.Stream.Start(ctx); err != nil {
		return err
	}
	restored, err := d.Session.Restore()
	if err != nil {
		log.Warnf("恢复会话失败: %v", err)
		return nil
	}
	if !restored {
		log.Infof("未找到本地会话，等待登录")
		return nil
	}
	go d.verifyRestored(ctx)
	return nil
}

// verifyRestored 恢复的凭证可能已过期：后台调用 /me，服务端拒绝时作废会话
func (d *Dashboard) verifyRestored(ctx context.Context) {
	cred, err := d.Session.Credential()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.Orders.RefreshTimeout)
	defer cancel()

	profile, err := d.Gateway.Me(ctx, cred)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		d.Session.Invalidate(cred, "恢复的凭证已被服务端拒绝")
	case err != nil:
		log.Warnf("校验恢复的会话失败（保留会话）: %v", err)
	default:
		log.Infof("恢复的会话已通过校验: %s", profile.Email)
	}
}

// Close 断开行情流并关闭存储
func (d *Dashboard) Close() error {
	d.Stream.Stop()
	var errs []error
	if d.Tape != nil {
		errs = append(errs, d.Tape.Close())
	}
	errs = append(errs, d.store.Close())
	return errors.Join(errs...)
}

// OnAuthenticated 在会话锁内调用：只做非阻塞的启动动作
func (d *Dashboard) OnAuthenticated(s domain.Session) {
	d.Stream.Arm(s.Credential)
	d.Orders.RefreshAsync()
}

// OnLoggedOut 在会话锁内调用：清理必须同步完成
func (d *Dashboard) OnLoggedOut() {
	d.Stream.Disarm()
	d.Prices.Clear()
	d.Orders.Clear()
}

// State 当前快照；未登录时报价和订单一律为空
func (d *Dashboard) State() State {
	st := State{
		Session:   d.Session.State(),
		AuthError: d.Session.AuthError(),
		Stream:    d.Stream.State(),
		Connected: d.Stream.Connected(),
		Quotes:    []domain.Quote{},
		Orders:    []domain.Order{},
	}
	if s, ok := d.Session.Session(); ok {
		st.User = &s
		st.Quotes = d.Prices.Snapshot()
		st.Orders = d.Orders.Orders()
	}
	if n, ok := d.Notifier.Current(); ok {
		st.Notification = &n
	}
	return st
}

// 以下是给控制面用的门面方法

func (d *Dashboard) Login(ctx context.Context, email, password string) error {
	return d.Session.Login(ctx, email, password)
}

func (d *Dashboard) Signup(ctx context.Context, req domain.SignupRequest) error {
	return d.Session.Signup(ctx, req)
}

func (d *Dashboard) Logout() { d.Session.Logout() }

func (d *Dashboard) Submit(ctx context.Context, intent domain.OrderIntent) (domain.Order, error) {
	return d.Orders.Submit(ctx, intent)
}

func (d *Dashboard) RefreshOrders(ctx context.Context) error {
	return d.Orders.Refresh(ctx)
}

func (d *Dashboard) ReconnectStream() error {
	return d.Stream.Reconnect()
}

func (d *Dashboard) DismissNotification() { d.Notifier.Dismiss() }

func (d *Dashboard) RecentOrderSnapshots(ctx context.Context, n int) ([]tape.OrderSnapshot, error) {
	if d.Tape == nil {
		return nil, ErrTapeDisabled
	}
	return d.Tape.RecentOrderSnapshots(ctx, n)
}

func (d *Dashboard) RecentQuotes(ctx context.Context, symbol domain.Symbol, n int) ([]tape.QuoteRow, error) {
	if d.Tape == nil {
		return nil, ErrTapeDisabled
	}
	return d.Tape.Recent(ctx, symbol, n)
}
