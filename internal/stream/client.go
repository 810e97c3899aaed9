// Package stream 维护已登录会话的行情 WebSocket 连接，并把行情帧写入价格表。
//
// 连接 goroutine 只负责读帧，把 open / frame / error / closed 事件送入同一个通道；
// 分发 goroutine 是唯一的消费者，也是价格表唯一的写入方。每次 Arm / Disarm /
// Reconnect 都会递增连接代数，旧连接迟到的事件会被丢弃。衰减定时器只看衰减序号，
// 重连不会让已显示的涨跌标记失去清除时机；只有 Disarm 会取消它。
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/events"
	"github.com/betbot/tradedash/internal/metrics"
	"github.com/betbot/tradedash/internal/pricestore"
)

var log = logrus.WithField("component", "stream")

var (
	// ErrNotArmed 当前没有登录会话，不能连接
	ErrNotArmed = errors.New("stream: not armed")
	// ErrAlreadyStarted Start 只能调用一次，Stop 之后也不能再次 Start
	ErrAlreadyStarted = errors.New("stream: already started")
)

// PriceSink 行情帧的写入目标（*pricestore.Store）
type PriceSink interface {
	ApplyFrame(updates []pricestore.Update, changeExpiresAt time.Time) []domain.Quote
	ClearAllDirections()
}

type Client struct {
	cfg      Config
	universe *domain.Universe
	sink     PriceSink
	dialer   websocket.Dialer
	now      func() time.Time

	eventCh chan events.StreamEvent

	mu             sync.Mutex
	gen            uint64
	armed          bool
	credential     string
	state          domain.StreamState
	conn           *websocket.Conn
	cancelConn     context.CancelFunc
	decaySeq       uint64
	decayTimer     *time.Timer
	reconnectTimer *time.Timer
	attempts       int
	observers      []chan events.StreamEvent

	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewClient 创建客户端；需要调用 Start 启动分发 goroutine
func NewClient(cfg Config, universe *domain.Universe, sink PriceSink) *Client {
	cfg = cfg.withDefaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != "" {
		if u, err := url.Parse(cfg.ProxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(u)
			log.Infof("行情流使用代理: %s", cfg.ProxyURL)
		} else {
			log.Warnf("无效的代理 URL %q，忽略: %v", cfg.ProxyURL, err)
		}
	}
	return &Client{
		cfg:      cfg,
		universe: universe,
		sink:     sink,
		dialer:   dialer,
		now:      time.Now,
		eventCh:  make(chan events.StreamEvent, cfg.EventBufferSize),
		state:    domain.StreamIdle,
		baseCtx:  context.Background(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start 启动分发 goroutine，ctx 结束或调用 Stop 后退出
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	runCtx := c.baseCtx
	c.mu.Unlock()

	go c.dispatchLoop(runCtx)
	return nil
}

// Stop 断开连接并停止分发 goroutine，重复调用无副作用
func (c *Client) Stop() {
	c.Disarm()

	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	observers := c.observers
	c.observers = nil
	c.mu.Unlock()

	cancel()
	close(c.stopCh)
	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Warnf("分发 goroutine 退出超时")
	}
	for _, ch := range observers {
		close(ch)
	}
	log.Infof("行情流已停止")
}

// Arm 登录后调用：丢弃当前连接（如有）并用新凭证建立连接，不阻塞
func (c *Client) Arm(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
	c.credential = credential
	c.attempts = 0
	c.connectLocked()
}

// Disarm 登出时调用：立即关闭连接、丢弃进行中的连接尝试并停掉衰减定时器
func (c *Client) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed && c.conn == nil && c.cancelConn == nil {
		return
	}
	c.armed = false
	c.credential = ""
	c.gen++
	c.teardownLocked()
	c.decaySeq++
	if c.decayTimer != nil {
		c.decayTimer.Stop()
		c.decayTimer = nil
	}
	if c.state != domain.StreamIdle {
		c.state = domain.StreamClosed
	}
	log.Infof("行情流已断开（登出）")
}

// Reconnect 手动重连（用户操作），未 Arm 时返回 ErrNotArmed
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return ErrNotArmed
	}
	c.attempts = 0
	c.connectLocked()
	metrics.StreamReconnects.Add(1)
	return nil
}

// State 当前连接状态
func (c *Client) State() domain.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected 连接是否处于 Open
func (c *Client) Connected() bool {
	return c.State() == domain.StreamOpen
}

// Events 订阅已被分发 goroutine 接受的事件副本（慢消费者会丢事件），Stop 时关闭
func (c *Client) Events() <-chan events.StreamEvent {
	ch := make(chan events.StreamEvent, 64)
	c.mu.Lock()
	c.observers = append(c.observers, ch)
	c.mu.Unlock()
	return ch
}

// connectLocked 递增代数并在后台拨号，调用方持有 c.mu
func (c *Client) connectLocked() {
	c.gen++
	c.teardownLocked()
	c.state = domain.StreamConnecting

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancelConn = cancel
	go c.run(ctx, c.gen, c.credential)
}

// teardownLocked 关闭当前连接和挂起的重连，调用方持有 c.mu
func (c *Client) teardownLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.cancelConn != nil {
		c.cancelConn()
		c.cancelConn = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
}

// run 单个连接的生命周期：拨号，然后读帧直到出错
func (c *Client) run(ctx context.Context, gen uint64, credential string) {
	headers := make(http.Header)
	headers.Set("User-Agent", "tradedash/1.0")
	if credential != "" {
		headers.Set("Authorization", "Bearer "+credential)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		c.emit(events.StreamEvent{Kind: events.StreamError, Gen: gen, Err: fmt.Errorf("连接失败: %w", err), At: c.now()})
		c.emit(events.StreamEvent{Kind: events.StreamClosed, Gen: gen, Err: err, At: c.now()})
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// 拨号期间已被 Disarm / 重新 Arm
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.emit(events.StreamEvent{Kind: events.StreamOpened, Gen: gen, At: c.now()})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(events.StreamEvent{Kind: events.StreamError, Gen: gen, Err: err, At: c.now()})
			}
			c.emit(events.StreamEvent{Kind: events.StreamClosed, Gen: gen, Err: err, At: c.now()})
			return
		}
		c.emit(events.StreamEvent{Kind: events.StreamFrame, Gen: gen, Data: data, At: c.now()})
	}
}

func (c *Client) emit(ev events.StreamEvent) {
	select {
	case c.eventCh <- ev:
	case <-c.stopCh:
	}
}

func (c *Client) dispatchLoop(ctx context.Context) {
	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case ev := <-c.eventCh:
			c.handle(ev)
		}
	}
}

// handle 在客户端锁内应用一个事件；代数不匹配的事件直接丢弃
func (c *Client) handle(ev events.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Gen != c.gen {
		metrics.FramesStale.Add(1)
		return
	}

	switch ev.Kind {
	case events.StreamOpened:
		c.state = domain.StreamOpen
		c.attempts = 0
		metrics.StreamConnects.Add(1)
		log.Infof("✅ 行情流已连接: %s", c.cfg.URL)

	case events.StreamFrame:
		c.applyFrameLocked(ev)

	case events.StreamError:
		metrics.StreamErrors.Add(1)
		log.Warnf("行情流错误: %v", &domain.StreamError{Err: ev.Err})

	case events.StreamClosed:
		c.state = domain.StreamClosed
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		if c.cancelConn != nil {
			c.cancelConn()
			c.cancelConn = nil
		}
		log.Infof("行情流已关闭")
		if c.armed && c.cfg.ReconnectEnabled {
			c.scheduleReconnectLocked()
		}
	}

	for _, ch := range c.observers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Client) applyFrameLocked(ev events.StreamEvent) {
	frame, err := decodeFrame(ev.Data)
	if err != nil {
		metrics.DecodeErrors.Add(1)
		log.Warnf("丢弃格式错误的行情帧: %v", err)
		return
	}
	if !knownFrameType(frame.Type) {
		log.Debugf("忽略未知类型的行情帧: %s", frame.Type)
		return
	}

	updates := make([]pricestore.Update, 0, len(frame.Updates))
	for _, u := range frame.Updates {
		if !c.universe.Contains(u.Symbol) {
			continue
		}
		updates = append(updates, pricestore.Update{
			Symbol:    u.Symbol,
			Price:     u.Price,
			Direction: domain.DirectionFromChange(u.Change),
		})
	}

	expiresAt := c.now().Add(c.cfg.Decay)
	c.sink.ApplyFrame(updates, expiresAt)
	metrics.FramesApplied.Add(1)

	// 全局共享一个衰减定时器：任何一帧都会把所有标的的高亮时间重新计时
	c.decaySeq++
	seq := c.decaySeq
	if c.decayTimer != nil {
		c.decayTimer.Stop()
	}
	c.decayTimer = time.AfterFunc(c.cfg.Decay, func() { c.decay(seq) })
}

// decay 最近一帧之后 Decay 到期：清除所有方向标记。
// 不检查连接代数，Reconnect 之前收到的帧同样要按时清除
func (c *Client) decay(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.decaySeq {
		return
	}
	c.decayTimer = nil
	c.sink.ClearAllDirections()
	metrics.DecayClears.Add(1)
}

func (c *Client) scheduleReconnectLocked() {
	c.attempts++
	if c.cfg.MaxReconnectAttempts > 0 && c.attempts > c.cfg.MaxReconnectAttempts {
		log.Errorf("行情流重连 %d 次仍失败，放弃（可手动重连）", c.cfg.MaxReconnectAttempts)
		return
	}
	delay := c.cfg.backoff(c.attempts)
	gen := c.gen
	log.Infof("%v 后尝试第 %d 次重连", delay, c.attempts)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || !c.armed || c.state != domain.StreamClosed {
			return
		}
		c.reconnectTimer = nil
		metrics.StreamReconnects.Add(1)
		c.connectLocked()
	})
}
