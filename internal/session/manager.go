// Package session 管理登录状态：Anonymous → Authenticating → Authenticated → Anonymous。
// 凭证只由本包写入；登出/失效时在同一临界区内通知监听者清理行情流、价格表和订单。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/credstore"
	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/gateway"
	"github.com/betbot/tradedash/internal/metrics"
	"github.com/betbot/tradedash/internal/notify"
)

var log = logrus.WithField("component", "session")

const (
	MsgConnectionError = "Connection error. Please try again."
	MsgLoggedOut       = "Logged out successfully"
	MsgSessionExpired  = "Session expired, please log in again"
	msgAuthenticated   = "Login successful"
)

// ErrAlreadyAuthenticated 已登录时再次登录
var ErrAlreadyAuthenticated = errors.New("session: already authenticated")

// Authenticator 登录/注册的远端
type Authenticator interface {
	Login(ctx context.Context, email, password string) (gateway.AuthResult, error)
	Signup(ctx context.Context, req domain.SignupRequest) (gateway.AuthResult, error)
}

// Listener 会话变化的监听者。
// 回调在 Manager 持锁期间同步调用，不能回调 Manager，也不能阻塞。
type Listener interface {
	OnAuthenticated(s domain.Session)
	OnLoggedOut()
}

type Manager struct {
	store    credstore.Store
	auth     Authenticator
	notifier notify.Publisher
	now      func() time.Time

	mu        sync.Mutex
	state     domain.SessionState
	session   *domain.Session
	epoch     uint64 // 每次登出/失效递增，登录结果回来时用于丢弃过期结果
	authErr   string
	listeners []Listener
}

func NewManager(store credstore.Store, auth Authenticator, notifier notify.Publisher) *Manager {
	return &Manager{
		store:    store,
		auth:     auth,
		notifier: notifier,
		now:      time.Now,
		state:    domain.SessionAnonymous,
	}
}

// AddListener 注册监听者（启动时调用）
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Restore 从本地存储恢复会话，不访问服务端。凭证和资料都存在才算恢复成功
func (m *Manager) Restore() (bool, error) {
	token, profile, err := m.store.Load()
	if err != nil {
		return false, fmt.Errorf("读取本地凭证失败: %w", err)
	}
	if token == "" || profile == nil {
		if token != "" || profile != nil {
			log.Warnf("本地凭证不完整，保持未登录")
		}
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.SessionAnonymous {
		return false, nil
	}
	s := domain.SessionFromProfile(token, *profile)
	m.authenticateLocked(s)
	log.Infof("已恢复会话: %s (%s)", s.DisplayName, s.Email)
	return true, nil
}

// Login 邮箱密码登录
func (m *Manager) Login(ctx context.Context, email, password string) error {
	epoch, err := m.beginAuth()
	if err != nil {
		return err
	}
	res, err := m.auth.Login(ctx, email, password)
	return m.finishAuth(epoch, "登录", res, err)
}

// Signup 注册，成功后直接登录
func (m *Manager) Signup(ctx context.Context, req domain.SignupRequest) error {
	epoch, err := m.beginAuth()
	if err != nil {
		return err
	}
	res, err := m.auth.Signup(ctx, req)
	return m.finishAuth(epoch, "注册", res, err)
}

func (m *Manager) beginAuth() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.SessionAuthenticated {
		return 0, ErrAlreadyAuthenticated
	}
	m.state = domain.SessionAuthenticating
	m.authErr = ""
	metrics.LoginAttempts.Add(1)
	return m.epoch, nil
}

func (m *Manager) finishAuth(epoch uint64, op string, res gateway.AuthResult, authErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		log.Infof("%s结果到达时会话已被重置，丢弃", op)
		if authErr != nil {
			return authErr
		}
		return fmt.Errorf("%s结果已过期", op)
	}

	if authErr != nil {
		metrics.LoginFailures.Add(1)
		m.authErr = inlineMessage(authErr)
		if m.state == domain.SessionAuthenticating {
			m.state = domain.SessionAnonymous
		}
		log.Warnf("%s失败: %v", op, authErr)
		return authErr
	}

	profile := res.Profile
	profile.IssuedAt = m.now()
	if err := m.store.Save(res.Token, profile); err != nil {
		// 内存中的会话仍然有效，只是重启后需要重新登录
		log.Errorf("保存凭证失败: %v", err)
	}
	m.authErr = ""
	m.authenticateLocked(domain.SessionFromProfile(res.Token, profile))
	msg := res.Message
	if msg == "" {
		msg = msgAuthenticated
	}
	m.notifier.Publish(msg, domain.NotificationInfo)
	log.Infof("✅ %s成功: %s (%s)", op, profile.Name, profile.Email)
	return nil
}

func (m *Manager) authenticateLocked(s domain.Session) {
	m.session = &s
	m.state = domain.SessionAuthenticated
	for _, l := range m.listeners {
		l.OnAuthenticated(s)
	}
}

// Logout 清除本地凭证并同步重置行情流、价格表和订单。重复调用无副作用
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetLocked() {
		m.notifier.Publish(MsgLoggedOut, domain.NotificationInfo)
		log.Infof("已登出")
	}
}

// Invalidate 服务端拒绝了 credential（401）。仅当它仍是当前凭证时才作废会话
func (m *Manager) Invalidate(credential, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Credential != credential {
		return
	}
	m.resetLocked()
	metrics.SessionInvalidations.Add(1)
	m.notifier.Publish(MsgSessionExpired, domain.NotificationError)
	log.Warnf("会话已失效: %s", reason)
}

// resetLocked 回到 Anonymous，返回之前是否存在已登录会话。
// Authenticating 状态下调用只会让进行中的登录结果作废
func (m *Manager) resetLocked() bool {
	m.epoch++
	if err := m.store.Clear(); err != nil {
		log.Errorf("清除本地凭证失败: %v", err)
	}
	wasAuthenticated := m.session != nil
	m.session = nil
	m.state = domain.SessionAnonymous
	if wasAuthenticated {
		for _, l := range m.listeners {
			l.OnLoggedOut()
		}
	}
	return wasAuthenticated
}

// State 当前状态
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session 当前会话，未登录时返回 false
func (m *Manager) Session() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, false
	}
	return *m.session, true
}

// Credential 当前凭证（调用时读取），未登录返回 domain.ErrNoSession
func (m *Manager) Credential() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", domain.ErrNoSession
	}
	return m.session.Credential, nil
}

// AuthError 最近一次登录/注册失败的提示，成功后清空
func (m *Manager) AuthError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authErr
}

func inlineMessage(err error) string {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	var se *domain.ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	return MsgConnectionError
}
