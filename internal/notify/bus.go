// Package notify 单槽短暂通知：新通知替换旧通知，到期自动清除
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/metrics"
)

var log = logrus.WithField("component", "notify")

// DefaultTTL 通知默认显示时长
const DefaultTTL = 3000 * time.Millisecond

// Publisher 其他组件只依赖发布能力
type Publisher interface {
	Publish(message string, kind domain.NotificationKind) domain.Notification
}

// Bus 通知总线
type Bus struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	current *domain.Notification
	timer   *time.Timer
}

// NewBus 创建通知总线，ttl <= 0 时使用默认值
func NewBus(ttl time.Duration) *Bus {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bus{ttl: ttl, now: time.Now}
}

// Publish 替换当前通知并重新计时；旧通知的定时器失效
func (b *Bus) Publish(message string, kind domain.NotificationKind) domain.Notification {
	now := b.now()
	n := domain.Notification{
		ID:          uuid.NewString(),
		Message:     message,
		Kind:        kind,
		PublishedAt: now,
		ExpiresAt:   now.Add(b.ttl),
	}

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.current = &n
	id := n.ID
	b.timer = time.AfterFunc(b.ttl, func() { b.expire(id) })
	b.mu.Unlock()

	metrics.NotificationsPublished.Add(1)
	if kind == domain.NotificationError {
		log.Warnf("📣 %s", message)
	} else {
		log.Infof("📣 %s", message)
	}
	return n
}

// expire 只清除仍是自己的那条通知（Stop 之后仍可能触发的旧定时器会被忽略）
func (b *Bus) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && b.current.ID == id {
		b.current = nil
		b.timer = nil
	}
}

// Current 当前通知，没有时返回 false
func (b *Bus) Current() (domain.Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return domain.Notification{}, false
	}
	return *b.current, true
}

// Dismiss 立即清除当前通知
func (b *Bus) Dismiss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.current = nil
}
