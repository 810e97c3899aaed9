package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/tradedash/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器：按注册的逆序依次执行回调
// （后启动的组件先关闭，例如先停控制面再断开行情流，最后关存储）
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）
// ctx 应该带超时，超时后剩余回调不再执行
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("没有注册的关闭回调")
		return
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := ctx.Err(); err != nil {
			logger.Warnf("关闭超时，跳过剩余 %d 个回调: %v", i+1, err)
			return
		}
		if err := cb.handler(ctx); err != nil {
			logger.Warnf("关闭 %s 失败: %v", cb.name, err)
			continue
		}
		logger.Debugf("已关闭 %s", cb.name)
	}
	logger.Info("所有关闭回调已完成")
}
