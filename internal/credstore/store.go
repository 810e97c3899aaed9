// Package credstore 持久化会话凭证和用户资料，进程重启后可直接恢复会话
package credstore

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/pkg/config"
	"github.com/betbot/tradedash/pkg/secretstore"
)

var log = logrus.WithField("component", "credstore")

// 两个持久化 key
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// Store 凭证存储接口
type Store interface {
	// Save 同时写入凭证和用户资料
	Save(token string, profile domain.Profile) error
	// Load 读取凭证和用户资料；缺失的部分返回零值 / nil，不视为错误
	Load() (token string, profile *domain.Profile, err error)
	// Clear 删除两个 key
	Clear() error
	Close() error
}

// Open 按配置打开凭证存储
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "badger":
		key, err := secretstore.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("凭证存储加密 key 无效: %w", err)
		}
		if key == nil {
			log.Warnf("凭证存储未配置加密 key，凭证将以明文保存在 %s", cfg.Path)
		}
		return OpenBadger(cfg.Path, key)
	case "file":
		return NewFileStore(cfg.Path), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未知的凭证存储类型: %s", cfg.Backend)
	}
}
