package credstore

import (
	"encoding/json"
	"fmt"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/pkg/secretstore"
)

// BadgerStore 基于 badger 的凭证存储（可选静态加密）
type BadgerStore struct {
	kv *secretstore.Store
}

// OpenBadger 打开 badger 凭证存储，encryptionKey 为 nil 时不加密
func OpenBadger(path string, encryptionKey []byte) (*BadgerStore, error) {
	kv, err := secretstore.Open(secretstore.OpenOptions{Path: path, EncryptionKey: encryptionKey})
	if err != nil {
		return nil, err
	}
	return &BadgerStore{kv: kv}, nil
}

func (s *BadgerStore) Save(token string, profile domain.Profile) error {
	b, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("序列化用户资料失败: %w", err)
	}
	return s.kv.SetMany(map[string]string{KeyToken: token, KeyUser: string(b)})
}

func (s *BadgerStore) Load() (string, *domain.Profile, error) {
	token, _, err := s.kv.GetString(KeyToken)
	if err != nil {
		return "", nil, err
	}
	raw, found, err := s.kv.GetString(KeyUser)
	if err != nil {
		return "", nil, err
	}
	if !found || raw == "" {
		return token, nil, nil
	}
	var p domain.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// 损坏的资料按缺失处理，调用方会停留在未登录状态
		log.Warnf("用户资料损坏，忽略: %v", err)
		return token, nil, nil
	}
	return token, &p, nil
}

func (s *BadgerStore) Clear() error {
	return s.kv.Delete(KeyToken, KeyUser)
}

func (s *BadgerStore) Close() error {
	return s.kv.Close()
}
