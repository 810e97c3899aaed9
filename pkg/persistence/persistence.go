// Package persistence 基于 JSON 文件的小型键值存储（每个 key 一个文件）。
// 用于凭证这类需要在重启后保留、但数据量很小的状态。
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/betbot/tradedash/pkg/logger"
)

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, key string) Store
}

// Store 单个 key 的存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
	Delete() error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// JSONFileService 同一目录下所有 key 共用一把写锁
type JSONFileService struct {
	baseDir string
	mu      sync.Mutex
}

func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore key 形如 "<prefix>:<key>"，文件名做安全化处理
func (s *JSONFileService) NewStore(prefix, key string) Store {
	name := keySanitizer.ReplaceAllString(prefix+":"+key, "_")
	return &JSONFileStore{
		service: s,
		name:    name,
		path:    filepath.Join(s.baseDir, name+".json"),
	}
}

type JSONFileStore struct {
	service *JSONFileService
	name    string
	path    string
}

// Save 写临时文件、fsync 后 rename，文件权限 0600
func (s *JSONFileStore) Save(data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: encode %s: %w", s.name, err)
	}

	s.service.mu.Lock()
	defer s.service.mu.Unlock()

	if err := os.MkdirAll(s.service.baseDir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.service.baseDir, s.name+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return err
	}
	logger.Debugf("[persistence] 已保存 %s", s.name)
	return nil
}

// Load 不存在或文件为空时返回 ErrNotExists
func (s *JSONFileStore) Load(data interface{}) error {
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrNotExists
	case err != nil:
		return err
	case len(b) == 0:
		return ErrNotExists
	}
	if err := json.Unmarshal(b, data); err != nil {
		return fmt.Errorf("persistence: decode %s: %w", s.name, err)
	}
	return nil
}

// Delete 不存在视为成功
func (s *JSONFileStore) Delete() error {
	s.service.mu.Lock()
	defer s.service.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	logger.Debugf("[persistence] 已删除 %s", s.name)
	return nil
}
