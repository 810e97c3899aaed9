package credstore

import (
	"sync"

	"github.com/betbot/tradedash/internal/domain"
)

// MemoryStore 内存凭证存储（测试和临时运行使用，进程退出即丢失）
type MemoryStore struct {
	mu      sync.Mutex
	token   string
	profile *domain.Profile
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Save(token string, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	p := profile
	s.profile = &p
	return nil
}

func (s *MemoryStore) Load() (string, *domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return s.token, nil, nil
	}
	p := *s.profile
	return s.token, &p, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
