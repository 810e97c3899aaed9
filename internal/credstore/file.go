package credstore

import (
	"errors"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/pkg/persistence"
)

const filePrefix = "credentials"

// FileStore 基于 JSON 文件的凭证存储
type FileStore struct {
	token persistence.Store
	user  persistence.Store
}

// NewFileStore 在 dir 下创建凭证存储
func NewFileStore(dir string) *FileStore {
	svc := persistence.NewJSONFileService(dir)
	return &FileStore{
		token: svc.NewStore(filePrefix, KeyToken),
		user:  svc.NewStore(filePrefix, KeyUser),
	}
}

func (s *FileStore) Save(token string, profile domain.Profile) error {
	// 先写资料再写凭证：中途失败时只会留下资料，Restore 视为未登录
	if err := s.user.Save(profile); err != nil {
		return err
	}
	return s.token.Save(token)
}

func (s *FileStore) Load() (string, *domain.Profile, error) {
	var token string
	if err := s.token.Load(&token); err != nil && !errors.Is(err, persistence.ErrNotExists) {
		return "", nil, err
	}
	var p domain.Profile
	if err := s.user.Load(&p); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return token, nil, nil
		}
		log.Warnf("用户资料读取失败，忽略: %v", err)
		return token, nil, nil
	}
	return token, &p, nil
}

func (s *FileStore) Clear() error {
	return errors.Join(s.token.Delete(), s.user.Delete())
}

func (s *FileStore) Close() error { return nil }
