package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotOpened 存储未打开或已关闭
var ErrNotOpened = errors.New("secretstore: not opened")

// Store is a small encrypted-at-rest KV wrapper (Badger).
// Encryption is provided by Badger options (value log + key registry), not by this wrapper.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; if nil, DB is opened without encryption
	ReadOnly      bool
	InMemory      bool // tests only, Path is ignored
}

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("secretstore: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func normalizeKey(key string) ([]byte, error) {
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return nil, errors.New("secretstore: key is empty")
	}
	return k, nil
}

// GetString returns (value, found, err). An empty stored value is reported as found.
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var (
		out   string
		found bool
	)
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

func (s *Store) SetString(key string, val string) error {
	return s.SetMany(map[string]string{key: val})
}

// SetMany writes all pairs in one transaction: either every key is written or none is.
func (s *Store) SetMany(kv map[string]string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for key, val := range kv {
			k, err := normalizeKey(key)
			if err != nil {
				return err
			}
			if err := txn.Set(k, []byte(val)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes keys in one transaction; missing keys are ignored.
func (s *Store) Delete(keys ...string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			k, err := normalizeKey(key)
			if err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ParseKey expects 32 bytes (hex or base64). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
