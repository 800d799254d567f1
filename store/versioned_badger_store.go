package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// ============================================
// BadgerDB 版本化存储适配器
// ============================================

// BadgerStore 使用 BadgerDB 作为后端的 VersionedStore
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
	mu     sync.RWMutex
}

// NewBadgerStore 包装一个已经打开的 BadgerDB（不负责关闭）
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore 打开目录下的 BadgerDB；path 为空时使用纯内存模式
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // 禁用 badger 自带日志

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// Get 获取 version 及之前最近版本的值
func (s *BadgerStore) Get(key []byte, version Version) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = dataKeyPrefix(key)

		it := txn.NewIterator(opts)
		defer it.Close()

		wantLen := len(dataPrefix) + len(key) + versionSuffixLen
		// 反向迭代时 Seek 定位到 <= seekKey 的最大 key
		for it.Seek(encodeVersionedKey(key, version)); it.Valid(); it.Next() {
			item := it.Item()
			// 前缀相同但更长的 key 属于别的原始 key
			if len(item.Key()) != wantLen {
				continue
			}
			return item.Value(func(val []byte) error {
				v, live, err := decodeStored(val)
				if err != nil {
					return err
				}
				if !live {
					return ErrNotFound
				}
				result = v
				return nil
			})
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BadgerStore) GetMeta(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeMetaKey(key))
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}

// Prune 删除 version 之前不再可见的旧版本
func (s *BadgerStore) Prune(version Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type history struct {
		versions  []Version
		tombstone []bool
	}
	all := make(map[string]*history)
	var order []string

	// 收集每个 key 的版本历史
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = dataPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key, ver, ok := decodeVersionedKey(item.Key())
			if !ok {
				continue
			}
			var dead bool
			if err := item.Value(func(val []byte) error {
				dead = len(val) > 0 && val[0] == markerTombstone
				return nil
			}); err != nil {
				return err
			}
			h, ok := all[string(key)]
			if !ok {
				h = &history{}
				all[string(key)] = h
				order = append(order, string(key))
			}
			h.versions = append(h.versions, ver)
			h.tombstone = append(h.tombstone, dead)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range order {
		h := all[k]
		for _, v := range prunable(h.versions, h.tombstone, version) {
			if err := wb.Delete(encodeVersionedKey([]byte(k), v)); err != nil {
				return err
			}
		}
	}
	return wb.Flush()
}

// Close 只关闭自己打开的 DB
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// NewSession 以一个读写事务承载整个会话
func (s *BadgerStore) NewSession() (VersionedStoreSession, error) {
	return &badgerSession{store: s, txn: s.db.NewTransaction(true)}, nil
}

type badgerSession struct {
	store  *BadgerStore
	txn    *badger.Txn
	closed bool
}

func (s *badgerSession) set(k, v []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.txn.Set(k, v); err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("block write set too large for one badger transaction: %w", err)
		}
		return err
	}
	return nil
}

func (s *badgerSession) Set(key, value []byte, version Version) error {
	return s.set(encodeVersionedKey(key, version), encodeLive(value))
}

func (s *badgerSession) Delete(key []byte, version Version) error {
	// 写墓碑而不是真正删除，以支持历史版本查询
	return s.set(encodeVersionedKey(key, version), encodeTombstone())
}

func (s *badgerSession) SetMeta(key, value []byte) error {
	return s.set(encodeMetaKey(key), bytes.Clone(value))
}

func (s *badgerSession) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.txn.Commit()
}

func (s *badgerSession) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.txn.Discard()
	return nil
}
