package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// ============================================
// Pebble 版本化存储适配器
// ============================================

// PebbleStore 使用 Pebble 作为后端的 VersionedStore，key 布局与 BadgerStore 相同
type PebbleStore struct {
	db *pebble.DB
	mu sync.RWMutex
}

// OpenPebbleStore 打开目录下的 Pebble 数据库
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{
		MaxOpenFiles: 500,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// prefixUpperBound 返回大于所有以 prefix 开头的 key 的最小值
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) Get(key []byte, version Version) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.db.NewSnapshot()
	defer snap.Close()

	lower := dataKeyPrefix(key)
	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	wantLen := len(dataPrefix) + len(key) + versionSuffixLen
	// 末尾追加一个字节，SeekLT 正好落在 (key, version) 上
	seek := append(encodeVersionedKey(key, version), 0x00)
	for ok := iter.SeekLT(seek); ok; ok = iter.Prev() {
		if len(iter.Key()) != wantLen {
			continue
		}
		v, live, err := decodeStored(iter.Value())
		if err != nil {
			return nil, err
		}
		if !live {
			return nil, ErrNotFound
		}
		return v, nil
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func (s *PebbleStore) GetMeta(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, closer, err := s.db.Get(encodeMetaKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *PebbleStore) Prune(version Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: dataPrefix,
		UpperBound: prefixUpperBound(dataPrefix),
	})
	if err != nil {
		return err
	}

	type history struct {
		versions  []Version
		tombstone []bool
	}
	all := make(map[string]*history)
	var order []string
	for ok := iter.First(); ok; ok = iter.Next() {
		key, ver, valid := decodeVersionedKey(iter.Key())
		if !valid {
			continue
		}
		val := iter.Value()
		h, seen := all[string(key)]
		if !seen {
			h = &history{}
			all[string(key)] = h
			order = append(order, string(key))
		}
		h.versions = append(h.versions, ver)
		h.tombstone = append(h.tombstone, len(val) > 0 && val[0] == markerTombstone)
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	if err := iter.Close(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range order {
		h := all[k]
		for _, v := range prunable(h.versions, h.tombstone, version) {
			if err := batch.Delete(encodeVersionedKey([]byte(k), v), nil); err != nil {
				return err
			}
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// NewSession 会话内的写入先进 batch，Commit 时一次落盘
func (s *PebbleStore) NewSession() (VersionedStoreSession, error) {
	return &pebbleSession{store: s, batch: s.db.NewBatch()}, nil
}

type pebbleSession struct {
	store  *PebbleStore
	batch  *pebble.Batch
	closed bool
}

func (s *pebbleSession) Set(key, value []byte, version Version) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.batch.Set(encodeVersionedKey(key, version), encodeLive(value), nil)
}

func (s *pebbleSession) Delete(key []byte, version Version) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.batch.Set(encodeVersionedKey(key, version), encodeTombstone(), nil)
}

func (s *pebbleSession) SetMeta(key, value []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.batch.Set(encodeMetaKey(key), value, nil)
}

func (s *pebbleSession) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	defer s.batch.Close()

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.batch.Commit(pebble.Sync)
}

func (s *pebbleSession) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.batch.Close()
}
