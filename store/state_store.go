package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"ledger/config"
	"ledger/logs"
	"ledger/types"
)

// ErrStaleVersion 提交基于的版本不是最新版本，提交被拒绝且状态不变
var ErrStaleVersion = errors.New("stale prior version")

// ErrInconsistentWrite 写操作与基础状态不符（Create 已存在 / Modify、Delete 不存在）
var ErrInconsistentWrite = errors.New("write op inconsistent with prior state")

var (
	metaLatestKey = []byte("latest")
	metaPrunedKey = []byte("pruned")
)

func metaRootKey(v Version) []byte {
	k := make([]byte, 0, 5+8)
	k = append(k, "root/"...)
	return binary.BigEndian.AppendUint64(k, uint64(v))
}

// StateStore 版本化状态 + 根承诺
// 版本 v 的根：root_v = H(root_{v-1} || encode(blockWriteSet_v))，root_0 为全零
type StateStore struct {
	mu      sync.RWMutex
	backend VersionedStore
	cache   *readCache
	latest  Version
	pruned  Version // 小于它的版本不再可读
}

// NewStateStore 在已有后端上构建状态存储，恢复已提交的最新版本
func NewStateStore(backend VersionedStore, readCacheSize int) (*StateStore, error) {
	cache, err := newReadCache(readCacheSize)
	if err != nil {
		return nil, err
	}
	s := &StateStore{backend: backend, cache: cache}

	if raw, err := backend.GetMeta(metaLatestKey); err == nil {
		if len(raw) != 8 {
			return nil, fmt.Errorf("corrupt latest version meta")
		}
		s.latest = Version(binary.BigEndian.Uint64(raw))
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if raw, err := backend.GetMeta(metaPrunedKey); err == nil && len(raw) == 8 {
		s.pruned = Version(binary.BigEndian.Uint64(raw))
	}
	return s, nil
}

// Open 按配置选择后端
func Open(cfg config.StorageConfig) (*StateStore, error) {
	var (
		backend VersionedStore
		err     error
	)
	switch cfg.Backend {
	case "", "memory":
		backend = NewMemoryStore()
	case "badger":
		backend, err = OpenBadgerStore(cfg.Path)
	case "pebble":
		backend, err = OpenPebbleStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	s, err := NewStateStore(backend, cfg.ReadCacheSize)
	if err != nil {
		backend.Close()
		return nil, err
	}
	logs.Info("[Store] opened backend=%s path=%s latest=%d", cfg.Backend, cfg.Path, s.LatestVersion())
	return s, nil
}

// LatestVersion 最新已提交版本，空库为 0
func (s *StateStore) LatestVersion() Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Root 返回版本 v 的根承诺
func (s *StateStore) Root(v Version) (types.Hash, error) {
	if v == 0 {
		return types.ZeroHash, nil
	}
	if v > s.LatestVersion() {
		return types.ZeroHash, fmt.Errorf("%w: %d", ErrVersionNotFound, v)
	}
	raw, err := s.backend.GetMeta(metaRootKey(v))
	if err != nil {
		return types.ZeroHash, fmt.Errorf("root of version %d: %w", v, err)
	}
	h, ok := types.HashFromBytes(raw)
	if !ok {
		return types.ZeroHash, fmt.Errorf("corrupt root of version %d", v)
	}
	return h, nil
}

// OpenView 打开版本 v 的只读视图
func (s *StateStore) OpenView(v Version) (*View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v > s.latest {
		return nil, fmt.Errorf("%w: %d (latest %d)", ErrVersionNotFound, v, s.latest)
	}
	if v < s.pruned {
		return nil, fmt.Errorf("%w: %d pruned (oldest %d)", ErrVersionNotFound, v, s.pruned)
	}
	return &View{store: s, version: v}, nil
}

// read 供 View 使用
func (s *StateStore) read(v Version, key string) ([]byte, bool, error) {
	if c, ok := s.cache.get(v, key); ok {
		return c.value, c.found, nil
	}
	val, err := s.backend.Get([]byte(key), v)
	switch {
	case err == nil:
		s.cache.add(v, key, cachedRead{value: val, found: true})
		return val, true, nil
	case errors.Is(err, ErrNotFound):
		s.cache.add(v, key, cachedRead{})
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Commit 把一个区块的写集（可以是多笔交易的写集，按顺序合并）原子提交为 prior+1
// prior 不是最新版本时返回 ErrStaleVersion，状态不变
func (s *StateStore) Commit(prior Version, sets ...*types.WriteSet) (Version, types.Hash, error) {
	merged := types.NewWriteSet()
	for _, ws := range sets {
		if err := merged.Squash(ws); err != nil {
			return prior, types.ZeroHash, fmt.Errorf("merge write sets: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior != s.latest {
		return prior, types.ZeroHash, fmt.Errorf("%w: prior %d, latest %d", ErrStaleVersion, prior, s.latest)
	}

	prevRoot := types.ZeroHash
	if prior > 0 {
		raw, err := s.backend.GetMeta(metaRootKey(prior))
		if err != nil {
			return prior, types.ZeroHash, fmt.Errorf("load root %d: %w", prior, err)
		}
		prevRoot, _ = types.HashFromBytes(raw)
	}

	next := prior + 1
	sess, err := s.backend.NewSession()
	if err != nil {
		return prior, types.ZeroHash, err
	}
	defer sess.Rollback()

	for _, op := range merged.Ops() {
		_, exists, err := s.read(prior, op.Key)
		if err != nil {
			return prior, types.ZeroHash, err
		}
		switch {
		case op.Kind == types.OpCreate && exists,
			op.Kind != types.OpCreate && !exists:
			return prior, types.ZeroHash, fmt.Errorf("%w: %s %q", ErrInconsistentWrite, op.Kind, op.Key)
		}
		if op.IsDelete() {
			err = sess.Delete([]byte(op.Key), next)
		} else {
			err = sess.Set([]byte(op.Key), op.Value, next)
		}
		if err != nil {
			return prior, types.ZeroHash, err
		}
	}

	root := types.HashBytes(prevRoot[:], merged.Encode())
	if err := sess.SetMeta(metaRootKey(next), root[:]); err != nil {
		return prior, types.ZeroHash, err
	}
	if err := sess.SetMeta(metaLatestKey, binary.BigEndian.AppendUint64(nil, uint64(next))); err != nil {
		return prior, types.ZeroHash, err
	}
	if err := sess.Commit(); err != nil {
		return prior, types.ZeroHash, fmt.Errorf("commit version %d: %w", next, err)
	}
	s.latest = next

	logs.Debug("[Store] committed version=%d writes=%d root=%s", next, merged.Len(), root)
	return next, root, nil
}

// Prune 裁剪 keepFrom 之前的历史版本
func (s *StateStore) Prune(keepFrom Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keepFrom > s.latest {
		return fmt.Errorf("cannot prune beyond latest version %d", s.latest)
	}
	if keepFrom <= s.pruned {
		return nil
	}
	if err := s.backend.Prune(keepFrom); err != nil {
		return err
	}
	sess, err := s.backend.NewSession()
	if err != nil {
		return err
	}
	defer sess.Rollback()
	if err := sess.SetMeta(metaPrunedKey, binary.BigEndian.AppendUint64(nil, uint64(keepFrom))); err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	s.pruned = keepFrom
	return nil
}

// CacheStats 读缓存统计
func (s *StateStore) CacheStats() CacheStats { return s.cache.stats() }

func (s *StateStore) Close() error {
	return s.backend.Close()
}
