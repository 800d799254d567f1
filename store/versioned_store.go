package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ============================================
// 版本化存储接口
// ============================================

// Version 状态版本号；0 表示创世之前的空状态，每提交一个区块加一
type Version uint64

var (
	// ErrNotFound Key 不存在（或在该版本已被删除）
	ErrNotFound = errors.New("key not found")
	// ErrVersionNotFound 请求的版本尚未提交或已被裁剪
	ErrVersionNotFound = errors.New("version not found")
	// ErrSessionClosed 会话已提交或回滚
	ErrSessionClosed = errors.New("session closed")
)

// VersionedStore 支持历史查询的 KV 存储
// 每个值按 (key, version) 存放，写入后不再修改，同一 (version, key) 永远读到同一个值
type VersionedStore interface {
	// Get 返回 version 及之前最近一次写入的值
	// 从未写入或最近一次是删除时返回 ErrNotFound
	Get(key []byte, version Version) ([]byte, error)

	// GetMeta 读取非版本化的元数据（最新版本号、各版本根哈希）
	GetMeta(key []byte) ([]byte, error)

	// NewSession 创建写会话，会话内的修改在 Commit 时一次性生效
	NewSession() (VersionedStoreSession, error)

	// Prune 清理 version 之前不再可见的历史，version 及之后的读取不受影响
	Prune(version Version) error

	Close() error
}

// VersionedStoreSession 写会话
type VersionedStoreSession interface {
	Set(key, value []byte, version Version) error
	Delete(key []byte, version Version) error
	SetMeta(key, value []byte) error

	// Commit 原子提交
	Commit() error
	// Rollback 丢弃全部修改
	Rollback() error
}

// ============================================
// 存储格式（三种后端共用）
// ============================================

const versionSuffixLen = 8

const (
	markerTombstone byte = 0x00
	markerLive      byte = 0x01
)

var (
	dataPrefix = []byte("d/")
	metaPrefix = []byte("m/")
)

// encodeVersionedKey 格式: [d/][originalKey][8-byte big-endian version]
func encodeVersionedKey(key []byte, version Version) []byte {
	out := make([]byte, len(dataPrefix)+len(key)+versionSuffixLen)
	n := copy(out, dataPrefix)
	n += copy(out[n:], key)
	binary.BigEndian.PutUint64(out[n:], uint64(version))
	return out
}

// dataKeyPrefix 某个 key 全部版本的公共前缀
func dataKeyPrefix(key []byte) []byte {
	out := make([]byte, 0, len(dataPrefix)+len(key))
	out = append(out, dataPrefix...)
	return append(out, key...)
}

// decodeVersionedKey 拆出原始 key 与版本
func decodeVersionedKey(full []byte) ([]byte, Version, bool) {
	if len(full) < len(dataPrefix)+versionSuffixLen {
		return nil, 0, false
	}
	key := full[len(dataPrefix) : len(full)-versionSuffixLen]
	ver := Version(binary.BigEndian.Uint64(full[len(full)-versionSuffixLen:]))
	return key, ver, true
}

func encodeMetaKey(key []byte) []byte {
	out := make([]byte, 0, len(metaPrefix)+len(key))
	out = append(out, metaPrefix...)
	return append(out, key...)
}

// 值前面带一个标记字节，区分真实值与删除墓碑
func encodeLive(value []byte) []byte {
	out := make([]byte, 1+len(value))
	out[0] = markerLive
	copy(out[1:], value)
	return out
}

func encodeTombstone() []byte { return []byte{markerTombstone} }

// decodeStored 返回 (值, 是否存活)
func decodeStored(raw []byte) ([]byte, bool, error) {
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("empty stored value")
	}
	switch raw[0] {
	case markerLive:
		return append([]byte(nil), raw[1:]...), true, nil
	case markerTombstone:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unknown value marker 0x%02x", raw[0])
	}
}

// prunable 给定某个 key 按版本升序的条目，返回在 keep 之前可以删除的版本
// 保留 keep 之前最后一条存活条目，使 keep 及之后的读取结果不变
func prunable(versions []Version, tombstone []bool, keep Version) []Version {
	last := -1
	for i, v := range versions {
		if v < keep {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	var out []Version
	for i := 0; i < last; i++ {
		out = append(out, versions[i])
	}
	if tombstone[last] {
		out = append(out, versions[last])
	}
	return out
}

// ============================================
// 内存实现
// ============================================

type versionedEntry struct {
	version Version
	value   []byte
	deleted bool
}

// MemoryStore 内存版本化存储，用于测试与 CLI 的临时运行
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]versionedEntry // 按版本升序
	meta map[string][]byte
}

// NewMemoryStore 创建内存版本化存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]versionedEntry),
		meta: make(map[string][]byte),
	}
}

func (m *MemoryStore) Get(key []byte, version Version) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.data[string(key)]
	// 第一个版本 > version 的位置
	i := sort.Search(len(entries), func(i int) bool { return entries[i].version > version })
	if i == 0 {
		return nil, ErrNotFound
	}
	e := entries[i-1]
	if e.deleted {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) GetMeta(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.meta[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) put(key string, e versionedEntry) {
	entries := m.data[key]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].version >= e.version })
	if i < len(entries) && entries[i].version == e.version {
		entries[i] = e
		return
	}
	entries = append(entries, versionedEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.data[key] = entries
}

func (m *MemoryStore) Prune(version Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, entries := range m.data {
		vers := make([]Version, len(entries))
		tomb := make([]bool, len(entries))
		for i, e := range entries {
			vers[i], tomb[i] = e.version, e.deleted
		}
		drop := prunable(vers, tomb, version)
		if len(drop) == 0 {
			continue
		}
		dropSet := make(map[Version]struct{}, len(drop))
		for _, v := range drop {
			dropSet[v] = struct{}{}
		}
		kept := entries[:0]
		for _, e := range entries {
			if _, ok := dropSet[e.version]; !ok {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m.data, k)
		} else {
			m.data[k] = kept
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) NewSession() (VersionedStoreSession, error) {
	return &memorySession{store: m}, nil
}

type memoryWrite struct {
	key   string
	entry versionedEntry
}

// memorySession 缓冲写入，Commit 时在一把锁内全部落地
type memorySession struct {
	store  *MemoryStore
	writes []memoryWrite
	meta   map[string][]byte
	closed bool
}

func (s *memorySession) Set(key, value []byte, version Version) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.writes = append(s.writes, memoryWrite{
		key:   string(key),
		entry: versionedEntry{version: version, value: append([]byte(nil), value...)},
	})
	return nil
}

func (s *memorySession) Delete(key []byte, version Version) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.writes = append(s.writes, memoryWrite{
		key:   string(key),
		entry: versionedEntry{version: version, deleted: true},
	})
	return nil
}

func (s *memorySession) SetMeta(key, value []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.meta == nil {
		s.meta = make(map[string][]byte)
	}
	s.meta[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memorySession) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, w := range s.writes {
		s.store.put(w.key, w.entry)
	}
	for k, v := range s.meta {
		s.store.meta[k] = v
	}
	return nil
}

func (s *memorySession) Rollback() error {
	s.closed = true
	s.writes = nil
	s.meta = nil
	return nil
}
