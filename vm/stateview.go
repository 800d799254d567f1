package vm

import (
	"sort"
	"sync"

	"ledger/types"
)

// ========== StateView内部类型 ==========

// ovVal overlay中的值
type ovVal struct {
	val   []byte
	exist bool // false表示已删除
}

// change 变更记录，用于回滚
type change struct {
	key     string
	prev    ovVal
	hasPrev bool
}

// ========== StateView实现 ==========

// overlayStateView 叠加在只读视图上的内存写层
type overlayStateView struct {
	mu        sync.RWMutex
	read      ReadThroughFn
	overlay   map[string]ovVal
	changelog []change
}

// NewStateView 在 base 之上创建可写视图
func NewStateView(base StateView) MutableStateView {
	return newOverlay(base.Get)
}

func newOverlay(read ReadThroughFn) *overlayStateView {
	return &overlayStateView{
		read:      read,
		overlay:   make(map[string]ovVal, 64),
		changelog: make([]change, 0, 64),
	}
}

// emptyView 空状态
type emptyView struct{}

func (emptyView) Get(string) ([]byte, bool, error) { return nil, false, nil }

// EmptyView 返回空状态视图（创世之前）
func EmptyView() StateView { return emptyView{} }

func (s *overlayStateView) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	v, ok := s.overlay[key]
	s.mu.RUnlock()

	if ok {
		if !v.exist { // 已被标记删除
			return nil, false, nil
		}
		// 返回副本，避免外部修改
		return append([]byte(nil), v.val...), true, nil
	}
	// 读穿到底层视图
	return s.read(key)
}

func (s *overlayStateView) Set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, has := s.overlay[key]
	s.changelog = append(s.changelog, change{key: key, prev: prev, hasPrev: has})
	s.overlay[key] = ovVal{val: append([]byte(nil), val...), exist: true}
}

func (s *overlayStateView) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, has := s.overlay[key]
	s.changelog = append(s.changelog, change{key: key, prev: prev, hasPrev: has})
	s.overlay[key] = ovVal{val: nil, exist: false}
}

func (s *overlayStateView) Snapshot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.changelog)
}

func (s *overlayStateView) Revert(snap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap < 0 || snap > len(s.changelog) {
		return ErrInvalidSnapshot
	}

	// 回滚到snap之前的状态
	for i := len(s.changelog) - 1; i >= snap; i-- {
		c := s.changelog[i]
		if c.hasPrev {
			s.overlay[c.key] = c.prev
		} else {
			delete(s.overlay, c.key)
		}
	}
	s.changelog = s.changelog[:snap]
	return nil
}

// Diff 与底层视图比较得出写集
// 底层不存在的写入为 Create，存在的为 Modify；删除底层本就不存在的 key 不产生操作
func (s *overlayStateView) Diff() ([]types.WriteOp, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.overlay))
	snapshot := make(map[string]ovVal, len(s.overlay))
	for k, v := range s.overlay {
		keys = append(keys, k)
		snapshot[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	diff := make([]types.WriteOp, 0, len(keys))
	for _, k := range keys {
		v := snapshot[k]
		_, existed, err := s.read(k)
		if err != nil {
			return nil, err
		}
		switch {
		case v.exist && existed:
			diff = append(diff, types.ModifyOp(k, v.val))
		case v.exist:
			diff = append(diff, types.CreateOp(k, v.val))
		case existed:
			diff = append(diff, types.DeleteOp(k))
		}
	}
	return diff, nil
}

// applyOps 把写集写入可写视图
func applyOps(sv MutableStateView, ops []types.WriteOp) {
	for _, op := range ops {
		if op.IsDelete() {
			sv.Del(op.Key)
		} else {
			sv.Set(op.Key, op.Value)
		}
	}
}
