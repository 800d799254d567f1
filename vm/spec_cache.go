package vm

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ========== 预执行结果缓存 ==========

type lruSpecCache struct {
	c *lru.Cache[string, *BlockResult]
}

// NewSpecExecLRU 创建按区块 ID 索引的 LRU 缓存
func NewSpecExecLRU(capacity int) SpecExecCache {
	if capacity <= 0 {
		capacity = 64
	}
	c, err := lru.New[string, *BlockResult](capacity)
	if err != nil {
		// 只有 capacity <= 0 时才会出错
		panic(err)
	}
	return &lruSpecCache{c: c}
}

// Get 获取缓存项
func (s *lruSpecCache) Get(blockID string) (*BlockResult, bool) {
	return s.c.Get(blockID)
}

// Put 添加缓存项，同一区块 ID 覆盖旧结果
func (s *lruSpecCache) Put(res *BlockResult) {
	if res == nil {
		return
	}
	s.c.Add(res.BlockID, res)
}

// EvictBelow 清理低于指定高度的缓存项
func (s *lruSpecCache) EvictBelow(height uint64) {
	for _, id := range s.c.Keys() {
		if res, ok := s.c.Peek(id); ok && res.Height < height {
			s.c.Remove(id)
		}
	}
}
