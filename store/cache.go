package store

import (
	"encoding/binary"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// readCache (version, key) → 读取结果
// 历史版本不可变，缓存项永远不会过期，只会被 LRU 淘汰
type readCache struct {
	c      *lru.Cache[string, cachedRead]
	hits   atomic.Uint64
	misses atomic.Uint64
}

type cachedRead struct {
	value []byte
	found bool
}

// newReadCache size<=0 时返回 nil，表示不缓存
func newReadCache(size int) (*readCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, cachedRead](size)
	if err != nil {
		return nil, err
	}
	return &readCache{c: c}, nil
}

func cacheKey(version Version, key string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	return string(buf[:]) + key
}

func (rc *readCache) get(version Version, key string) (cachedRead, bool) {
	if rc == nil {
		return cachedRead{}, false
	}
	v, ok := rc.c.Get(cacheKey(version, key))
	if ok {
		rc.hits.Add(1)
	} else {
		rc.misses.Add(1)
	}
	return v, ok
}

func (rc *readCache) add(version Version, key string, v cachedRead) {
	if rc == nil {
		return
	}
	rc.c.Add(cacheKey(version, key), v)
}

// CacheStats 读缓存命中统计
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Len    int
}

func (rc *readCache) stats() CacheStats {
	if rc == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: rc.hits.Load(), Misses: rc.misses.Load(), Len: rc.c.Len()}
}
