package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ledger/types"
)

// NativeFunction 模块函数的原生实现
type NativeFunction func(s *Session, args []string) error

// HandlerRegistry 原生函数注册表，按 <addr>::<module>::<function> 索引
// 注册表只描述“代码”，模块是否可调用仍以状态中已发布的模块为准
type HandlerRegistry struct {
	mu sync.RWMutex
	m  map[string]NativeFunction
}

// NewHandlerRegistry 创建新的注册表
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{m: make(map[string]NativeFunction)}
}

func functionKey(mod types.ModuleID, fn string) string {
	return mod.String() + "::" + fn
}

// Register 注册原生函数
func (r *HandlerRegistry) Register(mod types.ModuleID, fn string, h NativeFunction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		return errors.New("nil handler")
	}
	if mod.Address == "" || mod.Name == "" || fn == "" {
		return fmt.Errorf("incomplete function name %s::%s", mod, fn)
	}

	k := functionKey(mod, fn)
	if _, ok := r.m[k]; ok {
		return fmt.Errorf("duplicate handler: %s", k)
	}
	r.m[k] = h
	return nil
}

// Get 获取原生函数
func (r *HandlerRegistry) Get(mod types.ModuleID, fn string) (NativeFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[functionKey(mod, fn)]
	return h, ok
}

// List 列出所有已注册的函数（排序）
func (r *HandlerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Modules 按地址下的模块分组，生成可在创世发布的模块描述
func (r *HandlerRegistry) Modules(addr types.Address) []*types.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := make(map[string][]string)
	for k := range r.m {
		parts := strings.Split(k, "::")
		if len(parts) != 3 || parts[0] != string(addr) {
			continue
		}
		byName[parts[1]] = append(byName[parts[1]], parts[2])
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]*types.Module, 0, len(names))
	for _, n := range names {
		fns := byName[n]
		sort.Strings(fns)
		out = append(out, &types.Module{Name: n, Functions: fns, Code: []byte("native")})
	}
	return out
}
