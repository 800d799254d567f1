package vm

import "ledger/types"

// ========== 核心接口定义 ==========

// StateView 只读状态视图
// 同一个视图在执行期间不会变化，store.View 与 overlay 都满足该接口
type StateView interface {
	Get(key string) ([]byte, bool, error)
}

// MutableStateView 叠加在只读视图上的可写层
type MutableStateView interface {
	StateView
	//写入只写进这个视图，不直接落到底层存储
	Set(key string, val []byte)
	Del(key string)
	//快照点与回滚，付不起手续费时回滚主体效果
	Snapshot() int
	Revert(snap int) error
	//相对于底层视图的写集，按 key 排序
	Diff() ([]types.WriteOp, error)
}

// VirtualMachine 外部解释器
// Run 只能依赖 ctx 里的 payload、视图与 gas 计量器，不允许访问其他环境
// 读视图失败时返回包装了 ErrStateRead 的错误
type VirtualMachine interface {
	Run(ctx *RunContext) error
}

// SpecExecCache 按区块缓存预执行结果
type SpecExecCache interface {
	Get(blockID string) (*BlockResult, bool)
	Put(res *BlockResult)
	//把低于某高度的缓存淘汰，防止内存无限增长
	EvictBelow(height uint64)
}

// ReadThroughFn overlay 未命中时读取底层状态的函数
type ReadThroughFn func(key string) ([]byte, bool, error)
