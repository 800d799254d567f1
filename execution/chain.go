// execution/chain.go
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ledger/config"
	"ledger/keys"
	"ledger/logs"
	"ledger/store"
	"ledger/types"
	"ledger/vm"
)

var (
	ErrNilBlock         = errors.New("nil block")
	ErrNoGenesis        = errors.New("genesis not applied")
	ErrGenesisApplied   = errors.New("genesis already applied")
	ErrHeightGap        = errors.New("block height does not follow latest")
	ErrConflictingBlock = errors.New("a different block is already committed at this height")
	ErrAccountNotFound  = errors.New("account not found")
)

// Storage 链驱动依赖的状态存储，*store.StateStore 满足该接口
type Storage interface {
	LatestVersion() store.Version
	OpenView(v store.Version) (*store.View, error)
	Commit(prior store.Version, sets ...*types.WriteSet) (store.Version, types.Hash, error)
	Root(v store.Version) (types.Hash, error)
}

// BlockExecutor 区块执行器，*vm.Executor 与 *vm.ParallelExecutor 都满足
type BlockExecutor interface {
	ExecuteBlock(ctx context.Context, prior vm.StateView, txs []*types.Transaction, meta types.BlockMetadata) (*vm.BlockResult, error)
	ExecuteGenesis(ctx context.Context, g *vm.GenesisConfig) (*vm.BlockResult, error)
}

// CommitResult 一个区块提交后的结果
type CommitResult struct {
	Height  uint64
	BlockID string
	Version store.Version
	Root    types.Hash
	Result  *vm.BlockResult
}

// Chain 把执行器和状态存储串起来：预执行、提交、查询
type Chain struct {
	mu        sync.Mutex
	storage   Storage
	exec      BlockExecutor
	cache     vm.SpecExecCache
	committed map[uint64]*CommitResult // 本进程内已提交的区块，按高度
}

// NewChain 按配置创建执行器；ParallelWorkers > 1 时使用推测并行执行
func NewChain(cfg *config.Config, storage Storage, machine vm.VirtualMachine) *Chain {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	x := vm.NewExecutor(cfg, machine)
	var exec BlockExecutor = x
	if cfg.Executor.ParallelWorkers > 1 {
		exec = vm.NewParallelExecutor(x, cfg.Executor.ParallelWorkers)
	}
	return NewChainWithExecutor(storage, exec, vm.NewSpecExecLRU(cfg.Executor.SpecCacheSize))
}

// NewChainWithExecutor 使用给定的执行器与缓存
func NewChainWithExecutor(storage Storage, exec BlockExecutor, cache vm.SpecExecCache) *Chain {
	if cache == nil {
		cache = vm.NewSpecExecLRU(64)
	}
	return &Chain{
		storage:   storage,
		exec:      exec,
		cache:     cache,
		committed: make(map[uint64]*CommitResult),
	}
}

// ApplyGenesis 在空存储上执行并提交创世，结果版本为 1
func (c *Chain) ApplyGenesis(ctx context.Context, g *vm.GenesisConfig) (*CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storage.LatestVersion() != 0 {
		return nil, ErrGenesisApplied
	}
	res, err := c.exec.ExecuteGenesis(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("execute genesis: %w", err)
	}
	version, root, err := c.storage.Commit(0, res.WriteSet)
	if err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}

	cr := &CommitResult{Height: 0, BlockID: res.BlockID, Version: version, Root: root, Result: res}
	c.committed[0] = cr
	logs.Info("[Chain] genesis committed version=%d root=%s writes=%d", version, root, res.WriteSet.Len())
	return cr, nil
}

// PreExecuteBlock 在最新状态上预执行区块，不写存储
// 缓存命中且基于的版本未变化时直接返回缓存结果
func (c *Chain) PreExecuteBlock(ctx context.Context, b *types.Block) (*vm.BlockResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preExecute(ctx, b)
}

func (c *Chain) preExecute(ctx context.Context, b *types.Block) (*vm.BlockResult, error) {
	if b == nil {
		return nil, ErrNilBlock
	}
	latest := c.storage.LatestVersion()
	if latest == 0 {
		return nil, ErrNoGenesis
	}

	if cached, ok := c.cache.Get(b.Meta.ID); ok && cached.BaseVersion == uint64(latest) {
		logs.Debug("[Chain] spec cache hit block=%s height=%d", b.Meta.ID, b.Meta.Height)
		return cached, nil
	}

	view, err := c.storage.OpenView(latest)
	if err != nil {
		return nil, err
	}
	res, err := c.exec.ExecuteBlock(ctx, view, b.Txs, b.Meta)
	if err != nil {
		return nil, err
	}
	res.BaseVersion = uint64(latest)
	c.cache.Put(res)
	logs.Verbose("[Chain] pre-executed block=%s height=%d base=%d txs=%d gas=%d", b.Meta.ID, b.Meta.Height, latest, len(res.Outputs), res.GasUsed)
	return res, nil
}

// CommitBlock 执行（或复用预执行结果）并提交区块
// 同一高度重复提交同一区块直接返回之前的结果
func (c *Chain) CommitBlock(ctx context.Context, b *types.Block) (*CommitResult, error) {
	if b == nil {
		return nil, ErrNilBlock
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.committed[b.Meta.Height]; ok {
		if prev.BlockID != b.Meta.ID {
			return nil, fmt.Errorf("%w: height %d has %s, got %s", ErrConflictingBlock, b.Meta.Height, prev.BlockID, b.Meta.ID)
		}
		return prev, nil
	}

	height, err := c.latestHeight()
	if err != nil {
		return nil, err
	}
	if b.Meta.Height != height+1 {
		return nil, fmt.Errorf("%w: latest %d, got %d", ErrHeightGap, height, b.Meta.Height)
	}

	latest := c.storage.LatestVersion()
	res, err := c.preExecute(ctx, b)
	if err != nil {
		return nil, err
	}
	version, root, err := c.storage.Commit(latest, res.WriteSet)
	if err != nil {
		return nil, fmt.Errorf("commit block %d: %w", b.Meta.Height, err)
	}

	cr := &CommitResult{Height: b.Meta.Height, BlockID: b.Meta.ID, Version: version, Root: root, Result: res}
	c.committed[b.Meta.Height] = cr
	c.cache.EvictBelow(b.Meta.Height + 1)

	logs.Info("[Chain] block %d committed id=%s version=%d root=%s", b.Meta.Height, b.Meta.ID, version, root)
	return cr, nil
}

// IsBlockCommitted 本进程内该高度是否已提交，以及提交的区块 ID
func (c *Chain) IsBlockCommitted(height uint64) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cr, ok := c.committed[height]; ok {
		return true, cr.BlockID
	}
	return false, ""
}

// latestHeight 从最新状态的区块信息资源读取高度
func (c *Chain) latestHeight() (uint64, error) {
	latest := c.storage.LatestVersion()
	if latest == 0 {
		return 0, ErrNoGenesis
	}
	view, err := c.storage.OpenView(latest)
	if err != nil {
		return 0, err
	}
	raw, ok, err := view.Get(keys.KeyBlockInfo())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("block info missing at version %d", latest)
	}
	info, err := types.DecodeBlockInfo(raw)
	if err != nil {
		return 0, err
	}
	return info.Height, nil
}
