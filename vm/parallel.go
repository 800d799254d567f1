package vm

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"ledger/keys"
	"ledger/logs"
	"ledger/types"
)

// ============================================
// 推测并行执行
// 所有交易先在区块起始状态上并行执行并记录读集合，
// 再按顺序逐笔确认：读集合与前面交易的写集合有交集的，在最新视图上重新执行。
// 出块者余额只被手续费结算读写时按增量叠加，不算冲突。
// 结果与串行执行逐字节一致。
// ============================================

// ParallelExecutor 在 Executor 外包一层推测执行
type ParallelExecutor struct {
	*Executor
	workers int
}

// NewParallelExecutor workers <= 1 时退化为串行
func NewParallelExecutor(x *Executor, workers int) *ParallelExecutor {
	return &ParallelExecutor{Executor: x, workers: workers}
}

// feePhaseMarker 由 executeTx 在进入手续费结算前通知
type feePhaseMarker interface {
	enterFeePhase()
}

// recordingView 记录一次推测执行读过的全部 key
// 手续费结算阶段的读单独记录
type recordingView struct {
	base     StateView
	reads    map[string]struct{}
	feeReads map[string]struct{}
	feePhase bool
}

func newRecordingView(base StateView) *recordingView {
	return &recordingView{
		base:     base,
		reads:    make(map[string]struct{}, 16),
		feeReads: make(map[string]struct{}, 4),
	}
}

func (r *recordingView) Get(key string) ([]byte, bool, error) {
	if r.feePhase {
		r.feeReads[key] = struct{}{}
	} else {
		r.reads[key] = struct{}{}
	}
	return r.base.Get(key)
}

func (r *recordingView) enterFeePhase() { r.feePhase = true }

type speculation struct {
	out      *types.TransactionOutput
	reads    map[string]struct{}
	feeReads map[string]struct{}
	err      error
}

// readsAny reads 中是否有 written 里的 key，skip 除外
func readsAny(reads, written map[string]struct{}, skip string) bool {
	for k := range reads {
		if k == skip {
			continue
		}
		if _, ok := written[k]; ok {
			return true
		}
	}
	return false
}

// ExecuteBlock 与 Executor.ExecuteBlock 语义相同
func (p *ParallelExecutor) ExecuteBlock(ctx context.Context, prior StateView, txs []*types.Transaction, meta types.BlockMetadata) (*BlockResult, error) {
	if p.workers <= 1 || len(txs) < 2 {
		return p.Executor.ExecuteBlock(ctx, prior, txs, meta)
	}

	var (
		specs    []speculation
		recvBase *uint256.Int
		written  = make(map[string]struct{})
		reexec   = roaring.New()
		recvKey  string
	)
	if meta.FeeRecipient != "" {
		recvKey = keys.KeyBalance(string(meta.FeeRecipient), keys.NativeToken)
	}

	exec := func(ctx context.Context, i int, view StateView, params *ChainParams) (*types.TransactionOutput, error) {
		if specs == nil {
			// 第一笔交易之前区块视图还没有被修改，即区块起始状态
			var err error
			if specs, err = p.speculate(ctx, txs, view, meta, params); err != nil {
				return nil, err
			}
			if recvKey != "" {
				if recvBase, err = loadBalance(view, meta.FeeRecipient, keys.NativeToken); err != nil {
					return nil, err
				}
			}
		}

		s := specs[i]
		conflict := s.err != nil || readsAny(s.reads, written, "") || readsAny(s.feeReads, written, recvKey)

		out := s.out
		if conflict {
			reexec.Add(uint32(i))
			var err error
			if out, err = p.executeTx(txs[i], view, meta, params); err != nil {
				return nil, err
			}
		} else if _, touched := written[recvKey]; touched && recvKey != "" {
			var err error
			if out, err = rebaseFeeCredit(out, view, meta.FeeRecipient, recvKey, recvBase); err != nil {
				return nil, err
			}
		}
		for _, k := range out.WriteSet.Keys() {
			written[k] = struct{}{}
		}
		return out, nil
	}

	res, err := p.run(ctx, prior, nil, txs, meta, exec)
	if err != nil {
		return nil, err
	}
	res.Reexecuted = reexec
	prometheusVMParallelReexecutions.Add(float64(reexec.GetCardinality()))
	logs.Debug("[VM] block %d parallel: txs=%d reexecuted=%d", meta.Height, len(txs), reexec.GetCardinality())
	return res, nil
}

// speculate 在同一个起始视图上并行执行全部交易
// 推测阶段的错误不直接返回，而是让该交易在确认阶段重新执行
func (p *ParallelExecutor) speculate(ctx context.Context, txs []*types.Transaction, base StateView, meta types.BlockMetadata, params *ChainParams) ([]speculation, error) {
	specs := make([]speculation, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var mu sync.Mutex
	failed := 0
	for i := range txs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rv := newRecordingView(base)
			out, err := p.executeTx(txs[i], rv, meta, params)
			specs[i] = speculation{out: out, reads: rv.reads, feeReads: rv.feeReads, err: err}
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed > 0 {
		logs.Debug("[VM] block %d: %d speculative executions failed, will retry sequentially", meta.Height, failed)
	}
	return specs, nil
}

// rebaseFeeCredit 推测结果里出块者余额是在区块起始余额上记账的，
// 改为在当前余额上叠加同样的增量
func rebaseFeeCredit(out *types.TransactionOutput, view StateView, recipient types.Address, key string, base *uint256.Int) (*types.TransactionOutput, error) {
	op, ok := out.WriteSet.Get(key)
	if !ok {
		return out, nil
	}
	if op.IsDelete() {
		return nil, invariantf("fee recipient balance deleted by epilogue")
	}
	specBal, err := types.DecodeBalance(op.Value)
	if err != nil {
		return nil, invariantf("fee recipient balance: %v", err)
	}
	credit, err := SafeSub(specBal, base)
	if err != nil {
		return nil, invariantf("fee recipient balance decreased")
	}
	cur, err := loadBalance(view, recipient, keys.NativeToken)
	if err != nil {
		return nil, err
	}
	sum, err := SafeAdd(cur, credit)
	if err != nil {
		return nil, invariantf("fee recipient balance overflow")
	}
	rebased, err := upsertOp(view, key, types.EncodeBalance(sum))
	if err != nil {
		return nil, err
	}

	ops := out.WriteSet.Ops()
	for j := range ops {
		if ops[j].Key == key {
			ops[j] = rebased
		}
	}
	ws, err := types.NewWriteSetFromOps(ops...)
	if err != nil {
		return nil, invariantf("rebase write set: %v", err)
	}
	cp := *out
	cp.WriteSet = ws
	return &cp, nil
}
