package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/config"
	"ledger/keys"
	"ledger/logs"
	"ledger/types"
)

// Executor 区块执行器
// 区块内严格按顺序执行：第 i 笔交易恰好看到 j < i 的全部效果
type Executor struct {
	cfg     *config.Config
	adapter *Adapter
}

// NewExecutor 创建执行器；cfg 只在链上没有 VM 配置时提供参数
func NewExecutor(cfg *config.Config, machine VirtualMachine) *Executor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if machine == nil {
		machine = NewNativeVM(nil)
	}
	initPrometheusMetrics()
	return &Executor{cfg: cfg, adapter: NewAdapter(machine)}
}

// txExecFn 产出第 i 笔交易在 view 上的输出
type txExecFn func(ctx context.Context, i int, view StateView, params *ChainParams) (*types.TransactionOutput, error)

// ExecuteBlock 在 prior 之上执行整个区块
// 出现内部不变量错误或 ctx 被取消时返回错误，不返回任何部分结果
func (x *Executor) ExecuteBlock(ctx context.Context, prior StateView, txs []*types.Transaction, meta types.BlockMetadata) (*BlockResult, error) {
	return x.run(ctx, prior, nil, txs, meta, func(_ context.Context, i int, view StateView, params *ChainParams) (*types.TransactionOutput, error) {
		return x.executeTx(txs[i], view, meta, params)
	})
}

// ExecuteGenesis 在空状态上先应用引导写集，再执行创世交易（可以没有）
// 引导写集走与普通交易相同的提交步骤，但不经过 prologue
func (x *Executor) ExecuteGenesis(ctx context.Context, g *GenesisConfig) (*BlockResult, error) {
	bootstrap, err := g.WriteSet(x.cfg)
	if err != nil {
		return nil, err
	}
	txs := g.Txs
	return x.run(ctx, EmptyView(), bootstrap, txs, g.Meta(), func(_ context.Context, i int, view StateView, params *ChainParams) (*types.TransactionOutput, error) {
		return x.executeTx(txs[i], view, g.Meta(), params)
	})
}

// run 驱动区块状态机
func (x *Executor) run(ctx context.Context, prior StateView, bootstrap *types.WriteSet, txs []*types.Transaction, meta types.BlockMetadata, exec txExecFn) (res *BlockResult, err error) {
	start := time.Now()
	f := newBlockFSM(meta.Height)
	fire := func(ev string) error {
		if e := f.Event(context.Background(), ev); e != nil {
			return invariantf("block %d: event %s in state %s: %v", meta.Height, ev, f.Current(), e)
		}
		return nil
	}

	defer func() {
		if err == nil {
			return
		}
		res = nil
		if f.Can(EventAbort) {
			_ = f.Event(context.Background(), EventAbort)
		}
		if errors.Is(err, ErrInvariantViolation) {
			prometheusVMInvariantViolations.Inc()
			logs.Error("[VM] block %d aborted: %v", meta.Height, err)
		} else {
			logs.Warn("[VM] block %d not executed: %v", meta.Height, err)
		}
	}()

	sv := NewStateView(prior)
	blockWS := types.NewWriteSet()
	commit := func(ws *types.WriteSet) error {
		applyOps(sv, ws.Ops())
		if err := blockWS.Squash(ws); err != nil {
			return invariantf("squash block write set: %v", err)
		}
		return fire(EventCommit)
	}

	if bootstrap != nil || len(txs) > 0 {
		if err := fire(EventStart); err != nil {
			return nil, err
		}
	}
	if bootstrap != nil {
		if err := commit(bootstrap); err != nil {
			return nil, err
		}
	}

	params, err := LoadChainParams(sv, x.cfg)
	if err != nil {
		return nil, err
	}

	res = &BlockResult{
		BlockID:  meta.ID,
		ParentID: meta.ParentID,
		Height:   meta.Height,
		Outputs:  make([]*types.TransactionOutput, 0, len(txs)),
		Infos:    make([]types.TransactionInfo, 0, len(txs)),
	}

	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("block %d interrupted before tx %d: %w", meta.Height, i, err)
		}
		if f.Current() == StateCommitting {
			if err := fire(EventNext); err != nil {
				return nil, err
			}
		}

		out, err := exec(ctx, i, sv, params)
		if err != nil {
			return nil, err
		}
		if err := commit(out.WriteSet); err != nil {
			return nil, err
		}

		res.Outputs = append(res.Outputs, out)
		res.Infos = append(res.Infos, types.NewTransactionInfo(tx, out))
		gas, ok := SafeAddUint64(res.GasUsed, out.GasUsed)
		if !ok {
			return nil, invariantf("block gas overflow")
		}
		res.GasUsed = gas
		observeOutput(out)

		if !out.Status.IsSuccess() {
			logs.Debug("[VM] tx %d sender=%s seq=%d status=%s gas=%d", i, tx.Sender, tx.SequenceNumber, out.Status, out.GasUsed)
		}
	}

	// 区块元数据资源只进区块写集，不属于任何一笔交易
	info := &types.BlockInfoResource{
		Height:       meta.Height,
		Timestamp:    meta.Timestamp,
		FeeRecipient: meta.FeeRecipient,
		TxCount:      uint64(len(txs)),
		GasUsed:      res.GasUsed,
	}
	infoOp, err := upsertOp(sv, keys.KeyBlockInfo(), info.Encode())
	if err != nil {
		return nil, err
	}
	sv.Set(infoOp.Key, infoOp.Value)
	if err := blockWS.Override(infoOp); err != nil {
		return nil, invariantf("block info: %v", err)
	}

	if err := fire(EventFinish); err != nil {
		return nil, err
	}

	res.WriteSet = blockWS
	res.FinalView = sv
	res.Accumulator = types.AccumulateInfos(res.Infos)

	prometheusVMBlockDuration.Observe(time.Since(start).Seconds())
	counts := res.StatusCounts()
	logs.Info("[VM] block %d executed: txs=%d executed=%d discarded=%d gas=%d writes=%d acc=%s",
		meta.Height, len(txs), counts[types.StatusExecuted], counts[types.StatusDiscarded],
		res.GasUsed, blockWS.Len(), res.Accumulator)
	return res, nil
}

// executeTx 在只读视图上执行一笔交易，返回相对于 view 的输出
// 不修改 view；调用方负责把写集提交到区块视图
func (x *Executor) executeTx(tx *types.Transaction, view StateView, meta types.BlockMetadata, params *ChainParams) (*types.TransactionOutput, error) {
	if err := Validate(tx, view, meta, params); err != nil {
		if code, ok := validationCode(err); ok {
			return types.DiscardedOutput(code), nil
		}
		return nil, fmt.Errorf("prologue: %w", err)
	}

	meter := NewGasMeter(tx.MaxGasAmount)
	raw, status, err := x.adapter.Execute(tx, view, meter, params)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	main := types.NewWriteSet()
	var events []types.Event
	if status.IsSuccess() {
		ws, err := Assemble(raw, view)
		switch {
		case errors.Is(err, ErrInvalidRawWrite):
			logs.Debug("[VM] sender=%s seq=%d: %v", tx.Sender, tx.SequenceNumber, err)
			status = types.ExecutionFailure(ReasonInvalidWriteSet)
		case err != nil:
			return nil, fmt.Errorf("assemble: %w", err)
		default:
			main, events = ws, raw.Events
		}
	}
	gasUsed := meter.Consumed()

	// 之后的读只服务于手续费结算
	if m, ok := view.(feePhaseMarker); ok {
		m.enterFeePhase()
	}
	post := NewStateView(view)
	snap := post.Snapshot()
	applyOps(post, main.Ops())
	epilogue, err := ApplyEpilogue(tx, status, gasUsed, post, meta, params)
	if errors.Is(err, ErrFeeUnpayable) {
		// 主体效果让发送者付不起手续费：回滚主体效果，在执行前状态上重新收费
		logs.Debug("[VM] sender=%s seq=%d: %v, reverting main effects", tx.Sender, tx.SequenceNumber, err)
		if rerr := post.Revert(snap); rerr != nil {
			return nil, invariantf("revert main effects of %s: %v", tx.Sender, rerr)
		}
		main, events = types.NewWriteSet(), nil
		status = types.ExecutionFailure(ReasonFeeUnpayable)
		epilogue, err = ApplyEpilogue(tx, status, gasUsed, post, meta, params)
		if errors.Is(err, ErrFeeUnpayable) {
			return nil, invariantf("fee unpayable on pre-execution state for %s: %v", tx.Sender, err)
		}
	}
	if err != nil {
		return nil, err
	}

	final := main.Clone()
	for _, op := range epilogue {
		if err := final.Override(op); err != nil {
			return nil, invariantf("merge epilogue for %s: %v", tx.Sender, err)
		}
	}

	return &types.TransactionOutput{
		WriteSet: final,
		Events:   events,
		GasUsed:  gasUsed,
		Status:   status,
	}, nil
}

// upsertOp 按 key 当前是否存在生成 Create 或 Modify
func upsertOp(view StateView, key string, val []byte) (types.WriteOp, error) {
	_, ok, err := view.Get(key)
	if err != nil {
		return types.WriteOp{}, err
	}
	if ok {
		return types.ModifyOp(key, val), nil
	}
	return types.CreateOp(key, val), nil
}
