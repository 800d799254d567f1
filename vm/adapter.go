package vm

import (
	"errors"
	"fmt"
	"sort"

	"ledger/config"
	"ledger/keys"
	"ledger/logs"
	"ledger/types"
)

// RunContext 一次 VM 调用的全部输入与输出
type RunContext struct {
	Tx      *types.Transaction
	Modules map[types.ModuleID]*types.Module // 已链接的模块
	View    StateView                        // 交易开始时的状态，只读
	Meter   *GasMeter
	Gas     config.GasSchedule

	// Effects 由 VM 填写
	Effects RawEffects
}

// Adapter 把交易交给外部 VM，并把 VM 的结果映射成 Status
type Adapter struct {
	machine VirtualMachine
}

// NewAdapter 创建适配器
func NewAdapter(machine VirtualMachine) *Adapter {
	return &Adapter{machine: machine}
}

// Execute 链接模块、扣内在 gas、调用 VM
// 只有 Executed 时返回 RawEffects；其他状态下 VM 的输出整体丢弃
// 读状态失败（ErrStateRead）不是交易结果，作为 error 返回
func (a *Adapter) Execute(tx *types.Transaction, view StateView, meter *GasMeter, params *ChainParams) (raw *RawEffects, status types.Status, err error) {
	if err := meter.ChargeLinear(params.Gas.IntrinsicBase, params.Gas.IntrinsicPerByte, tx.PayloadSize()); err != nil {
		return nil, types.OutOfGas(), nil
	}

	mods, err := a.link(tx, view, meter, params.Gas)
	if err != nil {
		if errors.Is(err, ErrStateRead) {
			return nil, types.Status{}, err
		}
		return nil, mapVMError(err), nil
	}

	logs.Trace("[VM] linked modules sender=%s seq=%d mods=%v", tx.Sender, tx.SequenceNumber, sortedModuleIDs(mods))

	ctx := &RunContext{
		Tx:      tx,
		Modules: mods,
		View:    view,
		Meter:   meter,
		Gas:     params.Gas,
	}

	defer func() {
		if r := recover(); r != nil {
			logs.Warn("[VM] interpreter panic sender=%s seq=%d: %v", tx.Sender, tx.SequenceNumber, r)
			raw, status, err = nil, types.ExecutionFailure(fmt.Sprintf("%s: %v", ReasonVMPanic, r)), nil
		}
	}()

	if err := a.machine.Run(ctx); err != nil {
		if errors.Is(err, ErrStateRead) {
			return nil, types.Status{}, err
		}
		return nil, mapVMError(err), nil
	}
	return &ctx.Effects, types.Executed(), nil
}

// link 按调用顺序加载被引用的模块，每个模块只加载（计费）一次
func (a *Adapter) link(tx *types.Transaction, view StateView, meter *GasMeter, gas config.GasSchedule) (map[types.ModuleID]*types.Module, error) {
	mods := make(map[types.ModuleID]*types.Module)
	for _, call := range tx.Payload.Calls {
		mod, ok := mods[call.Module]
		if !ok {
			key := keys.KeyModule(string(call.Module.Address), call.Module.Name)
			data, found, err := view.Get(key)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrStateRead, key, err)
			}
			if !found {
				return nil, &linkError{fmt.Sprintf("module %s not published", call.Module)}
			}
			if err := meter.ChargeLinear(gas.ModuleLoadBase, gas.ModuleLoadByte, uint64(len(data))); err != nil {
				return nil, err
			}
			mod, err = types.DecodeModule(data)
			if err != nil {
				return nil, &linkError{fmt.Sprintf("module %s: %v", call.Module, err)}
			}
			mods[call.Module] = mod
		}
		if !mod.Exports(call.Function) {
			return nil, &linkError{fmt.Sprintf("function %s not found", call)}
		}
	}
	return mods, nil
}

type linkError struct{ msg string }

func (e *linkError) Error() string { return ReasonLinkerError + ": " + e.msg }

// mapVMError VM 错误 → 交易状态
func mapVMError(err error) types.Status {
	var abort *AbortError
	var le *linkError
	switch {
	case errors.Is(err, ErrOutOfGas):
		return types.OutOfGas()
	case errors.As(err, &abort):
		return types.Abort(abort.Location, abort.Code)
	case errors.As(err, &le):
		return types.ExecutionFailure(ReasonLinkerError)
	default:
		return types.ExecutionFailure(err.Error())
	}
}

// ErrInvalidRawWrite VM 产出的写操作不合法
var ErrInvalidRawWrite = errors.New("invalid raw write")

// Assemble 把 VM 原始写操作规范化为写集
// 同一个 key 出现两次、或删除不存在的 key，都返回错误，交易记为 ExecutionFailure
func Assemble(raw *RawEffects, view StateView) (*types.WriteSet, error) {
	ws := types.NewWriteSet()
	if raw == nil {
		return ws, nil
	}
	for _, w := range raw.Writes {
		_, existed, err := view.Get(w.Key)
		if err != nil {
			return nil, err
		}
		var op types.WriteOp
		switch {
		case w.Delete && !existed:
			return nil, fmt.Errorf("%w: delete of missing key %q", ErrInvalidRawWrite, w.Key)
		case w.Delete:
			op = types.DeleteOp(w.Key)
		case existed:
			op = types.ModifyOp(w.Key, w.Value)
		default:
			op = types.CreateOp(w.Key, w.Value)
		}
		if err := ws.Insert(op); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRawWrite, err)
		}
	}
	return ws, nil
}

// sortedModuleIDs 便于调试输出
func sortedModuleIDs(mods map[types.ModuleID]*types.Module) []string {
	out := make([]string, 0, len(mods))
	for id := range mods {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}
