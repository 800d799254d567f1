package vm

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"ledger/types"
)

// ========== 错误定义 ==========

var (
	ErrInvalidSnapshot = errors.New("invalid snapshot index")

	// ErrOutOfGas gas 预算耗尽
	ErrOutOfGas = errors.New("out of gas")

	// ErrInvariantViolation 引擎自身不一致（例如自己产出的写集无法合并）
	// 出现时整个区块执行失败，不返回任何部分结果
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrStateRead 执行期间读状态失败，属于本节点存储故障，与交易无关
	// 不能记成交易状态，整个区块执行失败
	ErrStateRead = errors.New("state read failed")

	// ErrFeeUnpayable 发送者在执行后的状态上付不起手续费
	ErrFeeUnpayable = errors.New("insufficient balance for fee")
)

// invariantf 包装成 ErrInvariantViolation
func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// AbortError 模块主动中止，带中止码与位置
type AbortError struct {
	Location string // 例如 "0x1::coin"
	Code     uint64
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort %d in %s", e.Code, e.Location)
}

// 标准中止码
const (
	EInsufficientBalance uint64 = 1
	EAccountExists       uint64 = 2
	EAccountNotFound     uint64 = 3
	ENotAuthorized       uint64 = 4
	EBadArgument         uint64 = 5
	EModuleExists        uint64 = 6
	EOverflow            uint64 = 7
)

// 执行失败原因
const (
	ReasonLinkerError     = "LINKER_ERROR"
	ReasonInvalidWriteSet = "INVALID_WRITE_SET"
	ReasonVMPanic         = "VM_PANIC"
	ReasonFeeUnpayable    = "INSUFFICIENT_BALANCE_FOR_FEE"
)

// ========== 基础类型定义 ==========

// RawWrite VM 产出的原始写操作，还没区分 Create/Modify
type RawWrite struct {
	Key    string
	Value  []byte
	Delete bool
}

// RawEffects VM 的原始输出
type RawEffects struct {
	Writes []RawWrite
	Events []types.Event
}

// BlockResult 一个区块的执行结果
type BlockResult struct {
	BlockID  string
	ParentID string
	Height   uint64

	Outputs []*types.TransactionOutput // 与输入交易一一对应
	Infos   []types.TransactionInfo

	// WriteSet 整个区块合并后的写集（含区块元数据），交给状态存储提交
	WriteSet *types.WriteSet
	// FinalView 反映全部交易之后的状态
	FinalView StateView

	GasUsed     uint64
	Accumulator types.Hash // 交易摘要累加值

	// BaseVersion 执行所基于的状态版本，由调用方填写，用于缓存复用判断
	BaseVersion uint64

	// Reexecuted 并行执行时推测结果作废、重新执行的交易下标；串行执行为 nil
	Reexecuted *roaring.Bitmap
}

// StatusCounts 按状态统计交易数
func (r *BlockResult) StatusCounts() map[types.StatusCode]int {
	out := make(map[types.StatusCode]int)
	for _, o := range r.Outputs {
		out[o.Status.Code]++
	}
	return out
}
