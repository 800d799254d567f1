package vm

import (
	"fmt"

	"ledger/keys"
	"ledger/types"
)

// ApplyEpilogue 扣手续费、给出块者记账、发送者序列号加一
// 对所有未被丢弃的交易都要执行，无论状态是成功、中止还是 gas 耗尽
// view 是主体写集生效之后的状态；返回的写操作相对于 view
// 发送者付不起 gasUsed*price 时返回 ErrFeeUnpayable
func ApplyEpilogue(tx *types.Transaction, status types.Status, gasUsed uint64, view StateView, meta types.BlockMetadata, params *ChainParams) ([]types.WriteOp, error) {
	if status.IsDiscarded() {
		return nil, invariantf("epilogue on discarded transaction %s", tx.Sender)
	}
	if gasUsed > tx.MaxGasAmount {
		return nil, invariantf("gas used %d exceeds budget %d", gasUsed, tx.MaxGasAmount)
	}

	local := newOverlay(view.Get)

	acc, ok, err := loadAccount(local, tx.Sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: sender %s has no account", ErrFeeUnpayable, tx.Sender)
	}

	fee := feeOf(gasUsed, tx.GasUnitPrice)
	bal, err := loadBalance(local, tx.Sender, keys.NativeToken)
	if err != nil {
		return nil, err
	}
	remaining, err := SafeSub(bal, fee)
	if err != nil {
		return nil, fmt.Errorf("%w: balance %s, fee %s", ErrFeeUnpayable, bal, fee)
	}
	if !fee.IsZero() {
		storeBalance(local, tx.Sender, keys.NativeToken, remaining)
	}

	// 燃烧部分不记给出块者；没有出块者时全部燃烧
	credit, err := SafeSub(fee, burnShare(fee, params.FeeBurnRatio))
	if err != nil {
		return nil, invariantf("burn share exceeds fee")
	}
	if !credit.IsZero() && meta.FeeRecipient != "" {
		recv, err := loadBalance(local, meta.FeeRecipient, keys.NativeToken)
		if err != nil {
			return nil, err
		}
		sum, err := SafeAdd(recv, credit)
		if err != nil {
			return nil, invariantf("fee recipient balance overflow")
		}
		storeBalance(local, meta.FeeRecipient, keys.NativeToken, sum)
	}

	acc.SequenceNumber++
	storeAccount(local, tx.Sender, acc)

	return local.Diff()
}
