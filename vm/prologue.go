package vm

import (
	"errors"

	"ledger/keys"
	"ledger/types"
)

// Validate 交易前置校验，按固定顺序检查，遇到第一个失败即返回
//
//  1. 发送者账户存在
//  2. 序列号与链上完全一致
//  3. gas 预算在 [最小内在成本, 最大预算] 之间
//  4. 原生币余额足以支付 预算*单价
//  5. 未过期（区块时间戳 < 过期时间）
//  6. chain id 一致
//
// 返回 *types.ValidationError 表示交易应被丢弃；返回其它 error 表示读状态失败
func Validate(tx *types.Transaction, view StateView, meta types.BlockMetadata, params *ChainParams) error {
	if tx == nil {
		return types.NewValidationError(types.ValidationMalformed, "nil transaction")
	}
	if err := tx.CheckWellFormed(); err != nil {
		return types.NewValidationError(types.ValidationMalformed, "%v", err)
	}

	acc, ok, err := loadAccount(view, tx.Sender)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewValidationError(types.ValidationSenderNotFound, "%s", tx.Sender)
	}

	switch {
	case tx.SequenceNumber < acc.SequenceNumber:
		return types.NewValidationError(types.ValidationSequenceTooOld, "tx %d, account %d", tx.SequenceNumber, acc.SequenceNumber)
	case tx.SequenceNumber > acc.SequenceNumber:
		return types.NewValidationError(types.ValidationSequenceTooNew, "tx %d, account %d", tx.SequenceNumber, acc.SequenceNumber)
	}

	if tx.MaxGasAmount < params.MinGasAmount {
		return types.NewValidationError(types.ValidationGasBelowMinimum, "budget %d < %d", tx.MaxGasAmount, params.MinGasAmount)
	}
	if tx.MaxGasAmount > params.MaxGasAmount {
		return types.NewValidationError(types.ValidationGasAboveMaximum, "budget %d > %d", tx.MaxGasAmount, params.MaxGasAmount)
	}

	bal, err := loadBalance(view, tx.Sender, keys.NativeToken)
	if err != nil {
		return err
	}
	if reserve := feeOf(tx.MaxGasAmount, tx.GasUnitPrice); bal.Lt(reserve) {
		return types.NewValidationError(types.ValidationInsufficientBalance, "balance %s < reserve %s", bal, reserve)
	}

	if meta.Timestamp >= tx.ExpirationTimestamp {
		return types.NewValidationError(types.ValidationExpired, "block time %d, expires %d", meta.Timestamp, tx.ExpirationTimestamp)
	}

	if tx.ChainID != params.ChainID {
		return types.NewValidationError(types.ValidationBadChainID, "tx chain %d, expected %d", tx.ChainID, params.ChainID)
	}
	return nil
}

// validationCode 取出校验错误码；不是校验错误时 ok=false
func validationCode(err error) (types.ValidationCode, bool) {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return ve.Code, true
	}
	return 0, false
}
