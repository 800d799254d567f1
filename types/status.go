package types

import "fmt"

// ============================================
// 交易执行状态（封闭的变体类型）
// ============================================

// StatusCode 状态种类
type StatusCode uint8

const (
	StatusExecuted         StatusCode = iota + 1 // 执行成功，写集生效
	StatusAbort                                  // 模块主动中止，只保留 epilogue
	StatusExecutionFailure                       // VM 或适配层异常，只保留 epilogue
	StatusOutOfGas                               // gas 耗尽，只保留 epilogue
	StatusDiscarded                              // 前置校验失败，零状态影响
)

func (c StatusCode) String() string {
	switch c {
	case StatusExecuted:
		return "EXECUTED"
	case StatusAbort:
		return "ABORT"
	case StatusExecutionFailure:
		return "EXECUTION_FAILURE"
	case StatusOutOfGas:
		return "OUT_OF_GAS"
	case StatusDiscarded:
		return "DISCARDED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(c))
	}
}

// ValidationCode 前置校验失败原因
type ValidationCode uint8

const (
	ValidationMalformed ValidationCode = iota + 1
	ValidationSenderNotFound
	ValidationSequenceTooOld
	ValidationSequenceTooNew
	ValidationGasBelowMinimum
	ValidationGasAboveMaximum
	ValidationInsufficientBalance
	ValidationExpired
	ValidationBadChainID
)

var validationNames = map[ValidationCode]string{
	ValidationMalformed:           "MALFORMED_TRANSACTION",
	ValidationSenderNotFound:      "SENDING_ACCOUNT_DOES_NOT_EXIST",
	ValidationSequenceTooOld:      "SEQUENCE_NUMBER_TOO_OLD",
	ValidationSequenceTooNew:      "SEQUENCE_NUMBER_TOO_NEW",
	ValidationGasBelowMinimum:     "MAX_GAS_UNITS_BELOW_MIN_TRANSACTION_GAS_UNITS",
	ValidationGasAboveMaximum:     "MAX_GAS_UNITS_EXCEEDS_MAX_GAS_UNITS_BOUND",
	ValidationInsufficientBalance: "INSUFFICIENT_BALANCE_FOR_TRANSACTION_FEE",
	ValidationExpired:             "TRANSACTION_EXPIRED",
	ValidationBadChainID:          "BAD_CHAIN_ID",
}

func (c ValidationCode) String() string {
	if s, ok := validationNames[c]; ok {
		return s
	}
	return fmt.Sprintf("VALIDATION(%d)", uint8(c))
}

// IsSequenceMismatch TOO_OLD 与 TOO_NEW 都算序列号不匹配
func (c ValidationCode) IsSequenceMismatch() bool {
	return c == ValidationSequenceTooOld || c == ValidationSequenceTooNew
}

// ValidationError 前置校验错误
type ValidationError struct {
	Code ValidationCode
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewValidationError 构造校验错误
func NewValidationError(code ValidationCode, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Status 单笔交易的执行结果
// 只有与 Code 对应的字段有意义：Abort 用 AbortCode/Location，
// ExecutionFailure 用 Reason，Discarded 用 Validation
type Status struct {
	Code       StatusCode     `json:"code"`
	AbortCode  uint64         `json:"abort_code,omitempty"`
	Location   string         `json:"location,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Validation ValidationCode `json:"validation,omitempty"`
}

func Executed() Status { return Status{Code: StatusExecuted} }

func Abort(location string, code uint64) Status {
	return Status{Code: StatusAbort, Location: location, AbortCode: code}
}

func ExecutionFailure(reason string) Status {
	return Status{Code: StatusExecutionFailure, Reason: reason}
}

func OutOfGas() Status { return Status{Code: StatusOutOfGas} }

func Discarded(code ValidationCode) Status {
	return Status{Code: StatusDiscarded, Validation: code}
}

// IsDiscarded 被丢弃的交易没有任何状态影响，也不跑 epilogue
func (s Status) IsDiscarded() bool { return s.Code == StatusDiscarded }

// IsSuccess 主体写集是否生效
func (s Status) IsSuccess() bool { return s.Code == StatusExecuted }

func (s Status) String() string {
	switch s.Code {
	case StatusAbort:
		return fmt.Sprintf("ABORT(%s, %d)", s.Location, s.AbortCode)
	case StatusExecutionFailure:
		return fmt.Sprintf("EXECUTION_FAILURE(%s)", s.Reason)
	case StatusDiscarded:
		return fmt.Sprintf("DISCARDED(%s)", s.Validation)
	default:
		return s.Code.String()
	}
}

// Encode 状态的规范编码，只写与 Code 相关的字段
func (s Status) Encode() []byte {
	var e Encoder
	e.Uint(1, uint64(s.Code))
	switch s.Code {
	case StatusAbort:
		e.Uint(2, s.AbortCode)
		e.Str(3, s.Location)
	case StatusExecutionFailure:
		e.Str(4, s.Reason)
	case StatusDiscarded:
		e.Uint(5, uint64(s.Validation))
	}
	return e.b
}
