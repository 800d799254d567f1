package vm

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// safe_math.go 提供带溢出检查的余额运算
// 余额统一使用 256 位无符号整数

var (
	// ErrOverflow 加法溢出错误
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrUnderflow 减法下溢错误（结果为负数）
	ErrUnderflow = errors.New("arithmetic underflow")
)

// SafeAdd 安全加法：a + b，溢出返回 ErrOverflow
func SafeAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// SafeSub 安全减法：a - b，a < b 返回 ErrUnderflow
func SafeSub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// SafeAddUint64 gas 计算用
func SafeAddUint64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// SafeMulUint64 gas 计算用
func SafeMulUint64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// feeOf gasUsed * price，两个 uint64 的乘积不会超过 256 位
func feeOf(gasUsed, price uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(gasUsed), uint256.NewInt(price))
}
