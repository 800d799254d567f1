package vm

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// parseAmount 解析交易参数中的金额
// 使用 decimal 解析以兼容 "10.0" 这种写法，但必须是非负整数且不超过 2^256-1
func parseAmount(fieldName, raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty %s", fieldName)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", fieldName, err)
	}
	return decimalToAmount(fieldName, v)
}

func decimalToAmount(fieldName string, v decimal.Decimal) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be non-negative", fieldName)
	}
	if !v.Equal(v.Truncate(0)) {
		return nil, fmt.Errorf("%s must be integer, got %s", fieldName, v.String())
	}
	out, overflow := uint256.FromBig(v.BigInt())
	if overflow {
		return nil, fmt.Errorf("%s: %w", fieldName, ErrOverflow)
	}
	return out, nil
}

func amountToDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

// burnShare floor(fee * ratio)，ratio 在 [0,1] 之间
func burnShare(fee *uint256.Int, ratio decimal.Decimal) *uint256.Int {
	if ratio.Sign() <= 0 || fee.IsZero() {
		return new(uint256.Int)
	}
	burn := amountToDecimal(fee).Mul(ratio).Floor()
	out, overflow := uint256.FromBig(burn.BigInt())
	if overflow || out.Gt(fee) {
		return new(uint256.Int).Set(fee)
	}
	return out
}

// parseUint 解析无符号整数参数
func parseUint(fieldName, raw string) (uint64, error) {
	v, err := parseAmount(fieldName, raw)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s: %w", fieldName, ErrOverflow)
	}
	return v.Uint64(), nil
}
