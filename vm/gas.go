package vm

import "fmt"

// GasMeter 单笔交易的 gas 计量器
// 已消耗量只增不减；一次会超出预算的扣费不会被记录，计量器进入耗尽状态，之后所有扣费都失败
type GasMeter struct {
	budget    uint64
	consumed  uint64
	exhausted bool
}

// NewGasMeter 以交易声明的预算创建计量器
func NewGasMeter(budget uint64) *GasMeter {
	return &GasMeter{budget: budget}
}

// Charge 扣除 units，超出预算返回 ErrOutOfGas
func (m *GasMeter) Charge(units uint64) error {
	if m.exhausted {
		return ErrOutOfGas
	}
	if units > m.budget-m.consumed {
		m.exhausted = true
		return fmt.Errorf("%w: need %d, remaining %d", ErrOutOfGas, units, m.budget-m.consumed)
	}
	m.consumed += units
	return nil
}

// ChargeLinear 扣除 base + perUnit*n，乘法溢出视为超出预算
func (m *GasMeter) ChargeLinear(base, perUnit, n uint64) error {
	cost, ok := linearCost(base, perUnit, n)
	if !ok {
		m.exhausted = true
		return fmt.Errorf("%w: cost overflow", ErrOutOfGas)
	}
	return m.Charge(cost)
}

func (m *GasMeter) Remaining() uint64 { return m.budget - m.consumed }

func (m *GasMeter) Consumed() uint64 { return m.consumed }

func (m *GasMeter) Budget() uint64 { return m.budget }

func (m *GasMeter) Exhausted() bool { return m.exhausted }

// linearCost base + perUnit*n
func linearCost(base, perUnit, n uint64) (uint64, bool) {
	mul, ok := SafeMulUint64(perUnit, n)
	if !ok {
		return 0, false
	}
	return SafeAddUint64(base, mul)
}
