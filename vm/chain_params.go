package vm

import (
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"ledger/config"
	"ledger/keys"
	"ledger/types"
)

// ChainParams 执行一个区块时生效的链级参数
// 创世写入状态后从状态中读取，模块与配置都随状态版本走，不存在进程级全局状态
type ChainParams struct {
	ChainID      uint8
	MinGasAmount uint64
	MaxGasAmount uint64
	FeeBurnRatio decimal.Decimal
	Gas          config.GasSchedule
}

// ParamsFromConfig 用本地配置构造参数（链上没有配置时使用）
func ParamsFromConfig(cfg *config.Config) *ChainParams {
	return &ChainParams{
		ChainID:      cfg.VM.ChainID,
		MinGasAmount: cfg.VM.MinGasAmount,
		MaxGasAmount: cfg.VM.MaxGasAmount,
		FeeBurnRatio: cfg.VM.FeeBurnRatio,
		Gas:          cfg.Gas,
	}
}

// LoadChainParams 从视图读取链上配置，不存在时回落到 fallback
func LoadChainParams(view StateView, fallback *config.Config) (*ChainParams, error) {
	raw, ok, err := view.Get(keys.KeyVMConfig())
	if err != nil {
		return nil, fmt.Errorf("read vm config: %w", err)
	}
	if !ok {
		return ParamsFromConfig(fallback), nil
	}
	return DecodeChainParams(raw)
}

func (p *ChainParams) gasFields() []*uint64 {
	g := &p.Gas
	return []*uint64{
		&g.IntrinsicBase, &g.IntrinsicPerByte, &g.ModuleLoadBase, &g.ModuleLoadByte,
		&g.CallBase, &g.ReadBase, &g.ReadPerByte, &g.WriteBase, &g.WritePerByte,
		&g.EventBase, &g.EventPerByte, &g.Instruction,
	}
}

// Encode 链上存储格式
// 1 chain_id, 2 min, 3 max, 4 burn ratio(十进制字符串), 5 gas 计价表(子消息，字段按 gasFields 顺序编号)
func (p *ChainParams) Encode() []byte {
	var e, gas types.Encoder
	for i, f := range p.gasFields() {
		gas.Uint(protowire.Number(i+1), *f)
	}
	e.Uint(1, uint64(p.ChainID))
	e.Uint(2, p.MinGasAmount)
	e.Uint(3, p.MaxGasAmount)
	e.Str(4, p.FeeBurnRatio.String())
	e.Bytes(5, gas.Encoded())
	return e.Encoded()
}

// DecodeChainParams 解码链上配置
func DecodeChainParams(b []byte) (*ChainParams, error) {
	p := &ChainParams{FeeBurnRatio: decimal.Zero}
	err := types.DecodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 3:
			v, n, err := types.ConsumeUint(typ, b)
			switch num {
			case 1:
				p.ChainID = uint8(v)
			case 2:
				p.MinGasAmount = v
			case 3:
				p.MaxGasAmount = v
			}
			return n, err
		case 4:
			v, n, err := types.ConsumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			d, err := decimal.NewFromString(string(v))
			if err != nil {
				return n, fmt.Errorf("burn ratio: %w", err)
			}
			p.FeeBurnRatio = d
			return n, nil
		case 5:
			v, n, err := types.ConsumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			return n, p.decodeGas(v)
		}
		return -1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode vm config: %w", err)
	}
	return p, nil
}

func (p *ChainParams) decodeGas(b []byte) error {
	fields := p.gasFields()
	return types.DecodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || int(num) > len(fields) {
			return -1, nil
		}
		v, n, err := types.ConsumeUint(typ, b)
		*fields[num-1] = v
		return n, err
	})
}
