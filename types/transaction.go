package types

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Address 账户地址，约定为 0x 开头的十六进制串
type Address string

// CoreAddress 系统模块与创世资源所在地址
const CoreAddress Address = "0x1"

func (a Address) String() string { return string(a) }

// PayloadKind 交易载荷类型
type PayloadKind uint8

const (
	PayloadEntryFunction PayloadKind = iota + 1 // 调用单个已发布模块的函数
	PayloadScript                               // 按顺序执行多个调用，整体原子
	PayloadModulePublish                        // 在发送者地址下发布模块
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadEntryFunction:
		return "entry_function"
	case PayloadScript:
		return "script"
	case PayloadModulePublish:
		return "module_publish"
	default:
		return fmt.Sprintf("payload(%d)", uint8(k))
	}
}

// ModuleID 模块标识：<addr>::<name>
type ModuleID struct {
	Address Address `json:"address"`
	Name    string  `json:"name"`
}

func (m ModuleID) String() string { return fmt.Sprintf("%s::%s", m.Address, m.Name) }

// EntryFunction 一次函数调用
type EntryFunction struct {
	Module   ModuleID `json:"module"`
	Function string   `json:"function"`
	Args     []string `json:"args,omitempty"`
}

func (f EntryFunction) String() string { return fmt.Sprintf("%s::%s", f.Module, f.Function) }

// Module 已发布的模块：导出函数列表 + 代码块
type Module struct {
	Name      string   `json:"name"`
	Functions []string `json:"functions"`
	Code      []byte   `json:"code,omitempty"`
}

// Exports 模块是否导出了该函数
func (m *Module) Exports(fn string) bool {
	for _, f := range m.Functions {
		if f == fn {
			return true
		}
	}
	return false
}

// Payload 交易载荷
// EntryFunction 时 Calls 恰好一项；Script 时按顺序执行；ModulePublish 时只看 Module
type Payload struct {
	Kind   PayloadKind     `json:"kind"`
	Calls  []EntryFunction `json:"calls,omitempty"`
	Module *Module         `json:"module,omitempty"`
}

// Transaction 已签名（签名在进入引擎前校验过）的用户交易，创建后不可修改
type Transaction struct {
	Sender              Address `json:"sender"`
	SequenceNumber      uint64  `json:"sequence_number"`
	Payload             Payload `json:"payload"`
	MaxGasAmount        uint64  `json:"max_gas_amount"`
	GasUnitPrice        uint64  `json:"gas_unit_price"`
	ExpirationTimestamp uint64  `json:"expiration_timestamp"`
	ChainID             uint8   `json:"chain_id"`
}

// Hash 交易哈希
func (tx *Transaction) Hash() Hash {
	return HashBytes(tx.Encode())
}

// PayloadSize 载荷编码后的字节数，用于内在 gas
func (tx *Transaction) PayloadSize() uint64 {
	return uint64(len(tx.Payload.Encode()))
}

// CheckWellFormed 结构性检查（不看状态）
func (tx *Transaction) CheckWellFormed() error {
	if tx.Sender == "" {
		return fmt.Errorf("empty sender")
	}
	switch tx.Payload.Kind {
	case PayloadEntryFunction:
		if len(tx.Payload.Calls) != 1 {
			return fmt.Errorf("entry function payload needs exactly one call, got %d", len(tx.Payload.Calls))
		}
	case PayloadScript:
		if len(tx.Payload.Calls) == 0 {
			return fmt.Errorf("empty script")
		}
	case PayloadModulePublish:
		if tx.Payload.Module == nil || tx.Payload.Module.Name == "" {
			return fmt.Errorf("module publish without module")
		}
	default:
		return fmt.Errorf("unknown payload kind %d", tx.Payload.Kind)
	}
	return nil
}

// ===== 编码 =====

func (m ModuleID) encode(e *Encoder) {
	e.Str(1, string(m.Address))
	e.Str(2, m.Name)
}

func (f *EntryFunction) encode() []byte {
	var e Encoder
	sub := Encoder{}
	f.Module.encode(&sub)
	e.Bytes(1, sub.b)
	e.Str(2, f.Function)
	for _, a := range f.Args {
		e.Str(3, a)
	}
	return e.b
}

// Encode 模块的规范编码（也是模块在状态中的存储格式）
func (m *Module) Encode() []byte {
	var e Encoder
	e.Str(1, m.Name)
	for _, f := range m.Functions {
		e.Str(2, f)
	}
	e.Bytes(3, m.Code)
	return e.b
}

// DecodeModule 解码状态中的模块
func DecodeModule(b []byte) (*Module, error) {
	m := &Module{}
	err := DecodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			v, n, err := ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			if num == 1 {
				m.Name = string(v)
			} else {
				m.Functions = append(m.Functions, string(v))
			}
			return n, nil
		case 3:
			v, n, err := ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Code = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode module: %w", err)
	}
	return m, nil
}

// Encode 载荷的规范编码
func (p *Payload) Encode() []byte {
	var e Encoder
	e.Uint(1, uint64(p.Kind))
	for i := range p.Calls {
		e.Bytes(2, p.Calls[i].encode())
	}
	if p.Module != nil {
		e.Bytes(3, p.Module.Encode())
	}
	return e.b
}

// Encode 交易的规范编码
func (tx *Transaction) Encode() []byte {
	var e Encoder
	e.Str(1, string(tx.Sender))
	e.Uint(2, tx.SequenceNumber)
	e.Bytes(3, tx.Payload.Encode())
	e.Uint(4, tx.MaxGasAmount)
	e.Uint(5, tx.GasUnitPrice)
	e.Uint(6, tx.ExpirationTimestamp)
	e.Uint(7, uint64(tx.ChainID))
	return e.b
}
