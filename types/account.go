package types

import (
	"fmt"

	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================
// 链上资源的存储格式
// ============================================

// AccountResource 账户资源：序列号 + 认证信息
// 余额不放在这里，见 keys.KeyBalance
type AccountResource struct {
	SequenceNumber uint64 `json:"sequence_number"`
	AuthKey        []byte `json:"auth_key,omitempty"`
}

func (a *AccountResource) Encode() []byte {
	var e Encoder
	e.Uint(1, a.SequenceNumber)
	e.Bytes(2, a.AuthKey)
	return e.b
}

// DecodeAccountResource 解码账户资源
func DecodeAccountResource(b []byte) (*AccountResource, error) {
	a := &AccountResource{}
	err := DecodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := ConsumeUint(typ, b)
			a.SequenceNumber = v
			return n, err
		case 2:
			v, n, err := ConsumeBytes(typ, b)
			a.AuthKey = v
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return a, nil
}

// BalanceLength 余额固定编码为 32 字节大端
const BalanceLength = 32

// EncodeBalance 余额编码
func EncodeBalance(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

// DecodeBalance 余额解码，长度必须是 32
func DecodeBalance(b []byte) (*uint256.Int, error) {
	if len(b) != BalanceLength {
		return nil, fmt.Errorf("%w: balance length %d", ErrMalformed, len(b))
	}
	return new(uint256.Int).SetBytes32(b), nil
}

// BlockInfoResource 最近执行的区块信息，区块最后一笔交易之后写入
type BlockInfoResource struct {
	Height       uint64  `json:"height"`
	Timestamp    uint64  `json:"timestamp"`
	FeeRecipient Address `json:"fee_recipient"`
	TxCount      uint64  `json:"tx_count"`
	GasUsed      uint64  `json:"gas_used"`
}

func (bi *BlockInfoResource) Encode() []byte {
	var e Encoder
	e.Uint(1, bi.Height)
	e.Uint(2, bi.Timestamp)
	e.Str(3, string(bi.FeeRecipient))
	e.Uint(4, bi.TxCount)
	e.Uint(5, bi.GasUsed)
	return e.b
}

// DecodeBlockInfo 解码区块信息
func DecodeBlockInfo(b []byte) (*BlockInfoResource, error) {
	bi := &BlockInfoResource{}
	err := DecodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			v   uint64
			n   int
			err error
		)
		switch num {
		case 1, 2, 4, 5:
			v, n, err = ConsumeUint(typ, b)
		case 3:
			var s []byte
			s, n, err = ConsumeBytes(typ, b)
			bi.FeeRecipient = Address(s)
			return n, err
		default:
			return -1, nil
		}
		switch num {
		case 1:
			bi.Height = v
		case 2:
			bi.Timestamp = v
		case 4:
			bi.TxCount = v
		case 5:
			bi.GasUsed = v
		}
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("decode block info: %w", err)
	}
	return bi, nil
}
