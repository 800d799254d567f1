package types

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================
// 规范二进制编码
// 所有参与哈希、落库的结构都走这里：字段按编号顺序写出，零值也写，
// 同一个值在任何节点上编码结果逐字节一致。
// ============================================

// ErrMalformed 解码失败
var ErrMalformed = errors.New("malformed encoding")

// Encoder 按字段编号顺序追加写出，零值不省略
type Encoder struct {
	b []byte
}

func (e *Encoder) Uint(num protowire.Number, v uint64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *Encoder) Bytes(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

// Encoded 已写出的字节
func (e *Encoder) Encoded() []byte { return e.b }

func (e *Encoder) Str(num protowire.Number, s string) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

// FieldFn 处理一个字段，返回消费掉的字节数
type FieldFn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// DecodeFields 逐字段遍历；fn 对不认识的字段返回 (-1, nil) 时按未知字段跳过
func DecodeFields(b []byte, fn FieldFn) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func ConsumeUint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: want varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

func ConsumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: want bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), n, nil
}
