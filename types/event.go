package types

// ============================================
// 事件
// ============================================

// Event 交易执行期间按顺序发出的事件，顺序是规范的一部分
type Event struct {
	Type string `json:"type"` // 例如 "0x1::coin::TransferEvent"
	Data []byte `json:"data"`
}

func (e Event) encode() []byte {
	var enc Encoder
	enc.Str(1, e.Type)
	enc.Bytes(2, e.Data)
	return enc.b
}

// EventRootHash 有序事件列表的哈希，空列表为 ZeroHash
func EventRootHash(events []Event) Hash {
	if len(events) == 0 {
		return ZeroHash
	}
	var enc Encoder
	for _, ev := range events {
		enc.Bytes(1, ev.encode())
	}
	return HashBytes(enc.b)
}
