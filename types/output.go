package types

import "encoding/json"

// TransactionOutput 单笔交易的执行输出，创建后不再修改
type TransactionOutput struct {
	WriteSet *WriteSet `json:"write_set"`
	Events   []Event   `json:"events"`
	GasUsed  uint64    `json:"gas_used"`
	Status   Status    `json:"status"`
}

// DiscardedOutput 被丢弃交易的输出：空写集、无事件、不计 gas
func DiscardedOutput(code ValidationCode) *TransactionOutput {
	return &TransactionOutput{
		WriteSet: NewWriteSet(),
		Status:   Discarded(code),
	}
}

// Encode 规范编码，用于跨节点逐字节比对
func (o *TransactionOutput) Encode() []byte {
	var e Encoder
	e.Bytes(1, o.WriteSet.Encode())
	for _, ev := range o.Events {
		e.Bytes(2, ev.encode())
	}
	e.Uint(3, o.GasUsed)
	e.Bytes(4, o.Status.Encode())
	return e.b
}

// TransactionInfo 交易执行摘要，可累加成区块级承诺
type TransactionInfo struct {
	TxHash        Hash   `json:"tx_hash"`
	WriteSetHash  Hash   `json:"write_set_hash"`
	EventRootHash Hash   `json:"event_root_hash"`
	GasUsed       uint64 `json:"gas_used"`
	Status        Status `json:"status"`
}

// NewTransactionInfo 由交易与输出生成摘要
func NewTransactionInfo(tx *Transaction, out *TransactionOutput) TransactionInfo {
	return TransactionInfo{
		TxHash:        tx.Hash(),
		WriteSetHash:  out.WriteSet.Hash(),
		EventRootHash: EventRootHash(out.Events),
		GasUsed:       out.GasUsed,
		Status:        out.Status,
	}
}

// Hash 摘要哈希
func (ti TransactionInfo) Hash() Hash {
	var e Encoder
	e.Bytes(1, ti.TxHash[:])
	e.Bytes(2, ti.WriteSetHash[:])
	e.Bytes(3, ti.EventRootHash[:])
	e.Uint(4, ti.GasUsed)
	e.Bytes(5, ti.Status.Encode())
	return HashBytes(e.b)
}

// AccumulateInfos 依次哈希链接交易摘要：acc_i = H(acc_{i-1} || info_i)
func AccumulateInfos(infos []TransactionInfo) Hash {
	acc := ZeroHash
	for _, ti := range infos {
		h := ti.Hash()
		acc = HashBytes(acc[:], h[:])
	}
	return acc
}

// MarshalJSON 按 key 顺序输出写操作
func (ws *WriteSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ws.Ops())
}
