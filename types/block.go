package types

// BlockMetadata 区块执行所需的上下文，由共识层给出
type BlockMetadata struct {
	ID           string  `json:"id"`
	ParentID     string  `json:"parent_id"`
	Height       uint64  `json:"height"`
	Timestamp    uint64  `json:"timestamp"`     // 交易过期判断使用
	FeeRecipient Address `json:"fee_recipient"` // 手续费收款方
}

// Block 待执行的区块：元数据 + 有序交易
type Block struct {
	Meta BlockMetadata  `json:"meta"`
	Txs  []*Transaction `json:"txs"`
}
