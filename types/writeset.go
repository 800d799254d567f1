package types

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateKey 同一个 key 在写集里出现两次
	ErrDuplicateKey = errors.New("duplicate key in write set")
	// ErrInvalidComposition 两个写操作无法按顺序合并（例如对已删除的 key 再 Modify）
	ErrInvalidComposition = errors.New("invalid write op composition")
)

// WriteOpKind 写操作类型
type WriteOpKind uint8

const (
	OpCreate WriteOpKind = iota + 1
	OpModify
	OpDelete
)

func (k WriteOpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// WriteOp 对单个 key 的修改
type WriteOp struct {
	Key   string      `json:"key"`
	Kind  WriteOpKind `json:"kind"`
	Value []byte      `json:"value,omitempty"` // Delete 时为空
}

func CreateOp(key string, val []byte) WriteOp {
	return WriteOp{Key: key, Kind: OpCreate, Value: cloneBytes(val)}
}

func ModifyOp(key string, val []byte) WriteOp {
	return WriteOp{Key: key, Kind: OpModify, Value: cloneBytes(val)}
}

func DeleteOp(key string) WriteOp {
	return WriteOp{Key: key, Kind: OpDelete}
}

// IsDelete 是否删除
func (w WriteOp) IsDelete() bool { return w.Kind == OpDelete }

// compose 先 a 后 b 的效果
// ok=false 表示两者相互抵消（Create 后 Delete）
func compose(a, b WriteOp) (WriteOp, bool, error) {
	switch {
	case a.Kind == OpCreate && b.Kind == OpModify:
		return WriteOp{Key: a.Key, Kind: OpCreate, Value: b.Value}, true, nil
	case a.Kind == OpCreate && b.Kind == OpDelete:
		return WriteOp{}, false, nil
	case a.Kind == OpModify && b.Kind == OpModify:
		return b, true, nil
	case a.Kind == OpModify && b.Kind == OpDelete:
		return b, true, nil
	case a.Kind == OpDelete && b.Kind == OpCreate:
		return WriteOp{Key: a.Key, Kind: OpModify, Value: b.Value}, true, nil
	}
	return WriteOp{}, false, fmt.Errorf("%w: %s then %s on %q", ErrInvalidComposition, a.Kind, b.Kind, a.Key)
}

// WriteSet 一笔交易（或一个区块）的全部状态修改，key 唯一
type WriteSet struct {
	ops map[string]WriteOp
}

// NewWriteSet 创建空写集
func NewWriteSet() *WriteSet {
	return &WriteSet{ops: make(map[string]WriteOp)}
}

// NewWriteSetFromOps 由一组不重复的写操作构造
func NewWriteSetFromOps(ops ...WriteOp) (*WriteSet, error) {
	ws := NewWriteSet()
	for _, op := range ops {
		if err := ws.Insert(op); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// Insert 加入一个写操作，key 已存在时返回 ErrDuplicateKey
func (ws *WriteSet) Insert(op WriteOp) error {
	if _, ok := ws.ops[op.Key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, op.Key)
	}
	switch op.Kind {
	case OpCreate, OpModify, OpDelete:
	default:
		return fmt.Errorf("unknown write op kind %d for %q", op.Kind, op.Key)
	}
	ws.ops[op.Key] = op
	return nil
}

// Override 把 op 叠加到已有操作之上（op 发生在后），没有已有操作时直接插入
func (ws *WriteSet) Override(op WriteOp) error {
	prev, ok := ws.ops[op.Key]
	if !ok {
		return ws.Insert(op)
	}
	merged, keep, err := compose(prev, op)
	if err != nil {
		return err
	}
	if keep {
		ws.ops[op.Key] = merged
	} else {
		delete(ws.ops, op.Key)
	}
	return nil
}

// Squash 把 next（在 ws 之后发生）合并进 ws
func (ws *WriteSet) Squash(next *WriteSet) error {
	if next == nil {
		return nil
	}
	for _, op := range next.Ops() {
		if err := ws.Override(op); err != nil {
			return err
		}
	}
	return nil
}

// Get 查询 key 的写操作
func (ws *WriteSet) Get(key string) (WriteOp, bool) {
	if ws == nil {
		return WriteOp{}, false
	}
	op, ok := ws.ops[key]
	return op, ok
}

func (ws *WriteSet) Len() int {
	if ws == nil {
		return 0
	}
	return len(ws.ops)
}

func (ws *WriteSet) IsEmpty() bool { return ws.Len() == 0 }

// Keys 按字典序排列的 key
func (ws *WriteSet) Keys() []string {
	if ws == nil {
		return nil
	}
	keys := make([]string, 0, len(ws.ops))
	for k := range ws.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ops 按 key 排序后的写操作，所有对外输出都以这个顺序为准
func (ws *WriteSet) Ops() []WriteOp {
	keys := ws.Keys()
	out := make([]WriteOp, 0, len(keys))
	for _, k := range keys {
		out = append(out, ws.ops[k])
	}
	return out
}

// Clone 深拷贝
func (ws *WriteSet) Clone() *WriteSet {
	c := NewWriteSet()
	if ws == nil {
		return c
	}
	for k, op := range ws.ops {
		op.Value = cloneBytes(op.Value)
		c.ops[k] = op
	}
	return c
}

// Encode 规范编码：按 key 排序，每个操作 {key, kind, value}
func (ws *WriteSet) Encode() []byte {
	var e Encoder
	for _, op := range ws.Ops() {
		var sub Encoder
		sub.Str(1, op.Key)
		sub.Uint(2, uint64(op.Kind))
		sub.Bytes(3, op.Value)
		e.Bytes(1, sub.b)
	}
	return e.b
}

// Hash 写集哈希
func (ws *WriteSet) Hash() Hash {
	return HashBytes(ws.Encode())
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
