package types

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/sha3"
)

// HashLength 哈希长度（sha3-256）
const HashLength = 32

// Hash 内容哈希
type Hash [HashLength]byte

// ZeroHash 空哈希，作为空状态的根
var ZeroHash Hash

// HashBytes 对任意字节做 sha3-256
func HashBytes(data ...[]byte) Hash {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == ZeroHash }

// HashFromBytes 从定长字节构造，长度不对时返回 false
func HashFromBytes(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != HashLength {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// MarshalJSON 以十六进制输出
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}
