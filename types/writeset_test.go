package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSetInsertRejectsDuplicate(t *testing.T) {
	ws := NewWriteSet()
	require.NoError(t, ws.Insert(CreateOp("a", []byte{1})))
	err := ws.Insert(ModifyOp("a", []byte{2}))
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	op, ok := ws.Get("a")
	require.True(t, ok)
	assert.Equal(t, OpCreate, op.Kind)
}

func TestWriteSetOverrideComposition(t *testing.T) {
	cases := []struct {
		name     string
		first    WriteOp
		then     WriteOp
		wantKind WriteOpKind
		removed  bool
		wantErr  bool
	}{
		{"create+modify", CreateOp("k", []byte("a")), ModifyOp("k", []byte("b")), OpCreate, false, false},
		{"create+delete", CreateOp("k", []byte("a")), DeleteOp("k"), 0, true, false},
		{"modify+modify", ModifyOp("k", []byte("a")), ModifyOp("k", []byte("b")), OpModify, false, false},
		{"modify+delete", ModifyOp("k", []byte("a")), DeleteOp("k"), OpDelete, false, false},
		{"delete+create", DeleteOp("k"), CreateOp("k", []byte("b")), OpModify, false, false},
		{"create+create", CreateOp("k", []byte("a")), CreateOp("k", []byte("b")), 0, false, true},
		{"delete+modify", DeleteOp("k"), ModifyOp("k", []byte("b")), 0, false, true},
		{"delete+delete", DeleteOp("k"), DeleteOp("k"), 0, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws := NewWriteSet()
			require.NoError(t, ws.Insert(tc.first))
			err := ws.Override(tc.then)
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidComposition))
				return
			}
			require.NoError(t, err)
			op, ok := ws.Get("k")
			if tc.removed {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.wantKind, op.Kind)
			if op.Kind != OpDelete {
				assert.Equal(t, []byte("b"), op.Value)
			}
		})
	}
}

func TestWriteSetSquash(t *testing.T) {
	first, err := NewWriteSetFromOps(CreateOp("a", []byte("1")), ModifyOp("b", []byte("1")))
	require.NoError(t, err)
	second, err := NewWriteSetFromOps(ModifyOp("a", []byte("2")), DeleteOp("b"), CreateOp("c", []byte("3")))
	require.NoError(t, err)

	require.NoError(t, first.Squash(second))
	assert.Equal(t, []string{"a", "b", "c"}, first.Keys())

	a, _ := first.Get("a")
	assert.Equal(t, CreateOp("a", []byte("2")), a)
	b, _ := first.Get("b")
	assert.True(t, b.IsDelete())
}

func TestWriteSetEncodeIsOrderIndependent(t *testing.T) {
	x, err := NewWriteSetFromOps(CreateOp("b", []byte("2")), CreateOp("a", []byte("1")))
	require.NoError(t, err)
	y, err := NewWriteSetFromOps(CreateOp("a", []byte("1")), CreateOp("b", []byte("2")))
	require.NoError(t, err)

	assert.Equal(t, x.Encode(), y.Encode())
	assert.Equal(t, x.Hash(), y.Hash())

	z := x.Clone()
	require.NoError(t, z.Override(ModifyOp("a", []byte("9"))))
	assert.NotEqual(t, x.Hash(), z.Hash())
	// 克隆互不影响
	a, _ := x.Get("a")
	assert.Equal(t, OpCreate, a.Kind)
	assert.Equal(t, []byte("1"), a.Value)
}

func TestEmptyWriteSet(t *testing.T) {
	var nilSet *WriteSet
	assert.Equal(t, 0, nilSet.Len())
	assert.True(t, NewWriteSet().IsEmpty())
	assert.Empty(t, NewWriteSet().Encode())
}
