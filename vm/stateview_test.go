package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/types"
)

func TestOverlayDiff(t *testing.T) {
	base := NewStateView(EmptyView())
	base.Set("a", []byte{1})
	base.Set("c", []byte{3})

	sv := NewStateView(base)
	sv.Set("a", []byte{2})
	sv.Set("b", []byte{1})
	sv.Del("c")
	sv.Del("d") // 底层不存在，不产生操作

	diff, err := sv.Diff()
	require.NoError(t, err)
	assert.Equal(t, []types.WriteOp{
		types.ModifyOp("a", []byte{2}),
		types.CreateOp("b", []byte{1}),
		types.DeleteOp("c"),
	}, diff)

	// 底层视图不受影响
	v, ok, err := base.Get("c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{3}, v)
}

func TestOverlaySnapshotRevert(t *testing.T) {
	sv := NewStateView(EmptyView())
	sv.Set("k", []byte("v1"))
	snap := sv.Snapshot()
	sv.Set("k", []byte("v2"))
	sv.Del("k")

	_, ok, err := sv.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sv.Revert(snap))
	v, ok, err := sv.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	assert.ErrorIs(t, sv.Revert(snap+5), ErrInvalidSnapshot)
	require.NoError(t, sv.Revert(0))
	_, ok, _ = sv.Get("k")
	assert.False(t, ok)
}

func TestOverlayGetReturnsCopy(t *testing.T) {
	sv := NewStateView(EmptyView())
	sv.Set("k", []byte{1, 2})
	v, _, _ := sv.Get("k")
	v[0] = 9
	again, _, _ := sv.Get("k")
	assert.Equal(t, []byte{1, 2}, again)
}

func TestAssembleRejectsDuplicateWrites(t *testing.T) {
	base := NewStateView(EmptyView())
	base.Set("x", []byte{1})

	ws, err := Assemble(&RawEffects{Writes: []RawWrite{
		{Key: "x", Value: []byte{2}},
		{Key: "y", Value: []byte{3}},
	}}, base)
	require.NoError(t, err)
	assert.Equal(t, []types.WriteOp{
		types.ModifyOp("x", []byte{2}),
		types.CreateOp("y", []byte{3}),
	}, ws.Ops())

	_, err = Assemble(&RawEffects{Writes: []RawWrite{
		{Key: "x", Value: []byte{2}},
		{Key: "x", Value: []byte{4}},
	}}, base)
	assert.ErrorIs(t, err, ErrInvalidRawWrite)

	_, err = Assemble(&RawEffects{Writes: []RawWrite{{Key: "missing", Delete: true}}}, base)
	assert.ErrorIs(t, err, ErrInvalidRawWrite)
}

// badVM 产出重复写入，模拟有缺陷的解释器
type badVM struct{}

func (badVM) Run(ctx *RunContext) error {
	ctx.Effects = RawEffects{Writes: []RawWrite{
		{Key: "dup", Value: []byte{1}},
		{Key: "dup", Value: []byte{2}},
	}}
	return nil
}

type panicVM struct{}

func (panicVM) Run(*RunContext) error { panic("boom") }

func TestInvalidVMOutputBecomesExecutionFailure(t *testing.T) {
	g := testGenesis()
	_, prior := genesisView(t, g)

	for name, tc := range map[string]struct {
		machine VirtualMachine
		reason  string
	}{
		"duplicate writes": {badVM{}, ReasonInvalidWriteSet},
		"panic":            {panicVM{}, ReasonVMPanic + ": boom"},
	} {
		t.Run(name, func(t *testing.T) {
			x := NewExecutor(nil, tc.machine)
			res, err := x.ExecuteBlock(context.Background(), prior, []*types.Transaction{transferTx(alice, bob, 5, "10")}, blockMeta(1))
			require.NoError(t, err)
			out := res.Outputs[0]
			assert.Equal(t, types.ExecutionFailure(tc.reason), out.Status)
			_, ok := out.WriteSet.Get("dup")
			assert.False(t, ok)
			assert.Equal(t, uint64(6), seqOf(t, res.FinalView, alice))
		})
	}
}
