package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockFSMTransitions(t *testing.T) {
	ctx := context.Background()
	f := newBlockFSM(1)
	assert.Equal(t, StateIdle, f.Current())

	require.NoError(t, f.Event(ctx, EventStart))
	assert.Equal(t, StateExecuting, f.Current())
	require.NoError(t, f.Event(ctx, EventCommit))
	require.NoError(t, f.Event(ctx, EventNext))
	require.NoError(t, f.Event(ctx, EventCommit))
	assert.Equal(t, StateCommitting, f.Current())
	require.NoError(t, f.Event(ctx, EventFinish))
	assert.Equal(t, StateCompleted, f.Current())

	// 完成之后不能再中止
	assert.Error(t, f.Event(ctx, EventAbort))
}

func TestBlockFSMEmptyBlockAndAbort(t *testing.T) {
	ctx := context.Background()

	empty := newBlockFSM(2)
	require.NoError(t, empty.Event(ctx, EventFinish))
	assert.Equal(t, StateCompleted, empty.Current())

	f := newBlockFSM(3)
	assert.Error(t, f.Event(ctx, EventCommit))
	require.NoError(t, f.Event(ctx, EventStart))
	assert.Error(t, f.Event(ctx, EventFinish))
	require.NoError(t, f.Event(ctx, EventAbort))
	assert.Equal(t, StateFailed, f.Current())
}

func TestSpecExecCache(t *testing.T) {
	c := NewSpecExecLRU(2)
	c.Put(&BlockResult{BlockID: "a", Height: 1})
	c.Put(&BlockResult{BlockID: "b", Height: 2})
	c.Put(nil)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Height)

	// 容量 2，最久未使用的 b 被淘汰
	c.Put(&BlockResult{BlockID: "c", Height: 3})
	_, ok = c.Get("b")
	assert.False(t, ok)

	c.EvictBelow(3)
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}
