package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/types"
)

func TestParallelMatchesSequential(t *testing.T) {
	accounts := []GenesisAccount{
		{Address: "0x11", Balance: "1000"},
		{Address: "0x12", Balance: "1000"},
		{Address: "0x13", Balance: "1000"},
		{Address: "0x14", Balance: "1000"},
		{Address: feeSink, Balance: "0"},
	}
	txs := []*types.Transaction{
		transferTx("0x11", "0x12", 0, "10"),
		transferTx("0x12", "0x13", 0, "5"),
		transferTx("0x11", "0x13", 1, "1"),
		transferTx("0x13", "0x14", 0, "2"),
		transferTx("0x14", "0x11", 5, "2"), // 序列号过新，丢弃
		entryTx("0x11", 2, 10, call("debug", "abort", "9")),
		entryTx("0x12", 1, 40, call("debug", "spin", "100")),
		transferTx("0x14", "0x12", 0, "999"),
	}

	seqX, seqPrior := genesisView(t, testGenesis(accounts...))
	want, err := seqX.ExecuteBlock(context.Background(), seqPrior, txs, blockMeta(1))
	require.NoError(t, err)
	assert.Nil(t, want.Reexecuted)

	parX, parPrior := genesisView(t, testGenesis(accounts...))
	got, err := NewParallelExecutor(parX, 4).ExecuteBlock(context.Background(), parPrior, txs, blockMeta(1))
	require.NoError(t, err)

	require.Len(t, got.Outputs, len(want.Outputs))
	for i := range want.Outputs {
		assert.Equal(t, want.Outputs[i].Encode(), got.Outputs[i].Encode(), "tx %d", i)
	}
	assert.Equal(t, want.WriteSet.Hash(), got.WriteSet.Hash())
	assert.Equal(t, want.Accumulator, got.Accumulator)
	assert.Equal(t, want.GasUsed, got.GasUsed)

	// 第二笔的发送者刚被第一笔写过
	require.NotNil(t, got.Reexecuted)
	assert.True(t, got.Reexecuted.Contains(1))
	assert.False(t, got.Reexecuted.Contains(0))
}

func TestParallelIndependentWithoutRecipient(t *testing.T) {
	accounts := []GenesisAccount{
		{Address: "0x21", Balance: "100"},
		{Address: "0x22", Balance: "100"},
		{Address: "0x23", Balance: "100"},
		{Address: "0x24", Balance: "100"},
	}
	// 两组互不相交的转账，没有出块者时互不冲突
	txs := []*types.Transaction{
		transferTx("0x21", "0x22", 0, "1"),
		transferTx("0x23", "0x24", 0, "1"),
	}
	meta := blockMeta(1)
	meta.FeeRecipient = ""

	x, prior := genesisView(t, testGenesis(accounts...))
	res, err := NewParallelExecutor(x, 2).ExecuteBlock(context.Background(), prior, txs, meta)
	require.NoError(t, err)
	require.NotNil(t, res.Reexecuted)
	assert.True(t, res.Reexecuted.IsEmpty())
	assert.Equal(t, uint64(94), balanceOf(t, res.FinalView, "0x21"))
	assert.Equal(t, uint64(101), balanceOf(t, res.FinalView, "0x24"))
}

func TestParallelSingleWorkerFallsBack(t *testing.T) {
	x, prior := genesisView(t, testGenesis())
	res, err := NewParallelExecutor(x, 1).ExecuteBlock(context.Background(), prior, []*types.Transaction{
		transferTx(alice, bob, 5, "10"),
		transferTx(alice, bob, 6, "10"),
	}, blockMeta(1))
	require.NoError(t, err)
	assert.Nil(t, res.Reexecuted)
	assert.Equal(t, uint64(70), balanceOf(t, res.FinalView, alice))
}

func TestParallelRebasesFeeCredit(t *testing.T) {
	accounts := []GenesisAccount{
		{Address: "0x31", Balance: "100"},
		{Address: "0x32", Balance: "100"},
		{Address: "0x33", Balance: "100"},
		{Address: "0x34", Balance: "100"},
		{Address: "0x35", Balance: "100"},
		{Address: "0x36", Balance: "100"},
	}
	// 三组互不相交的转账，只共享出块者余额
	txs := []*types.Transaction{
		transferTx("0x31", "0x32", 0, "1"),
		transferTx("0x33", "0x34", 0, "2"),
		transferTx("0x35", "0x36", 0, "3"),
	}

	for name, recipient := range map[string]types.Address{
		"recipient funded at genesis": "0x32",
		"recipient without balance":   "0x99",
	} {
		t.Run(name, func(t *testing.T) {
			meta := blockMeta(1)
			meta.FeeRecipient = recipient

			seqX, seqPrior := genesisView(t, testGenesis(accounts...))
			want, err := seqX.ExecuteBlock(context.Background(), seqPrior, txs, meta)
			require.NoError(t, err)

			parX, parPrior := genesisView(t, testGenesis(accounts...))
			got, err := NewParallelExecutor(parX, 3).ExecuteBlock(context.Background(), parPrior, txs, meta)
			require.NoError(t, err)

			// 后面的交易只在出块者余额上叠加手续费，不需要重新执行
			require.NotNil(t, got.Reexecuted)
			assert.True(t, got.Reexecuted.IsEmpty())
			for i := range want.Outputs {
				assert.Equal(t, want.Outputs[i].Encode(), got.Outputs[i].Encode(), "tx %d", i)
			}
			assert.Equal(t, want.WriteSet.Hash(), got.WriteSet.Hash())
			assert.Equal(t, want.Accumulator, got.Accumulator)
			assert.Equal(t, balanceOf(t, want.FinalView, recipient), balanceOf(t, got.FinalView, recipient))
		})
	}
}
