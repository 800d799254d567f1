package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/keys"
	"ledger/types"
)

const genesisJSON = `{
  "id": "genesis",
  "timestamp": 1,
  "vm": {"ChainID": 1, "MinGasAmount": 1, "MaxGasAmount": 1000000, "FeeBurnRatio": "0"},
  "gas": {"IntrinsicBase": 1, "ModuleLoadBase": 1, "CallBase": 1, "WriteBase": 1},
  "accounts": [
    {"address": "0xa", "sequence_number": 5, "balance": "100"},
    {"address": "0xb", "balance": "0"},
    {"address": "0xf", "balance": "0"}
  ]
}`

const blocksJSON = `[
  {
    "meta": {"id": "b1", "parent_id": "genesis", "height": 1, "timestamp": 10, "fee_recipient": "0xf"},
    "txs": [{
      "sender": "0xa",
      "sequence_number": 5,
      "payload": {"kind": 1, "calls": [{"module": {"address": "0x1", "name": "coin"}, "function": "transfer", "args": ["0xb", "10"]}]},
      "max_gas_amount": 5,
      "gas_unit_price": 1,
      "expiration_timestamp": 1000,
      "chain_id": 1
    }]
  }
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestReadBlocks(t *testing.T) {
	dir := t.TempDir()

	blocks, err := readBlocks(writeFile(t, dir, "many.json", blocksJSON))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "b1", blocks[0].Meta.ID)
	require.Len(t, blocks[0].Txs, 1)
	assert.Equal(t, uint64(5), blocks[0].Txs[0].SequenceNumber)

	single, err := readBlocks(writeFile(t, dir, "one.json", `{"meta": {"id": "x", "height": 2}}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, uint64(2), single[0].Meta.Height)

	_, err = readBlocks(writeFile(t, dir, "bad.json", `{`))
	assert.Error(t, err)
}

func TestCommandsOnPebble(t *testing.T) {
	dir := t.TempDir()
	genesis := writeFile(t, dir, "genesis.json", genesisJSON)
	blocks := writeFile(t, dir, "blocks.json", blocksJSON)
	state := filepath.Join(dir, "state")

	run := func(args ...string) error {
		base := []string{"ledgerexec", "--backend", "pebble", "--path", state, "--log-level", "error"}
		return newApp().Run(append(base, args...))
	}

	require.NoError(t, run("genesis", "--file", genesis))
	assert.Error(t, run("genesis", "--file", genesis))

	require.NoError(t, run("exec", "--file", blocks, "--dry-run"))
	require.NoError(t, run("exec", "--file", blocks))
	// 重新打开存储后同一高度不能再提交
	assert.Error(t, run("exec", "--file", blocks))

	require.NoError(t, run("get", "--address", "0xb"))
	require.NoError(t, run("root"))
	require.NoError(t, run("root", "--version", "1"))
	assert.Error(t, run("root", "--version", "9"))

	require.NoError(t, run("prune", "--keep-from", "2"))
	assert.Error(t, run("prune", "--keep-from", "9"))
	require.NoError(t, run("get", "--address", "0xa"))
}

func TestExecWithInlineGenesisOnMemory(t *testing.T) {
	dir := t.TempDir()
	genesis := writeFile(t, dir, "genesis.json", genesisJSON)
	blocks := writeFile(t, dir, "blocks.json", blocksJSON)

	err := newApp().Run([]string{"ledgerexec", "--backend", "memory", "--workers", "2",
		"exec", "--file", blocks, "--genesis", genesis})
	require.NoError(t, err)
}

func TestWriteSummary(t *testing.T) {
	ws, err := types.NewWriteSetFromOps(
		types.ModifyOp(keys.KeyAccount("0xa"), []byte{1}),
		types.ModifyOp(keys.KeyBalance("0xa", keys.NativeToken), []byte{2}),
		types.ModifyOp(keys.KeyBalance("0xb", keys.NativeToken), []byte{3}),
		types.CreateOp(keys.KeyBlockInfo(), []byte{4}),
	)
	require.NoError(t, err)

	out := writeSummary(ws)
	byCat := out["by_category"].(map[keys.Category]int)
	assert.Equal(t, 1, byCat[keys.CategoryAccount])
	assert.Equal(t, 2, byCat[keys.CategoryBalance])
	assert.Equal(t, 1, byCat[keys.CategoryBlock])
	assert.Equal(t, []string{"0xa"}, out["accounts"])
	assert.Contains(t, out["keys"], "block_info")
}

func TestTxSummaryFlagsSequenceMismatch(t *testing.T) {
	stale := newTxSummary(types.DiscardedOutput(types.ValidationSequenceTooOld))
	assert.True(t, stale.SequenceMismatch)
	assert.Equal(t, "DISCARDED(SEQUENCE_NUMBER_TOO_OLD)", stale.Status)

	expired := newTxSummary(types.DiscardedOutput(types.ValidationExpired))
	assert.False(t, expired.SequenceMismatch)
}

func TestNativesCommand(t *testing.T) {
	require.NoError(t, newApp().Run([]string{"ledgerexec", "natives"}))
}
