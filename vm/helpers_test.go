package vm

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ledger/config"
	"ledger/keys"
	"ledger/types"
)

// 每种操作 1 gas 的计价表，转账正好 5 gas：内在 1 + 加载 coin 1 + 调用 1 + 两次写 2
var testGas = config.GasSchedule{
	IntrinsicBase:  1,
	ModuleLoadBase: 1,
	CallBase:       1,
	WriteBase:      1,
	Instruction:    1,
}

const (
	alice   types.Address = "0xa"
	bob     types.Address = "0xb"
	feeSink types.Address = "0xf"
)

func testVMConfig(burn decimal.Decimal) *config.VMConfig {
	return &config.VMConfig{
		ChainID:      1,
		MinGasAmount: 1,
		MaxGasAmount: 1_000_000,
		FeeBurnRatio: burn,
	}
}

func testGenesis(accounts ...GenesisAccount) *GenesisConfig {
	if len(accounts) == 0 {
		accounts = []GenesisAccount{
			{Address: alice, SequenceNumber: 5, Balance: "100"},
			{Address: bob, Balance: "0"},
			{Address: feeSink, Balance: "0"},
		}
	}
	return &GenesisConfig{
		ID:        "genesis",
		Timestamp: 1,
		VM:        testVMConfig(decimal.Zero),
		Gas:       &testGas,
		Accounts:  accounts,
	}
}

func newTestExecutor() *Executor {
	return NewExecutor(config.DefaultConfig(), nil)
}

// genesisView 执行创世，返回执行器与创世之后的状态
func genesisView(t *testing.T, g *GenesisConfig) (*Executor, StateView) {
	t.Helper()
	x := newTestExecutor()
	res, err := x.ExecuteGenesis(context.Background(), g)
	require.NoError(t, err)
	return x, res.FinalView
}

func blockMeta(height uint64) types.BlockMetadata {
	return types.BlockMetadata{
		ID:           fmt.Sprintf("block-%d", height),
		ParentID:     "genesis",
		Height:       height,
		Timestamp:    100,
		FeeRecipient: feeSink,
	}
}

func call(module, fn string, args ...string) types.EntryFunction {
	return types.EntryFunction{
		Module:   types.ModuleID{Address: types.CoreAddress, Name: module},
		Function: fn,
		Args:     args,
	}
}

func entryTx(sender types.Address, seq, budget uint64, c types.EntryFunction) *types.Transaction {
	return &types.Transaction{
		Sender:              sender,
		SequenceNumber:      seq,
		Payload:             types.Payload{Kind: types.PayloadEntryFunction, Calls: []types.EntryFunction{c}},
		MaxGasAmount:        budget,
		GasUnitPrice:        1,
		ExpirationTimestamp: 1000,
		ChainID:             1,
	}
}

func transferTx(from, to types.Address, seq uint64, amount string) *types.Transaction {
	return entryTx(from, seq, 5, call("coin", "transfer", string(to), amount))
}

func balanceOf(t *testing.T, view StateView, addr types.Address) uint64 {
	t.Helper()
	bal, err := GetBalance(view, addr, keys.NativeToken)
	require.NoError(t, err)
	require.True(t, bal.IsUint64())
	return bal.Uint64()
}

func seqOf(t *testing.T, view StateView, addr types.Address) uint64 {
	t.Helper()
	acc, ok, err := GetAccount(view, addr)
	require.NoError(t, err)
	require.True(t, ok, "account %s missing", addr)
	return acc.SequenceNumber
}
