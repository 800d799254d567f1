package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint8(1), cfg.VM.ChainID)
	assert.True(t, cfg.VM.FeeBurnRatio.IsZero())
	assert.Equal(t, cfg.VM.MinGasAmount, cfg.Gas.IntrinsicBase)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEDGER_VM_CHAIN_ID", "7")
	t.Setenv("LEDGER_VM_FEE_BURN_RATIO", "0.25")
	t.Setenv("LEDGER_GAS_WRITE_BASE", "99")
	t.Setenv("LEDGER_STORE_BACKEND", "pebble")
	t.Setenv("LEDGER_EXEC_PARALLEL_WORKERS", "4")
	t.Setenv("LEDGER_LOG_NODE", "n1")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, uint8(7), cfg.VM.ChainID)
	assert.True(t, cfg.VM.FeeBurnRatio.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, uint64(99), cfg.Gas.WriteBase)
	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Executor.ParallelWorkers)
	assert.Equal(t, "n1", cfg.Log.Node)
	// 未设置的字段保持默认
	assert.Equal(t, DefaultGasSchedule().ReadBase, cfg.Gas.ReadBase)
}

func TestValidateRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VM.FeeBurnRatio = decimal.RequireFromString("1.5")
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.VM.MinGasAmount = cfg.VM.MaxGasAmount + 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Backend = "rocks"
	assert.Error(t, cfg.Validate())
}
