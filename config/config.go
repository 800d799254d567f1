// config/config.go
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config 主配置结构
type Config struct {
	VM       VMConfig       `envPrefix:"VM_"`
	Gas      GasSchedule    `envPrefix:"GAS_"`
	Executor ExecutorConfig `envPrefix:"EXEC_"`
	Storage  StorageConfig  `envPrefix:"STORE_"`
	Log      LogConfig      `envPrefix:"LOG_"`
}

// VMConfig 执行引擎的链级参数
// 创世写入的链上配置优先；链上没有时才使用这里的值
type VMConfig struct {
	ChainID      uint8  `env:"CHAIN_ID"`       // 网络标识，交易必须与之一致
	MinGasAmount uint64 `env:"MIN_GAS_AMOUNT"` // 交易 gas 预算下限（内在成本地板）
	MaxGasAmount uint64 `env:"MAX_GAS_AMOUNT"` // 交易 gas 预算上限

	// FeeBurnRatio 手续费中被销毁（不计入出块者）的比例，0 表示全部给出块者
	FeeBurnRatio decimal.Decimal `env:"FEE_BURN_RATIO"`
}

// GasSchedule 每种操作的计价表
// 计费只与操作本身有关，与时间、环境无关
type GasSchedule struct {
	IntrinsicBase    uint64 `env:"INTRINSIC_BASE"`     // 每笔交易固定成本
	IntrinsicPerByte uint64 `env:"INTRINSIC_PER_BYTE"` // 按交易 payload 字节计
	ModuleLoadBase   uint64 `env:"MODULE_LOAD_BASE"`   // 解析一个模块
	ModuleLoadByte   uint64 `env:"MODULE_LOAD_BYTE"`
	CallBase         uint64 `env:"CALL_BASE"` // 每次 native 函数调用
	ReadBase         uint64 `env:"READ_BASE"`
	ReadPerByte      uint64 `env:"READ_PER_BYTE"`
	WriteBase        uint64 `env:"WRITE_BASE"`
	WritePerByte     uint64 `env:"WRITE_PER_BYTE"`
	EventBase        uint64 `env:"EVENT_BASE"`
	EventPerByte     uint64 `env:"EVENT_PER_BYTE"`
	Instruction      uint64 `env:"INSTRUCTION"` // debug::spin 之类循环的单步成本
}

// ExecutorConfig 区块执行器配置
type ExecutorConfig struct {
	ParallelWorkers int `env:"PARALLEL_WORKERS"` // <=1 表示只走串行执行
	SpecCacheSize   int `env:"SPEC_CACHE_SIZE"`  // 预执行结果缓存条数
}

// StorageConfig 状态存储配置
type StorageConfig struct {
	Backend       string `env:"BACKEND"` // "memory" | "badger" | "pebble"
	Path          string `env:"PATH"`
	ReadCacheSize int    `env:"READ_CACHE_SIZE"` // (version,key) 读缓存条数，0 关闭
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `env:"LEVEL"`
	Node  string `env:"NODE"` // 日志里的节点标记，空表示不带
}

// DefaultGasSchedule 默认计价表
func DefaultGasSchedule() GasSchedule {
	return GasSchedule{
		IntrinsicBase:    300,
		IntrinsicPerByte: 2,
		ModuleLoadBase:   50,
		ModuleLoadByte:   1,
		CallBase:         20,
		ReadBase:         10,
		ReadPerByte:      1,
		WriteBase:        40,
		WritePerByte:     2,
		EventBase:        20,
		EventPerByte:     1,
		Instruction:      5,
	}
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		VM: VMConfig{
			ChainID:      1,
			MinGasAmount: 300,
			MaxGasAmount: 2_000_000,
			FeeBurnRatio: decimal.Zero,
		},
		Gas: DefaultGasSchedule(),
		Executor: ExecutorConfig{
			ParallelWorkers: 1,
			SpecCacheSize:   64,
		},
		Storage: StorageConfig{
			Backend:       "memory",
			Path:          "./data",
			ReadCacheSize: 4096,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv 用 LEDGER_ 前缀的环境变量覆盖 cfg 中的字段
// 例：LEDGER_VM_CHAIN_ID=4 LEDGER_STORE_BACKEND=pebble
func LoadFromEnv(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "LEDGER_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return cfg.Validate()
}

// Validate 检查配置的基本一致性
func (c *Config) Validate() error {
	if c.VM.MinGasAmount > c.VM.MaxGasAmount {
		return fmt.Errorf("min gas amount %d exceeds max gas amount %d", c.VM.MinGasAmount, c.VM.MaxGasAmount)
	}
	if c.VM.FeeBurnRatio.IsNegative() || c.VM.FeeBurnRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee burn ratio must be within [0,1], got %s", c.VM.FeeBurnRatio)
	}
	switch c.Storage.Backend {
	case "memory", "badger", "pebble":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	return nil
}
