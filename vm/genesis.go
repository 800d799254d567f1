package vm

import (
	"fmt"

	"ledger/config"
	"ledger/keys"
	"ledger/types"
)

// GenesisAccount 创世账户
type GenesisAccount struct {
	Address        types.Address `json:"address"`
	SequenceNumber uint64        `json:"sequence_number"`
	Balance        string        `json:"balance"` // 原生币，十进制整数
}

// GenesisConfig 创世区块描述
type GenesisConfig struct {
	ID        string              `json:"id"`
	Timestamp uint64              `json:"timestamp"`
	VM        *config.VMConfig    `json:"vm,omitempty"`  // 为空时使用执行器配置
	Gas       *config.GasSchedule `json:"gas,omitempty"` // 为空时使用执行器配置
	Accounts  []GenesisAccount    `json:"accounts"`

	// Modules 在 0x1 下发布的模块，为空时发布全部内置模块
	Modules []*types.Module `json:"-"`

	// Txs 引导写集之后执行的创世交易
	Txs []*types.Transaction `json:"txs,omitempty"`
}

// Meta 创世区块元数据，高度为 0，没有出块者
func (g *GenesisConfig) Meta() types.BlockMetadata {
	id := g.ID
	if id == "" {
		id = "genesis"
	}
	return types.BlockMetadata{ID: id, Height: 0, Timestamp: g.Timestamp}
}

// Params 创世写入链上的参数
func (g *GenesisConfig) Params(cfg *config.Config) *ChainParams {
	p := ParamsFromConfig(cfg)
	if g.VM != nil {
		p.ChainID = g.VM.ChainID
		p.MinGasAmount = g.VM.MinGasAmount
		p.MaxGasAmount = g.VM.MaxGasAmount
		p.FeeBurnRatio = g.VM.FeeBurnRatio
	}
	if g.Gas != nil {
		p.Gas = *g.Gas
	}
	return p
}

// WriteSet 创世引导写集：链上配置、0x1 模块、初始账户与余额
func (g *GenesisConfig) WriteSet(cfg *config.Config) (*types.WriteSet, error) {
	params := g.Params(cfg)
	if params.MinGasAmount > params.MaxGasAmount {
		return nil, fmt.Errorf("genesis: min gas amount %d exceeds max %d", params.MinGasAmount, params.MaxGasAmount)
	}

	ws := types.NewWriteSet()
	if err := ws.Insert(types.CreateOp(keys.KeyVMConfig(), params.Encode())); err != nil {
		return nil, err
	}

	mods := g.Modules
	if mods == nil {
		mods = BuiltinRegistry().Modules(types.CoreAddress)
	}
	for _, m := range mods {
		if err := ws.Insert(types.CreateOp(keys.KeyModule(string(types.CoreAddress), m.Name), m.Encode())); err != nil {
			return nil, fmt.Errorf("genesis module %s: %w", m.Name, err)
		}
	}

	accounts := g.Accounts
	if !hasAccount(accounts, types.CoreAddress) {
		accounts = append([]GenesisAccount{{Address: types.CoreAddress, Balance: "0"}}, accounts...)
	}
	for _, a := range accounts {
		if a.Address == "" {
			return nil, fmt.Errorf("genesis: empty account address")
		}
		raw := a.Balance
		if raw == "" {
			raw = "0"
		}
		bal, err := parseAmount("balance", raw)
		if err != nil {
			return nil, fmt.Errorf("genesis account %s: %w", a.Address, err)
		}
		acc := &types.AccountResource{SequenceNumber: a.SequenceNumber}
		if err := ws.Insert(types.CreateOp(keys.KeyAccount(string(a.Address)), acc.Encode())); err != nil {
			return nil, fmt.Errorf("genesis account %s: %w", a.Address, err)
		}
		if err := ws.Insert(types.CreateOp(keys.KeyBalance(string(a.Address), keys.NativeToken), types.EncodeBalance(bal))); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

func hasAccount(accounts []GenesisAccount, addr types.Address) bool {
	for _, a := range accounts {
		if a.Address == addr {
			return true
		}
	}
	return false
}
