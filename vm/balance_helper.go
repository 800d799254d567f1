package vm

import (
	"fmt"

	"github.com/holiman/uint256"

	"ledger/keys"
	"ledger/types"
)

// ============================================
// 账户与余额读写辅助函数
// 余额分离存储：v1_balance_{address}_{token}
// ============================================

// loadAccount 读取账户资源
func loadAccount(view StateView, addr types.Address) (*types.AccountResource, bool, error) {
	data, ok, err := view.Get(keys.KeyAccount(string(addr)))
	if err != nil || !ok {
		return nil, ok, err
	}
	acc, err := types.DecodeAccountResource(data)
	if err != nil {
		return nil, false, fmt.Errorf("account %s: %w", addr, err)
	}
	return acc, true, nil
}

func storeAccount(sv MutableStateView, addr types.Address, acc *types.AccountResource) {
	sv.Set(keys.KeyAccount(string(addr)), acc.Encode())
}

// loadBalance 读取余额，不存在时为零
func loadBalance(view StateView, addr types.Address, token string) (*uint256.Int, error) {
	data, ok, err := view.Get(keys.KeyBalance(string(addr), token))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	bal, err := types.DecodeBalance(data)
	if err != nil {
		return nil, fmt.Errorf("balance %s/%s: %w", addr, token, err)
	}
	return bal, nil
}

func storeBalance(sv MutableStateView, addr types.Address, token string, bal *uint256.Int) {
	sv.Set(keys.KeyBalance(string(addr), token), types.EncodeBalance(bal))
}

// GetAccount 读取账户（对外查询用）
func GetAccount(view StateView, addr types.Address) (*types.AccountResource, bool, error) {
	return loadAccount(view, addr)
}

// GetBalance 读取余额（对外查询用），不存在时为零
func GetBalance(view StateView, addr types.Address, token string) (*uint256.Int, error) {
	return loadBalance(view, addr, token)
}
