// execution/query.go
package execution

import (
	"github.com/holiman/uint256"

	"ledger/keys"
	"ledger/store"
	"ledger/types"
	"ledger/vm"
)

// LatestVersion 最新已提交版本
func (c *Chain) LatestVersion() store.Version {
	return c.storage.LatestVersion()
}

// Root 某个版本的根承诺
func (c *Chain) Root(v store.Version) (types.Hash, error) {
	return c.storage.Root(v)
}

// View 最新版本上的只读视图
func (c *Chain) View() (*store.View, error) {
	return c.storage.OpenView(c.storage.LatestVersion())
}

// Balance 查询最新状态上的余额，token 为空时查询原生币
func (c *Chain) Balance(addr types.Address, token string) (*uint256.Int, error) {
	if token == "" {
		token = keys.NativeToken
	}
	view, err := c.View()
	if err != nil {
		return nil, err
	}
	return vm.GetBalance(view, addr, token)
}

// Account 查询最新状态上的账户资源
func (c *Chain) Account(addr types.Address) (*types.AccountResource, error) {
	view, err := c.View()
	if err != nil {
		return nil, err
	}
	acc, ok, err := vm.GetAccount(view, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}
