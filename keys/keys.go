// keys/keys.go
// 统一的 Key 定义包，供 VM、状态存储和 CLI 共同使用
package keys

import (
	"fmt"
	"strings"
)

// ===================== 版本控制 =====================
// 全局 Key 版本前缀（例如 "v1" → 产出 "v1_<key>"）。
const KeyVersion = "v1"

// withVer 把版本号拼到最前面（保持下划线风格：v1_<...>）
func withVer(s string) string {
	if KeyVersion == "" {
		return s
	}
	return KeyVersion + "_" + s
}

// StripVersion 把带版本的键去掉版本前缀
func StripVersion(prefixed string) string {
	if KeyVersion == "" {
		return prefixed
	}
	return strings.TrimPrefix(prefixed, KeyVersion+"_")
}

// NativeToken 手续费使用的原生代币
const NativeToken = "LDG"

// ===================== 账户相关 =====================

// KeyAccount 账户资源（序列号、认证信息）
// 例：v1_account_<addr>
func KeyAccount(addr string) string {
	return withVer("account_" + addr)
}

// KeyBalance 账户某个代币的余额，与账户资源分开存放
// 例：v1_balance_<addr>_<token>
func KeyBalance(addr, token string) string {
	return withVer(fmt.Sprintf("balance_%s_%s", addr, token))
}

// ===================== 模块 =====================

// KeyModule 已发布模块
// 例：v1_module_0x1::coin
func KeyModule(addr, name string) string {
	return withVer(fmt.Sprintf("module_%s::%s", addr, name))
}

// ===================== 链上配置 / 区块信息 =====================

// KeyVMConfig 创世写入的链上 VM 配置
func KeyVMConfig() string {
	return withVer("config_vm")
}

// KeyBlockInfo 最近一个区块的元数据（高度、时间戳、出块者）
func KeyBlockInfo() string {
	return withVer("block_info")
}
