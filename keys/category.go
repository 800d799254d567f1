// keys/category.go
// Key 分类：用于写集统计、调试输出
package keys

import "strings"

// Category 数据分类
type Category string

const (
	CategoryAccount Category = "account"
	CategoryBalance Category = "balance"
	CategoryModule  Category = "module"
	CategoryConfig  Category = "config"
	CategoryBlock   Category = "block"
	CategoryOther   Category = "other"
)

var categoryPrefixes = []struct {
	prefix string
	cat    Category
}{
	{withVer("account_"), CategoryAccount},
	{withVer("balance_"), CategoryBalance},
	{withVer("module_"), CategoryModule},
	{withVer("config_"), CategoryConfig},
	{withVer("block_"), CategoryBlock},
}

// CategorizeKey 判断 key 属于哪类数据
func CategorizeKey(key string) Category {
	for _, p := range categoryPrefixes {
		if strings.HasPrefix(key, p.prefix) {
			return p.cat
		}
	}
	return CategoryOther
}

// AddressOfAccountKey 从账户 key 中取回地址，不是账户 key 时返回空串
func AddressOfAccountKey(key string) string {
	p := withVer("account_")
	if !strings.HasPrefix(key, p) {
		return ""
	}
	return strings.TrimPrefix(key, p)
}
