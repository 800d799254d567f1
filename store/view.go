package store

// View 某个已提交版本上的只读状态视图
// 不可变，可以被多个 goroutine 同时读取
type View struct {
	store   *StateStore
	version Version
}

// Get 读取 key，返回值的副本
func (v *View) Get(key string) ([]byte, bool, error) {
	val, ok, err := v.store.read(v.version, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return append([]byte(nil), val...), true, nil
}
