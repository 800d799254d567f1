package store

import (
	"errors"
	"fmt"
	"testing"

	"ledger/types"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendFactory struct {
	name string
	open func(t *testing.T) VersionedStore
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) VersionedStore { return NewMemoryStore() }},
		{"badger", func(t *testing.T) VersionedStore {
			s, err := OpenBadgerStore(t.TempDir())
			require.NoError(t, err)
			return s
		}},
		{"pebble", func(t *testing.T) VersionedStore {
			s, err := OpenPebbleStore(t.TempDir())
			require.NoError(t, err)
			return s
		}},
	}
}

func mustWS(t *testing.T, ops ...types.WriteOp) *types.WriteSet {
	t.Helper()
	ws, err := types.NewWriteSetFromOps(ops...)
	require.NoError(t, err)
	return ws
}

func TestVersionedStoreHistory(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			s := bf.open(t)
			defer s.Close()

			key := []byte("key")
			for v := Version(1); v <= 5; v++ {
				sess, err := s.NewSession()
				require.NoError(t, err)
				if v == 4 {
					require.NoError(t, sess.Delete(key, v))
				} else {
					require.NoError(t, sess.Set(key, []byte(fmt.Sprintf("value-%d", v)), v))
				}
				require.NoError(t, sess.Commit())
			}

			_, err := s.Get(key, 0)
			assert.ErrorIs(t, err, ErrNotFound)

			got, err := s.Get(key, 3)
			require.NoError(t, err)
			assert.Equal(t, []byte("value-3"), got)

			_, err = s.Get(key, 4)
			assert.ErrorIs(t, err, ErrNotFound)

			got, err = s.Get(key, 100)
			require.NoError(t, err)
			assert.Equal(t, []byte("value-5"), got)
		})
	}
}

func TestVersionedStorePrefixKeysDoNotLeak(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			s := bf.open(t)
			defer s.Close()

			sess, err := s.NewSession()
			require.NoError(t, err)
			require.NoError(t, sess.Set([]byte("ab"), []byte("long"), 1))
			require.NoError(t, sess.Commit())

			_, err = s.Get([]byte("a"), 1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestVersionedStoreTombstoneLookalike(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			s := bf.open(t)
			defer s.Close()

			sess, err := s.NewSession()
			require.NoError(t, err)
			require.NoError(t, sess.Set([]byte("k"), []byte{0xFF}, 1))
			require.NoError(t, sess.Set([]byte("empty"), []byte{}, 1))
			require.NoError(t, sess.Commit())

			got, err := s.Get([]byte("k"), 1)
			require.NoError(t, err)
			assert.Equal(t, []byte{0xFF}, got)

			got, err = s.Get([]byte("empty"), 1)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestVersionedStoreRollback(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			s := bf.open(t)
			defer s.Close()

			sess, err := s.NewSession()
			require.NoError(t, err)
			require.NoError(t, sess.Set([]byte("k"), []byte("v"), 1))
			require.NoError(t, sess.Rollback())
			assert.ErrorIs(t, sess.Commit(), ErrSessionClosed)

			_, err = s.Get([]byte("k"), 1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestVersionedStorePrune(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			s := bf.open(t)
			defer s.Close()

			write := func(v Version, fn func(VersionedStoreSession) error) {
				sess, err := s.NewSession()
				require.NoError(t, err)
				require.NoError(t, fn(sess))
				require.NoError(t, sess.Commit())
			}
			write(1, func(sess VersionedStoreSession) error { return sess.Set([]byte("a"), []byte("a1"), 1) })
			write(2, func(sess VersionedStoreSession) error { return sess.Set([]byte("a"), []byte("a2"), 2) })
			write(2, func(sess VersionedStoreSession) error { return sess.Set([]byte("gone"), []byte("x"), 2) })
			write(3, func(sess VersionedStoreSession) error { return sess.Delete([]byte("gone"), 3) })
			write(5, func(sess VersionedStoreSession) error { return sess.Set([]byte("a"), []byte("a5"), 5) })

			require.NoError(t, s.Prune(4))

			got, err := s.Get([]byte("a"), 4)
			require.NoError(t, err)
			assert.Equal(t, []byte("a2"), got)
			got, err = s.Get([]byte("a"), 5)
			require.NoError(t, err)
			assert.Equal(t, []byte("a5"), got)
			_, err = s.Get([]byte("gone"), 4)
			assert.ErrorIs(t, err, ErrNotFound)
			// 被裁剪的旧版本已经不可见
			_, err = s.Get([]byte("a"), 1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStateStoreCommitAndViews(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			ss, err := NewStateStore(bf.open(t), 128)
			require.NoError(t, err)
			defer ss.Close()

			assert.Equal(t, Version(0), ss.LatestVersion())
			empty, err := ss.OpenView(0)
			require.NoError(t, err)
			_, ok, err := empty.Get("a")
			require.NoError(t, err)
			assert.False(t, ok)

			v1, root1, err := ss.Commit(0, mustWS(t, types.CreateOp("a", []byte("1")), types.CreateOp("b", []byte("1"))))
			require.NoError(t, err)
			assert.Equal(t, Version(1), v1)
			assert.False(t, root1.IsZero())

			// 两个写集按顺序合并后提交
			v2, root2, err := ss.Commit(1,
				mustWS(t, types.ModifyOp("a", []byte("2"))),
				mustWS(t, types.DeleteOp("b"), types.CreateOp("c", []byte("3"))),
			)
			require.NoError(t, err)
			assert.Equal(t, Version(2), v2)
			assert.NotEqual(t, root1, root2)

			view1, err := ss.OpenView(1)
			require.NoError(t, err)
			val, ok, err := view1.Get("a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("1"), val)

			view2, err := ss.OpenView(2)
			require.NoError(t, err)
			val, _, _ = view2.Get("a")
			assert.Equal(t, []byte("2"), val)
			_, ok, _ = view2.Get("b")
			assert.False(t, ok)
			_, ok, _ = view1.Get("b")
			assert.True(t, ok, "history must stay readable")

			got, err := ss.Root(2)
			require.NoError(t, err)
			assert.Equal(t, root2, got)

			_, err = ss.OpenView(3)
			assert.ErrorIs(t, err, ErrVersionNotFound)
		})
	}
}

func TestStateStoreRejectsStalePrior(t *testing.T) {
	ss, err := NewStateStore(NewMemoryStore(), 0)
	require.NoError(t, err)

	_, _, err = ss.Commit(0, mustWS(t, types.CreateOp("a", []byte("1"))))
	require.NoError(t, err)
	root1, _ := ss.Root(1)

	_, _, err = ss.Commit(0, mustWS(t, types.CreateOp("x", []byte("1"))))
	assert.True(t, errors.Is(err, ErrStaleVersion))
	assert.Equal(t, Version(1), ss.LatestVersion())

	view, _ := ss.OpenView(1)
	_, ok, _ := view.Get("x")
	assert.False(t, ok)
	after, _ := ss.Root(1)
	assert.Equal(t, root1, after)
}

func TestStateStoreRejectsInconsistentWrite(t *testing.T) {
	ss, err := NewStateStore(NewMemoryStore(), 16)
	require.NoError(t, err)
	_, _, err = ss.Commit(0, mustWS(t, types.CreateOp("a", []byte("1"))))
	require.NoError(t, err)

	_, _, err = ss.Commit(1, mustWS(t, types.CreateOp("a", []byte("2"))))
	assert.ErrorIs(t, err, ErrInconsistentWrite)
	_, _, err = ss.Commit(1, mustWS(t, types.ModifyOp("missing", []byte("2"))))
	assert.ErrorIs(t, err, ErrInconsistentWrite)
	assert.Equal(t, Version(1), ss.LatestVersion())
}

func TestStateStoreDeterministicRoot(t *testing.T) {
	build := func() types.Hash {
		ss, err := NewStateStore(NewMemoryStore(), 0)
		require.NoError(t, err)
		_, _, err = ss.Commit(0, mustWS(t, types.CreateOp("b", []byte("2")), types.CreateOp("a", []byte("1"))))
		require.NoError(t, err)
		_, root, err := ss.Commit(1, mustWS(t, types.DeleteOp("a")))
		require.NoError(t, err)
		return root
	}
	assert.Equal(t, build(), build())
}

func TestStateStoreReopen(t *testing.T) {
	dir := t.TempDir()
	backend, err := OpenPebbleStore(dir)
	require.NoError(t, err)
	ss, err := NewStateStore(backend, 16)
	require.NoError(t, err)
	_, root, err := ss.Commit(0, mustWS(t, types.CreateOp("a", []byte("1"))))
	require.NoError(t, err)
	require.NoError(t, ss.Close())

	backend, err = OpenPebbleStore(dir)
	require.NoError(t, err)
	ss, err = NewStateStore(backend, 16)
	require.NoError(t, err)
	defer ss.Close()

	assert.Equal(t, Version(1), ss.LatestVersion())
	got, err := ss.Root(1)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestStateStoreReadCache(t *testing.T) {
	ss, err := NewStateStore(NewMemoryStore(), 16)
	require.NoError(t, err)
	_, _, err = ss.Commit(0, mustWS(t, types.CreateOp("a", []byte("1"))))
	require.NoError(t, err)

	view, _ := ss.OpenView(1)
	for i := 0; i < 3; i++ {
		val, ok, err := view.Get("a")
		require.NoError(t, err)
		require.True(t, ok)
		val[0] = 'x' // 返回副本，改动不影响缓存
	}
	val, _, _ := view.Get("a")
	assert.Equal(t, []byte("1"), val)

	st := ss.CacheStats()
	// 一次是提交时对版本 0 的检查，一次是视图的首次读取
	assert.Equal(t, uint64(2), st.Misses)
	assert.Equal(t, uint64(3), st.Hits)
}

func TestBadgerStoreOnSharedDB(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	st, err := NewStateStore(NewBadgerStore(db), 16)
	require.NoError(t, err)
	v, _, err := st.Commit(0, mustWS(t, types.CreateOp("k", []byte("v"))))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// 共享的 DB 不随存储关闭
	again, err := NewStateStore(NewBadgerStore(db), 16)
	require.NoError(t, err)
	assert.Equal(t, v, again.LatestVersion())
	view, err := again.OpenView(v)
	require.NoError(t, err)
	got, ok, err := view.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}
