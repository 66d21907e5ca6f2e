package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datasets(t *testing.T) map[string]Dataset {
	t.Helper()

	disk, err := OpenBadger(BadgerConfig{Dir: filepath.Join(t.TempDir(), "source")})
	require.NoError(t, err)
	mem, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		disk.Close()
		mem.Close()
	})

	return map[string]Dataset{
		"memory":          NewMemory(),
		"badger":          disk,
		"badger-inmemory": mem,
	}
}

// TestNextOrdering 確認走訪順序為鍵的位元組遞增順序，且 after 為嚴格大於
func TestNextOrdering(t *testing.T) {
	for name, ds := range datasets(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"c", "a", "b/2", "b", "b/1"} {
				require.NoError(t, ds.Put(TableAccounts, k, []byte(k)))
			}
			// 其他資料表不應出現在走訪中
			require.NoError(t, ds.Put(TableMultisigs, "a", []byte("other")))

			var seen []string
			var after *string
			for i := 0; i < 10; i++ {
				e, ok, err := ds.Next(TableAccounts, after)
				require.NoError(t, err)
				if !ok {
					break
				}
				assert.Equal(t, e.Key, string(e.Value))
				seen = append(seen, e.Key)
				k := e.Key
				after = &k
			}
			assert.Equal(t, []string{"a", "b", "b/1", "b/2", "c"}, seen)

			// after 指向不存在的鍵
			missing := "b/15"
			e, ok, err := ds.Next(TableAccounts, &missing)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "b/2", e.Key)

			n, err := ds.Count(TableAccounts)
			require.NoError(t, err)
			assert.Equal(t, 5, n)
		})
	}
}

func TestDeleteAndGet(t *testing.T) {
	for name, ds := range datasets(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, PutJSON(ds, TableAccounts, "alice", AccountRecord{Free: 10, Nonce: 1}))
			require.NoError(t, PutJSON(ds, TableAccounts, "bob", AccountRecord{Free: 20}))

			raw, err := ds.Get(TableAccounts, "alice")
			require.NoError(t, err)
			var rec AccountRecord
			require.NoError(t, DecodeJSON(Entry{Key: "alice", Value: raw}, &rec))
			assert.Equal(t, uint64(10), rec.Free)

			require.NoError(t, ds.Delete(TableAccounts, "alice"))
			_, err = ds.Get(TableAccounts, "alice")
			assert.True(t, errors.Is(err, ErrNotFound))

			// 重複刪除不是錯誤
			require.NoError(t, ds.Delete(TableAccounts, "alice"))

			e, ok, err := ds.Next(TableAccounts, nil)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "bob", e.Key)

			var keys []string
			require.NoError(t, ds.Scan(TableAccounts, func(e Entry) error {
				keys = append(keys, e.Key)
				return nil
			}))
			assert.Equal(t, []string{"bob"}, keys)

			empty, ok, err := ds.Next(TableVesting, nil)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, empty.Key)
		})
	}
}

func TestInvalidTable(t *testing.T) {
	ds := NewMemory()
	assert.ErrorIs(t, ds.Put("a/b", "k", nil), ErrInvalidTable)
	_, _, err := ds.Next("", nil)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestScanStopsOnError(t *testing.T) {
	ds := NewMemory()
	for i := 0; i < 5; i++ {
		require.NoError(t, ds.Put(TableVesting, fmt.Sprintf("k%d", i), nil))
	}
	stop := errors.New("stop")
	visited := 0
	err := ds.Scan(TableVesting, func(Entry) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, visited)
}
