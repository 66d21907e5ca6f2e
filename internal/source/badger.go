package source

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

var _ Dataset = (*Badger)(nil)

// Badger 以 BadgerDB 保存的來源資料集
//
// 鍵格式: {table}/{key}；資料表名稱不含 '/'，因此前綴互不重疊。
type Badger struct {
	db *badger.DB
}

// BadgerConfig BadgerDB 設定
type BadgerConfig struct {
	Dir      string // 資料目錄；InMemory 時忽略
	InMemory bool
}

// OpenBadger 開啟或建立 BadgerDB 資料集
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.NumVersionsToKeep = 1
	// 讀取後立即刪除，每次刪除都必須落盤
	opts.SyncWrites = !cfg.InMemory

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Dir, err)
	}
	slog.Default().Info("Source dataset opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return &Badger{db: db}, nil
}

func tableKey(table, key string) []byte {
	return []byte(table + "/" + key)
}

func tablePrefix(table string) []byte {
	return []byte(table + "/")
}

func (b *Badger) Next(table string, after *string) (Entry, bool, error) {
	if err := validTable(table); err != nil {
		return Entry{}, false, err
	}

	var (
		entry Entry
		found bool
	)
	prefix := tablePrefix(table)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 1
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if after != nil {
			seek = tableKey(table, *after)
		}
		it.Seek(seek)
		if after != nil && it.Valid() && string(it.Item().Key()) == string(seek) {
			it.Next()
		}
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry = Entry{Key: string(item.Key()[len(prefix):]), Value: val}
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read next %s entry: %w", table, err)
	}
	return entry, found, nil
}

func (b *Badger) Get(table, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tableKey(table, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (b *Badger) Put(table, key string, value []byte) error {
	if err := validTable(table); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tableKey(table, key), value)
	})
}

func (b *Badger) Delete(table, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tableKey(table, key))
	})
}

func (b *Badger) Count(table string) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tablePrefix(table)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *Badger) Scan(table string, fn func(Entry) error) error {
	prefix := tablePrefix(table)
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", item.Key(), err)
			}
			if err := fn(Entry{Key: string(item.Key()[len(prefix):]), Value: val}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}
