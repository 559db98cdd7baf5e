package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"spos/internal/syncjob"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func getRecord(txn *badger.Txn, id string) (Record, bool, error) {
	item, err := txn.Get([]byte(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func setRecord(txn *badger.Txn, key string, rec Record) error {
	bytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), bytes)
}

func (b *BadgerStore) Put(job syncjob.Job) (bool, error) {
	var created bool
	err := b.db.Update(func(txn *badger.Txn) error {
		_, ok, err := getRecord(txn, job.ID)
		if err != nil || ok {
			return err
		}
		created = true
		return setRecord(txn, job.ID, newRecord(job))
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (b *BadgerStore) Apply(id string, status Status, seq int64, errMsg string) (bool, Record, error) {
	var applied bool
	var out Record
	err := b.db.Update(func(txn *badger.Txn) error {
		cur, ok, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("apply %s: %w", id, ErrNotFound)
		}
		out, applied = transition(cur, status, seq, errMsg)
		if !applied {
			return nil
		}
		return setRecord(txn, id, out)
	})
	if err != nil {
		return false, Record{}, err
	}
	return applied, out, nil
}

func (b *BadgerStore) Get(id string) (Record, bool) {
	var rec Record
	var ok bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, ok, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return Record{}, false
	}
	return rec, ok
}

func (b *BadgerStore) Range(fn func(id string, rec Record) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if err := fn(string(k), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll loads a full snapshot into Badger by replacing all keys.
func (b *BadgerStore) LoadAll(all map[string]Record) {
	_ = b.db.Update(func(txn *badger.Txn) error {
		// Collect keys first to avoid mutating while iterating.
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var keysToDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keysToDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for k, rec := range all {
			if err := setRecord(txn, k, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
