package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"spos/internal/syncjob"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	mu sync.Mutex // serializes read-modify-write in Put/Apply
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          16 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func encodeRecord(rec Record) ([]byte, error) { return json.Marshal(rec) }
func decodeRecord(val []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (p *PebbleStore) read(id string) (Record, bool, error) {
	v, closer, err := p.db.Get([]byte(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	defer closer.Close()
	rec, err := decodeRecord(v)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (p *PebbleStore) write(rec Record) error {
	bytes, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return p.db.Set([]byte(rec.Job.ID), bytes, pebble.Sync)
}

func (p *PebbleStore) Put(job syncjob.Job) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok, err := p.read(job.ID)
	if err != nil || ok {
		return false, err
	}
	if err := p.write(newRecord(job)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PebbleStore) Apply(id string, status Status, seq int64, errMsg string) (bool, Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok, err := p.read(id)
	if err != nil {
		return false, Record{}, err
	}
	if !ok {
		return false, Record{}, fmt.Errorf("apply %s: %w", id, ErrNotFound)
	}
	next, applied := transition(cur, status, seq, errMsg)
	if !applied {
		return false, cur, nil
	}
	if err := p.write(next); err != nil {
		return false, Record{}, err
	}
	return true, next, nil
}

func (p *PebbleStore) Get(id string) (Record, bool) {
	rec, ok, err := p.read(id)
	if err != nil {
		return Record{}, false
	}
	return rec, ok
}

func (p *PebbleStore) Range(fn func(id string, rec Record) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if err := fn(string(k), rec); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll loads a full snapshot into Pebble by replacing all keys.
func (p *PebbleStore) LoadAll(all map[string]Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var toDelete [][]byte
	if it, err := p.db.NewIter(nil); err == nil {
		for it.First(); it.Valid(); it.Next() {
			toDelete = append(toDelete, append([]byte(nil), it.Key()...))
		}
		it.Close()
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	for _, k := range toDelete {
		_ = wb.Delete(k, nil)
	}
	for k, rec := range all {
		bytes, err := encodeRecord(rec)
		if err != nil {
			continue
		}
		_ = wb.Set([]byte(k), bytes, nil)
	}
	_ = wb.Commit(pebble.Sync)
}
