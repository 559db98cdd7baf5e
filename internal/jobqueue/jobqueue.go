package jobqueue

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"spos/internal/syncjob"
)

// Status is the delivery state of a queued job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var ErrNotFound = errors.New("jobqueue: job not found")

// Record is the queue entry for one job.
type Record struct {
	Job       syncjob.Job `json:"job"`
	Status    Status      `json:"status"`
	Attempts  int         `json:"attempts"`
	LastSeq   int64       `json:"lastSeq"`
	LastError string      `json:"lastError,omitempty"`
}

// Deliverable reports whether the relay should (re)try the record.
func (r Record) Deliverable() bool {
	return r.Status == StatusPending || r.Status == StatusFailed
}

// Store abstracts the queue backend.
//
// Apply transitions a record to status. seq is the caller's transition
// counter for that record: a seq not greater than the record's LastSeq is a
// replay and is skipped without error. Entering processing counts an attempt.
type Store interface {
	Put(job syncjob.Job) (created bool, err error)
	Apply(id string, status Status, seq int64, errMsg string) (applied bool, rec Record, err error)
	Get(id string) (Record, bool)
	Range(fn func(id string, rec Record) error) error
	LoadAll(all map[string]Record)
}

func newRecord(job syncjob.Job) Record {
	return Record{Job: job, Status: StatusPending}
}

// transition is the backend-independent part of Apply.
func transition(cur Record, status Status, seq int64, errMsg string) (Record, bool) {
	if seq <= cur.LastSeq {
		return cur, false
	}
	if status == StatusProcessing {
		cur.Attempts++
	}
	cur.Status = status
	cur.LastSeq = seq
	if status == StatusFailed {
		cur.LastError = errMsg
	} else if status == StatusCompleted {
		cur.LastError = ""
	}
	return cur, true
}

// Deliverable returns pending and failed records ordered by job sequence.
// Equal sequences fall back to creation time, then id.
func Deliverable(s Store) ([]Record, error) {
	var out []Record
	err := s.Range(func(_ string, rec Record) error {
		if rec.Deliverable() {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Job, out[j].Job
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Counts tallies records per status.
func Counts(s Store) (map[Status]int, error) {
	out := make(map[Status]int)
	err := s.Range(func(_ string, rec Record) error {
		out[rec.Status]++
		return nil
	})
	return out, err
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Record)}
}

// LoadAll replaces the store contents with the provided snapshot.
func (s *InMemoryStore) LoadAll(all map[string]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Record, len(all))
	for k, v := range all {
		s.data[k] = v
	}
}

func (s *InMemoryStore) Put(job syncjob.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[job.ID]; ok {
		return false, nil
	}
	s.data[job.ID] = newRecord(job)
	return true, nil
}

func (s *InMemoryStore) Apply(id string, status Status, seq int64, errMsg string) (bool, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[id]
	if !ok {
		return false, Record{}, fmt.Errorf("apply %s: %w", id, ErrNotFound)
	}
	next, applied := transition(cur, status, seq, errMsg)
	if applied {
		s.data[id] = next
	}
	return applied, next, nil
}

func (s *InMemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	return rec, ok
}

func (s *InMemoryStore) Range(fn func(id string, rec Record) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if err := fn(k, v); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}
