package core

import (
	"errors"
	"sync"
)

// In-memory TransactionSource. Mirrors the snapshot and single-writer
// semantics of the memory-mapped store so that the trie and global state
// layers can be exercised without touching disk.

type memStore struct {
	mu   sync.Mutex
	data [3]map[string][]byte
}

// NewInMemoryTransactionSource builds an empty in-memory store with the
// standard three sub-databases.
func NewInMemoryTransactionSource() TransactionSource {
	s := &memStore{}
	for i := range s.data {
		s.data[i] = make(map[string][]byte)
	}
	return s
}

func (s *memStore) BeginRead() (ReadTransaction, error) {
	s.mu.Lock()
	// Snapshot by reference: committed maps are copy-on-write below, so a
	// reader keeps observing the maps it started with.
	snap := s.data
	s.mu.Unlock()
	return &memReadTxn{data: snap}, nil
}

func (s *memStore) BeginReadWrite() (ReadWriteTransaction, error) {
	s.mu.Lock()
	return &memWriteTxn{store: s, pending: [3]map[string][]byte{
		make(map[string][]byte),
		make(map[string][]byte),
		make(map[string][]byte),
	}}, nil
}

func (s *memStore) GrowMapSize() error { return nil }

func (s *memStore) Close() error { return nil }

type memReadTxn struct {
	data [3]map[string][]byte
	done bool
}

func (t *memReadTxn) Get(db SubDB, key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, errors.New("transaction finished")
	}
	v, ok := t.data[db][string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *memReadTxn) Commit() error { t.done = true; return nil }

func (t *memReadTxn) Abort() { t.done = true }

type memWriteTxn struct {
	store   *memStore
	pending [3]map[string][]byte
	done    bool
}

func (t *memWriteTxn) Get(db SubDB, key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, errors.New("transaction finished")
	}
	if v, ok := t.pending[db][string(key)]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, true, nil
	}
	v, ok := t.store.data[db][string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *memWriteTxn) Put(db SubDB, key, value []byte) error {
	if t.done {
		return errors.New("transaction finished")
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.pending[db][string(key)] = v
	return nil
}

func (t *memWriteTxn) Commit() error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.done = true
	// Copy-on-write publish: readers holding the old maps are unaffected.
	for i := range t.pending {
		if len(t.pending[i]) == 0 {
			continue
		}
		next := make(map[string][]byte, len(t.store.data[i])+len(t.pending[i]))
		for k, v := range t.store.data[i] {
			next[k] = v
		}
		for k, v := range t.pending[i] {
			next[k] = v
		}
		t.store.data[i] = next
	}
	t.store.mu.Unlock()
	return nil
}

func (t *memWriteTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.Unlock()
}
