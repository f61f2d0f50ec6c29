package core

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/sirupsen/logrus"
)

// Memory-mapped TransactionSource backed by MDBX. The map starts at a
// page-size multiple and doubles on every MapFull, so long-running growth
// never requires downtime — callers just retry through the §4.1 protocol.

// DefaultInitialMapSize is the starting map geometry: a power-of-two
// multiple of the common 4 KiB page.
const DefaultInitialMapSize = 4 * 1024 * 1024

var subDBNames = [3]string{"trie", "protocol_data", "meta"}

type mdbxStore struct {
	env     *mdbx.Env
	dbis    [3]mdbx.DBI
	logger  *logrus.Logger
	mu      sync.Mutex // guards mapSize
	mapSize int
}

// NewMdbxTransactionSource opens (or creates) the store at path with the
// given initial map size.
func NewMdbxTransactionSource(path string, mapSize int, logger *logrus.Logger) (TransactionSource, error) {
	if mapSize <= 0 {
		mapSize = DefaultInitialMapSize
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	env, err := mdbx.NewEnv(mdbx.Default)
	if err != nil {
		return nil, fmt.Errorf("create mdbx env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(subDBNames))); err != nil {
		env.Close()
		return nil, fmt.Errorf("set max dbs: %w", err)
	}
	if err := env.SetGeometry(-1, -1, mapSize, -1, -1, -1); err != nil {
		env.Close()
		return nil, fmt.Errorf("set geometry: %w", err)
	}
	if err := env.Open(path, mdbx.EnvDefaults, 0o644); err != nil {
		env.Close()
		return nil, fmt.Errorf("open mdbx env: %w", err)
	}
	s := &mdbxStore{env: env, logger: logger, mapSize: mapSize}
	if err := env.Update(func(txn *mdbx.Txn) error {
		for i, name := range subDBNames {
			dbi, err := txn.OpenDBISimple(name, mdbx.Create)
			if err != nil {
				return err
			}
			s.dbis[i] = dbi
		}
		return nil
	}); err != nil {
		env.Close()
		return nil, fmt.Errorf("open sub-databases: %w", err)
	}
	logger.Infof("store: opened %s map_size=%d", path, mapSize)
	return s, nil
}

// mapStoreErr translates MDBX errors into the store's sentinel errors so
// that callers retry uniformly across backends.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if mdbx.IsMapFull(err) {
		return ErrMapFull
	}
	// mdbx.IsMapResized is not exposed by this binding (MDBX_MAP_RESIZED is
	// deprecated in favor of MDBX_UNABLE_EXTEND_MAPSIZE, errno -30785), so
	// check the errno directly via the exported primitives.
	if mdbx.IsErrno(err, mdbx.Errno(-30785)) {
		return ErrMapResized
	}
	return err
}

func (s *mdbxStore) BeginRead() (ReadTransaction, error) {
	txn, err := s.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &mdbxTxn{store: s, txn: txn}, nil
}

func (s *mdbxStore) BeginReadWrite() (ReadWriteTransaction, error) {
	// Write transactions are pinned to an OS thread for their lifetime.
	runtime.LockOSThread()
	txn, err := s.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, mapStoreErr(err)
	}
	return &mdbxTxn{store: s, txn: txn, write: true}, nil
}

func (s *mdbxStore) GrowMapSize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.mapSize * 2
	if err := s.env.SetGeometry(-1, -1, next, -1, -1, -1); err != nil {
		return fmt.Errorf("grow map to %d: %w", next, err)
	}
	s.logger.Warnf("store: map grown %d -> %d", s.mapSize, next)
	s.mapSize = next
	return nil
}

func (s *mdbxStore) Close() error {
	s.env.Close()
	return nil
}

type mdbxTxn struct {
	store *mdbxStore
	txn   *mdbx.Txn
	write bool
	done  bool
}

func (t *mdbxTxn) Get(db SubDB, key []byte) ([]byte, bool, error) {
	v, err := t.txn.Get(t.store.dbis[db], key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, mapStoreErr(err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *mdbxTxn) Put(db SubDB, key, value []byte) error {
	return mapStoreErr(t.txn.Put(t.store.dbis[db], key, value, 0))
}

func (t *mdbxTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.txn.Commit()
	if t.write {
		runtime.UnlockOSThread()
	}
	return mapStoreErr(err)
}

func (t *mdbxTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Abort()
	if t.write {
		runtime.UnlockOSThread()
	}
}
