package core

import "errors"

// L1: a key to bytes store with snapshot-isolated read and read-write
// transactions over a fixed-size memory map. Writers may hit the map ceiling
// at any point; every caller drives operations through the resize-retry
// protocol below.

var (
	// ErrMapFull: the memory map ran out of space. Abort, grow, retry.
	ErrMapFull = errors.New("store map full")
	// ErrMapResized: another process grew the map. The retry loops grow the
	// map again and retry.
	ErrMapResized = errors.New("store map resized")
)

// SubDB addresses one logical database inside the store. Transactions span
// sub-databases atomically.
type SubDB uint8

const (
	// SubDBTrie holds blake2b(node bytes) -> node bytes.
	SubDBTrie SubDB = iota
	// SubDBProtocolData holds protocol version -> protocol data.
	SubDBProtocolData
	// SubDBMeta holds internal store metadata.
	SubDBMeta
)

// ReadTransaction is a snapshot-isolated read handle. A reader never
// observes a partial writer.
type ReadTransaction interface {
	// Get returns the stored bytes, or ok=false when the key is absent.
	Get(db SubDB, key []byte) (value []byte, ok bool, err error)
	Commit() error
	Abort()
}

// ReadWriteTransaction extends a read handle with writes. At most one is
// active at a time.
type ReadWriteTransaction interface {
	ReadTransaction
	Put(db SubDB, key, value []byte) error
}

// TransactionSource hands out transactions and owns the map geometry.
type TransactionSource interface {
	BeginRead() (ReadTransaction, error)
	BeginReadWrite() (ReadWriteTransaction, error)
	// GrowMapSize doubles the memory map. Growth factor 2 is part of the
	// protocol, not a tunable.
	GrowMapSize() error
	Close() error
}

// withReadWriteRetry runs body inside a read-write transaction, retrying
// after GrowMapSize on both ErrMapFull and ErrMapResized. ErrMapResized does
// not re-read the map size from the store: it doubles the size this source
// last set.
// This loop is the only sanctioned way to write: it is what lets the store
// grow under live traffic without downtime.
func withReadWriteRetry(source TransactionSource, body func(ReadWriteTransaction) error) error {
	for {
		txn, err := source.BeginReadWrite()
		if errors.Is(err, ErrMapResized) {
			if growErr := source.GrowMapSize(); growErr != nil {
				return growErr
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := body(txn); err != nil {
			txn.Abort()
			if errors.Is(err, ErrMapFull) || errors.Is(err, ErrMapResized) {
				if growErr := source.GrowMapSize(); growErr != nil {
					return growErr
				}
				continue
			}
			return err
		}
		err = txn.Commit()
		if errors.Is(err, ErrMapFull) || errors.Is(err, ErrMapResized) {
			if growErr := source.GrowMapSize(); growErr != nil {
				return growErr
			}
			continue
		}
		return err
	}
}

// withReadRetry runs body inside a read transaction with the same retry
// discipline; read commits can observe a concurrent resize.
func withReadRetry(source TransactionSource, body func(ReadTransaction) error) error {
	for {
		txn, err := source.BeginRead()
		if errors.Is(err, ErrMapResized) {
			if growErr := source.GrowMapSize(); growErr != nil {
				return growErr
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := body(txn); err != nil {
			txn.Abort()
			if errors.Is(err, ErrMapResized) {
				if growErr := source.GrowMapSize(); growErr != nil {
					return growErr
				}
				continue
			}
			return err
		}
		err = txn.Commit()
		if errors.Is(err, ErrMapResized) {
			if growErr := source.GrowMapSize(); growErr != nil {
				return growErr
			}
			continue
		}
		return err
	}
}
