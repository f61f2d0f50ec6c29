package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// L3 facade: checkout a historical root into a reader, commit an effects map
// into a new root, and persist the protocol data side table.

// CorrelationId threads one engine request through logs and traces.
type CorrelationId struct {
	id uuid.UUID
}

func NewCorrelationId() CorrelationId { return CorrelationId{id: uuid.New()} }

func (c CorrelationId) String() string { return c.id.String() }

// StateReader is a read-only view of global state at one root.
type StateReader interface {
	// Read returns the value at key, or ok=false when absent.
	Read(key Key) (Value, bool, error)
	// Root is the state root this reader observes.
	Root() Blake2bHash
}

type CommitResultTag uint8

const (
	CommitResultSuccess CommitResultTag = iota
	CommitResultRootNotFound
	CommitResultKeyNotFound
	CommitResultTypeMismatch
	CommitResultOverflow
)

// CommitResult reports the outcome of applying an effects map.
type CommitResult struct {
	Tag              CommitResultTag
	NewRoot          Blake2bHash
	BondedValidators map[PublicKey]BigUint
	Key              Key          // KeyNotFound
	Mismatch         TypeMismatch // TypeMismatch
}

// StateProvider is the facade the execution engine drives.
type StateProvider interface {
	// Checkout returns a reader at root, or ok=false when the root is
	// unknown.
	Checkout(root Blake2bHash) (StateReader, bool, error)
	// Commit applies effects on top of prestateRoot and returns the new
	// root. Key iteration is in ascending canonical-encoding order; this is
	// a consensus contract, not an implementation detail.
	Commit(correlationID CorrelationId, prestateRoot Blake2bHash, effects map[Key]Transform) (CommitResult, error)
	PutProtocolData(version ProtocolVersion, data ProtocolData) error
	GetProtocolData(version ProtocolVersion) (ProtocolData, bool, error)
	EmptyRoot() Blake2bHash
}

//---------------------------------------------------------------------
// Trie-backed implementation (works over any TransactionSource)
//---------------------------------------------------------------------

type TrieGlobalState struct {
	source    TransactionSource
	emptyRoot Blake2bHash
	logger    *logrus.Logger
}

// NewGlobalState initializes a global state over a transaction source,
// seeding the canonical empty root node.
func NewGlobalState(source TransactionSource, logger *logrus.Logger) (*TrieGlobalState, error) {
	emptyHash, emptyNode := EmptyTrieRoot()
	err := withReadWriteRetry(source, func(txn ReadWriteTransaction) error {
		_, err := PutTrieNode(txn, emptyNode)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("seed empty root: %w", err)
	}
	logger.Debugf("global state: empty root %s", emptyHash)
	return &TrieGlobalState{source: source, emptyRoot: emptyHash, logger: logger}, nil
}

func (g *TrieGlobalState) EmptyRoot() Blake2bHash { return g.emptyRoot }

// trieReader reads one root through retried read transactions.
type trieReader struct {
	source TransactionSource
	root   Blake2bHash
}

func (r *trieReader) Root() Blake2bHash { return r.root }

func (r *trieReader) Read(key Key) (Value, bool, error) {
	var out Value
	var found bool
	err := withReadRetry(r.source, func(txn ReadTransaction) error {
		res, err := ReadTrie(txn, r.root, key.ToBytes())
		if err != nil {
			return err
		}
		switch res.Tag {
		case ReadResultFound:
			v, err := ValueFromBytes(res.Value)
			if err != nil {
				return fmt.Errorf("%w: value under %s", ErrCorruptTrieNode, key)
			}
			out, found = v, true
		case ReadResultRootNotFound:
			return fmt.Errorf("reader root vanished: %s", r.root)
		}
		return nil
	})
	return out, found, err
}

func (g *TrieGlobalState) Checkout(root Blake2bHash) (StateReader, bool, error) {
	var known bool
	err := withReadRetry(g.source, func(txn ReadTransaction) error {
		_, ok, err := GetTrieNode(txn, root)
		known = ok
		return err
	})
	if err != nil || !known {
		return nil, false, err
	}
	return &trieReader{source: g.source, root: root}, true, nil
}

// errCommitHalted carries a non-success CommitResult out of the transaction
// body so the enclosing write aborts instead of committing half a batch.
var errCommitHalted = errors.New("commit halted")

func (g *TrieGlobalState) Commit(correlationID CorrelationId, prestateRoot Blake2bHash, effects map[Key]Transform) (CommitResult, error) {
	var result CommitResult
	eff := ExecutionEffect{Transforms: effects}
	err := withReadWriteRetry(g.source, func(txn ReadWriteTransaction) error {
		root := prestateRoot
		if _, ok, err := GetTrieNode(txn, root); err != nil {
			return err
		} else if !ok {
			result = CommitResult{Tag: CommitResultRootNotFound}
			return errCommitHalted
		}
		for _, key := range eff.sortedTransformKeys() {
			transform := effects[key]
			keyBytes := key.ToBytes()

			read, err := ReadTrie(txn, root, keyBytes)
			if err != nil {
				return err
			}

			var next Value
			if read.Tag == ReadResultFound {
				current, err := ValueFromBytes(read.Value)
				if err != nil {
					return fmt.Errorf("%w: value under %s", ErrCorruptTrieNode, key)
				}
				next, err = transform.Apply(current)
				if err != nil {
					result = commitFailure(key, err)
					return errCommitHalted
				}
			} else if transform.Tag == TransformTagWrite {
				next = transform.Value
			} else {
				result = CommitResult{Tag: CommitResultKeyNotFound, Key: key}
				return errCommitHalted
			}

			written, err := WriteTrie(txn, root, keyBytes, ValueToBytes(next))
			if err != nil {
				return err
			}
			switch written.Tag {
			case WriteResultWritten:
				root = written.NewRoot
			case WriteResultAlreadyExists:
				// no-op transform; the root stands
			case WriteResultRootNotFound:
				result = CommitResult{Tag: CommitResultRootNotFound}
				return errCommitHalted
			}
		}
		result = CommitResult{Tag: CommitResultSuccess, NewRoot: root}
		return nil
	})
	if errors.Is(err, errCommitHalted) {
		g.logger.WithField("correlation_id", correlationID).
			Warnf("commit halted: tag=%d key=%s", result.Tag, result.Key)
		return result, nil
	}
	if err != nil {
		return CommitResult{}, err
	}
	g.logger.WithField("correlation_id", correlationID).
		Debugf("commit: %s -> %s (%d transforms)", prestateRoot, result.NewRoot, len(effects))
	return result, nil
}

func commitFailure(key Key, err error) CommitResult {
	var mismatch TypeMismatch
	if errors.As(err, &mismatch) {
		return CommitResult{Tag: CommitResultTypeMismatch, Key: key, Mismatch: mismatch}
	}
	if errors.Is(err, ErrOverflow) {
		return CommitResult{Tag: CommitResultOverflow, Key: key}
	}
	return CommitResult{Tag: CommitResultKeyNotFound, Key: key}
}

func (g *TrieGlobalState) PutProtocolData(version ProtocolVersion, data ProtocolData) error {
	return withReadWriteRetry(g.source, func(txn ReadWriteTransaction) error {
		return txn.Put(SubDBProtocolData, version.toBytes(), data.toBytes())
	})
}

func (g *TrieGlobalState) GetProtocolData(version ProtocolVersion) (ProtocolData, bool, error) {
	var data ProtocolData
	var found bool
	err := withReadRetry(g.source, func(txn ReadTransaction) error {
		raw, ok, err := txn.Get(SubDBProtocolData, version.toBytes())
		if err != nil || !ok {
			return err
		}
		parsed, err := ProtocolDataFromBytes(raw)
		if err != nil {
			return err
		}
		data, found = parsed, true
		return nil
	})
	return data, found, err
}
