package core

import (
	"bytes"
	"fmt"
)

// L2: the trie store maps blake2b(node bytes) -> node bytes inside the trie
// sub-database, and implements read and insert over the radix trie. Inserting
// one key creates O(depth) new nodes; every untouched node is reused by hash,
// which is what keeps all historical roots alive for free.

// ErrCorruptTrieNode wraps a decoding failure of stored node bytes. This is
// a fatal storage error: it bubbles out of the commit pipeline untouched.
var ErrCorruptTrieNode = fmt.Errorf("corrupt trie node: %w", ErrFormatting)

type ReadResultTag uint8

const (
	ReadResultFound ReadResultTag = iota
	ReadResultNotFound
	ReadResultRootNotFound
)

type TrieReadResult struct {
	Tag   ReadResultTag
	Value []byte
}

type WriteResultTag uint8

const (
	WriteResultWritten WriteResultTag = iota
	WriteResultAlreadyExists
	WriteResultRootNotFound
)

type TrieWriteResult struct {
	Tag     WriteResultTag
	NewRoot Blake2bHash
}

// EmptyTrieRoot returns the canonical empty trie node and its hash: a branch
// with no occupied slots. The hash is a fixed constant of the encoding.
func EmptyTrieRoot() (Blake2bHash, *TrieNode) {
	node := NewBranchNode()
	return node.HashOf(), node
}

// PutTrieNode stores a node under its content address and returns the hash.
func PutTrieNode(txn ReadWriteTransaction, node *TrieNode) (Blake2bHash, error) {
	hash := node.HashOf()
	if err := txn.Put(SubDBTrie, hash[:], node.ToBytes()); err != nil {
		return Blake2bHash{}, err
	}
	return hash, nil
}

// GetTrieNode loads a node by hash. ok=false means the hash is unknown.
func GetTrieNode(txn ReadTransaction, hash Blake2bHash) (*TrieNode, bool, error) {
	raw, ok, err := txn.Get(SubDBTrie, hash[:])
	if err != nil || !ok {
		return nil, false, err
	}
	node, err := TrieNodeFromBytes(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: at %s", ErrCorruptTrieNode, hash)
	}
	return node, true, nil
}

// getChild loads a node a pointer refers to; a dangling pointer is storage
// corruption since nodes are immortal once written.
func getChild(txn ReadTransaction, ptr Pointer) (*TrieNode, error) {
	node, ok, err := GetTrieNode(txn, ptr.Hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: dangling pointer %s", ErrCorruptTrieNode, ptr.Hash)
	}
	return node, nil
}

//---------------------------------------------------------------------
// Read
//---------------------------------------------------------------------

// ReadTrie walks pointers from root matching key bytes. On an Extension the
// full affix must match; on a Leaf the stored key must equal the searched
// key. Any mismatch is NotFound; a missing root is the caller's precondition
// failure, not a storage error.
func ReadTrie(txn ReadTransaction, root Blake2bHash, key []byte) (TrieReadResult, error) {
	current, ok, err := GetTrieNode(txn, root)
	if err != nil {
		return TrieReadResult{}, err
	}
	if !ok {
		return TrieReadResult{Tag: ReadResultRootNotFound}, nil
	}
	depth := 0
	for {
		switch current.Tag {
		case TrieTagLeaf:
			if bytes.Equal(current.Key, key) {
				return TrieReadResult{Tag: ReadResultFound, Value: current.Value}, nil
			}
			return TrieReadResult{Tag: ReadResultNotFound}, nil
		case TrieTagNode:
			if depth >= len(key) {
				return TrieReadResult{Tag: ReadResultNotFound}, nil
			}
			ptr, ok := current.Pointers[key[depth]]
			if !ok {
				return TrieReadResult{Tag: ReadResultNotFound}, nil
			}
			child, err := getChild(txn, ptr)
			if err != nil {
				return TrieReadResult{}, err
			}
			current = child
			depth++
		case TrieTagExtension:
			if !bytes.HasPrefix(key[depth:], current.Affix) {
				return TrieReadResult{Tag: ReadResultNotFound}, nil
			}
			depth += len(current.Affix)
			child, err := getChild(txn, current.Ptr)
			if err != nil {
				return TrieReadResult{}, err
			}
			current = child
		default:
			return TrieReadResult{}, ErrCorruptTrieNode
		}
	}
}

//---------------------------------------------------------------------
// Write
//---------------------------------------------------------------------

// visited remembers how we descended through an interior node so the path
// can be rewritten bottom-up with fresh hashes.
type visited struct {
	node  *TrieNode
	index byte // branch slot taken; unused for extensions
}

// WriteTrie inserts key/value under root and returns the new root. Old
// ancestors are left untouched, preserving every historical root.
func WriteTrie(txn ReadWriteTransaction, root Blake2bHash, key, value []byte) (TrieWriteResult, error) {
	current, ok, err := GetTrieNode(txn, root)
	if err != nil {
		return TrieWriteResult{}, err
	}
	if !ok {
		return TrieWriteResult{Tag: WriteResultRootNotFound}, nil
	}

	var path []visited
	depth := 0
	for {
		switch current.Tag {
		case TrieTagLeaf:
			if bytes.Equal(current.Key, key) {
				if bytes.Equal(current.Value, value) {
					return TrieWriteResult{Tag: WriteResultAlreadyExists}, nil
				}
				leafHash, err := PutTrieNode(txn, NewLeafNode(key, value))
				if err != nil {
					return TrieWriteResult{}, err
				}
				return rewriteAncestors(txn, path, LeafPointer(leafHash))
			}
			top, err := splitLeaf(txn, current, key, value, depth)
			if err != nil {
				return TrieWriteResult{}, err
			}
			return rewriteAncestors(txn, path, top)

		case TrieTagNode:
			if depth >= len(key) {
				return TrieWriteResult{}, fmt.Errorf("%w: key exhausted at branch", ErrCorruptTrieNode)
			}
			b := key[depth]
			ptr, ok := current.Pointers[b]
			if !ok {
				// Empty slot: a fresh leaf slides straight in.
				leafHash, err := PutTrieNode(txn, NewLeafNode(key, value))
				if err != nil {
					return TrieWriteResult{}, err
				}
				updated := current.cloneBranch()
				updated.Pointers[b] = LeafPointer(leafHash)
				hash, err := PutTrieNode(txn, updated)
				if err != nil {
					return TrieWriteResult{}, err
				}
				return rewriteAncestors(txn, path, NodePointer(hash))
			}
			path = append(path, visited{node: current, index: b})
			child, err := getChild(txn, ptr)
			if err != nil {
				return TrieWriteResult{}, err
			}
			current = child
			depth++

		case TrieTagExtension:
			rest := key[depth:]
			shared := commonPrefixLen(rest, current.Affix)
			if shared == len(current.Affix) {
				path = append(path, visited{node: current})
				depth += len(current.Affix)
				child, err := getChild(txn, current.Ptr)
				if err != nil {
					return TrieWriteResult{}, err
				}
				current = child
				continue
			}
			top, err := splitExtension(txn, current, key, value, depth, shared)
			if err != nil {
				return TrieWriteResult{}, err
			}
			return rewriteAncestors(txn, path, top)

		default:
			return TrieWriteResult{}, ErrCorruptTrieNode
		}
	}
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// splitLeaf handles descent ending at a leaf whose key diverges from the
// inserted key: a branch is emitted at the first differing byte, preceded by
// an extension when the shared prefix below depth is non-empty. The existing
// leaf is reused by hash — it already carries its full key.
func splitLeaf(txn ReadWriteTransaction, leaf *TrieNode, key, value []byte, depth int) (Pointer, error) {
	existingHash := leaf.HashOf()
	div := depth + commonPrefixLen(key[depth:], leaf.Key[depth:])
	if div >= len(key) || div >= len(leaf.Key) {
		return Pointer{}, fmt.Errorf("%w: leaf split without divergence", ErrCorruptTrieNode)
	}

	newLeafHash, err := PutTrieNode(txn, NewLeafNode(key, value))
	if err != nil {
		return Pointer{}, err
	}

	branch := NewBranchNode()
	branch.Pointers[leaf.Key[div]] = LeafPointer(existingHash)
	branch.Pointers[key[div]] = LeafPointer(newLeafHash)
	branchHash, err := PutTrieNode(txn, branch)
	if err != nil {
		return Pointer{}, err
	}

	if div == depth {
		return NodePointer(branchHash), nil
	}
	extHash, err := PutTrieNode(txn, NewExtensionNode(key[depth:div], NodePointer(branchHash)))
	if err != nil {
		return Pointer{}, err
	}
	return NodePointer(extHash), nil
}

// splitExtension handles an affix that matches only partially: the shared
// part keeps an extension (if non-empty), the divergence becomes a branch,
// and the affix remainder either re-extends or collapses into the branch
// when it would be empty.
func splitExtension(txn ReadWriteTransaction, ext *TrieNode, key, value []byte, depth, shared int) (Pointer, error) {
	if depth+shared >= len(key) {
		return Pointer{}, fmt.Errorf("%w: key exhausted inside affix", ErrCorruptTrieNode)
	}

	existingPtr := ext.Ptr
	affixRest := ext.Affix[shared+1:]
	if len(affixRest) > 0 {
		restHash, err := PutTrieNode(txn, NewExtensionNode(affixRest, ext.Ptr))
		if err != nil {
			return Pointer{}, err
		}
		existingPtr = NodePointer(restHash)
	}

	newLeafHash, err := PutTrieNode(txn, NewLeafNode(key, value))
	if err != nil {
		return Pointer{}, err
	}

	branch := NewBranchNode()
	branch.Pointers[ext.Affix[shared]] = existingPtr
	branch.Pointers[key[depth+shared]] = LeafPointer(newLeafHash)
	branchHash, err := PutTrieNode(txn, branch)
	if err != nil {
		return Pointer{}, err
	}

	if shared == 0 {
		return NodePointer(branchHash), nil
	}
	extHash, err := PutTrieNode(txn, NewExtensionNode(ext.Affix[:shared], NodePointer(branchHash)))
	if err != nil {
		return Pointer{}, err
	}
	return NodePointer(extHash), nil
}

// rewriteAncestors relinks the descent path bottom-up. Each visited node is
// cloned with the child pointer replaced and stored under a fresh hash; the
// last hash written is the new root.
func rewriteAncestors(txn ReadWriteTransaction, path []visited, child Pointer) (TrieWriteResult, error) {
	for i := len(path) - 1; i >= 0; i-- {
		entry := path[i]
		var updated *TrieNode
		switch entry.node.Tag {
		case TrieTagNode:
			updated = entry.node.cloneBranch()
			updated.Pointers[entry.index] = child
		case TrieTagExtension:
			updated = NewExtensionNode(entry.node.Affix, child)
		default:
			return TrieWriteResult{}, ErrCorruptTrieNode
		}
		hash, err := PutTrieNode(txn, updated)
		if err != nil {
			return TrieWriteResult{}, err
		}
		child = NodePointer(hash)
	}
	return TrieWriteResult{Tag: WriteResultWritten, NewRoot: child.Hash}, nil
}
