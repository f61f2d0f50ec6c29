package core

// Content-addressed radix-256 trie node model. A node's hash commits to all
// of its descendants; historical roots share every unchanged subtree.

type PointerTag uint8

const (
	PointerTagNode PointerTag = 0
	PointerTagLeaf PointerTag = 1
)

// Pointer references a child trie node by hash.
type Pointer struct {
	Tag  PointerTag
	Hash Blake2bHash
}

func NodePointer(hash Blake2bHash) Pointer { return Pointer{Tag: PointerTagNode, Hash: hash} }

func LeafPointer(hash Blake2bHash) Pointer { return Pointer{Tag: PointerTagLeaf, Hash: hash} }

type TrieTag uint8

const (
	TrieTagLeaf      TrieTag = 0
	TrieTagNode      TrieTag = 1
	TrieTagExtension TrieTag = 2
)

// TrieNode is one of:
//
//   - Leaf: the full key bytes plus the stored value bytes.
//   - Node: radix-256 branch over the next byte of the key.
//   - Extension: a shared affix compressed into a single edge.
type TrieNode struct {
	Tag      TrieTag
	Key      []byte           // Leaf
	Value    []byte           // Leaf
	Pointers map[byte]Pointer // Node
	Affix    []byte           // Extension
	Ptr      Pointer          // Extension
}

func NewLeafNode(key, value []byte) *TrieNode {
	return &TrieNode{Tag: TrieTagLeaf, Key: key, Value: value}
}

func NewBranchNode() *TrieNode {
	return &TrieNode{Tag: TrieTagNode, Pointers: make(map[byte]Pointer)}
}

func NewExtensionNode(affix []byte, ptr Pointer) *TrieNode {
	return &TrieNode{Tag: TrieTagExtension, Affix: affix, Ptr: ptr}
}

// cloneBranch copies a branch node so an ancestor can be relinked without
// touching the historical original.
func (n *TrieNode) cloneBranch() *TrieNode {
	ptrs := make(map[byte]Pointer, len(n.Pointers))
	for b, p := range n.Pointers {
		ptrs[b] = p
	}
	return &TrieNode{Tag: TrieTagNode, Pointers: ptrs}
}

//---------------------------------------------------------------------
// Serialization. A trie's root hash is blake2b of these bytes, so the
// encoding is deterministic: branch slots are emitted in ascending index
// order.
//---------------------------------------------------------------------

func (n *TrieNode) ToBytes() []byte {
	e := encoder{}
	e.u8(byte(n.Tag))
	switch n.Tag {
	case TrieTagLeaf:
		e.bytes(n.Key)
		e.bytes(n.Value)
	case TrieTagNode:
		e.u32(uint32(len(n.Pointers)))
		for i := 0; i < 256; i++ {
			p, ok := n.Pointers[byte(i)]
			if !ok {
				continue
			}
			e.u8(byte(i))
			e.u8(byte(p.Tag))
			e.raw(p.Hash[:])
		}
	case TrieTagExtension:
		e.bytes(n.Affix)
		e.u8(byte(n.Ptr.Tag))
		e.raw(n.Ptr.Hash[:])
	}
	return e.buf
}

// HashOf returns the node's content address.
func (n *TrieNode) HashOf() Blake2bHash {
	return NewBlake2bHash(n.ToBytes())
}

func (d *decoder) pointer() Pointer {
	tag := PointerTag(d.u8())
	if tag > PointerTagLeaf {
		d.fail(ErrFormatting)
		return Pointer{}
	}
	return Pointer{Tag: tag, Hash: Blake2bHash(d.arr32())}
}

// TrieNodeFromBytes decodes a stored node; any malformation is a fatal
// storage corruption, not a lookup miss.
func TrieNodeFromBytes(b []byte) (*TrieNode, error) {
	d := decoder{buf: b}
	node := &TrieNode{Tag: TrieTag(d.u8())}
	switch node.Tag {
	case TrieTagLeaf:
		node.Key = d.bytes()
		node.Value = d.bytes()
	case TrieTagNode:
		count := d.u32()
		node.Pointers = make(map[byte]Pointer, count)
		last := -1
		for i := uint32(0); i < count; i++ {
			idx := d.u8()
			if int(idx) <= last {
				d.fail(ErrFormatting)
				break
			}
			last = int(idx)
			node.Pointers[idx] = d.pointer()
		}
	case TrieTagExtension:
		node.Affix = d.bytes()
		node.Ptr = d.pointer()
	default:
		d.fail(ErrFormatting)
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return node, nil
}
