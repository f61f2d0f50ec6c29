package core

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// Blake2bHash is the 256-bit digest used for all content addressing:
// trie nodes, contract hashes and deterministic seed derivation.
type Blake2bHash [32]byte

// NewBlake2bHash hashes arbitrary bytes into a Blake2bHash.
func NewBlake2bHash(data []byte) Blake2bHash {
	return Blake2bHash(blake2b.Sum256(data))
}

func (h Blake2bHash) Bytes() []byte { return h[:] }

func (h Blake2bHash) String() string { return hexutil.Encode(h[:]) }

func (h Blake2bHash) Equal(other Blake2bHash) bool {
	return bytes.Equal(h[:], other[:])
}
