package core

import "encoding/binary"

// Phase of the deploy pipeline, observable to contracts via get_phase.
type Phase uint8

const (
	PhaseSystem Phase = iota
	PhasePayment
	PhaseSession
	PhaseFinalizePayment
)

func (p Phase) String() string {
	switch p {
	case PhaseSystem:
		return "System"
	case PhasePayment:
		return "Payment"
	case PhaseSession:
		return "Session"
	case PhaseFinalizePayment:
		return "FinalizePayment"
	default:
		return "Unknown"
	}
}

// AddressGenerator is the per-invocation deterministic RNG: a blake2b hash
// chain threaded explicitly through the runtime context. Given identical
// inputs it yields identical URef addresses on every machine — replay
// consistency depends on it, so there is no ambient randomness anywhere.
type AddressGenerator struct {
	state Blake2bHash
}

// NewAddressGenerator seeds the generator for one top-level deploy from the
// account address, block time, account nonce and the deploy hash, scoped by
// phase so that payment and session streams never collide.
func NewAddressGenerator(accountAddr [32]byte, blockTime uint64, nonce uint64, deployHash [32]byte, phase Phase) *AddressGenerator {
	e := encoder{}
	e.raw(accountAddr[:])
	e.u64(blockTime)
	e.u64(nonce)
	e.raw(deployHash[:])
	e.u8(byte(phase))
	return &AddressGenerator{state: NewBlake2bHash(e.buf)}
}

// NewSeededAddressGenerator seeds directly from raw bytes (genesis and
// upgrade installers).
func NewSeededAddressGenerator(seed []byte, phase Phase) *AddressGenerator {
	buf := make([]byte, 0, len(seed)+1)
	buf = append(buf, seed...)
	buf = append(buf, byte(phase))
	return &AddressGenerator{state: NewBlake2bHash(buf)}
}

// CreateAddress advances the chain and returns 32 fresh bytes.
func (g *AddressGenerator) CreateAddress() [32]byte {
	g.state = NewBlake2bHash(g.state[:])
	return g.state
}

// Fork derives a child generator for a sub-call from the parent's current
// state. The parent advances, and the child stream is domain-separated so
// the two never alias.
func (g *AddressGenerator) Fork() *AddressGenerator {
	next := g.CreateAddress()
	buf := make([]byte, 0, 36)
	buf = append(buf, next[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, 1)
	return &AddressGenerator{state: NewBlake2bHash(buf)}
}
