package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// KeyTag discriminates the Key union. Tag values are part of the wire
// encoding and must never be reordered.
type KeyTag uint8

const (
	KeyTagAccount KeyTag = 0
	KeyTagHash    KeyTag = 1
	KeyTagURef    KeyTag = 2
	KeyTagLocal   KeyTag = 3
)

// Key addresses one cell of global state. It is a tagged union of:
//
//   - Account: one record per user account, addressed by public key.
//   - Hash: a content-addressed, immutable contract.
//   - URef: an unforgeable reference; Addr identifies the cell, Rights is the
//     capability mask carried by this particular handle.
//   - Local: context-scoped storage; Addr is the blake2b hash of the caller's
//     raw key bytes, Seed scopes it to the owning context.
//
// Two URefs are addr-equal iff their addresses match; access checks consult
// Rights alone.
type Key struct {
	Tag    KeyTag
	Addr   [32]byte
	Rights AccessRights // URef only
	Seed   [32]byte     // Local only
}

func AccountKey(publicKey [32]byte) Key {
	return Key{Tag: KeyTagAccount, Addr: publicKey}
}

func HashKey(hash [32]byte) Key {
	return Key{Tag: KeyTagHash, Addr: hash}
}

func URefKey(addr [32]byte, rights AccessRights) Key {
	return Key{Tag: KeyTagURef, Addr: addr, Rights: rights}
}

// LocalKey derives the context-scoped key for raw keyBytes under seed.
func LocalKey(seed [32]byte, keyBytes []byte) Key {
	return Key{Tag: KeyTagLocal, Addr: NewBlake2bHash(keyBytes), Seed: seed}
}

// URef is a raw unforgeable reference outside of the Key envelope, used where
// an address plus rights travels on its own (protocol data, purses).
type URef struct {
	Addr   [32]byte
	Rights AccessRights
}

func NewURef(addr [32]byte, rights AccessRights) URef {
	return URef{Addr: addr, Rights: rights}
}

// WithRights returns a copy carrying different access rights.
func (u URef) WithRights(rights AccessRights) URef {
	return URef{Addr: u.Addr, Rights: rights}
}

func (u URef) Key() Key { return URefKey(u.Addr, u.Rights) }

func (u URef) String() string {
	return fmt.Sprintf("URef(%s, %s)", hexutil.Encode(u.Addr[:]), u.Rights)
}

// AsURef returns the URef form of a Key, if it is one.
func (k Key) AsURef() (URef, bool) {
	if k.Tag != KeyTagURef {
		return URef{}, false
	}
	return URef{Addr: k.Addr, Rights: k.Rights}, true
}

// Normalize strips access rights so that addr-equal URefs map to the same
// global state cell. Non-URef keys are returned unchanged.
func (k Key) Normalize() Key {
	if k.Tag == KeyTagURef {
		k.Rights = AccessRightsNone
	}
	return k
}

// IsSameAddr reports addr-equality, ignoring rights.
func (k Key) IsSameAddr(other Key) bool {
	return k.Normalize() == other.Normalize()
}

func (k Key) TypeString() string {
	switch k.Tag {
	case KeyTagAccount:
		return "Key::Account"
	case KeyTagHash:
		return "Key::Hash"
	case KeyTagURef:
		return "Key::URef"
	case KeyTagLocal:
		return "Key::Local"
	default:
		return "Key::Unknown"
	}
}

func (k Key) String() string {
	switch k.Tag {
	case KeyTagAccount:
		return fmt.Sprintf("Account(%s)", hexutil.Encode(k.Addr[:]))
	case KeyTagHash:
		return fmt.Sprintf("Hash(%s)", hexutil.Encode(k.Addr[:]))
	case KeyTagURef:
		return URef{Addr: k.Addr, Rights: k.Rights}.String()
	case KeyTagLocal:
		return fmt.Sprintf("Local(%s, %s)", hexutil.Encode(k.Seed[:]), hexutil.Encode(k.Addr[:]))
	default:
		return "Unknown"
	}
}

//---------------------------------------------------------------------
// Wire encoding
//---------------------------------------------------------------------

// ToBytes serializes the key with its single-byte tag prefix.
func (k Key) ToBytes() []byte {
	e := encoder{}
	e.u8(byte(k.Tag))
	switch k.Tag {
	case KeyTagAccount, KeyTagHash:
		e.raw(k.Addr[:])
	case KeyTagURef:
		e.raw(k.Addr[:])
		e.u8(byte(k.Rights))
	case KeyTagLocal:
		e.raw(k.Seed[:])
		e.raw(k.Addr[:])
	}
	return e.buf
}

func (d *decoder) key() Key {
	tag := KeyTag(d.u8())
	switch tag {
	case KeyTagAccount, KeyTagHash:
		return Key{Tag: tag, Addr: d.arr32()}
	case KeyTagURef:
		addr := d.arr32()
		rights := AccessRights(d.u8())
		if !rights.IsValid() {
			d.fail(ErrFormatting)
			return Key{}
		}
		return Key{Tag: tag, Addr: addr, Rights: rights}
	case KeyTagLocal:
		seed := d.arr32()
		return Key{Tag: tag, Seed: seed, Addr: d.arr32()}
	default:
		d.fail(ErrFormatting)
		return Key{}
	}
}

// KeyFromBytes decodes a key and requires the input to be fully consumed.
func KeyFromBytes(b []byte) (Key, error) {
	d := decoder{buf: b}
	k := d.key()
	if err := d.finish(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// encodeKeys writes a list of keys with a u32 count prefix.
func encodeKeys(keys []Key) []byte {
	e := encoder{}
	e.u32(uint32(len(keys)))
	for _, k := range keys {
		e.raw(k.ToBytes())
	}
	return e.buf
}

// decodeKeys parses a u32-counted list of keys.
func decodeKeys(b []byte) ([]Key, error) {
	d := decoder{buf: b}
	n := d.u32()
	keys := make([]Key, 0, n)
	for i := uint32(0); i < n; i++ {
		keys = append(keys, d.key())
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return keys, nil
}
