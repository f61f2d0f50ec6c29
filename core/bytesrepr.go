package core

// Canonical binary encoding shared by every consensus-visible type.
//
// The format is little-endian throughout. Variable-length fields carry a
// 32-bit count prefix. Encoding must be total and injective: state roots are
// hashes of these bytes, so a single divergent byte forks the chain.

import (
	"encoding/binary"
	"errors"
	"sort"
)

var (
	// ErrFormatting is returned when input bytes do not decode as the
	// expected shape (unknown tag, bad length, trailing garbage).
	ErrFormatting = errors.New("formatting error")
	// ErrEarlyEndOfStream is returned when the input ends mid-field.
	ErrEarlyEndOfStream = errors.New("early end of stream")
)

//---------------------------------------------------------------------
// Encoder
//---------------------------------------------------------------------

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v byte)     { e.buf = append(e.buf, v) }
func (e *encoder) bool(v bool)   { if v { e.u8(1) } else { e.u8(0) } }
func (e *encoder) raw(b []byte)  { e.buf = append(e.buf, b...) }
func (e *encoder) u32(v uint32)  { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)  { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i32(v int32)   { e.u32(uint32(v)) }

// bytes writes a u32 count followed by the raw bytes.
func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.raw(b)
}

func (e *encoder) str(s string) { e.bytes([]byte(s)) }

func (e *encoder) strSlice(ss []string) {
	e.u32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

func (e *encoder) i32Slice(vs []int32) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		e.i32(v)
	}
}

//---------------------------------------------------------------------
// Decoder
//---------------------------------------------------------------------

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.fail(ErrEarlyEndOfStream)
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool() bool {
	switch d.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(ErrFormatting)
		return false
	}
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) bytes() []byte {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(d.buf)) {
		d.fail(ErrEarlyEndOfStream)
		return nil
	}
	out := make([]byte, n)
	copy(out, d.take(int(n)))
	return out
}

func (d *decoder) str() string { return string(d.bytes()) }

func (d *decoder) strSlice() []string {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.str())
		if d.err != nil {
			return nil
		}
	}
	return out
}

func (d *decoder) i32Slice() []int32 {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	out := make([]int32, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.i32())
	}
	return out
}

func (d *decoder) arr32() (out [32]byte) {
	b := d.take(32)
	if b != nil {
		copy(out[:], b)
	}
	return out
}

// finish asserts the stream was fully consumed.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return ErrFormatting
	}
	return nil
}

//---------------------------------------------------------------------
// Named-key maps
//---------------------------------------------------------------------

// namedKeys writes a map<String, Key> as a u32 count followed by
// entries in ascending name order, so identical maps always serialize to
// identical bytes.
func (e *encoder) namedKeys(m map[string]Key) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	e.u32(uint32(len(names)))
	for _, name := range names {
		e.str(name)
		e.raw(m[name].ToBytes())
	}
}

func (d *decoder) namedKeys() map[string]Key {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	out := make(map[string]Key, n)
	for i := uint32(0); i < n; i++ {
		name := d.str()
		key := d.key()
		if d.err != nil {
			return nil
		}
		out[name] = key
	}
	return out
}
