package core

import (
	"bytes"
	"fmt"
)

// ValueTag discriminates the Value union on the wire. Values are part of the
// consensus-critical encoding; tags are append-only.
type ValueTag uint8

const (
	ValueTagInt32      ValueTag = 0
	ValueTagByteArray  ValueTag = 1
	ValueTagListInt32  ValueTag = 2
	ValueTagString     ValueTag = 3
	ValueTagAccount    ValueTag = 4
	ValueTagContract   ValueTag = 5
	ValueTagNamedKey   ValueTag = 6
	ValueTagListString ValueTag = 7
	ValueTagU128       ValueTag = 8
	ValueTagU256       ValueTag = 9
	ValueTagU512       ValueTag = 10
	ValueTagKey        ValueTag = 11
	ValueTagUnit       ValueTag = 12
	ValueTagUInt64     ValueTag = 13
)

// Value is the sealed union of everything storable in global state. Every
// variant has a canonical byte encoding with a single-byte tag prefix;
// equality is byte equality of that encoding.
type Value interface {
	Tag() ValueTag
	TypeString() string
	// payload appends the tagless body of the value.
	payload(e *encoder)
}

// ValueToBytes serializes a value with its tag prefix.
func ValueToBytes(v Value) []byte {
	e := encoder{}
	e.u8(byte(v.Tag()))
	v.payload(&e)
	return e.buf
}

// ValuesEqual compares two values by canonical encoding.
func ValuesEqual(a, b Value) bool {
	return bytes.Equal(ValueToBytes(a), ValueToBytes(b))
}

//---------------------------------------------------------------------
// Variants
//---------------------------------------------------------------------

type Int32Value int32

func (Int32Value) Tag() ValueTag          { return ValueTagInt32 }
func (Int32Value) TypeString() string     { return "Value::Int32" }
func (v Int32Value) payload(e *encoder)   { e.i32(int32(v)) }

type UInt64Value uint64

func (UInt64Value) Tag() ValueTag         { return ValueTagUInt64 }
func (UInt64Value) TypeString() string    { return "Value::UInt64" }
func (v UInt64Value) payload(e *encoder)  { e.u64(uint64(v)) }

// BigUintValue covers the U128/U256/U512 variants; the tag follows the
// wrapped width.
type BigUintValue struct {
	Val BigUint
}

func (v BigUintValue) Tag() ValueTag {
	switch v.Val.Width {
	case WidthU128:
		return ValueTagU128
	case WidthU256:
		return ValueTagU256
	default:
		return ValueTagU512
	}
}

func (v BigUintValue) TypeString() string {
	return fmt.Sprintf("Value::UInt%d", v.Val.Width)
}

func (v BigUintValue) payload(e *encoder) { e.bigUint(v.Val) }

type ByteArrayValue []byte

func (ByteArrayValue) Tag() ValueTag         { return ValueTagByteArray }
func (ByteArrayValue) TypeString() string    { return "Value::ByteArray" }
func (v ByteArrayValue) payload(e *encoder)  { e.bytes(v) }

type ListInt32Value []int32

func (ListInt32Value) Tag() ValueTag         { return ValueTagListInt32 }
func (ListInt32Value) TypeString() string    { return "Value::List[Int32]" }
func (v ListInt32Value) payload(e *encoder)  { e.i32Slice(v) }

type StringValue string

func (StringValue) Tag() ValueTag         { return ValueTagString }
func (StringValue) TypeString() string    { return "Value::String" }
func (v StringValue) payload(e *encoder)  { e.str(string(v)) }

type ListStringValue []string

func (ListStringValue) Tag() ValueTag         { return ValueTagListString }
func (ListStringValue) TypeString() string    { return "Value::List[String]" }
func (v ListStringValue) payload(e *encoder)  { e.strSlice(v) }

// NamedKeyValue binds a human-readable name to a key; adding one to an
// account or contract grows its named-key table.
type NamedKeyValue struct {
	Name string
	Key  Key
}

func (NamedKeyValue) Tag() ValueTag       { return ValueTagNamedKey }
func (NamedKeyValue) TypeString() string  { return "Value::NamedKey" }
func (v NamedKeyValue) payload(e *encoder) {
	e.str(v.Name)
	e.raw(v.Key.ToBytes())
}

type KeyValue struct {
	Key Key
}

func (KeyValue) Tag() ValueTag          { return ValueTagKey }
func (KeyValue) TypeString() string     { return "Value::Key" }
func (v KeyValue) payload(e *encoder)   { e.raw(v.Key.ToBytes()) }

type AccountValue struct {
	Account *Account
}

func (AccountValue) Tag() ValueTag         { return ValueTagAccount }
func (AccountValue) TypeString() string    { return "Value::Account" }
func (v AccountValue) payload(e *encoder)  { e.raw(v.Account.toBytes()) }

type ContractValue struct {
	Contract *Contract
}

func (ContractValue) Tag() ValueTag         { return ValueTagContract }
func (ContractValue) TypeString() string    { return "Value::Contract" }
func (v ContractValue) payload(e *encoder)  { e.raw(v.Contract.toBytes()) }

type UnitValue struct{}

func (UnitValue) Tag() ValueTag        { return ValueTagUnit }
func (UnitValue) TypeString() string   { return "Value::Unit" }
func (UnitValue) payload(e *encoder)   {}

//---------------------------------------------------------------------
// Decoding
//---------------------------------------------------------------------

func (d *decoder) value() Value {
	tag := ValueTag(d.u8())
	if d.err != nil {
		return nil
	}
	switch tag {
	case ValueTagInt32:
		return Int32Value(d.i32())
	case ValueTagUInt64:
		return UInt64Value(d.u64())
	case ValueTagU128:
		return BigUintValue{Val: d.bigUint(WidthU128)}
	case ValueTagU256:
		return BigUintValue{Val: d.bigUint(WidthU256)}
	case ValueTagU512:
		return BigUintValue{Val: d.bigUint(WidthU512)}
	case ValueTagByteArray:
		return ByteArrayValue(d.bytes())
	case ValueTagListInt32:
		return ListInt32Value(d.i32Slice())
	case ValueTagString:
		return StringValue(d.str())
	case ValueTagListString:
		return ListStringValue(d.strSlice())
	case ValueTagNamedKey:
		name := d.str()
		return NamedKeyValue{Name: name, Key: d.key()}
	case ValueTagKey:
		return KeyValue{Key: d.key()}
	case ValueTagAccount:
		acct := d.account()
		if acct == nil {
			return nil
		}
		return AccountValue{Account: acct}
	case ValueTagContract:
		c := d.contract()
		if c == nil {
			return nil
		}
		return ContractValue{Contract: c}
	case ValueTagUnit:
		return UnitValue{}
	default:
		d.fail(ErrFormatting)
		return nil
	}
}

// ValueFromBytes decodes a value, requiring the input be fully consumed.
func ValueFromBytes(b []byte) (Value, error) {
	d := decoder{buf: b}
	v := d.value()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return v, nil
}

// ExtractURefs collects every URef reachable inside a value. Values written
// to global state are scanned with this so that a forged reference cannot be
// laundered inside a container.
func ExtractURefs(v Value) []Key {
	var out []Key
	switch val := v.(type) {
	case NamedKeyValue:
		if val.Key.Tag == KeyTagURef {
			out = append(out, val.Key)
		}
	case KeyValue:
		if val.Key.Tag == KeyTagURef {
			out = append(out, val.Key)
		}
	case AccountValue:
		out = append(out, val.Account.MainPurse.Key())
		for _, k := range val.Account.NamedKeys {
			if k.Tag == KeyTagURef {
				out = append(out, k)
			}
		}
	case ContractValue:
		for _, k := range val.Contract.NamedKeys {
			if k.Tag == KeyTagURef {
				out = append(out, k)
			}
		}
	}
	return out
}
