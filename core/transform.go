package core

import (
	"errors"
	"fmt"
	"math"
)

// Transform is one effect on one key. Transforms form a partial monoid under
// composition: Identity is the unit, Write annihilates anything before it,
// same-typed adds merge, and anything else degenerates to a Failure that is
// reported at commit time.

// ErrOverflow is raised when composing or applying numeric adds would exceed
// the width of the stored integer. It is surfaced as CommitResultOverflow,
// never as a panic.
var ErrOverflow = errors.New("numeric overflow")

// TypeMismatch describes an attempt to combine incompatible value shapes.
type TypeMismatch struct {
	Expected string
	Found    string
}

func (t TypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, found %s", t.Expected, t.Found)
}

type TransformTag uint8

const (
	TransformTagIdentity TransformTag = 0
	TransformTagWrite    TransformTag = 1
	TransformTagAddInt32 TransformTag = 2
	TransformTagAddUInt64 TransformTag = 3
	TransformTagAddU128  TransformTag = 4
	TransformTagAddU256  TransformTag = 5
	TransformTagAddU512  TransformTag = 6
	TransformTagAddKeys  TransformTag = 7
	TransformTagFailure  TransformTag = 8
)

// Transform is a tagged union; exactly the field selected by Tag is set.
type Transform struct {
	Tag   TransformTag
	Value Value          // Write
	I32   int32          // AddInt32
	U64   uint64         // AddUInt64
	Big   BigUint        // AddU128 / AddU256 / AddU512
	Keys  map[string]Key // AddKeys
	Err   error          // Failure
}

func IdentityTransform() Transform { return Transform{Tag: TransformTagIdentity} }

func WriteTransform(v Value) Transform { return Transform{Tag: TransformTagWrite, Value: v} }

func AddInt32Transform(v int32) Transform { return Transform{Tag: TransformTagAddInt32, I32: v} }

func AddUInt64Transform(v uint64) Transform { return Transform{Tag: TransformTagAddUInt64, U64: v} }

func AddBigTransform(v BigUint) Transform {
	t := Transform{Big: v}
	switch v.Width {
	case WidthU128:
		t.Tag = TransformTagAddU128
	case WidthU256:
		t.Tag = TransformTagAddU256
	default:
		t.Tag = TransformTagAddU512
	}
	return t
}

func AddKeysTransform(keys map[string]Key) Transform {
	return Transform{Tag: TransformTagAddKeys, Keys: keys}
}

func FailureTransform(err error) Transform { return Transform{Tag: TransformTagFailure, Err: err} }

func (t Transform) IsFailure() bool { return t.Tag == TransformTagFailure }

func (t Transform) isAdd() bool {
	return t.Tag >= TransformTagAddInt32 && t.Tag <= TransformTagAddKeys
}

func (t Transform) isNumericAdd() bool {
	return t.Tag >= TransformTagAddInt32 && t.Tag <= TransformTagAddU512
}

func (t Transform) addIsZero() bool {
	switch t.Tag {
	case TransformTagAddInt32:
		return t.I32 == 0
	case TransformTagAddUInt64:
		return t.U64 == 0
	case TransformTagAddU128, TransformTagAddU256, TransformTagAddU512:
		return t.Big.IsZero()
	default:
		return false
	}
}

func (t Transform) typeString() string {
	switch t.Tag {
	case TransformTagIdentity:
		return "Transform::Identity"
	case TransformTagWrite:
		return "Transform::Write"
	case TransformTagAddInt32:
		return "Transform::AddInt32"
	case TransformTagAddUInt64:
		return "Transform::AddUInt64"
	case TransformTagAddU128:
		return "Transform::AddUInt128"
	case TransformTagAddU256:
		return "Transform::AddUInt256"
	case TransformTagAddU512:
		return "Transform::AddUInt512"
	case TransformTagAddKeys:
		return "Transform::AddKeys"
	default:
		return "Transform::Failure"
	}
}

//---------------------------------------------------------------------
// Composition
//---------------------------------------------------------------------

// Compose folds next onto prev, yielding the single transform equivalent to
// applying prev then next.
func Compose(prev, next Transform) Transform {
	switch {
	case prev.IsFailure():
		return prev
	case next.IsFailure():
		return next
	case prev.Tag == TransformTagIdentity:
		return next
	case next.Tag == TransformTagIdentity:
		return prev
	case next.Tag == TransformTagWrite:
		return next
	}
	// next is an add.
	switch prev.Tag {
	case TransformTagWrite:
		v, err := next.Apply(prev.Value)
		if err != nil {
			return FailureTransform(err)
		}
		return WriteTransform(v)
	case TransformTagAddKeys:
		if next.Tag != TransformTagAddKeys {
			return FailureTransform(TypeMismatch{Expected: prev.typeString(), Found: next.typeString()})
		}
		merged := make(map[string]Key, len(prev.Keys)+len(next.Keys))
		for name, k := range prev.Keys {
			merged[name] = k
		}
		for name, k := range next.Keys {
			merged[name] = k
		}
		return AddKeysTransform(merged)
	default:
		return composeNumeric(prev, next)
	}
}

func composeNumeric(prev, next Transform) Transform {
	if !next.isNumericAdd() {
		return FailureTransform(TypeMismatch{Expected: prev.typeString(), Found: next.typeString()})
	}
	if prev.Tag != next.Tag {
		// Mixed widths merge only when one side is the zero of its type.
		if prev.addIsZero() {
			return next
		}
		if next.addIsZero() {
			return prev
		}
		return FailureTransform(TypeMismatch{Expected: prev.typeString(), Found: next.typeString()})
	}
	switch prev.Tag {
	case TransformTagAddInt32:
		sum := int64(prev.I32) + int64(next.I32)
		if sum > math.MaxInt32 || sum < math.MinInt32 {
			return FailureTransform(ErrOverflow)
		}
		return AddInt32Transform(int32(sum))
	case TransformTagAddUInt64:
		sum := prev.U64 + next.U64
		if sum < prev.U64 {
			return FailureTransform(ErrOverflow)
		}
		return AddUInt64Transform(sum)
	default:
		sum, ok := prev.Big.Add(next.Big)
		if !ok {
			return FailureTransform(ErrOverflow)
		}
		return AddBigTransform(sum)
	}
}

//---------------------------------------------------------------------
// Wire encoding. Commit requests carry (Key, Transform) pairs; Failure is
// an in-memory degenerate state and never crosses the interface.
//---------------------------------------------------------------------

// TransformToBytes serializes a transform with its tag prefix.
func TransformToBytes(t Transform) ([]byte, error) {
	if t.IsFailure() {
		return nil, ErrFormatting
	}
	e := encoder{}
	e.u8(byte(t.Tag))
	switch t.Tag {
	case TransformTagIdentity:
	case TransformTagWrite:
		e.raw(ValueToBytes(t.Value))
	case TransformTagAddInt32:
		e.i32(t.I32)
	case TransformTagAddUInt64:
		e.u64(t.U64)
	case TransformTagAddU128, TransformTagAddU256, TransformTagAddU512:
		e.bigUint(t.Big)
	case TransformTagAddKeys:
		e.namedKeys(t.Keys)
	}
	return e.buf, nil
}

// TransformFromBytes decodes a transform, requiring full consumption.
func TransformFromBytes(b []byte) (Transform, error) {
	d := decoder{buf: b}
	tag := TransformTag(d.u8())
	var t Transform
	switch tag {
	case TransformTagIdentity:
		t = IdentityTransform()
	case TransformTagWrite:
		v := d.value()
		if v == nil {
			return Transform{}, ErrFormatting
		}
		t = WriteTransform(v)
	case TransformTagAddInt32:
		t = AddInt32Transform(d.i32())
	case TransformTagAddUInt64:
		t = AddUInt64Transform(d.u64())
	case TransformTagAddU128:
		t = AddBigTransform(d.bigUint(WidthU128))
	case TransformTagAddU256:
		t = AddBigTransform(d.bigUint(WidthU256))
	case TransformTagAddU512:
		t = AddBigTransform(d.bigUint(WidthU512))
	case TransformTagAddKeys:
		t = AddKeysTransform(d.namedKeys())
	default:
		return Transform{}, ErrFormatting
	}
	if err := d.finish(); err != nil {
		return Transform{}, err
	}
	return t, nil
}

//---------------------------------------------------------------------
// Application
//---------------------------------------------------------------------

// Apply folds the transform over a stored value. Write ignores the prior
// value; adds require it to have a compatible shape.
func (t Transform) Apply(value Value) (Value, error) {
	switch t.Tag {
	case TransformTagIdentity:
		return value, nil
	case TransformTagWrite:
		return t.Value, nil
	case TransformTagFailure:
		return nil, t.Err
	case TransformTagAddKeys:
		return applyAddKeys(t.Keys, value)
	case TransformTagAddInt32:
		if v, ok := value.(Int32Value); ok {
			sum := int64(v) + int64(t.I32)
			if sum > math.MaxInt32 || sum < math.MinInt32 {
				return nil, ErrOverflow
			}
			return Int32Value(sum), nil
		}
		if t.addIsZero() {
			return value, nil
		}
		return nil, TypeMismatch{Expected: "Value::Int32", Found: value.TypeString()}
	case TransformTagAddUInt64:
		if v, ok := value.(UInt64Value); ok {
			sum := uint64(v) + t.U64
			if sum < uint64(v) {
				return nil, ErrOverflow
			}
			return UInt64Value(sum), nil
		}
		if t.addIsZero() {
			return value, nil
		}
		return nil, TypeMismatch{Expected: "Value::UInt64", Found: value.TypeString()}
	default:
		v, ok := value.(BigUintValue)
		if !ok || v.Val.Width != t.Big.Width {
			if t.addIsZero() {
				return value, nil
			}
			return nil, TypeMismatch{Expected: t.typeString(), Found: value.TypeString()}
		}
		sum, added := v.Val.Add(t.Big)
		if !added {
			return nil, ErrOverflow
		}
		return BigUintValue{Val: sum}, nil
	}
}

func applyAddKeys(keys map[string]Key, value Value) (Value, error) {
	switch v := value.(type) {
	case AccountValue:
		acct := v.Account.Clone()
		for name, k := range keys {
			acct.NamedKeys[name] = k
		}
		return AccountValue{Account: acct}, nil
	case ContractValue:
		c := v.Contract.Clone()
		for name, k := range keys {
			c.NamedKeys[name] = k
		}
		return ContractValue{Contract: c}, nil
	default:
		return nil, TypeMismatch{Expected: "Value::Account or Value::Contract", Found: value.TypeString()}
	}
}

// TransformForValue builds the add-transform corresponding to a value passed
// to the host add operation. Only monoid-shaped values are addable.
func TransformForValue(v Value) (Transform, error) {
	switch val := v.(type) {
	case Int32Value:
		return AddInt32Transform(int32(val)), nil
	case UInt64Value:
		return AddUInt64Transform(uint64(val)), nil
	case BigUintValue:
		return AddBigTransform(val.Val), nil
	case NamedKeyValue:
		return AddKeysTransform(map[string]Key{val.Name: val.Key}), nil
	default:
		return Transform{}, TypeMismatch{Expected: "a Monoid", Found: v.TypeString()}
	}
}
