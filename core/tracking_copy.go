package core

import "errors"

// TrackingCopy layers a speculative {ops, transforms} overlay on top of a
// reader at one root. Reads observe earlier writes of the same deploy
// (read-your-writes); nothing reaches the store until the caller commits the
// snapshot returned by Effect.

// AddResultTag classifies the outcome of TrackingCopy.Add.
type AddResultTag uint8

const (
	AddResultSuccess AddResultTag = iota
	AddResultKeyNotFound
	AddResultTypeMismatch
	AddResultOverflow
)

type AddResult struct {
	Tag      AddResultTag
	Key      Key
	Mismatch TypeMismatch
}

type TrackingCopy struct {
	reader     StateReader
	cache      map[Key]Value
	ops        map[Key]Op
	transforms map[Key]Transform
}

func NewTrackingCopy(reader StateReader) *TrackingCopy {
	return &TrackingCopy{
		reader:     reader,
		cache:      make(map[Key]Value),
		ops:        make(map[Key]Op),
		transforms: make(map[Key]Transform),
	}
}

func (tc *TrackingCopy) Reader() StateReader { return tc.reader }

// base returns the value under the reader, memoized. Keys are normalized so
// addr-equal URefs hit the same cell.
func (tc *TrackingCopy) base(key Key) (Value, bool, error) {
	key = key.Normalize()
	if v, ok := tc.cache[key]; ok {
		return v, true, nil
	}
	v, ok, err := tc.reader.Read(key)
	if err != nil || !ok {
		return nil, false, err
	}
	tc.cache[key] = v
	return v, true, nil
}

// Get returns the currently visible value at key: the stored value with the
// pending transform folded over it.
func (tc *TrackingCopy) Get(key Key) (Value, bool, error) {
	norm := key.Normalize()
	stored, found, err := tc.base(norm)
	if err != nil {
		return nil, false, err
	}
	transform, pending := tc.transforms[norm]
	if !pending {
		return stored, found, nil
	}
	if !found {
		// Only a write-rooted transform can conjure a missing value.
		if transform.Tag == TransformTagWrite {
			return transform.Value, true, nil
		}
		return nil, false, nil
	}
	v, err := transform.Apply(stored)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Read is Get plus recording the Read op for conflict detection.
func (tc *TrackingCopy) Read(key Key) (Value, bool, error) {
	norm := key.Normalize()
	v, ok, err := tc.Get(norm)
	if err != nil {
		return nil, false, err
	}
	tc.ops[norm] = combineOps(tc.ops[norm], OpRead)
	return v, ok, nil
}

// Write records a Write transform; write wins over anything accumulated.
func (tc *TrackingCopy) Write(key Key, value Value) {
	norm := key.Normalize()
	tc.transforms[norm] = WriteTransform(value)
	tc.ops[norm] = combineOps(tc.ops[norm], OpWrite)
}

// Add composes an add-shaped value into the pending transform for key. The
// composed result is validated against the visible value eagerly so the
// caller learns about mismatches at the add site, not at commit.
func (tc *TrackingCopy) Add(key Key, value Value) (AddResult, error) {
	norm := key.Normalize()
	transform, err := TransformForValue(value)
	if err != nil {
		var mismatch TypeMismatch
		if errors.As(err, &mismatch) {
			return AddResult{Tag: AddResultTypeMismatch, Key: norm, Mismatch: mismatch}, nil
		}
		return AddResult{}, err
	}

	current, found, err := tc.Get(norm)
	if err != nil {
		return AddResult{}, err
	}
	if !found {
		return AddResult{Tag: AddResultKeyNotFound, Key: norm}, nil
	}
	if _, err := transform.Apply(current); err != nil {
		var mismatch TypeMismatch
		if errors.As(err, &mismatch) {
			return AddResult{Tag: AddResultTypeMismatch, Key: norm, Mismatch: mismatch}, nil
		}
		if errors.Is(err, ErrOverflow) {
			return AddResult{Tag: AddResultOverflow, Key: norm}, nil
		}
		return AddResult{}, err
	}

	if prev, ok := tc.transforms[norm]; ok {
		tc.transforms[norm] = Compose(prev, transform)
	} else {
		tc.transforms[norm] = transform
	}
	tc.ops[norm] = combineOps(tc.ops[norm], OpAdd)
	return AddResult{Tag: AddResultSuccess}, nil
}

// Fork returns an independent child sharing the reader. The session phase
// runs in a fork so its effects can be dropped wholesale on failure.
func (tc *TrackingCopy) Fork() *TrackingCopy {
	child := NewTrackingCopy(tc.reader)
	for k, v := range tc.cache {
		child.cache[k] = v
	}
	for k, op := range tc.ops {
		child.ops[k] = op
	}
	for k, t := range tc.transforms {
		child.transforms[k] = t
	}
	return child
}

// Adopt replaces this copy's overlay with a fork's, making the fork's
// speculative state the surviving one. Used when a sub-call returns
// normally: its effects flush into the parent.
func (tc *TrackingCopy) Adopt(fork *TrackingCopy) {
	tc.cache = fork.cache
	tc.ops = fork.ops
	tc.transforms = fork.transforms
}

// Effect snapshots the accumulated ops and transforms.
func (tc *TrackingCopy) Effect() ExecutionEffect {
	eff := NewExecutionEffect()
	for k, op := range tc.ops {
		eff.Ops[k] = op
	}
	for k, t := range tc.transforms {
		eff.Transforms[k] = t
	}
	return eff
}

//---------------------------------------------------------------------
// Typed accessors
//---------------------------------------------------------------------

// GetAccount asserts that an account record lives at addr.
func (tc *TrackingCopy) GetAccount(addr PublicKey) (*Account, error) {
	key := AccountKey(addr)
	v, ok, err := tc.Read(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, KeyNotFoundError{Key: key}
	}
	acct, isAccount := v.(AccountValue)
	if !isAccount {
		return nil, TypeMismatch{Expected: "Value::Account", Found: v.TypeString()}
	}
	return acct.Account, nil
}

// GetContract asserts that a contract lives at key.
func (tc *TrackingCopy) GetContract(key Key) (*Contract, error) {
	v, ok, err := tc.Read(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, KeyNotFoundError{Key: key}
	}
	c, isContract := v.(ContractValue)
	if !isContract {
		return nil, TypeMismatch{Expected: "Value::Contract", Found: v.TypeString()}
	}
	return c.Contract, nil
}

// GetPurseBalanceKey resolves the cell holding a purse's balance: a local
// key scoped by the mint's seed over the purse address.
func (tc *TrackingCopy) GetPurseBalanceKey(mint URef, purseKey Key) (Key, error) {
	if purseKey.Tag != KeyTagURef {
		return Key{}, TypeMismatch{Expected: "Key::URef", Found: purseKey.TypeString()}
	}
	return LocalKey(mint.Addr, purseKey.Addr[:]), nil
}

// GetPurseBalance reads the U512 balance under a balance key.
func (tc *TrackingCopy) GetPurseBalance(balanceKey Key) (Motes, error) {
	v, ok, err := tc.Read(balanceKey)
	if err != nil {
		return Motes{}, err
	}
	if !ok {
		return Motes{}, KeyNotFoundError{Key: balanceKey}
	}
	b, isBig := v.(BigUintValue)
	if !isBig || b.Val.Width != WidthU512 {
		return Motes{}, TypeMismatch{Expected: "Value::UInt512", Found: v.TypeString()}
	}
	return Motes{Value: b.Val}, nil
}

// Query reads the value at key and then walks path through named-key tables
// of accounts and contracts.
func (tc *TrackingCopy) Query(key Key, path []string) (Value, error) {
	v, ok, err := tc.Read(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, KeyNotFoundError{Key: key}
	}
	for _, name := range path {
		var namedKeys map[string]Key
		switch val := v.(type) {
		case AccountValue:
			namedKeys = val.Account.NamedKeys
		case ContractValue:
			namedKeys = val.Contract.NamedKeys
		default:
			return nil, TypeMismatch{Expected: "Value::Account or Value::Contract", Found: v.TypeString()}
		}
		next, ok := namedKeys[name]
		if !ok {
			return nil, URefNotFoundError{Name: name}
		}
		v, ok, err = tc.Read(next)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, KeyNotFoundError{Key: next}
		}
	}
	return v, nil
}
