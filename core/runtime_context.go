package core

// RuntimeContext holds everything specific to one Wasm invocation: the
// tracking copy, the named keys visible to the running entity, the set of
// URefs the invocation has legitimately observed, gas accounting and the
// deterministic RNG. Sub-calls get a child context; nothing here is shared
// across deploys.

type RuntimeContext struct {
	tc         *TrackingCopy
	namedKeys  map[string]Key
	knownURefs map[[32]byte]map[AccessRights]struct{}
	args       [][]byte
	account    *Account
	authKeys   map[PublicKey]struct{}
	baseKey    Key
	blockTime  uint64
	deployHash [32]byte
	phase      Phase

	gasLimit   Gas
	gasCounter Gas
	fnStoreID  uint32
	rng        *AddressGenerator

	protocolVersion ProtocolVersion
	protocolData    ProtocolData
	correlationID   CorrelationId
}

type RuntimeContextParams struct {
	TrackingCopy    *TrackingCopy
	NamedKeys       map[string]Key
	KnownURefs      map[[32]byte]map[AccessRights]struct{}
	Args              [][]byte
	Account           *Account
	AuthorizationKeys map[PublicKey]struct{}
	BaseKey           Key
	BlockTime       uint64
	DeployHash      [32]byte
	Phase           Phase
	GasLimit        Gas
	GasCounter      Gas
	FnStoreID       uint32
	Rng             *AddressGenerator
	ProtocolVersion ProtocolVersion
	ProtocolData    ProtocolData
	CorrelationID   CorrelationId
}

func NewRuntimeContext(p RuntimeContextParams) *RuntimeContext {
	if p.NamedKeys == nil {
		p.NamedKeys = make(map[string]Key)
	}
	if p.KnownURefs == nil {
		p.KnownURefs = make(map[[32]byte]map[AccessRights]struct{})
	}
	return &RuntimeContext{
		tc:              p.TrackingCopy,
		namedKeys:       p.NamedKeys,
		knownURefs:      p.KnownURefs,
		args:            p.Args,
		account:         p.Account,
		authKeys:        p.AuthorizationKeys,
		baseKey:         p.BaseKey,
		blockTime:       p.BlockTime,
		deployHash:      p.DeployHash,
		phase:           p.Phase,
		gasLimit:        p.GasLimit,
		gasCounter:      p.GasCounter,
		fnStoreID:       p.FnStoreID,
		rng:             p.Rng,
		protocolVersion: p.ProtocolVersion,
		protocolData:    p.ProtocolData,
		correlationID:   p.CorrelationID,
	}
}

// KnownURefsFromKeys groups URef keys by address, accumulating the rights
// masks each address has been seen with.
func KnownURefsFromKeys(keys []Key) map[[32]byte]map[AccessRights]struct{} {
	out := make(map[[32]byte]map[AccessRights]struct{})
	for _, k := range keys {
		if k.Tag != KeyTagURef {
			continue
		}
		grants, ok := out[k.Addr]
		if !ok {
			grants = make(map[AccessRights]struct{})
			out[k.Addr] = grants
		}
		grants[k.Rights] = struct{}{}
	}
	return out
}

func (ctx *RuntimeContext) Account() *Account       { return ctx.account }
func (ctx *RuntimeContext) AuthorizationKeys() map[PublicKey]struct{} { return ctx.authKeys }
func (ctx *RuntimeContext) BaseKey() Key            { return ctx.baseKey }
func (ctx *RuntimeContext) BlockTime() uint64       { return ctx.blockTime }
func (ctx *RuntimeContext) DeployHash() [32]byte    { return ctx.deployHash }
func (ctx *RuntimeContext) Phase() Phase            { return ctx.phase }
func (ctx *RuntimeContext) Args() [][]byte          { return ctx.args }
func (ctx *RuntimeContext) GasLimit() Gas           { return ctx.gasLimit }
func (ctx *RuntimeContext) GasCounter() Gas         { return ctx.gasCounter }
func (ctx *RuntimeContext) TrackingCopy() *TrackingCopy { return ctx.tc }
func (ctx *RuntimeContext) NamedKeys() map[string]Key   { return ctx.namedKeys }
func (ctx *RuntimeContext) Rng() *AddressGenerator  { return ctx.rng }
func (ctx *RuntimeContext) FnStoreID() uint32       { return ctx.fnStoreID }
func (ctx *RuntimeContext) ProtocolVersion() ProtocolVersion { return ctx.protocolVersion }
func (ctx *RuntimeContext) ProtocolData() ProtocolData       { return ctx.protocolData }

func (ctx *RuntimeContext) SetGasCounter(g Gas) { ctx.gasCounter = g }

// Caller is the account that originated the top-level deploy; it does not
// change across sub-calls.
func (ctx *RuntimeContext) Caller() PublicKey { return ctx.account.PublicKey }

// ChargeGas deducts amount, trapping with ErrGasLimit on exhaustion. Counter
// overflow counts as exhaustion, never as a wrap.
func (ctx *RuntimeContext) ChargeGas(amount Gas) error {
	next, ok := ctx.gasCounter.Add(amount)
	if !ok || next.Cmp(ctx.gasLimit) > 0 {
		return ErrGasLimit
	}
	ctx.gasCounter = next
	return nil
}

func (ctx *RuntimeContext) Effect() ExecutionEffect { return ctx.tc.Effect() }

//---------------------------------------------------------------------
// Named keys
//---------------------------------------------------------------------

func (ctx *RuntimeContext) GetNamedKey(name string) (Key, bool) {
	k, ok := ctx.namedKeys[name]
	return k, ok
}

func (ctx *RuntimeContext) HasNamedKey(name string) bool {
	_, ok := ctx.namedKeys[name]
	return ok
}

// PutNamedKey adds a named key to the current context's entity via an
// AddKeys transform on the base key, then mirrors it locally.
func (ctx *RuntimeContext) PutNamedKey(name string, key Key) error {
	if err := ctx.AddGS(ctx.baseKey, NamedKeyValue{Name: name, Key: key}); err != nil {
		return err
	}
	ctx.insertNamedURef(name, key)
	return nil
}

// RemoveNamedKey drops a named key from the current entity. The mutation is
// expressed as a write of the updated record.
func (ctx *RuntimeContext) RemoveNamedKey(name string) error {
	if _, ok := ctx.namedKeys[name]; !ok {
		return URefNotFoundError{Name: name}
	}
	v, found, err := ctx.tc.Read(ctx.baseKey)
	if err != nil {
		return err
	}
	if !found {
		return KeyNotFoundError{Key: ctx.baseKey}
	}
	switch val := v.(type) {
	case AccountValue:
		acct := val.Account.Clone()
		delete(acct.NamedKeys, name)
		ctx.tc.Write(ctx.baseKey, AccountValue{Account: acct})
	case ContractValue:
		c := val.Contract.Clone()
		delete(c.NamedKeys, name)
		ctx.tc.Write(ctx.baseKey, ContractValue{Contract: c})
	default:
		return TypeMismatch{Expected: "Value::Account or Value::Contract", Found: v.TypeString()}
	}
	delete(ctx.namedKeys, name)
	return nil
}

func (ctx *RuntimeContext) insertNamedURef(name string, key Key) {
	ctx.InsertURef(key)
	ctx.namedKeys[name] = key
}

// InsertURef marks a URef as legitimately observed by this invocation.
func (ctx *RuntimeContext) InsertURef(key Key) {
	if key.Tag != KeyTagURef {
		return
	}
	grants, ok := ctx.knownURefs[key.Addr]
	if !ok {
		grants = make(map[AccessRights]struct{})
		ctx.knownURefs[key.Addr] = grants
	}
	grants[key.Rights] = struct{}{}
}

// AddURefs widens the known set with another invocation's grants (used when
// a sub-call returns extra urefs).
func (ctx *RuntimeContext) AddURefs(urefs map[[32]byte]map[AccessRights]struct{}) {
	for addr, grants := range urefs {
		dst, ok := ctx.knownURefs[addr]
		if !ok {
			dst = make(map[AccessRights]struct{})
			ctx.knownURefs[addr] = dst
		}
		for r := range grants {
			dst[r] = struct{}{}
		}
	}
}

func (ctx *RuntimeContext) KnownURefs() map[[32]byte]map[AccessRights]struct{} {
	return ctx.knownURefs
}

//---------------------------------------------------------------------
// Address derivation
//---------------------------------------------------------------------

// NewFunctionAddress derives a fresh contract address from the account's
// public key, its nonce and the per-invocation store counter; the counter
// increments after each use so two stores in one invocation never collide.
func (ctx *RuntimeContext) NewFunctionAddress() [32]byte {
	e := encoder{}
	e.raw(ctx.account.PublicKey[:])
	e.u64(ctx.account.Nonce)
	e.u32(ctx.fnStoreID)
	ctx.fnStoreID++
	return NewBlake2bHash(e.buf)
}

// NewURef mints an unforgeable reference with full rights, registers it as
// known, and writes the initial value under it.
func (ctx *RuntimeContext) NewURef(initValue Value) (Key, error) {
	addr := ctx.rng.CreateAddress()
	key := URefKey(addr, AccessRightsReadAddWrite)
	ctx.InsertURef(key)
	if err := ctx.WriteGS(key, initValue); err != nil {
		return Key{}, err
	}
	return key, nil
}

// StoreContract writes a contract under a freshly derived hash key. Embedded
// keys are validated the same as any other write.
func (ctx *RuntimeContext) StoreContract(contract *Contract) ([32]byte, error) {
	if err := ctx.validateValueKeys(ContractValue{Contract: contract}); err != nil {
		return [32]byte{}, err
	}
	addr := ctx.NewFunctionAddress()
	ctx.tc.Write(HashKey(addr), ContractValue{Contract: contract})
	return addr, nil
}

//---------------------------------------------------------------------
// Capability enforcement
//---------------------------------------------------------------------

// ValidateKey rejects URefs the invocation has never legitimately observed,
// or observed only with weaker rights. Everything else passes; accounts and
// hashes are gated by the readable/writeable/addable checks instead.
func (ctx *RuntimeContext) ValidateKey(key Key) error {
	if key.Tag != KeyTagURef {
		return nil
	}
	grants, ok := ctx.knownURefs[key.Addr]
	if !ok {
		return ForgedReferenceError{Key: key}
	}
	for granted := range grants {
		if granted.Contains(key.Rights) {
			return nil
		}
	}
	return ForgedReferenceError{Key: key}
}

// validateValueKeys scans a value for embedded keys; every URef inside must
// itself validate, so a forged reference cannot be laundered through a
// container value.
func (ctx *RuntimeContext) validateValueKeys(v Value) error {
	for _, k := range ExtractURefs(v) {
		if err := ctx.ValidateKey(k); err != nil {
			return err
		}
	}
	return nil
}

// ValidateKeys exposes embedded-key validation for deserialized key lists
// crossing the call boundary.
func (ctx *RuntimeContext) ValidateKeys(keys []Key) error {
	for _, k := range keys {
		if err := ctx.ValidateKey(k); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *RuntimeContext) isReadable(key Key) bool {
	switch key.Tag {
	case KeyTagAccount:
		return key == ctx.baseKey
	case KeyTagHash:
		return true
	case KeyTagURef:
		return key.Rights.IsReadable()
	case KeyTagLocal:
		return true
	default:
		return false
	}
}

func (ctx *RuntimeContext) isAddable(key Key) bool {
	switch key.Tag {
	case KeyTagAccount, KeyTagHash:
		return key == ctx.baseKey
	case KeyTagURef:
		return key.Rights.IsAddable()
	case KeyTagLocal:
		return true
	default:
		return false
	}
}

func (ctx *RuntimeContext) isWriteable(key Key) bool {
	switch key.Tag {
	case KeyTagAccount, KeyTagHash:
		return false
	case KeyTagURef:
		return key.Rights.IsWriteable()
	case KeyTagLocal:
		return true
	default:
		return false
	}
}

//---------------------------------------------------------------------
// Global state access
//---------------------------------------------------------------------

// ReadGS reads key, enforcing readability and provenance.
func (ctx *RuntimeContext) ReadGS(key Key) (Value, bool, error) {
	if !ctx.isReadable(key) {
		return nil, false, InvalidAccessError{Required: AccessRightsRead}
	}
	if err := ctx.ValidateKey(key); err != nil {
		return nil, false, err
	}
	return ctx.tc.Read(ctx.scoped(key))
}

// WriteGS writes value under key, enforcing writeability, provenance and
// embedded-key validity.
func (ctx *RuntimeContext) WriteGS(key Key, value Value) error {
	if !ctx.isWriteable(key) {
		return InvalidAccessError{Required: AccessRightsWrite}
	}
	if err := ctx.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.validateValueKeys(value); err != nil {
		return err
	}
	ctx.tc.Write(ctx.scoped(key), value)
	return nil
}

// AddGS composes an add under key, enforcing addability and provenance.
func (ctx *RuntimeContext) AddGS(key Key, value Value) error {
	if !ctx.isAddable(key) {
		return InvalidAccessError{Required: AccessRightsAdd}
	}
	if err := ctx.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.validateValueKeys(value); err != nil {
		return err
	}
	res, err := ctx.tc.Add(ctx.scoped(key), value)
	if err != nil {
		return err
	}
	switch res.Tag {
	case AddResultSuccess:
		return nil
	case AddResultKeyNotFound:
		return KeyNotFoundError{Key: res.Key}
	case AddResultTypeMismatch:
		return res.Mismatch
	default:
		return ErrOverflow
	}
}

// scoped re-seeds Local keys with this context's seed so per-contract
// storage cannot leak across base keys. The seed is derived from the base
// key's canonical bytes.
func (ctx *RuntimeContext) scoped(key Key) Key {
	if key.Tag != KeyTagLocal {
		return key
	}
	seed := NewBlake2bHash(ctx.baseKey.ToBytes())
	return Key{Tag: KeyTagLocal, Seed: seed, Addr: key.Addr}
}

// LocalKeyFor builds the context-scoped local key for raw key bytes.
func (ctx *RuntimeContext) LocalKeyFor(keyBytes []byte) Key {
	seed := NewBlake2bHash(ctx.baseKey.ToBytes())
	return LocalKey(seed, keyBytes)
}
