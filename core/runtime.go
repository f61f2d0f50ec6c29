package core

// L4 runtime: one Wasm invocation over a RuntimeContext. The module's entry
// point is its exported "call" function; the host surface is registered as
// imports under "env", each call metered before it does anything. Wasm and
// host communicate through the module's exported linear memory plus a host
// buffer: length-returning host ops fill the buffer, and the guest copies it
// out with the matching get_* op.

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// ExecParams bundles the inputs of one Wasm invocation.
type ExecParams struct {
	Module            []byte
	Args              [][]byte
	NamedKeys         map[string]Key
	BaseKey           Key
	Account           *Account
	AuthorizationKeys map[PublicKey]struct{}
	BlockTime         uint64
	DeployHash        [32]byte
	GasLimit          Gas
	GasCounter        Gas
	Rng               *AddressGenerator
	ProtocolVersion   ProtocolVersion
	CorrelationID     CorrelationId
	TrackingCopy      *TrackingCopy
	Phase             Phase
	ProtocolData      ProtocolData
	Cache             *SystemContractCache
}

// Executor runs one module to completion and reports its effect and cost.
// The engine pipeline depends only on this interface so tests can substitute
// scripted executors.
type Executor interface {
	Exec(p ExecParams) ExecutionResult
}

// WasmExecutor is the production executor, backed by the Wasmer JIT.
type WasmExecutor struct {
	logger *logrus.Logger
}

func NewWasmExecutor(logger *logrus.Logger) *WasmExecutor {
	return &WasmExecutor{logger: logger}
}

func (x *WasmExecutor) Exec(p ExecParams) ExecutionResult {
	if p.NamedKeys == nil {
		p.NamedKeys = make(map[string]Key)
	}
	knownKeys := make([]Key, 0, len(p.NamedKeys))
	for _, k := range p.NamedKeys {
		knownKeys = append(knownKeys, k)
	}
	rng := p.Rng
	if rng == nil {
		rng = NewAddressGenerator(p.Account.PublicKey, p.BlockTime, p.Account.Nonce, p.DeployHash, p.Phase)
	}
	ctx := NewRuntimeContext(RuntimeContextParams{
		TrackingCopy:      p.TrackingCopy,
		NamedKeys:         p.NamedKeys,
		KnownURefs:        KnownURefsFromKeys(knownKeys),
		Args:              p.Args,
		Account:           p.Account,
		AuthorizationKeys: p.AuthorizationKeys,
		BaseKey:           p.BaseKey,
		BlockTime:         p.BlockTime,
		DeployHash:        p.DeployHash,
		Phase:             p.Phase,
		GasLimit:          p.GasLimit,
		GasCounter:        p.GasCounter,
		Rng:               rng,
		ProtocolVersion:   p.ProtocolVersion,
		ProtocolData:      p.ProtocolData,
		CorrelationID:     p.CorrelationID,
	})

	runtime := newRuntime(x, ctx, p.Module, p.Cache)
	if err := runtime.run(); err != nil {
		return FailureResult(err, ctx.Effect(), ctx.GasCounter())
	}
	return SuccessResult(ctx.Effect(), ctx.GasCounter())
}

//---------------------------------------------------------------------
// Runtime
//---------------------------------------------------------------------

type Runtime struct {
	executor *WasmExecutor
	ctx      *RuntimeContext
	module   []byte
	cache    *SystemContractCache

	memory       *wasmer.Memory
	wasmerModule *wasmer.Module
	hostBuf      []byte
	result       []byte
	termErr      error
}

func newRuntime(executor *WasmExecutor, ctx *RuntimeContext, module []byte, cache *SystemContractCache) *Runtime {
	return &Runtime{executor: executor, ctx: ctx, module: module, cache: cache}
}

// run instantiates the module and drives its "call" export. The returned
// error is the invocation's terminal error, with ret translated into a
// normal completion.
func (r *Runtime) run() error {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	mod, err := wasmer.NewModule(store, r.module)
	if err != nil {
		return InterpreterError{Message: err.Error()}
	}
	r.wasmerModule = mod
	imports := r.registerHost(store)
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return InterpreterError{Message: err.Error()}
	}
	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return InterpreterError{Message: "wasm memory export missing"}
	}
	r.memory = mem

	call, err := instance.Exports.GetFunction("call")
	if err != nil {
		return FunctionNotFoundError{Name: "call"}
	}
	_, callErr := call()

	switch {
	case r.termErr == nil && callErr == nil:
		return nil
	case r.termErr != nil:
		var ret retError
		if errors.As(r.termErr, &ret) {
			// ret terminates the top-level invocation successfully; the
			// extra urefs have nobody to widen.
			return nil
		}
		return r.termErr
	default:
		return InterpreterError{Message: callErr.Error()}
	}
}

// trap records the terminal error and aborts the Wasm instance. The first
// terminal error sticks; later traps during unwinding do not overwrite it.
func (r *Runtime) trap(err error) ([]wasmer.Value, error) {
	if r.termErr == nil {
		r.termErr = err
	}
	return nil, err
}

func (r *Runtime) charge(op hostOp) error {
	if err := r.ctx.ChargeGas(hostOpCost(op)); err != nil {
		return err
	}
	return nil
}

//---------------------------------------------------------------------
// Memory access
//---------------------------------------------------------------------

func (r *Runtime) readMem(ptr, size int32) ([]byte, error) {
	data := r.memory.Data()
	if ptr < 0 || size < 0 || int64(ptr)+int64(size) > int64(len(data)) {
		return nil, InterpreterError{Message: "memory access out of bounds"}
	}
	out := make([]byte, size)
	copy(out, data[ptr:ptr+size])
	return out, nil
}

func (r *Runtime) writeMem(ptr int32, b []byte) error {
	data := r.memory.Data()
	if ptr < 0 || int64(ptr)+int64(len(b)) > int64(len(data)) {
		return InterpreterError{Message: "memory access out of bounds"}
	}
	copy(data[ptr:], b)
	return nil
}

func (r *Runtime) keyFromMem(ptr, size int32) (Key, error) {
	raw, err := r.readMem(ptr, size)
	if err != nil {
		return Key{}, err
	}
	return KeyFromBytes(raw)
}

func (r *Runtime) valueFromMem(ptr, size int32) (Value, error) {
	raw, err := r.readMem(ptr, size)
	if err != nil {
		return nil, err
	}
	return ValueFromBytes(raw)
}

func (r *Runtime) stringFromMem(ptr, size int32) (string, error) {
	raw, err := r.readMem(ptr, size)
	if err != nil {
		return "", err
	}
	d := decoder{buf: raw}
	s := d.str()
	if err := d.finish(); err != nil {
		return "", err
	}
	return s, nil
}

//---------------------------------------------------------------------
// Host operations
//---------------------------------------------------------------------

func (r *Runtime) readValue(keyPtr, keySize int32) (int32, error) {
	key, err := r.keyFromMem(keyPtr, keySize)
	if err != nil {
		return 0, err
	}
	v, ok, err := r.ctx.ReadGS(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, KeyNotFoundError{Key: key}
	}
	r.hostBuf = ValueToBytes(v)
	return int32(len(r.hostBuf)), nil
}

func (r *Runtime) write(keyPtr, keySize, valPtr, valSize int32) error {
	key, err := r.keyFromMem(keyPtr, keySize)
	if err != nil {
		return err
	}
	value, err := r.valueFromMem(valPtr, valSize)
	if err != nil {
		return err
	}
	return r.ctx.WriteGS(key, value)
}

func (r *Runtime) add(keyPtr, keySize, valPtr, valSize int32) error {
	key, err := r.keyFromMem(keyPtr, keySize)
	if err != nil {
		return err
	}
	value, err := r.valueFromMem(valPtr, valSize)
	if err != nil {
		return err
	}
	return r.ctx.AddGS(key, value)
}

func (r *Runtime) newURef(keyPtr, valPtr, valSize int32) error {
	value, err := r.valueFromMem(valPtr, valSize)
	if err != nil {
		return err
	}
	key, err := r.ctx.NewURef(value)
	if err != nil {
		return err
	}
	return r.writeMem(keyPtr, key.ToBytes())
}

func (r *Runtime) loadArg(i int32) (int32, error) {
	args := r.ctx.Args()
	if int(i) < 0 || int(i) >= len(args) {
		return 0, ArgIndexOutOfBoundsError{Index: int(i)}
	}
	r.hostBuf = args[i]
	return int32(len(r.hostBuf)), nil
}

func (r *Runtime) ret(valPtr, valSize, urefsPtr, urefsSize int32) error {
	value, err := r.readMem(valPtr, valSize)
	if err != nil {
		return err
	}
	urefBytes, err := r.readMem(urefsPtr, urefsSize)
	if err != nil {
		return err
	}
	urefs, err := decodeKeys(urefBytes)
	if err != nil {
		return err
	}
	// Each returned uref must validate in this (the callee's) context.
	if err := r.ctx.ValidateKeys(urefs); err != nil {
		return err
	}
	r.result = value
	return retError{urefs: urefs}
}

//---------------------------------------------------------------------
// Sub-calls
//---------------------------------------------------------------------

func (r *Runtime) callContract(keyPtr, keySize, argsPtr, argsSize, urefsPtr, urefsSize int32) (int32, error) {
	key, err := r.keyFromMem(keyPtr, keySize)
	if err != nil {
		return 0, err
	}
	argsBytes, err := r.readMem(argsPtr, argsSize)
	if err != nil {
		return 0, err
	}
	urefBytes, err := r.readMem(urefsPtr, urefsSize)
	if err != nil {
		return 0, err
	}
	extraURefs, err := decodeKeys(urefBytes)
	if err != nil {
		return 0, err
	}
	// Extra urefs must already be valid for the caller; this is what stops a
	// sub-call from escalating its privileges.
	if err := r.ctx.ValidateKeys(extraURefs); err != nil {
		return 0, err
	}

	args, err := decodeArgList(argsBytes)
	if err != nil {
		return 0, err
	}

	result, err := r.subCall(key, args, extraURefs)
	if err != nil {
		return 0, err
	}
	r.hostBuf = result
	return int32(len(r.hostBuf)), nil
}

// decodeArgList parses a u32-counted list of length-prefixed argument blobs.
func decodeArgList(b []byte) ([][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	d := decoder{buf: b}
	n := d.u32()
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.bytes())
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeArgList is the inverse of decodeArgList.
func encodeArgList(args [][]byte) []byte {
	e := encoder{}
	e.u32(uint32(len(args)))
	for _, a := range args {
		e.bytes(a)
	}
	return e.buf
}

// subCall invokes the contract stored at key in a child context. The child
// runs against a fork of the tracking copy: a normal return (or ret) flushes
// the fork into the parent, a revert or trap discards it while the spent gas
// stays spent.
func (r *Runtime) subCall(key Key, args [][]byte, extraURefs []Key) ([]byte, error) {
	v, ok, err := r.ctx.ReadGS(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, KeyNotFoundError{Key: key}
	}
	contractValue, isContract := v.(ContractValue)
	if !isContract {
		return nil, FunctionNotFoundError{Name: fmt.Sprintf("value at %s is not a contract", key)}
	}
	contract := contractValue.Contract

	if !contract.ProtocolVersion.IsCompatibleWith(r.ctx.ProtocolVersion()) {
		return nil, IncompatibleProtocolMajorError{
			Expected: r.ctx.ProtocolVersion().Major,
			Actual:   contract.ProtocolVersion.Major,
		}
	}

	// System contracts are served host-side; their stored blobs are empty.
	if addr, isSystem := r.systemContractAddr(key); isSystem {
		return r.dispatchSystemContract(addr, args)
	}

	childNamedKeys := make(map[string]Key, len(contract.NamedKeys))
	knownKeys := make([]Key, 0, len(contract.NamedKeys)+len(extraURefs))
	for name, k := range contract.NamedKeys {
		childNamedKeys[name] = k
		knownKeys = append(knownKeys, k)
	}
	knownKeys = append(knownKeys, extraURefs...)

	childTC := r.ctx.TrackingCopy().Fork()
	childCtx := NewRuntimeContext(RuntimeContextParams{
		TrackingCopy:      childTC,
		NamedKeys:         childNamedKeys,
		KnownURefs:        KnownURefsFromKeys(knownKeys),
		Args:              args,
		Account:           r.ctx.Account(),
		AuthorizationKeys: r.ctx.AuthorizationKeys(),
		BaseKey:           key,
		BlockTime:         r.ctx.BlockTime(),
		DeployHash:        r.ctx.DeployHash(),
		Phase:             r.ctx.Phase(),
		GasLimit:          r.ctx.GasLimit(),
		GasCounter:        r.ctx.GasCounter(),
		FnStoreID:         r.ctx.FnStoreID(),
		Rng:               r.ctx.Rng().Fork(),
		ProtocolVersion:   r.ctx.ProtocolVersion(),
		ProtocolData:      r.ctx.ProtocolData(),
		CorrelationID:     r.ctx.correlationID,
	})

	child := newRuntime(r.executor, childCtx, contract.Bytes, r.cache)
	runErr := child.run()

	// The gas the child burned is spent regardless of how it ended.
	r.ctx.SetGasCounter(childCtx.GasCounter())

	if runErr != nil {
		return nil, runErr
	}

	// Success path (including ret, which child.run already translated):
	// flush the child's effects and widen our known set with any returned
	// urefs, each validated in the child's context inside ret.
	r.ctx.TrackingCopy().Adopt(childTC)
	var ret retError
	if errors.As(child.termErr, &ret) {
		r.ctx.AddURefs(KnownURefsFromKeys(ret.urefs))
	}
	return child.result, nil
}

func (r *Runtime) systemContractAddr(key Key) ([32]byte, bool) {
	if key.Tag != KeyTagURef {
		return [32]byte{}, false
	}
	pd := r.ctx.ProtocolData()
	switch key.Addr {
	case pd.Mint.Addr, pd.ProofOfStake.Addr, pd.StandardPayment.Addr:
		return key.Addr, true
	}
	return [32]byte{}, false
}

//---------------------------------------------------------------------
// Host-side system contracts
//---------------------------------------------------------------------

// dispatchSystemContract serves a call aimed at a system contract URef. The
// first argument names the entry point; the rest are its parameters.
func (r *Runtime) dispatchSystemContract(addr [32]byte, args [][]byte) ([]byte, error) {
	if len(args) == 0 {
		return nil, FunctionNotFoundError{Name: "system contract entry point missing"}
	}
	method, err := decodeStringArg(args[0])
	if err != nil {
		return nil, err
	}
	pd := r.ctx.ProtocolData()
	mint := newHostMint(r.ctx.TrackingCopy(), pd, r.ctx.Rng())
	switch addr {
	case pd.Mint.Addr:
		return r.dispatchMint(mint, method, args[1:])
	case pd.ProofOfStake.Addr:
		return r.dispatchPos(newHostPos(r.ctx.TrackingCopy(), mint, pd), method, args[1:])
	default:
		// Standard payment's single entry point.
		return nil, r.callHostStandardPayment(args[1:])
	}
}

func decodeStringArg(b []byte) (string, error) {
	v, err := ValueFromBytes(b)
	if err != nil {
		return "", err
	}
	s, ok := v.(StringValue)
	if !ok {
		return "", TypeMismatch{Expected: "Value::String", Found: v.TypeString()}
	}
	return string(s), nil
}

func decodeMotesArg(b []byte) (Motes, error) {
	v, err := ValueFromBytes(b)
	if err != nil {
		return Motes{}, err
	}
	amount, ok := v.(BigUintValue)
	if !ok || amount.Val.Width != WidthU512 {
		return Motes{}, TypeMismatch{Expected: "Value::UInt512", Found: v.TypeString()}
	}
	return Motes{Value: amount.Val}, nil
}

func decodeURefArg(b []byte) (URef, error) {
	v, err := ValueFromBytes(b)
	if err != nil {
		return URef{}, err
	}
	kv, ok := v.(KeyValue)
	if !ok {
		return URef{}, TypeMismatch{Expected: "Value::Key", Found: v.TypeString()}
	}
	uref, isURef := kv.Key.AsURef()
	if !isURef {
		return URef{}, TypeMismatch{Expected: "Key::URef", Found: kv.Key.TypeString()}
	}
	return uref, nil
}

func (r *Runtime) dispatchMint(mint *hostMint, method string, args [][]byte) ([]byte, error) {
	if err := r.ctx.ChargeGas(hostOpCost(hostOpMint)); err != nil {
		return nil, err
	}
	switch method {
	case MintMethodMint:
		// Conjuring motes is reserved for the system phase.
		if r.ctx.Phase() != PhaseSystem {
			return nil, InvalidAccessError{Required: AccessRightsReadAddWrite}
		}
		if len(args) != 1 {
			return nil, ArgIndexOutOfBoundsError{Index: len(args)}
		}
		amount, err := decodeMotesArg(args[0])
		if err != nil {
			return nil, err
		}
		purse := mint.MintMotes(amount)
		r.ctx.InsertURef(purse.Key())
		return ValueToBytes(KeyValue{Key: purse.Key()}), nil
	case MintMethodCreate:
		purse := mint.CreatePurse()
		r.ctx.InsertURef(purse.Key())
		return ValueToBytes(KeyValue{Key: purse.Key()}), nil
	case MintMethodBalance:
		if len(args) != 1 {
			return nil, ArgIndexOutOfBoundsError{Index: len(args)}
		}
		purse, err := decodeURefArg(args[0])
		if err != nil {
			return nil, err
		}
		balance, err := mint.Balance(purse)
		if err != nil {
			return nil, err
		}
		return ValueToBytes(BigUintValue{Val: balance.Value}), nil
	case MintMethodTransfer:
		if len(args) != 3 {
			return nil, ArgIndexOutOfBoundsError{Index: len(args)}
		}
		source, err := decodeURefArg(args[0])
		if err != nil {
			return nil, err
		}
		if err := r.ctx.ValidateKey(source.WithRights(AccessRightsWrite).Key()); err != nil {
			return nil, err
		}
		target, err := decodeURefArg(args[1])
		if err != nil {
			return nil, err
		}
		amount, err := decodeMotesArg(args[2])
		if err != nil {
			return nil, err
		}
		if err := mint.Transfer(source, target, amount); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return ValueToBytes(Int32Value(int32(TransferInsufficientFunds))), nil
			}
			return nil, err
		}
		return ValueToBytes(Int32Value(0)), nil
	default:
		return nil, FunctionNotFoundError{Name: "mint::" + method}
	}
}

func (r *Runtime) dispatchPos(pos *hostPos, method string, args [][]byte) ([]byte, error) {
	switch method {
	case PosMethodGetPaymentPurse:
		purse, err := pos.PaymentPurse()
		if err != nil {
			return nil, err
		}
		granted := purse.WithRights(AccessRightsAddWrite)
		r.ctx.InsertURef(granted.Key())
		return ValueToBytes(KeyValue{Key: granted.Key()}), nil
	case PosMethodSetRefundPurse:
		if len(args) != 1 {
			return nil, ArgIndexOutOfBoundsError{Index: len(args)}
		}
		purse, err := decodeURefArg(args[0])
		if err != nil {
			return nil, err
		}
		if err := r.ctx.ValidateKey(purse.Key()); err != nil {
			return nil, err
		}
		if err := pos.SetRefundPurse(purse); err != nil {
			return nil, err
		}
		return ValueToBytes(UnitValue{}), nil
	case PosMethodGetRefundPurse:
		purse, ok, err := pos.RefundPurse()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ValueToBytes(UnitValue{}), nil
		}
		return ValueToBytes(KeyValue{Key: purse.Key()}), nil
	case PosMethodFinalizePayment:
		if err := r.ctx.ChargeGas(hostOpCost(hostOpFinalizePayment)); err != nil {
			return nil, err
		}
		// Only the finalize phase, run by the system account, settles fees.
		if r.ctx.Phase() != PhaseFinalizePayment {
			return nil, InvalidAccessError{Required: AccessRightsReadAddWrite}
		}
		if len(args) != 2 {
			return nil, ArgIndexOutOfBoundsError{Index: len(args)}
		}
		amount, err := decodeMotesArg(args[0])
		if err != nil {
			return nil, err
		}
		accountValue, err := ValueFromBytes(args[1])
		if err != nil {
			return nil, err
		}
		raw, ok := accountValue.(ByteArrayValue)
		if !ok || len(raw) != 32 {
			return nil, TypeMismatch{Expected: "Value::ByteArray(32)", Found: accountValue.TypeString()}
		}
		var account PublicKey
		copy(account[:], raw)
		if err := pos.FinalizePayment(amount, account); err != nil {
			return nil, err
		}
		return ValueToBytes(UnitValue{}), nil
	default:
		return nil, FunctionNotFoundError{Name: "pos::" + method}
	}
}

// callHostStandardPayment transfers the requested amount from the account
// main purse into the proof-of-stake payment purse. This is what empty
// payment module bytes resolve to.
func (r *Runtime) callHostStandardPayment(args [][]byte) error {
	if err := r.ctx.ChargeGas(hostOpCost(hostOpStandardPayment)); err != nil {
		return err
	}
	if len(args) != 1 {
		return ArgIndexOutOfBoundsError{Index: len(args)}
	}
	amount, err := decodeMotesArg(args[0])
	if err != nil {
		return err
	}
	pd := r.ctx.ProtocolData()
	mint := newHostMint(r.ctx.TrackingCopy(), pd, r.ctx.Rng())
	pos := newHostPos(r.ctx.TrackingCopy(), mint, pd)
	paymentPurse, err := pos.PaymentPurse()
	if err != nil {
		return err
	}
	if err := mint.Transfer(r.ctx.Account().MainPurse, paymentPurse, amount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return RevertError{Code: 65026}
		}
		return err
	}
	return nil
}

// HostStandardPayment is the engine's entry into the standard payment path
// for a context that never instantiates Wasm (empty payment module bytes).
func HostStandardPayment(ctx *RuntimeContext) error {
	r := &Runtime{ctx: ctx}
	return r.callHostStandardPayment(ctx.Args())
}
