package core

import (
	"errors"
	"testing"
)

// ------------------------------------------------------------
// Fixtures
// ------------------------------------------------------------

func mockAccount(addr [32]byte) (Key, *Account) {
	account := NewAccount(PublicKey(addr), nil, NewURef([32]byte{0xEE}, AccessRightsReadAddWrite))
	return AccountKey(addr), account
}

func mockContext(t *testing.T, knownURefs []Key) *RuntimeContext {
	t.Helper()
	baseAddr := [32]byte{}
	baseKey, account := mockAccount(baseAddr)
	tc := newTestTrackingCopy(t, map[Key]Value{
		baseKey: AccountValue{Account: account},
	})
	return NewRuntimeContext(RuntimeContextParams{
		TrackingCopy:      tc,
		NamedKeys:         map[string]Key{},
		KnownURefs:        KnownURefsFromKeys(knownURefs),
		Account:           account,
		AuthorizationKeys: map[PublicKey]struct{}{account.PublicKey: {}},
		BaseKey:           baseKey,
		GasLimit:          NewGas(1_000_000),
		Rng:               NewAddressGenerator(baseAddr, 0, 0, [32]byte{}, PhaseSession),
		ProtocolVersion:   ProtocolVersion{Major: 1},
	})
}

func urefKeyN(n byte, rights AccessRights) Key {
	var addr [32]byte
	addr[0] = n
	addr[31] = n
	return URefKey(addr, rights)
}

func assertForgedReference(t *testing.T, err error) {
	t.Helper()
	var forged ForgedReferenceError
	if !errors.As(err, &forged) {
		t.Fatalf("expected ForgedReference, got %v", err)
	}
}

func assertInvalidAccess(t *testing.T, err error, required AccessRights) {
	t.Helper()
	var invalid InvalidAccessError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidAccess, got %v", err)
	}
	if invalid.Required != required {
		t.Fatalf("required = %s, want %s", invalid.Required, required)
	}
}

// ------------------------------------------------------------
// URef capability matrix
// ------------------------------------------------------------

func TestUseURefValid(t *testing.T) {
	uref := urefKeyN(1, AccessRightsReadWrite)
	ctx := mockContext(t, []Key{uref})
	if err := ctx.WriteGS(uref, Int32Value(43)); err != nil {
		t.Fatalf("writing through a known uref should work: %v", err)
	}
}

func TestUseURefForged(t *testing.T) {
	uref := urefKeyN(1, AccessRightsReadWrite)
	ctx := mockContext(t, nil)
	assertForgedReference(t, ctx.WriteGS(uref, Int32Value(43)))
}

func TestURefReadableMatrix(t *testing.T) {
	readable := urefKeyN(2, AccessRightsRead)
	writeOnly := urefKeyN(3, AccessRightsWrite)
	ctx := mockContext(t, []Key{readable, writeOnly})

	if _, _, err := ctx.ReadGS(readable); err != nil {
		t.Fatalf("read through READ uref: %v", err)
	}
	_, _, err := ctx.ReadGS(writeOnly)
	assertInvalidAccess(t, err, AccessRightsRead)
}

func TestURefWriteableMatrix(t *testing.T) {
	writeable := urefKeyN(4, AccessRightsWrite)
	readOnly := urefKeyN(5, AccessRightsRead)
	ctx := mockContext(t, []Key{writeable, readOnly})

	if err := ctx.WriteGS(writeable, Int32Value(1)); err != nil {
		t.Fatalf("write through WRITE uref: %v", err)
	}
	assertInvalidAccess(t, ctx.WriteGS(readOnly, Int32Value(1)), AccessRightsWrite)
}

func TestURefAddableMatrix(t *testing.T) {
	addWrite := urefKeyN(6, AccessRightsAddWrite)
	writeOnly := urefKeyN(7, AccessRightsWrite)
	ctx := mockContext(t, []Key{addWrite, writeOnly})

	if err := ctx.WriteGS(addWrite, Int32Value(10)); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	if err := ctx.AddGS(addWrite, Int32Value(1)); err != nil {
		t.Fatalf("add through ADD uref: %v", err)
	}
	assertInvalidAccess(t, ctx.AddGS(writeOnly, Int32Value(1)), AccessRightsAdd)
}

func TestWeakerGrantDoesNotCoverStrongerUse(t *testing.T) {
	addr := urefKeyN(8, AccessRightsRead)
	ctx := mockContext(t, []Key{addr})
	// Known only with READ; presenting it with READ_WRITE is a forgery.
	stronger := URefKey(addr.Addr, AccessRightsReadWrite)
	assertForgedReference(t, ctx.ValidateKey(stronger))
}

// ------------------------------------------------------------
// Account / hash key rules
// ------------------------------------------------------------

func TestAccountKeyReadableOnlyAsBase(t *testing.T) {
	ctx := mockContext(t, nil)
	if _, _, err := ctx.ReadGS(ctx.BaseKey()); err != nil {
		t.Fatalf("base account key must be readable: %v", err)
	}
	other := AccountKey([32]byte{0x55})
	_, _, err := ctx.ReadGS(other)
	assertInvalidAccess(t, err, AccessRightsRead)
}

func TestAccountKeyNeverWriteable(t *testing.T) {
	ctx := mockContext(t, nil)
	assertInvalidAccess(t, ctx.WriteGS(ctx.BaseKey(), Int32Value(1)), AccessRightsWrite)
}

func TestAccountKeyAddableOnlyAsBase(t *testing.T) {
	uref := urefKeyN(9, AccessRightsRead)
	ctx := mockContext(t, []Key{uref})

	if err := ctx.AddGS(ctx.BaseKey(), NamedKeyValue{Name: "NewURef", Key: uref}); err != nil {
		t.Fatalf("adding a named key to the base account: %v", err)
	}
	eff := ctx.Effect()
	transform := eff.Transforms[ctx.BaseKey()]
	if transform.Tag != TransformTagAddKeys || transform.Keys["NewURef"] != uref {
		t.Fatalf("expected AddKeys transform, got %s", transform.typeString())
	}

	other := AccountKey([32]byte{0x66})
	assertInvalidAccess(t, ctx.AddGS(other, Int32Value(1)), AccessRightsAdd)
}

func TestHashKeyReadableNeverWriteable(t *testing.T) {
	contractKey := HashKey([32]byte{0x77})
	ctx := mockContext(t, nil)
	// Readable from anywhere; a miss is KeyNotFound territory, not access.
	if _, found, err := ctx.ReadGS(contractKey); err != nil || found {
		t.Fatalf("hash read: found=%v err=%v", found, err)
	}
	assertInvalidAccess(t, ctx.WriteGS(contractKey, Int32Value(1)), AccessRightsWrite)
	assertInvalidAccess(t, ctx.AddGS(contractKey, Int32Value(1)), AccessRightsAdd)
}

// ------------------------------------------------------------
// Embedded-key validation
// ------------------------------------------------------------

func TestStoreContractWithURefValid(t *testing.T) {
	uref := urefKeyN(10, AccessRightsReadWrite)
	ctx := mockContext(t, []Key{uref})
	contract := NewContract(nil, map[string]Key{"ValidURef": uref}, ProtocolVersion{Major: 1})

	addr, err := ctx.StoreContract(contract)
	if err != nil {
		t.Fatalf("store contract: %v", err)
	}
	v, found, err := ctx.ReadGS(HashKey(addr))
	if err != nil || !found {
		t.Fatalf("stored contract unreadable: %v", err)
	}
	if !ValuesEqual(v, ContractValue{Contract: contract}) {
		t.Fatalf("stored contract differs")
	}
}

func TestStoreContractWithURefForged(t *testing.T) {
	uref := urefKeyN(11, AccessRightsReadWrite)
	ctx := mockContext(t, nil)
	contract := NewContract(nil, map[string]Key{"ForgedURef": uref}, ProtocolVersion{Major: 1})
	_, err := ctx.StoreContract(contract)
	assertForgedReference(t, err)
}

func TestWriteValueEmbeddingForgedURef(t *testing.T) {
	known := urefKeyN(12, AccessRightsReadWrite)
	forged := urefKeyN(13, AccessRightsReadWrite)
	ctx := mockContext(t, []Key{known})
	assertForgedReference(t, ctx.WriteGS(known, KeyValue{Key: forged}))
}

// ------------------------------------------------------------
// Derivation
// ------------------------------------------------------------

func TestNewURefIsKnownAndDeterministic(t *testing.T) {
	ctx1 := mockContext(t, nil)
	key1, err := ctx1.NewURef(Int32Value(1))
	if err != nil {
		t.Fatalf("new uref: %v", err)
	}
	if err := ctx1.ValidateKey(key1); err != nil {
		t.Fatalf("fresh uref must be known: %v", err)
	}
	if key1.Rights != AccessRightsReadAddWrite {
		t.Fatalf("fresh uref rights = %s", key1.Rights)
	}
	v, found, err := ctx1.ReadGS(key1)
	if err != nil || !found || !ValuesEqual(v, Int32Value(1)) {
		t.Fatalf("initial value not written")
	}

	// Identical seeds yield identical addresses on a fresh context.
	ctx2 := mockContext(t, nil)
	key2, err := ctx2.NewURef(Int32Value(1))
	if err != nil {
		t.Fatalf("new uref: %v", err)
	}
	if key1.Addr != key2.Addr {
		t.Fatalf("uref addresses must be replay-deterministic")
	}
}

func TestFunctionAddressesAreDistinct(t *testing.T) {
	ctx := mockContext(t, nil)
	a := ctx.NewFunctionAddress()
	b := ctx.NewFunctionAddress()
	if a == b {
		t.Fatalf("two stores in one invocation must get distinct addresses")
	}
}

func TestGasChargingTrapsAtLimit(t *testing.T) {
	ctx := mockContext(t, nil)
	if err := ctx.ChargeGas(NewGas(999_999)); err != nil {
		t.Fatalf("charge below limit: %v", err)
	}
	if err := ctx.ChargeGas(NewGas(2)); !errors.Is(err, ErrGasLimit) {
		t.Fatalf("expected gas limit, got %v", err)
	}
	// The counter stays at the last good value.
	if ctx.GasCounter().Cmp(NewGas(999_999)) != 0 {
		t.Fatalf("failed charge must not move the counter")
	}
}

func TestLocalKeysAreContextScoped(t *testing.T) {
	ctx := mockContext(t, nil)
	local := ctx.LocalKeyFor([]byte("cell"))
	if err := ctx.WriteGS(local, Int32Value(5)); err != nil {
		t.Fatalf("local write: %v", err)
	}
	v, found, err := ctx.ReadGS(LocalKey([32]byte{}, []byte("cell")))
	if err != nil || !found || !ValuesEqual(v, Int32Value(5)) {
		t.Fatalf("local keys must rescope to the context seed: %v %v", found, err)
	}
}

func TestPutNamedKeyRecordsAddKeys(t *testing.T) {
	uref := urefKeyN(14, AccessRightsRead)
	ctx := mockContext(t, []Key{uref})
	if err := ctx.PutNamedKey("price", uref); err != nil {
		t.Fatalf("put named key: %v", err)
	}
	if !ctx.HasNamedKey("price") {
		t.Fatalf("named key not mirrored locally")
	}
	got, ok := ctx.GetNamedKey("price")
	if !ok || got != uref {
		t.Fatalf("lookup mismatch")
	}
}
