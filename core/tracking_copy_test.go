package core

import "testing"

func newTestTrackingCopy(t *testing.T, seed map[Key]Value) *TrackingCopy {
	t.Helper()
	state := newTestGlobalState(t)
	effects := make(map[Key]Transform, len(seed))
	for k, v := range seed {
		effects[k] = WriteTransform(v)
	}
	root := state.EmptyRoot()
	if len(effects) > 0 {
		root = mustCommit(t, state, root, effects)
	}
	reader, ok, err := state.Checkout(root)
	if err != nil || !ok {
		t.Fatalf("checkout: ok=%v err=%v", ok, err)
	}
	return NewTrackingCopy(reader)
}

func TestTrackingCopyReadYourWrites(t *testing.T) {
	key := URefKey([32]byte{1}, AccessRightsNone)
	tc := newTestTrackingCopy(t, nil)

	if _, found, _ := tc.Read(key); found {
		t.Fatalf("found value in empty state")
	}
	tc.Write(key, Int32Value(10))
	v, found, err := tc.Read(key)
	if err != nil || !found || !ValuesEqual(v, Int32Value(10)) {
		t.Fatalf("write not visible to read: %v %v %v", v, found, err)
	}
}

func TestTrackingCopyAddFoldsIntoReads(t *testing.T) {
	key := URefKey([32]byte{2}, AccessRightsNone)
	tc := newTestTrackingCopy(t, map[Key]Value{key: Int32Value(10)})

	for i := 0; i < 3; i++ {
		res, err := tc.Add(key, Int32Value(5))
		if err != nil || res.Tag != AddResultSuccess {
			t.Fatalf("add %d: %v tag=%d", i, err, res.Tag)
		}
	}
	v, _, _ := tc.Read(key)
	if !ValuesEqual(v, Int32Value(25)) {
		t.Fatalf("adds not folded: got %v", v)
	}

	eff := tc.Effect()
	transform := eff.Transforms[key]
	if transform.Tag != TransformTagAddInt32 || transform.I32 != 15 {
		t.Fatalf("composed transform wrong: %s %d", transform.typeString(), transform.I32)
	}
	if eff.Ops[key] != OpAdd {
		t.Fatalf("op = %v, want Add", eff.Ops[key])
	}
}

func TestTrackingCopyAddResults(t *testing.T) {
	present := URefKey([32]byte{3}, AccessRightsNone)
	missing := URefKey([32]byte{4}, AccessRightsNone)
	tc := newTestTrackingCopy(t, map[Key]Value{present: StringValue("s")})

	res, err := tc.Add(missing, Int32Value(1))
	if err != nil || res.Tag != AddResultKeyNotFound {
		t.Fatalf("missing key: tag=%d err=%v", res.Tag, err)
	}
	res, err = tc.Add(present, Int32Value(1))
	if err != nil || res.Tag != AddResultTypeMismatch {
		t.Fatalf("mismatched add: tag=%d err=%v", res.Tag, err)
	}
	res, err = tc.Add(present, UnitValue{})
	if err != nil || res.Tag != AddResultTypeMismatch {
		t.Fatalf("non-monoid value: tag=%d err=%v", res.Tag, err)
	}
}

func TestTrackingCopyOpsRecord(t *testing.T) {
	key := URefKey([32]byte{5}, AccessRightsNone)
	tc := newTestTrackingCopy(t, map[Key]Value{key: Int32Value(0)})

	tc.Read(key)
	if tc.Effect().Ops[key] != OpRead {
		t.Fatalf("read not recorded")
	}
	tc.Add(key, Int32Value(1))
	if tc.Effect().Ops[key] != OpAdd {
		t.Fatalf("add should outrank read")
	}
	tc.Write(key, Int32Value(9))
	if tc.Effect().Ops[key] != OpWrite {
		t.Fatalf("write should outrank add")
	}
}

func TestTrackingCopyForkIsIndependent(t *testing.T) {
	key := URefKey([32]byte{6}, AccessRightsNone)
	tc := newTestTrackingCopy(t, map[Key]Value{key: Int32Value(1)})
	tc.Write(key, Int32Value(2))

	fork := tc.Fork()
	fork.Write(key, Int32Value(3))

	if v, _, _ := tc.Read(key); !ValuesEqual(v, Int32Value(2)) {
		t.Fatalf("fork leaked into the parent")
	}
	if v, _, _ := fork.Read(key); !ValuesEqual(v, Int32Value(3)) {
		t.Fatalf("fork lost its own write")
	}

	// Adopt makes the fork's state the surviving one.
	tc.Adopt(fork)
	if v, _, _ := tc.Read(key); !ValuesEqual(v, Int32Value(3)) {
		t.Fatalf("adopt did not take the fork's state")
	}
}

func TestTrackingCopyURefKeysNormalize(t *testing.T) {
	addr := [32]byte{7}
	tc := newTestTrackingCopy(t, nil)
	tc.Write(URefKey(addr, AccessRightsReadAddWrite), Int32Value(1))

	// The same address under different rights is the same cell.
	v, found, _ := tc.Read(URefKey(addr, AccessRightsRead))
	if !found || !ValuesEqual(v, Int32Value(1)) {
		t.Fatalf("addr-equal urefs must alias one cell")
	}
}

func TestTypedGetters(t *testing.T) {
	pk := PublicKey{8}
	purse := NewURef([32]byte{9}, AccessRightsReadAddWrite)
	account := NewAccount(pk, nil, purse)
	contractKey := HashKey([32]byte{10})
	contract := NewContract([]byte{1}, nil, ProtocolVersion{Major: 1})
	mint := NewURef([32]byte{11}, AccessRightsReadAddWrite)
	balanceKey := LocalKey(mint.Addr, purse.Addr[:])

	tc := newTestTrackingCopy(t, map[Key]Value{
		AccountKey(pk): AccountValue{Account: account},
		contractKey:    ContractValue{Contract: contract},
		balanceKey:     BigUintValue{Val: NewU512(777)},
	})

	if got, err := tc.GetAccount(pk); err != nil || got.PublicKey != pk {
		t.Fatalf("get account: %v", err)
	}
	if _, err := tc.GetAccount(PublicKey{99}); err == nil {
		t.Fatalf("missing account should error")
	}
	if got, err := tc.GetContract(contractKey); err != nil || got.ProtocolVersion.Major != 1 {
		t.Fatalf("get contract: %v", err)
	}
	if _, err := tc.GetContract(AccountKey(pk)); err == nil {
		t.Fatalf("account value is not a contract")
	}

	key, err := tc.GetPurseBalanceKey(mint, purse.Key())
	if err != nil {
		t.Fatalf("balance key: %v", err)
	}
	if key != balanceKey {
		t.Fatalf("balance key mismatch")
	}
	balance, err := tc.GetPurseBalance(key)
	if err != nil || balance.Cmp(NewMotes(777)) != 0 {
		t.Fatalf("balance: %v %v", balance, err)
	}
	if _, err := tc.GetPurseBalanceKey(mint, contractKey); err == nil {
		t.Fatalf("non-uref purse key should mismatch")
	}
}

func TestQueryWalksNamedKeys(t *testing.T) {
	pk := PublicKey{12}
	counterKey := URefKey([32]byte{13}, AccessRightsReadAddWrite)
	contractKey := HashKey([32]byte{14})

	contract := NewContract([]byte{1}, map[string]Key{"counter": counterKey}, ProtocolVersion{Major: 1})
	account := NewAccount(pk, map[string]Key{"store": contractKey}, NewURef([32]byte{15}, AccessRightsReadAddWrite))

	tc := newTestTrackingCopy(t, map[Key]Value{
		AccountKey(pk): AccountValue{Account: account},
		contractKey:    ContractValue{Contract: contract},
		counterKey:     Int32Value(41),
	})

	v, err := tc.Query(AccountKey(pk), []string{"store", "counter"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !ValuesEqual(v, Int32Value(41)) {
		t.Fatalf("query value: %v", v)
	}

	if _, err := tc.Query(AccountKey(pk), []string{"nope"}); err == nil {
		t.Fatalf("missing path element should error")
	}
	if _, err := tc.Query(counterKey, []string{"x"}); err == nil {
		t.Fatalf("walking through a plain value should error")
	}
}
