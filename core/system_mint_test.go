package core

import (
	"errors"
	"testing"
)

func newTestMint(t *testing.T) (*hostMint, *TrackingCopy, ProtocolData) {
	t.Helper()
	data := ProtocolData{
		WasmCosts:       DefaultWasmCosts(),
		Mint:            NewURef([32]byte{0x01}, AccessRightsReadAddWrite),
		ProofOfStake:    NewURef([32]byte{0x02}, AccessRightsReadAddWrite),
		StandardPayment: NewURef([32]byte{0x03}, AccessRightsReadAddWrite),
	}
	tc := newTestTrackingCopy(t, nil)
	rng := NewSeededAddressGenerator([]byte("mint-test"), PhaseSession)
	return newHostMint(tc, data, rng), tc, data
}

func TestMintCreateAndBalance(t *testing.T) {
	mint, _, _ := newTestMint(t)
	purse := mint.CreatePurse()
	balance, err := mint.Balance(purse)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("fresh purse balance = %s", balance)
	}

	funded := mint.MintMotes(NewMotes(12345))
	balance, err = mint.Balance(funded)
	if err != nil || balance.Cmp(NewMotes(12345)) != 0 {
		t.Fatalf("funded balance = %s err=%v", balance, err)
	}
}

func TestMintTransferMovesExactAmount(t *testing.T) {
	mint, _, _ := newTestMint(t)
	source := mint.MintMotes(NewMotes(100))
	target := mint.CreatePurse()

	if err := mint.Transfer(source, target, NewMotes(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if balance, _ := mint.Balance(source); balance.Cmp(NewMotes(70)) != 0 {
		t.Fatalf("source = %s", balance)
	}
	if balance, _ := mint.Balance(target); balance.Cmp(NewMotes(30)) != 0 {
		t.Fatalf("target = %s", balance)
	}
}

func TestMintTransferInsufficientFunds(t *testing.T) {
	mint, _, _ := newTestMint(t)
	source := mint.MintMotes(NewMotes(10))
	target := mint.CreatePurse()
	if err := mint.Transfer(source, target, NewMotes(11)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want InsufficientFunds", err)
	}
	// Nothing moved.
	if balance, _ := mint.Balance(source); balance.Cmp(NewMotes(10)) != 0 {
		t.Fatalf("source mutated on refused transfer")
	}
}

func TestMintTransferCreditIsCommutative(t *testing.T) {
	// Credits are adds, so the target transform stays mergeable across
	// deploys; debits are writes because the exact balance was observed.
	mint, tc, _ := newTestMint(t)
	source := mint.MintMotes(NewMotes(100))
	target := mint.CreatePurse()

	if err := mint.Transfer(source, target, NewMotes(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	eff := tc.Effect()
	if eff.Transforms[mint.BalanceKey(source)].Tag != TransformTagWrite {
		t.Fatalf("debit should be a write")
	}
	// A second credit composes additively onto the first.
	if err := mint.Transfer(source, target, NewMotes(7)); err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	balance, _ := mint.Balance(target)
	if balance.Cmp(NewMotes(12)) != 0 {
		t.Fatalf("target = %s, want 12", balance)
	}
}

func TestTransferToMissingTargetPurseFails(t *testing.T) {
	mint, _, _ := newTestMint(t)
	source := mint.MintMotes(NewMotes(100))
	ghost := NewURef([32]byte{0xEE}, AccessRightsReadAddWrite)
	if err := mint.Transfer(source, ghost, NewMotes(1)); err == nil {
		t.Fatalf("transfer into a purse with no balance cell must fail")
	}
}

//-------------------------------------------------------------
// Stake key names
//-------------------------------------------------------------

func TestStakeKeyNameRoundTrip(t *testing.T) {
	pk := PublicKey{0xAB, 0xCD}
	name := stakeKeyName(pk, NewMotes(31415))
	gotPK, gotStake, ok := parseStakeKeyName(name)
	if !ok {
		t.Fatalf("parse failed for %q", name)
	}
	if gotPK != pk || gotStake.Cmp(NewU512(31415)) != 0 {
		t.Fatalf("round trip mismatch: %v %s", gotPK, gotStake)
	}
}

func TestParseStakeKeyNameRejectsJunk(t *testing.T) {
	tests := []string{
		"",
		"v",
		"pos_payment_purse",
		"v_zz_10",
		"v_" + stakeKeyName(PublicKey{}, NewMotes(1))[2:60] + "_x",
		"w_0000000000000000000000000000000000000000000000000000000000000000_10",
		"v_0000000000000000000000000000000000000000000000000000000000000000_ten",
	}
	for _, name := range tests {
		if _, _, ok := parseStakeKeyName(name); ok {
			t.Fatalf("parsed junk name %q", name)
		}
	}
}
