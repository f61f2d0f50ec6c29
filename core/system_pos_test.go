package core

import "testing"

func newTestPos(t *testing.T) (*hostPos, *hostMint, *TrackingCopy) {
	t.Helper()
	data := ProtocolData{
		WasmCosts:       DefaultWasmCosts(),
		Mint:            NewURef([32]byte{0x01}, AccessRightsReadAddWrite),
		ProofOfStake:    NewURef([32]byte{0x02}, AccessRightsReadAddWrite),
		StandardPayment: NewURef([32]byte{0x03}, AccessRightsReadAddWrite),
	}
	tc := newTestTrackingCopy(t, nil)
	rng := NewSeededAddressGenerator([]byte("pos-test"), PhaseSystem)
	mint := newHostMint(tc, data, rng)

	paymentPurse := mint.CreatePurse()
	rewardsPurse := mint.CreatePurse()
	posContract := NewContract(nil, map[string]Key{
		PosPaymentPurseName: paymentPurse.Key(),
		PosRewardsPurseName: rewardsPurse.Key(),
	}, ProtocolVersion{Major: 1})
	tc.Write(data.ProofOfStake.Key(), ContractValue{Contract: posContract})

	return newHostPos(tc, mint, data), mint, tc
}

func fundPaymentPurse(t *testing.T, pos *hostPos, mint *hostMint, amount uint64) URef {
	t.Helper()
	payment, err := pos.PaymentPurse()
	if err != nil {
		t.Fatalf("payment purse: %v", err)
	}
	source := mint.MintMotes(NewMotes(amount))
	if err := mint.Transfer(source, payment, NewMotes(amount)); err != nil {
		t.Fatalf("fund payment purse: %v", err)
	}
	return payment
}

func TestFinalizePaymentRefundsToAccount(t *testing.T) {
	pos, mint, tc := newTestPos(t)
	fundPaymentPurse(t, pos, mint, 10_000)

	accountPurse := mint.CreatePurse()
	account := NewAccount(PublicKey{0x0A}, nil, accountPurse.WithRights(AccessRightsReadAddWrite))
	tc.Write(AccountKey(account.PublicKey), AccountValue{Account: account})

	if err := pos.FinalizePayment(NewMotes(3_000), account.PublicKey); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	rewards, _ := pos.RewardsPurse()
	if balance, _ := mint.Balance(rewards); balance.Cmp(NewMotes(3_000)) != 0 {
		t.Fatalf("rewards = %s, want 3000", balance)
	}
	if balance, _ := mint.Balance(accountPurse); balance.Cmp(NewMotes(7_000)) != 0 {
		t.Fatalf("refund = %s, want 7000", balance)
	}
	payment, _ := pos.PaymentPurse()
	if balance, _ := mint.Balance(payment); !balance.IsZero() {
		t.Fatalf("payment purse must be drained, has %s", balance)
	}
}

func TestFinalizePaymentPrefersRefundPurse(t *testing.T) {
	pos, mint, _ := newTestPos(t)
	fundPaymentPurse(t, pos, mint, 5_000)

	refundPurse := mint.CreatePurse()
	if err := pos.SetRefundPurse(refundPurse); err != nil {
		t.Fatalf("set refund purse: %v", err)
	}
	got, ok, err := pos.RefundPurse()
	if err != nil || !ok || got.Addr != refundPurse.Addr {
		t.Fatalf("refund purse lookup: ok=%v err=%v", ok, err)
	}

	if err := pos.FinalizePayment(NewMotes(1_000), PublicKey{0x0B}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if balance, _ := mint.Balance(refundPurse); balance.Cmp(NewMotes(4_000)) != 0 {
		t.Fatalf("refund purse = %s, want 4000", balance)
	}
	// The refund purse registration is consumed by finalize.
	if _, ok, _ := pos.RefundPurse(); ok {
		t.Fatalf("refund purse must be cleared after finalize")
	}
}

func TestFinalizePaymentShortPurseIsFatal(t *testing.T) {
	pos, mint, _ := newTestPos(t)
	fundPaymentPurse(t, pos, mint, 100)
	err := pos.FinalizePayment(NewMotes(101), PublicKey{0x0C})
	if _, isFinalization := err.(FinalizationError); !isFinalization {
		t.Fatalf("expected FinalizationError, got %v", err)
	}
}

func TestFinalizePaymentExactAmountNoRefund(t *testing.T) {
	pos, mint, _ := newTestPos(t)
	fundPaymentPurse(t, pos, mint, 2_500)
	if err := pos.FinalizePayment(NewMotes(2_500), PublicKey{0x0D}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rewards, _ := pos.RewardsPurse()
	if balance, _ := mint.Balance(rewards); balance.Cmp(NewMotes(2_500)) != 0 {
		t.Fatalf("rewards = %s", balance)
	}
}
