package core

import (
	"bytes"
	"testing"
)

//-------------------------------------------------------------
// Key round trips
//-------------------------------------------------------------

func TestKeyRoundTrip(t *testing.T) {
	var addr [32]byte
	for i := range addr {
		addr[i] = byte(i)
	}
	var seed [32]byte
	seed[0] = 0xAB

	tests := []struct {
		name string
		key  Key
	}{
		{"Account", AccountKey(addr)},
		{"Hash", HashKey(addr)},
		{"URefRead", URefKey(addr, AccessRightsRead)},
		{"URefReadAddWrite", URefKey(addr, AccessRightsReadAddWrite)},
		{"URefNone", URefKey(addr, AccessRightsNone)},
		{"Local", LocalKey(seed, []byte("storage-cell"))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := KeyFromBytes(tc.key.ToBytes())
			if err != nil {
				t.Fatalf("decode err: %v", err)
			}
			if got != tc.key {
				t.Fatalf("round trip mismatch: got %v want %v", got, tc.key)
			}
		})
	}
}

func TestKeyDecodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"Empty", nil},
		{"UnknownTag", []byte{0x7F}},
		{"TruncatedAccount", append([]byte{byte(KeyTagAccount)}, make([]byte, 16)...)},
		{"InvalidRights", append(append([]byte{byte(KeyTagURef)}, make([]byte, 32)...), 0xFF)},
		{"TrailingGarbage", append(AccountKey([32]byte{}).ToBytes(), 0x00)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := KeyFromBytes(tc.input); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

//-------------------------------------------------------------
// Value round trips
//-------------------------------------------------------------

func TestValueRoundTrip(t *testing.T) {
	var addr [32]byte
	addr[0] = 0x11
	uref := URefKey(addr, AccessRightsReadWrite)
	account := NewAccount(PublicKey{1, 2, 3}, map[string]Key{"purse": uref}, NewURef(addr, AccessRightsReadAddWrite))
	account.Nonce = 7
	contract := NewContract([]byte{0x00, 0x61, 0x73, 0x6D}, map[string]Key{"counter": uref}, ProtocolVersion{Major: 1})

	tests := []struct {
		name  string
		value Value
	}{
		{"Int32", Int32Value(-42)},
		{"UInt64", UInt64Value(1 << 63)},
		{"U128", BigUintValue{Val: NewU128(12345)}},
		{"U256", BigUintValue{Val: NewU256(0)}},
		{"U512", BigUintValue{Val: NewU512(18446744073709551615)}},
		{"ByteArray", ByteArrayValue([]byte{0, 1, 2, 255})},
		{"EmptyByteArray", ByteArrayValue(nil)},
		{"ListInt32", ListInt32Value([]int32{-1, 0, 1})},
		{"String", StringValue("hello")},
		{"ListString", ListStringValue([]string{"a", "", "bc"})},
		{"NamedKey", NamedKeyValue{Name: "counter", Key: uref}},
		{"Key", KeyValue{Key: HashKey(addr)}},
		{"Account", AccountValue{Account: account}},
		{"Contract", ContractValue{Contract: contract}},
		{"Unit", UnitValue{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := ValueToBytes(tc.value)
			got, err := ValueFromBytes(raw)
			if err != nil {
				t.Fatalf("decode err: %v", err)
			}
			if !ValuesEqual(got, tc.value) {
				t.Fatalf("round trip mismatch for %s", tc.value.TypeString())
			}
			if !bytes.Equal(ValueToBytes(got), raw) {
				t.Fatalf("re-encode not byte identical for %s", tc.value.TypeString())
			}
		})
	}
}

func TestValueEncodingInjective(t *testing.T) {
	// Same payload bytes under different tags must not collide.
	a := ValueToBytes(Int32Value(1))
	b := ValueToBytes(UInt64Value(1))
	if bytes.Equal(a, b) {
		t.Fatalf("distinct values share an encoding")
	}
	// Zero values of different widths must not collide either.
	if bytes.Equal(ValueToBytes(BigUintValue{Val: NewU128(0)}), ValueToBytes(BigUintValue{Val: NewU512(0)})) {
		t.Fatalf("distinct widths share an encoding")
	}
}

func TestBigUintEncodingTrimsTrailingZeros(t *testing.T) {
	raw := ValueToBytes(BigUintValue{Val: NewU512(256)})
	// tag + length byte + 2 little-endian bytes
	if len(raw) != 4 {
		t.Fatalf("encoding length = %d, want 4", len(raw))
	}
	// A non-canonical encoding with a padded zero byte must be rejected.
	bad := []byte{byte(ValueTagU512), 3, 0x00, 0x01, 0x00}
	if _, err := ValueFromBytes(bad); err == nil {
		t.Fatalf("expected rejection of non-canonical big uint")
	}
}

func TestAccountRoundTripKeepsThresholds(t *testing.T) {
	account := NewAccount(PublicKey{9}, nil, NewURef([32]byte{5}, AccessRightsReadAddWrite))
	if err := account.AddAssociatedKey(PublicKey{10}, 3); err != nil {
		t.Fatalf("add key: %v", err)
	}
	if err := account.SetActionThreshold(ActionKeyManagement, 2); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if err := account.SetActionThreshold(ActionDeployment, 2); err != nil {
		t.Fatalf("set threshold: %v", err)
	}

	raw := ValueToBytes(AccountValue{Account: account})
	decoded, err := ValueFromBytes(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.(AccountValue).Account
	if got.Thresholds != account.Thresholds {
		t.Fatalf("thresholds: got %+v want %+v", got.Thresholds, account.Thresholds)
	}
	if len(got.AssociatedKeys) != 2 {
		t.Fatalf("associated keys: got %d want 2", len(got.AssociatedKeys))
	}
}
