package core

// SystemContract indexes the canonical system contracts resolvable through
// get_system_contract.
type SystemContract uint32

const (
	SystemContractMint            SystemContract = 0
	SystemContractProofOfStake    SystemContract = 1
	SystemContractStandardPayment SystemContract = 2
)

func (s SystemContract) String() string {
	switch s {
	case SystemContractMint:
		return "mint"
	case SystemContractProofOfStake:
		return "pos"
	case SystemContractStandardPayment:
		return "standard payment"
	default:
		return "unknown"
	}
}

// ProtocolData is the per-protocol-version side table: the wasm cost
// schedule plus the URefs the three system contracts live at.
type ProtocolData struct {
	WasmCosts       WasmCosts
	Mint            URef
	ProofOfStake    URef
	StandardPayment URef
}

// SystemContractRef resolves a system contract index to its URef.
func (p ProtocolData) SystemContractRef(idx SystemContract) (URef, bool) {
	switch idx {
	case SystemContractMint:
		return p.Mint, true
	case SystemContractProofOfStake:
		return p.ProofOfStake, true
	case SystemContractStandardPayment:
		return p.StandardPayment, true
	default:
		return URef{}, false
	}
}

func (p ProtocolData) toBytes() []byte {
	e := encoder{}
	e.raw(p.WasmCosts.toBytes())
	for _, u := range []URef{p.Mint, p.ProofOfStake, p.StandardPayment} {
		e.raw(u.Addr[:])
		e.u8(byte(u.Rights))
	}
	return e.buf
}

func (d *decoder) protocolData() ProtocolData {
	p := ProtocolData{WasmCosts: d.wasmCosts()}
	for _, u := range []*URef{&p.Mint, &p.ProofOfStake, &p.StandardPayment} {
		u.Addr = d.arr32()
		u.Rights = AccessRights(d.u8())
	}
	return p
}

// ProtocolDataFromBytes decodes a stored protocol data record.
func ProtocolDataFromBytes(b []byte) (ProtocolData, error) {
	d := decoder{buf: b}
	p := d.protocolData()
	if err := d.finish(); err != nil {
		return ProtocolData{}, err
	}
	return p, nil
}
