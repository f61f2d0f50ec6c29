package core

// WasmCosts is the opcode-pricing table associated with a protocol version.
// The engine consumes gas-instrumented modules, so these figures feed the
// preprocessor upstream and the host-call charges here; they are part of
// ProtocolData because changing them is a protocol upgrade.
type WasmCosts struct {
	Regular           uint32
	Div               uint32
	Mul               uint32
	Mem               uint32
	InitialMem        uint32
	GrowMem           uint32
	Memcpy            uint32
	MaxStackHeight    uint32
	OpcodesMul        uint32
	OpcodesDiv        uint32
}

// DefaultWasmCosts mirrors the cost table shipped with version 1.0.0.
func DefaultWasmCosts() WasmCosts {
	return WasmCosts{
		Regular:        1,
		Div:            16,
		Mul:            4,
		Mem:            2,
		InitialMem:     4096,
		GrowMem:        8192,
		Memcpy:         1,
		MaxStackHeight: 65536,
		OpcodesMul:     3,
		OpcodesDiv:     8,
	}
}

func (w WasmCosts) toBytes() []byte {
	e := encoder{}
	e.u32(w.Regular)
	e.u32(w.Div)
	e.u32(w.Mul)
	e.u32(w.Mem)
	e.u32(w.InitialMem)
	e.u32(w.GrowMem)
	e.u32(w.Memcpy)
	e.u32(w.MaxStackHeight)
	e.u32(w.OpcodesMul)
	e.u32(w.OpcodesDiv)
	return e.buf
}

func (d *decoder) wasmCosts() WasmCosts {
	return WasmCosts{
		Regular:        d.u32(),
		Div:            d.u32(),
		Mul:            d.u32(),
		Mem:            d.u32(),
		InitialMem:     d.u32(),
		GrowMem:        d.u32(),
		Memcpy:         d.u32(),
		MaxStackHeight: d.u32(),
		OpcodesMul:     d.u32(),
		OpcodesDiv:     d.u32(),
	}
}
