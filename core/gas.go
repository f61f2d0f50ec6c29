// SPDX-License-Identifier: BUSL-1.1
//
// Gas and mote accounting. Gas is the unit of execution work; motes are the
// smallest unit of the native token. The two convert through ConvRate, and
// both ConvRate and MaxPayment are consensus constants: changing either is a
// protocol upgrade, not a configuration edit.
package core

// ConvRate is the number of motes charged per unit of gas.
const ConvRate uint64 = 10

// MaxPayment caps what payment code may cost, in motes. An account must hold
// at least this much before any deploy code runs; it is also the amount
// force-transferred to the rewards purse when payment execution does not pay
// for itself.
const MaxPayment uint64 = 10_000_000

// Gas is a 512-bit counter of execution work.
type Gas struct {
	Value BigUint
}

func NewGas(v uint64) Gas { return Gas{Value: NewU512(v)} }

// GasFromMotes converts motes to gas at the given rate, rounding down.
func GasFromMotes(m Motes, convRate uint64) Gas {
	return Gas{Value: m.Value.Div(convRate)}
}

func (g Gas) Add(other Gas) (Gas, bool) {
	sum, ok := g.Value.Add(other.Value)
	return Gas{Value: sum}, ok
}

func (g Gas) Sub(other Gas) (Gas, bool) {
	diff, ok := g.Value.Sub(other.Value)
	return Gas{Value: diff}, ok
}

func (g Gas) Cmp(other Gas) int { return g.Value.Cmp(other.Value) }

func (g Gas) IsZero() bool { return g.Value.IsZero() }

func (g Gas) String() string { return g.Value.String() }

// Motes is a 512-bit token amount.
type Motes struct {
	Value BigUint
}

func NewMotes(v uint64) Motes { return Motes{Value: NewU512(v)} }

// MotesFromGas converts gas to motes at the given rate; the second return is
// false on overflow.
func MotesFromGas(g Gas, convRate uint64) (Motes, bool) {
	prod, ok := g.Value.Mul(convRate)
	return Motes{Value: prod}, ok
}

func (m Motes) Add(other Motes) (Motes, bool) {
	sum, ok := m.Value.Add(other.Value)
	return Motes{Value: sum}, ok
}

func (m Motes) Sub(other Motes) (Motes, bool) {
	diff, ok := m.Value.Sub(other.Value)
	return Motes{Value: diff}, ok
}

func (m Motes) Cmp(other Motes) int { return m.Value.Cmp(other.Value) }

func (m Motes) IsZero() bool { return m.Value.IsZero() }

func (m Motes) String() string { return m.Value.String() }
