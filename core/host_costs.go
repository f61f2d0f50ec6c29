// SPDX-License-Identifier: BUSL-1.1
//
// Canonical gas pricing for every host operation exposed to Wasm. Charges
// land before the operation executes; instruction-level gas arrives through
// the preprocessor's injected gas() calls, not from this table.
//
// IMPORTANT
//   - Every host function must have an entry here. Unknown operations fall
//     back to DefaultHostOpCost, which is deliberately punitive.
//   - These numbers are consensus-critical: repricing is a protocol upgrade.
package core

// DefaultHostOpCost is charged for any host operation missing a table entry.
const DefaultHostOpCost uint64 = 100_000

type hostOp uint16

const (
	hostOpRead hostOp = iota
	hostOpWrite
	hostOpAdd
	hostOpNewURef
	hostOpCallContract
	hostOpRet
	hostOpRevert
	hostOpLoadArg
	hostOpGetArg
	hostOpGetURef
	hostOpHasURef
	hostOpAddURef
	hostOpRemoveURef
	hostOpGetCaller
	hostOpGetBlocktime
	hostOpGetPhase
	hostOpGetMainPurse
	hostOpCreatePurse
	hostOpGetBalance
	hostOpTransfer
	hostOpKeyManagement
	hostOpGetSystemContract
	hostOpStoreFunction
	hostOpSerializeFunction
	hostOpUpgradeContract
	hostOpCopyBuffer
	hostOpStandardPayment
	hostOpMint
	hostOpFinalizePayment
)

var hostCostTable = map[hostOp]uint64{
	hostOpRead:              100,
	hostOpWrite:             140,
	hostOpAdd:               100,
	hostOpNewURef:           150,
	hostOpCallContract:      450,
	hostOpRet:               100,
	hostOpRevert:            100,
	hostOpLoadArg:           60,
	hostOpGetArg:            60,
	hostOpGetURef:           80,
	hostOpHasURef:           80,
	hostOpAddURef:           120,
	hostOpRemoveURef:        120,
	hostOpGetCaller:         30,
	hostOpGetBlocktime:      30,
	hostOpGetPhase:          30,
	hostOpGetMainPurse:      50,
	hostOpCreatePurse:       170,
	hostOpGetBalance:        100,
	hostOpTransfer:          250,
	hostOpKeyManagement:     200,
	hostOpGetSystemContract: 50,
	hostOpStoreFunction:     500,
	hostOpSerializeFunction: 300,
	hostOpUpgradeContract:   500,
	hostOpCopyBuffer:        30,
	hostOpStandardPayment:   100,
	hostOpMint:              200,
	hostOpFinalizePayment:   200,
}

// hostOpCost returns the base gas charge for one host operation.
func hostOpCost(op hostOp) Gas {
	if cost, ok := hostCostTable[op]; ok {
		return NewGas(cost)
	}
	return NewGas(DefaultHostOpCost)
}
