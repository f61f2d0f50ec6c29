package core

// ExecutionResult is the per-deploy outcome: success or failure, always with
// the commit-ready effect and the cost actually charged. Precondition
// failures carry zero cost and an empty effect.

type ExecutionResult struct {
	Failed bool
	Err    error
	Effect ExecutionEffect
	Cost   Gas
}

func SuccessResult(effect ExecutionEffect, cost Gas) ExecutionResult {
	return ExecutionResult{Effect: effect, Cost: cost}
}

func FailureResult(err error, effect ExecutionEffect, cost Gas) ExecutionResult {
	return ExecutionResult{Failed: true, Err: err, Effect: effect, Cost: cost}
}

// PreconditionFailure reports an error raised before any execution: no
// effects, no cost.
func PreconditionFailure(err error) ExecutionResult {
	return ExecutionResult{Failed: true, Err: err, Effect: NewExecutionEffect()}
}

func (r ExecutionResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

//---------------------------------------------------------------------
// Forced transfer
//---------------------------------------------------------------------

type ForcedTransferResult uint8

const (
	ForcedTransferNone ForcedTransferResult = iota
	// ForcedTransferInsufficientPayment: payment ran but did not put enough
	// into the payment purse to cover its own cost.
	ForcedTransferInsufficientPayment
	// ForcedTransferPaymentFailure: payment execution itself failed.
	ForcedTransferPaymentFailure
)

// CheckForcedTransfer decides whether the payment phase outcome triggers the
// forced transfer of MaxPayment to the rewards purse.
func CheckForcedTransfer(paymentResult ExecutionResult, paymentPurseBalance Motes) ForcedTransferResult {
	paymentCost, ok := MotesFromGas(paymentResult.Cost, ConvRate)
	if !ok {
		return ForcedTransferPaymentFailure
	}
	switch {
	case paymentResult.Failed:
		return ForcedTransferPaymentFailure
	case paymentPurseBalance.Cmp(paymentCost) < 0:
		return ForcedTransferInsufficientPayment
	default:
		return ForcedTransferNone
	}
}

// NewPaymentCodeError builds the failure result for a payment phase that
// did not pay for itself: the account is debited MaxPayment, the rewards
// purse is credited, and nothing else changes.
func NewPaymentCodeError(
	err error,
	accountMainPurseBalance Motes,
	accountMainPurseBalanceKey Key,
	rewardsPurseBalanceKey Key,
) ExecutionResult {
	effect := NewExecutionEffect()
	debited, _ := accountMainPurseBalance.Sub(NewMotes(MaxPayment))
	effect.Ops[accountMainPurseBalanceKey.Normalize()] = OpWrite
	effect.Transforms[accountMainPurseBalanceKey.Normalize()] = WriteTransform(BigUintValue{Val: debited.Value})
	effect.Ops[rewardsPurseBalanceKey.Normalize()] = OpAdd
	effect.Transforms[rewardsPurseBalanceKey.Normalize()] = AddBigTransform(NewU512(MaxPayment))
	cost := GasFromMotes(NewMotes(MaxPayment), ConvRate)
	return FailureResult(err, effect, cost)
}

//---------------------------------------------------------------------
// Result builder: merges the three phase results into one deploy result.
//---------------------------------------------------------------------

type ExecutionResultBuilder struct {
	payment  *ExecutionResult
	session  *ExecutionResult
	finalize *ExecutionResult
}

func NewExecutionResultBuilder() *ExecutionResultBuilder {
	return &ExecutionResultBuilder{}
}

func (b *ExecutionResultBuilder) SetPayment(r ExecutionResult) *ExecutionResultBuilder {
	b.payment = &r
	return b
}

func (b *ExecutionResultBuilder) SetSession(r ExecutionResult) *ExecutionResultBuilder {
	b.session = &r
	return b
}

func (b *ExecutionResultBuilder) SetFinalize(r ExecutionResult) *ExecutionResultBuilder {
	b.finalize = &r
	return b
}

// TotalCost is payment plus session cost; finalize runs on the system's
// dime and is never charged to the deployer.
func (b *ExecutionResultBuilder) TotalCost() Gas {
	total := NewGas(0)
	if b.payment != nil {
		total, _ = total.Add(b.payment.Cost)
	}
	if b.session != nil {
		total, _ = total.Add(b.session.Cost)
	}
	return total
}

// Build assembles the deploy result. The finalize phase runs on a tracking
// copy descended from the surviving session state, so its effect is already
// the cumulative effect of every phase that survived: payment, session when
// it succeeded, and finalize. A failed session keeps its error but none of
// its effects. All three phases must have been supplied.
func (b *ExecutionResultBuilder) Build() (ExecutionResult, bool) {
	if b.payment == nil || b.session == nil || b.finalize == nil {
		return ExecutionResult{}, false
	}
	effect := b.finalize.Effect
	cost := b.TotalCost()
	if b.session.Failed {
		return FailureResult(b.session.Err, effect, cost), true
	}
	return SuccessResult(effect, cost), true
}
