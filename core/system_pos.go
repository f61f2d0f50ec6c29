package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Host-side proof-of-stake contract: owns the purses that implement fee
// flow and the finalize step of every deploy. Bonded stakes are recorded in
// its named-key table, one entry per validator.

// Purse names in the proof-of-stake contract's named keys.
const (
	PosBondingPurseName = "pos_bonding_purse"
	PosPaymentPurseName = "pos_payment_purse"
	PosRewardsPurseName = "pos_rewards_purse"
	PosRefundPurseName  = "pos_refund_purse"
)

// PoS entry point names.
const (
	PosMethodGetPaymentPurse = "get_payment_purse"
	PosMethodSetRefundPurse  = "set_refund_purse"
	PosMethodGetRefundPurse  = "get_refund_purse"
	PosMethodFinalizePayment = "finalize_payment"
)

// FinalizationError is fatal: fee settlement must never half-happen.
type FinalizationError struct {
	Message string
}

func (e FinalizationError) Error() string {
	return fmt.Sprintf("finalization: %s", e.Message)
}

type hostPos struct {
	tc   *TrackingCopy
	mint *hostMint
	pos  URef
}

func newHostPos(tc *TrackingCopy, mint *hostMint, protocolData ProtocolData) *hostPos {
	return &hostPos{tc: tc, mint: mint, pos: protocolData.ProofOfStake}
}

func (p *hostPos) namedPurse(name string) (URef, error) {
	contract, err := p.tc.GetContract(p.pos.Key())
	if err != nil {
		return URef{}, err
	}
	key, ok := contract.NamedKeys[name]
	if !ok {
		return URef{}, MissingSystemContractError{Name: name}
	}
	uref, isURef := key.AsURef()
	if !isURef {
		return URef{}, TypeMismatch{Expected: "Key::URef", Found: key.TypeString()}
	}
	return uref, nil
}

func (p *hostPos) PaymentPurse() (URef, error) { return p.namedPurse(PosPaymentPurseName) }

func (p *hostPos) RewardsPurse() (URef, error) { return p.namedPurse(PosRewardsPurseName) }

// RefundPurse returns the deploy-set refund target, if any.
func (p *hostPos) RefundPurse() (URef, bool, error) {
	uref, err := p.namedPurse(PosRefundPurseName)
	if err != nil {
		if _, missing := err.(MissingSystemContractError); missing {
			return URef{}, false, nil
		}
		return URef{}, false, err
	}
	return uref, true, nil
}

// SetRefundPurse records where finalize should send the remainder instead of
// the account main purse.
func (p *hostPos) SetRefundPurse(purse URef) error {
	res, err := p.tc.Add(p.pos.Key(), NamedKeyValue{Name: PosRefundPurseName, Key: purse.Key()})
	if err != nil {
		return err
	}
	if res.Tag != AddResultSuccess {
		return FinalizationError{Message: "cannot record refund purse"}
	}
	return nil
}

func (p *hostPos) clearRefundPurse() error {
	contract, err := p.tc.GetContract(p.pos.Key())
	if err != nil {
		return err
	}
	if _, ok := contract.NamedKeys[PosRefundPurseName]; !ok {
		return nil
	}
	updated := contract.Clone()
	delete(updated.NamedKeys, PosRefundPurseName)
	p.tc.Write(p.pos.Key(), ContractValue{Contract: updated})
	return nil
}

// FinalizePayment settles one deploy: amount motes move from the payment
// purse to the rewards purse, and whatever is left in the payment purse is
// refunded to the refund purse (if set) or the paying account's main purse.
func (p *hostPos) FinalizePayment(amount Motes, account PublicKey) error {
	paymentPurse, err := p.PaymentPurse()
	if err != nil {
		return FinalizationError{Message: err.Error()}
	}
	rewardsPurse, err := p.RewardsPurse()
	if err != nil {
		return FinalizationError{Message: err.Error()}
	}
	paymentBalance, err := p.mint.Balance(paymentPurse)
	if err != nil {
		return FinalizationError{Message: err.Error()}
	}
	if paymentBalance.Cmp(amount) < 0 {
		return FinalizationError{Message: "payment purse balance below deploy cost"}
	}
	if err := p.mint.Transfer(paymentPurse, rewardsPurse, amount); err != nil {
		return FinalizationError{Message: err.Error()}
	}

	refund, _ := paymentBalance.Sub(amount)
	if refund.IsZero() {
		return p.clearRefundPurse()
	}

	refundTarget, haveRefundPurse, err := p.RefundPurse()
	if err != nil {
		return FinalizationError{Message: err.Error()}
	}
	if !haveRefundPurse {
		acct, err := p.tc.GetAccount(account)
		if err != nil {
			return FinalizationError{Message: err.Error()}
		}
		refundTarget = acct.MainPurse
	}
	if err := p.mint.Transfer(paymentPurse, refundTarget, refund); err != nil {
		return FinalizationError{Message: err.Error()}
	}
	return p.clearRefundPurse()
}

//---------------------------------------------------------------------
// Bonded validators
//---------------------------------------------------------------------

// stakeKeyName renders one validator stake as a PoS named key:
// v_<64-hex-pubkey>_<stake>.
func stakeKeyName(pk PublicKey, stake Motes) string {
	return fmt.Sprintf("v_%s_%s", hexutil.Encode(pk[:])[2:], stake)
}

// parseStakeKeyName inverts stakeKeyName; non-stake names return ok=false.
func parseStakeKeyName(name string) (PublicKey, BigUint, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 || parts[0] != "v" || len(parts[1]) != 64 {
		return PublicKey{}, BigUint{}, false
	}
	raw, err := hexutil.Decode("0x" + parts[1])
	if err != nil {
		return PublicKey{}, BigUint{}, false
	}
	var pk PublicKey
	copy(pk[:], raw)
	stake, ok := parseDecimalU512(parts[2])
	if !ok {
		return PublicKey{}, BigUint{}, false
	}
	return pk, stake, true
}

func parseDecimalU512(s string) (BigUint, bool) {
	if s == "" {
		return BigUint{}, false
	}
	// Stakes fit u64 in practice; reject anything else as malformed.
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BigUint{}, false
	}
	return NewU512(v), true
}

// BondedValidatorsFromContract extracts the stake table from the PoS
// contract's named keys.
func BondedValidatorsFromContract(contract *Contract) map[PublicKey]BigUint {
	out := make(map[PublicKey]BigUint)
	for name := range contract.NamedKeys {
		if pk, stake, ok := parseStakeKeyName(name); ok {
			out[pk] = stake
		}
	}
	return out
}
