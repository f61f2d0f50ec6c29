package core

import "errors"

// Host-side mint. The mint system contract is stored at its well-known URef
// as an empty-bytes blob; calls targeting it are served by this
// implementation, which owns every purse balance cell. Balances live under
// local keys seeded by the mint's address, so no user code can reach them
// without a purse URef.

// ErrInsufficientFunds is the mint's refusal to overdraw a purse.
var ErrInsufficientFunds = errors.New("insufficient funds")

// TransferResult is the three-state outcome contracts see from the
// transfer family of host functions.
type TransferResult uint8

const (
	TransferredToExistingAccount TransferResult = 0
	TransferredToNewAccount      TransferResult = 1
	TransferInsufficientFunds    TransferResult = 2
)

// Mint entry point names.
const (
	MintMethodMint     = "mint"
	MintMethodCreate   = "create"
	MintMethodBalance  = "balance"
	MintMethodTransfer = "transfer"
)

// Named keys installed into accounts so explorers can find the system
// contracts.
const (
	MintName            = "mint"
	PosName             = "pos"
	StandardPaymentName = "standard_payment"
)

type hostMint struct {
	tc           *TrackingCopy
	mint         URef
	rng          *AddressGenerator
	protocolData ProtocolData
}

func newHostMint(tc *TrackingCopy, protocolData ProtocolData, rng *AddressGenerator) *hostMint {
	return &hostMint{tc: tc, mint: protocolData.Mint, rng: rng, protocolData: protocolData}
}

// BalanceKey is the cell a purse's balance lives in.
func (m *hostMint) BalanceKey(purse URef) Key {
	return LocalKey(m.mint.Addr, purse.Addr[:])
}

// CreatePurse mints an empty purse at a deterministically derived address.
func (m *hostMint) CreatePurse() URef {
	addr := m.rng.CreateAddress()
	purse := NewURef(addr, AccessRightsReadAddWrite)
	m.tc.Write(m.BalanceKey(purse), BigUintValue{Val: NewU512(0)})
	return purse
}

// MintMotes creates a purse holding amount. Only genesis and the system
// phase reach this; user code cannot conjure motes.
func (m *hostMint) MintMotes(amount Motes) URef {
	purse := m.CreatePurse()
	m.tc.Write(m.BalanceKey(purse), BigUintValue{Val: amount.Value})
	return purse
}

func (m *hostMint) Balance(purse URef) (Motes, error) {
	return m.tc.GetPurseBalance(m.BalanceKey(purse))
}

// Transfer moves amount between purses. The debit is a write (the mint has
// observed the exact prior balance); the credit is an add, so transfers into
// one purse from many deploys stay commutative.
func (m *hostMint) Transfer(source, target URef, amount Motes) error {
	sourceBalance, err := m.Balance(source)
	if err != nil {
		return err
	}
	if sourceBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if _, err := m.Balance(target); err != nil {
		return err
	}
	debited, _ := sourceBalance.Sub(amount)
	m.tc.Write(m.BalanceKey(source), BigUintValue{Val: debited.Value})
	res, err := m.tc.Add(m.BalanceKey(target), BigUintValue{Val: amount.Value})
	if err != nil {
		return err
	}
	if res.Tag != AddResultSuccess {
		return ErrOverflow
	}
	return nil
}

// accountNamedKeys are the keys every minted account starts with: read-only
// handles on the mint and proof-of-stake contracts.
func (m *hostMint) accountNamedKeys() map[string]Key {
	return map[string]Key{
		MintName: m.protocolData.Mint.WithRights(AccessRightsRead).Key(),
		PosName:  m.protocolData.ProofOfStake.WithRights(AccessRightsRead).Key(),
	}
}

// TransferToAccount sends amount from source to the main purse of target,
// creating the account when it does not exist yet.
func (m *hostMint) TransferToAccount(source URef, target PublicKey, amount Motes) (TransferResult, error) {
	sourceBalance, err := m.Balance(source)
	if err != nil {
		return TransferInsufficientFunds, err
	}
	if sourceBalance.Cmp(amount) < 0 {
		return TransferInsufficientFunds, nil
	}

	targetKey := AccountKey(target)
	v, exists, err := m.tc.Get(targetKey)
	if err != nil {
		return TransferInsufficientFunds, err
	}
	if exists {
		acct, ok := v.(AccountValue)
		if !ok {
			return TransferInsufficientFunds, TypeMismatch{Expected: "Value::Account", Found: v.TypeString()}
		}
		if err := m.Transfer(source, acct.Account.MainPurse, amount); err != nil {
			return TransferInsufficientFunds, err
		}
		return TransferredToExistingAccount, nil
	}

	purse := m.CreatePurse()
	if err := m.Transfer(source, purse, amount); err != nil {
		return TransferInsufficientFunds, err
	}
	account := NewAccount(target, m.accountNamedKeys(), purse.WithRights(AccessRightsReadAddWrite))
	m.tc.Write(targetKey, AccountValue{Account: account})
	return TransferredToNewAccount, nil
}
