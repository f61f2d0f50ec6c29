package core

import (
	"bytes"
	"errors"
	"sort"
)

// PublicKey identifies an account. Only the raw 32 bytes matter to the
// engine; signature verification happens upstream.
type PublicKey [32]byte

// Weight of an associated key, 1..255.
type Weight uint8

// ActionType selects which threshold an operation is gated on.
type ActionType uint8

const (
	ActionDeployment    ActionType = 0
	ActionKeyManagement ActionType = 1
)

var (
	ErrDuplicateAssociatedKey  = errors.New("associated key already exists")
	ErrMissingAssociatedKey    = errors.New("associated key not found")
	ErrThresholdViolation      = errors.New("action threshold cannot exceed total key weight")
	ErrKeyManagementThreshold  = errors.New("key management threshold must not be below deployment threshold")
	ErrCannotRemoveLastKey     = errors.New("cannot remove the last associated key")
	ErrZeroWeight              = errors.New("associated key weight must be non-zero")
)

// ActionThresholds gate deploys and key management. Invariant:
// KeyManagement >= Deployment.
type ActionThresholds struct {
	Deployment    Weight
	KeyManagement Weight
}

// Account is the stored record for one user account.
type Account struct {
	PublicKey      PublicKey
	Nonce          uint64
	NamedKeys      map[string]Key
	MainPurse      URef
	AssociatedKeys map[PublicKey]Weight
	Thresholds     ActionThresholds
}

// NewAccount creates an account whose only associated key is its own public
// key at weight 1, with both thresholds at 1.
func NewAccount(publicKey PublicKey, namedKeys map[string]Key, mainPurse URef) *Account {
	if namedKeys == nil {
		namedKeys = make(map[string]Key)
	}
	return &Account{
		PublicKey:      publicKey,
		NamedKeys:      namedKeys,
		MainPurse:      mainPurse,
		AssociatedKeys: map[PublicKey]Weight{publicKey: 1},
		Thresholds:     ActionThresholds{Deployment: 1, KeyManagement: 1},
	}
}

// IncrementNonce bumps the account nonce.
func (a *Account) IncrementNonce() { a.Nonce++ }

// CanAuthorize reports whether every authorization key is associated with
// the account. The set must be non-empty.
func (a *Account) CanAuthorize(authorizationKeys map[PublicKey]struct{}) bool {
	if len(authorizationKeys) == 0 {
		return false
	}
	for pk := range authorizationKeys {
		if _, ok := a.AssociatedKeys[pk]; !ok {
			return false
		}
	}
	return true
}

func (a *Account) weightSum(authorizationKeys map[PublicKey]struct{}) uint64 {
	var total uint64
	for pk := range authorizationKeys {
		total += uint64(a.AssociatedKeys[pk])
	}
	return total
}

// CanDeployWith reports whether the summed weight of the authorizing keys
// meets the deployment threshold.
func (a *Account) CanDeployWith(authorizationKeys map[PublicKey]struct{}) bool {
	return a.weightSum(authorizationKeys) >= uint64(a.Thresholds.Deployment)
}

// CanManageKeysWith reports whether the summed weight meets the key
// management threshold.
func (a *Account) CanManageKeysWith(authorizationKeys map[PublicKey]struct{}) bool {
	return a.weightSum(authorizationKeys) >= uint64(a.Thresholds.KeyManagement)
}

func (a *Account) totalWeight() uint64 {
	var total uint64
	for _, w := range a.AssociatedKeys {
		total += uint64(w)
	}
	return total
}

// AddAssociatedKey associates a new key with the account.
func (a *Account) AddAssociatedKey(pk PublicKey, weight Weight) error {
	if weight == 0 {
		return ErrZeroWeight
	}
	if _, ok := a.AssociatedKeys[pk]; ok {
		return ErrDuplicateAssociatedKey
	}
	a.AssociatedKeys[pk] = weight
	return nil
}

// RemoveAssociatedKey drops a key. The removal must leave at least one key
// and enough total weight to still satisfy both thresholds.
func (a *Account) RemoveAssociatedKey(pk PublicKey) error {
	w, ok := a.AssociatedKeys[pk]
	if !ok {
		return ErrMissingAssociatedKey
	}
	if len(a.AssociatedKeys) == 1 {
		return ErrCannotRemoveLastKey
	}
	remaining := a.totalWeight() - uint64(w)
	if remaining < uint64(a.Thresholds.KeyManagement) || remaining < uint64(a.Thresholds.Deployment) {
		return ErrThresholdViolation
	}
	delete(a.AssociatedKeys, pk)
	return nil
}

// UpdateAssociatedKey changes the weight of an existing key, keeping the
// thresholds satisfiable.
func (a *Account) UpdateAssociatedKey(pk PublicKey, weight Weight) error {
	if weight == 0 {
		return ErrZeroWeight
	}
	old, ok := a.AssociatedKeys[pk]
	if !ok {
		return ErrMissingAssociatedKey
	}
	adjusted := a.totalWeight() - uint64(old) + uint64(weight)
	if adjusted < uint64(a.Thresholds.KeyManagement) || adjusted < uint64(a.Thresholds.Deployment) {
		return ErrThresholdViolation
	}
	a.AssociatedKeys[pk] = weight
	return nil
}

// SetActionThreshold adjusts one of the two thresholds. The new value must be
// coverable by the total key weight, and key management may never fall below
// deployment.
func (a *Account) SetActionThreshold(action ActionType, threshold Weight) error {
	if uint64(threshold) > a.totalWeight() {
		return ErrThresholdViolation
	}
	switch action {
	case ActionDeployment:
		if threshold > a.Thresholds.KeyManagement {
			return ErrKeyManagementThreshold
		}
		a.Thresholds.Deployment = threshold
	case ActionKeyManagement:
		if threshold < a.Thresholds.Deployment {
			return ErrKeyManagementThreshold
		}
		a.Thresholds.KeyManagement = threshold
	default:
		return ErrFormatting
	}
	return nil
}

// Clone returns a deep copy; accounts are mutated through tracking copies
// and must never alias cached state.
func (a *Account) Clone() *Account {
	named := make(map[string]Key, len(a.NamedKeys))
	for k, v := range a.NamedKeys {
		named[k] = v
	}
	assoc := make(map[PublicKey]Weight, len(a.AssociatedKeys))
	for k, v := range a.AssociatedKeys {
		assoc[k] = v
	}
	return &Account{
		PublicKey:      a.PublicKey,
		Nonce:          a.Nonce,
		NamedKeys:      named,
		MainPurse:      a.MainPurse,
		AssociatedKeys: assoc,
		Thresholds:     a.Thresholds,
	}
}

func (a *Account) Equal(other *Account) bool {
	return bytes.Equal(a.toBytes(), other.toBytes())
}

//---------------------------------------------------------------------
// Wire encoding
//---------------------------------------------------------------------

func (a *Account) toBytes() []byte {
	e := encoder{}
	e.raw(a.PublicKey[:])
	e.u64(a.Nonce)
	e.namedKeys(a.NamedKeys)
	e.raw(a.MainPurse.Addr[:])
	e.u8(byte(a.MainPurse.Rights))
	pks := make([]PublicKey, 0, len(a.AssociatedKeys))
	for pk := range a.AssociatedKeys {
		pks = append(pks, pk)
	}
	sort.Slice(pks, func(i, j int) bool {
		return bytes.Compare(pks[i][:], pks[j][:]) < 0
	})
	e.u32(uint32(len(pks)))
	for _, pk := range pks {
		e.raw(pk[:])
		e.u8(byte(a.AssociatedKeys[pk]))
	}
	e.u8(byte(a.Thresholds.Deployment))
	e.u8(byte(a.Thresholds.KeyManagement))
	return e.buf
}

func (d *decoder) account() *Account {
	pk := PublicKey(d.arr32())
	nonce := d.u64()
	named := d.namedKeys()
	purseAddr := d.arr32()
	purseRights := AccessRights(d.u8())
	n := d.u32()
	if d.err != nil {
		return nil
	}
	assoc := make(map[PublicKey]Weight, n)
	for i := uint32(0); i < n; i++ {
		apk := PublicKey(d.arr32())
		assoc[apk] = Weight(d.u8())
	}
	thresholds := ActionThresholds{
		Deployment:    Weight(d.u8()),
		KeyManagement: Weight(d.u8()),
	}
	if d.err != nil {
		return nil
	}
	return &Account{
		PublicKey:      pk,
		Nonce:          nonce,
		NamedKeys:      named,
		MainPurse:      URef{Addr: purseAddr, Rights: purseRights},
		AssociatedKeys: assoc,
		Thresholds:     thresholds,
	}
}
