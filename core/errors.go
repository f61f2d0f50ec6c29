package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Three families with different blast radii:
//
//  1. Precondition failures — reported before any execution; no effects, no
//     forced transfer.
//  2. Execution failures — raised inside a Wasm invocation; the phase's
//     effects are discarded but the payment pipeline still settles.
//  3. Fatal storage errors — MapFull beyond retry, corrupt nodes, commit
//     overflow; surfaced raw so the operator can repair the node.

//---------------------------------------------------------------------
// Precondition failures
//---------------------------------------------------------------------

var (
	ErrAuthorization          = errors.New("authorization failure")
	ErrDeploymentAuthorization = errors.New("deployment authorization failure: threshold not met")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrInvalidUpgradeConfig   = errors.New("invalid upgrade config")
	ErrDeploy                 = errors.New("invalid deploy")
)

type RootNotFoundError struct {
	Root Blake2bHash
}

func (e RootNotFoundError) Error() string {
	return fmt.Sprintf("root not found: %s", e.Root)
}

type InvalidHashLengthError struct {
	Expected int
	Actual   int
}

func (e InvalidHashLengthError) Error() string {
	return fmt.Sprintf("invalid hash length: expected %d, got %d", e.Expected, e.Actual)
}

type InvalidProtocolVersionError struct {
	Version ProtocolVersion
}

func (e InvalidProtocolVersionError) Error() string {
	return fmt.Sprintf("invalid protocol version: %s", e.Version)
}

type WasmPreprocessingError struct {
	Message string
}

func (e WasmPreprocessingError) Error() string {
	return fmt.Sprintf("wasm preprocessing: %s", e.Message)
}

type MissingSystemContractError struct {
	Name string
}

func (e MissingSystemContractError) Error() string {
	return fmt.Sprintf("missing system contract: %s", e.Name)
}

//---------------------------------------------------------------------
// Execution failures
//---------------------------------------------------------------------

var ErrGasLimit = errors.New("gas limit exceeded")

// RevertError carries the user-chosen exit code out of the invocation.
type RevertError struct {
	Code uint32
}

func (e RevertError) Error() string {
	return fmt.Sprintf("Exit code: %d", e.Code)
}

type KeyNotFoundError struct {
	Key Key
}

func (e KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

type ForgedReferenceError struct {
	Key Key
}

func (e ForgedReferenceError) Error() string {
	return fmt.Sprintf("forged reference: %s", e.Key)
}

type InvalidAccessError struct {
	Required AccessRights
}

func (e InvalidAccessError) Error() string {
	return fmt.Sprintf("invalid access: required %s", e.Required)
}

type URefNotFoundError struct {
	Name string
}

func (e URefNotFoundError) Error() string {
	return fmt.Sprintf("uref not found: %s", e.Name)
}

type FunctionNotFoundError struct {
	Name string
}

func (e FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function not found: %s", e.Name)
}

type ArgIndexOutOfBoundsError struct {
	Index int
}

func (e ArgIndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("argument index out of bounds: %d", e.Index)
}

type IncompatibleProtocolMajorError struct {
	Expected uint32
	Actual   uint32
}

func (e IncompatibleProtocolMajorError) Error() string {
	return fmt.Sprintf("incompatible protocol major version: expected %d, got %d", e.Expected, e.Actual)
}

// InterpreterError wraps a trap or instantiation failure from the Wasm
// engine.
type InterpreterError struct {
	Message string
}

func (e InterpreterError) Error() string {
	return fmt.Sprintf("interpreter: %s", e.Message)
}

// retError is the distinguished trap used to model ret: it unwinds the
// current invocation, is caught at the sub-call boundary and converted into
// a normal return.
type retError struct {
	urefs []Key
}

func (retError) Error() string { return "ret" }

// IsPreconditionError reports whether err belongs to the precondition family
// (no execution happened, no cost charged).
func IsPreconditionError(err error) bool {
	switch err.(type) {
	case RootNotFoundError, InvalidHashLengthError, InvalidProtocolVersionError,
		WasmPreprocessingError, MissingSystemContractError:
		return true
	}
	return errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrDeploymentAuthorization) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrInvalidUpgradeConfig) ||
		errors.Is(err, ErrDeploy)
}
