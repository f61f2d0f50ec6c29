package core

// Wasm import surface. Every host function lives in the "env" namespace,
// takes/returns i32s, and is charged from the host cost table before doing
// any work. Converted into wasmer imports the same way the node's VM builds
// its ImportObject.

import (
	"encoding/binary"

	"github.com/wasmerio/wasmer-go/wasmer"
)

func i32Types(n int) []*wasmer.ValueType {
	kinds := make([]wasmer.ValueKind, n)
	for i := range kinds {
		kinds[i] = wasmer.ValueKind(wasmer.I32)
	}
	return wasmer.NewValueTypes(kinds...)
}

func ok32(v int32) ([]wasmer.Value, error) {
	return []wasmer.Value{wasmer.NewI32(v)}, nil
}

var noResults = []wasmer.Value{}

func (r *Runtime) hostFn(store *wasmer.Store, params, results int, impl func(args []wasmer.Value) ([]wasmer.Value, error)) wasmer.IntoExtern {
	return wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(i32Types(params), i32Types(results)),
		impl,
	)
}

// metered wraps a host op with its gas charge and trap-on-error handling.
func (r *Runtime) metered(op hostOp, body func(args []wasmer.Value) ([]wasmer.Value, error)) func(args []wasmer.Value) ([]wasmer.Value, error) {
	return func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := r.charge(op); err != nil {
			return r.trap(err)
		}
		out, err := body(args)
		if err != nil {
			return r.trap(err)
		}
		return out, nil
	}
}

func (r *Runtime) registerHost(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	env := map[string]wasmer.IntoExtern{
		// gas(amount): the preprocessor injects these at basic-block heads.
		"gas": r.hostFn(store, 1, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := r.ctx.ChargeGas(NewGas(uint64(uint32(args[0].I32())))); err != nil {
				return r.trap(err)
			}
			return noResults, nil
		}),

		"read_value": r.hostFn(store, 2, 1, r.metered(hostOpRead, func(args []wasmer.Value) ([]wasmer.Value, error) {
			size, err := r.readValue(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			return ok32(size)
		})),

		"get_read": r.hostFn(store, 1, 0, r.metered(hostOpCopyBuffer, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.writeMem(args[0].I32(), r.hostBuf)
		})),

		"write": r.hostFn(store, 4, 0, r.metered(hostOpWrite, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.write(args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32())
		})),

		"add": r.hostFn(store, 4, 0, r.metered(hostOpAdd, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.add(args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32())
		})),

		"new_uref": r.hostFn(store, 3, 0, r.metered(hostOpNewURef, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.newURef(args[0].I32(), args[1].I32(), args[2].I32())
		})),

		"load_arg": r.hostFn(store, 1, 1, r.metered(hostOpLoadArg, func(args []wasmer.Value) ([]wasmer.Value, error) {
			size, err := r.loadArg(args[0].I32())
			if err != nil {
				return nil, err
			}
			return ok32(size)
		})),

		"get_arg": r.hostFn(store, 1, 0, r.metered(hostOpGetArg, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.writeMem(args[0].I32(), r.hostBuf)
		})),

		"ret": r.hostFn(store, 4, 0, r.metered(hostOpRet, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return nil, r.ret(args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32())
		})),

		"revert": r.hostFn(store, 1, 0, r.metered(hostOpRevert, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return nil, RevertError{Code: uint32(args[0].I32())}
		})),

		"call_contract": r.hostFn(store, 6, 1, r.metered(hostOpCallContract, func(args []wasmer.Value) ([]wasmer.Value, error) {
			size, err := r.callContract(
				args[0].I32(), args[1].I32(),
				args[2].I32(), args[3].I32(),
				args[4].I32(), args[5].I32(),
			)
			if err != nil {
				return nil, err
			}
			return ok32(size)
		})),

		"get_call_result": r.hostFn(store, 1, 0, r.metered(hostOpCopyBuffer, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.writeMem(args[0].I32(), r.hostBuf)
		})),

		"get_uref": r.hostFn(store, 3, 0, r.metered(hostOpGetURef, func(args []wasmer.Value) ([]wasmer.Value, error) {
			name, err := r.stringFromMem(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			key, ok := r.ctx.GetNamedKey(name)
			if !ok {
				return nil, URefNotFoundError{Name: name}
			}
			r.ctx.InsertURef(key)
			return noResults, r.writeMem(args[2].I32(), key.ToBytes())
		})),

		"has_uref_name": r.hostFn(store, 2, 1, r.metered(hostOpHasURef, func(args []wasmer.Value) ([]wasmer.Value, error) {
			name, err := r.stringFromMem(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			if r.ctx.HasNamedKey(name) {
				return ok32(0)
			}
			return ok32(1)
		})),

		"add_uref": r.hostFn(store, 4, 0, r.metered(hostOpAddURef, func(args []wasmer.Value) ([]wasmer.Value, error) {
			name, err := r.stringFromMem(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			key, err := r.keyFromMem(args[2].I32(), args[3].I32())
			if err != nil {
				return nil, err
			}
			return noResults, r.ctx.PutNamedKey(name, key)
		})),

		"remove_uref": r.hostFn(store, 2, 0, r.metered(hostOpRemoveURef, func(args []wasmer.Value) ([]wasmer.Value, error) {
			name, err := r.stringFromMem(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			return noResults, r.ctx.RemoveNamedKey(name)
		})),

		"get_caller": r.hostFn(store, 1, 0, r.metered(hostOpGetCaller, func(args []wasmer.Value) ([]wasmer.Value, error) {
			caller := r.ctx.Caller()
			return noResults, r.writeMem(args[0].I32(), caller[:])
		})),

		"get_blocktime": r.hostFn(store, 1, 0, r.metered(hostOpGetBlocktime, func(args []wasmer.Value) ([]wasmer.Value, error) {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], r.ctx.BlockTime())
			return noResults, r.writeMem(args[0].I32(), buf[:])
		})),

		"get_phase": r.hostFn(store, 1, 0, r.metered(hostOpGetPhase, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.writeMem(args[0].I32(), []byte{byte(r.ctx.Phase())})
		})),

		"get_main_purse": r.hostFn(store, 1, 0, r.metered(hostOpGetMainPurse, func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := r.ctx.Account().MainPurse.Key()
			r.ctx.InsertURef(key)
			return noResults, r.writeMem(args[0].I32(), key.ToBytes())
		})),

		"create_purse": r.hostFn(store, 1, 0, r.metered(hostOpCreatePurse, func(args []wasmer.Value) ([]wasmer.Value, error) {
			mint := newHostMint(r.ctx.TrackingCopy(), r.ctx.ProtocolData(), r.ctx.Rng())
			purse := mint.CreatePurse()
			r.ctx.InsertURef(purse.Key())
			return noResults, r.writeMem(args[0].I32(), purse.Key().ToBytes())
		})),

		"get_balance": r.hostFn(store, 2, 1, r.metered(hostOpGetBalance, func(args []wasmer.Value) ([]wasmer.Value, error) {
			key, err := r.keyFromMem(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			uref, isURef := key.AsURef()
			if !isURef {
				return nil, TypeMismatch{Expected: "Key::URef", Found: key.TypeString()}
			}
			if err := r.ctx.ValidateKey(uref.WithRights(AccessRightsRead).Key()); err != nil {
				return nil, err
			}
			mint := newHostMint(r.ctx.TrackingCopy(), r.ctx.ProtocolData(), r.ctx.Rng())
			balance, err := mint.Balance(uref)
			if err != nil {
				return nil, err
			}
			r.hostBuf = ValueToBytes(BigUintValue{Val: balance.Value})
			return ok32(int32(len(r.hostBuf)))
		})),

		"transfer_to_account": r.hostFn(store, 3, 1, r.metered(hostOpTransfer, func(args []wasmer.Value) ([]wasmer.Value, error) {
			target, err := r.publicKeyFromMem(args[0].I32())
			if err != nil {
				return nil, err
			}
			amount, err := r.motesFromMem(args[1].I32(), args[2].I32())
			if err != nil {
				return nil, err
			}
			// Spending the main purse is reserved for code running as the
			// account itself.
			if r.ctx.BaseKey() != AccountKey(r.ctx.Account().PublicKey) {
				return nil, InvalidAccessError{Required: AccessRightsWrite}
			}
			result, err := r.transferToAccount(r.ctx.Account().MainPurse, target, amount)
			if err != nil {
				return nil, err
			}
			return ok32(int32(result))
		})),

		"transfer_from_purse_to_account": r.hostFn(store, 5, 1, r.metered(hostOpTransfer, func(args []wasmer.Value) ([]wasmer.Value, error) {
			source, err := r.purseFromMem(args[0].I32(), args[1].I32(), AccessRightsWrite)
			if err != nil {
				return nil, err
			}
			target, err := r.publicKeyFromMem(args[2].I32())
			if err != nil {
				return nil, err
			}
			amount, err := r.motesFromMem(args[3].I32(), args[4].I32())
			if err != nil {
				return nil, err
			}
			result, err := r.transferToAccount(source, target, amount)
			if err != nil {
				return nil, err
			}
			return ok32(int32(result))
		})),

		"transfer_from_purse_to_purse": r.hostFn(store, 6, 1, r.metered(hostOpTransfer, func(args []wasmer.Value) ([]wasmer.Value, error) {
			source, err := r.purseFromMem(args[0].I32(), args[1].I32(), AccessRightsWrite)
			if err != nil {
				return nil, err
			}
			target, err := r.purseFromMem(args[2].I32(), args[3].I32(), AccessRightsAdd)
			if err != nil {
				return nil, err
			}
			amount, err := r.motesFromMem(args[4].I32(), args[5].I32())
			if err != nil {
				return nil, err
			}
			mint := newHostMint(r.ctx.TrackingCopy(), r.ctx.ProtocolData(), r.ctx.Rng())
			if err := mint.Transfer(source, target, amount); err != nil {
				if err == ErrInsufficientFunds {
					return ok32(int32(TransferInsufficientFunds))
				}
				return nil, err
			}
			return ok32(0)
		})),

		"add_associated_key": r.hostFn(store, 2, 1, r.metered(hostOpKeyManagement, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return r.manageKeys(func(acct *Account) error {
				pk, err := r.publicKeyFromMem(args[0].I32())
				if err != nil {
					return err
				}
				return acct.AddAssociatedKey(pk, Weight(args[1].I32()))
			})
		})),

		"remove_associated_key": r.hostFn(store, 1, 1, r.metered(hostOpKeyManagement, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return r.manageKeys(func(acct *Account) error {
				pk, err := r.publicKeyFromMem(args[0].I32())
				if err != nil {
					return err
				}
				return acct.RemoveAssociatedKey(pk)
			})
		})),

		"update_associated_key": r.hostFn(store, 2, 1, r.metered(hostOpKeyManagement, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return r.manageKeys(func(acct *Account) error {
				pk, err := r.publicKeyFromMem(args[0].I32())
				if err != nil {
					return err
				}
				return acct.UpdateAssociatedKey(pk, Weight(args[1].I32()))
			})
		})),

		"set_action_threshold": r.hostFn(store, 2, 1, r.metered(hostOpKeyManagement, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return r.manageKeys(func(acct *Account) error {
				return acct.SetActionThreshold(ActionType(args[0].I32()), Weight(args[1].I32()))
			})
		})),

		"get_system_contract": r.hostFn(store, 2, 1, r.metered(hostOpGetSystemContract, func(args []wasmer.Value) ([]wasmer.Value, error) {
			ref, ok := r.ctx.ProtocolData().SystemContractRef(SystemContract(args[0].I32()))
			if !ok {
				return ok32(1)
			}
			key := ref.WithRights(AccessRightsRead).Key()
			r.ctx.InsertURef(key)
			if err := r.writeMem(args[1].I32(), key.ToBytes()); err != nil {
				return nil, err
			}
			return ok32(0)
		})),

		"serialize_function": r.hostFn(store, 2, 1, r.metered(hostOpSerializeFunction, func(args []wasmer.Value) ([]wasmer.Value, error) {
			size, err := r.serializeFunction(args[0].I32(), args[1].I32())
			if err != nil {
				return nil, err
			}
			return ok32(size)
		})),

		"get_function": r.hostFn(store, 1, 0, r.metered(hostOpCopyBuffer, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.writeMem(args[0].I32(), r.hostBuf)
		})),

		"store_function": r.hostFn(store, 5, 0, r.metered(hostOpStoreFunction, func(args []wasmer.Value) ([]wasmer.Value, error) {
			return noResults, r.storeFunction(
				args[0].I32(), args[1].I32(),
				args[2].I32(), args[3].I32(),
				args[4].I32(),
			)
		})),

		"upgrade_contract_at_uref": r.hostFn(store, 4, 1, r.metered(hostOpUpgradeContract, func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := r.upgradeContractAtURef(args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()); err != nil {
				return nil, err
			}
			return ok32(0)
		})),
	}

	imports.Register("env", env)
	return imports
}

//---------------------------------------------------------------------
// Host helpers shared by the imports
//---------------------------------------------------------------------

func (r *Runtime) publicKeyFromMem(ptr int32) (PublicKey, error) {
	raw, err := r.readMem(ptr, 32)
	if err != nil {
		return PublicKey{}, err
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

func (r *Runtime) motesFromMem(ptr, size int32) (Motes, error) {
	raw, err := r.readMem(ptr, size)
	if err != nil {
		return Motes{}, err
	}
	return decodeMotesArg(raw)
}

// purseFromMem reads a serialized URef key and validates it with the given
// required right.
func (r *Runtime) purseFromMem(ptr, size int32, required AccessRights) (URef, error) {
	key, err := r.keyFromMem(ptr, size)
	if err != nil {
		return URef{}, err
	}
	uref, isURef := key.AsURef()
	if !isURef {
		return URef{}, TypeMismatch{Expected: "Key::URef", Found: key.TypeString()}
	}
	if err := r.ctx.ValidateKey(uref.WithRights(required).Key()); err != nil {
		return URef{}, err
	}
	return uref, nil
}

func (r *Runtime) transferToAccount(source URef, target PublicKey, amount Motes) (TransferResult, error) {
	mint := newHostMint(r.ctx.TrackingCopy(), r.ctx.ProtocolData(), r.ctx.Rng())
	return mint.TransferToAccount(source, target, amount)
}

// manageKeys gates account key management: only code running as the account
// may call it, and the authorizing keys must meet the key-management
// threshold. Result codes: 0 ok, 1 key error, 2 threshold error, 3 denied.
func (r *Runtime) manageKeys(mutate func(*Account) error) ([]wasmer.Value, error) {
	accountKey := AccountKey(r.ctx.Account().PublicKey)
	if r.ctx.BaseKey() != accountKey {
		return ok32(3)
	}
	if !r.ctx.Account().CanManageKeysWith(r.ctx.AuthorizationKeys()) {
		return ok32(3)
	}
	v, found, err := r.ctx.TrackingCopy().Read(accountKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, KeyNotFoundError{Key: accountKey}
	}
	accountValue, ok := v.(AccountValue)
	if !ok {
		return nil, TypeMismatch{Expected: "Value::Account", Found: v.TypeString()}
	}
	updated := accountValue.Account.Clone()
	if err := mutate(updated); err != nil {
		switch err {
		case ErrThresholdViolation, ErrKeyManagementThreshold:
			return ok32(2)
		case ErrDuplicateAssociatedKey, ErrMissingAssociatedKey, ErrCannotRemoveLastKey, ErrZeroWeight:
			return ok32(1)
		default:
			return nil, err
		}
	}
	r.ctx.TrackingCopy().Write(accountKey, AccountValue{Account: updated})
	return ok32(0)
}

// serializeFunction checks the named export exists and loads the module
// bytes into the host buffer. Contracts are stored as whole modules; the
// preprocessor upstream produces single-entry modules whose entry point is
// exported as "call".
func (r *Runtime) serializeFunction(namePtr, nameSize int32) (int32, error) {
	name, err := r.stringFromMem(namePtr, nameSize)
	if err != nil {
		return 0, err
	}
	if !r.moduleExports(name) {
		return 0, FunctionNotFoundError{Name: name}
	}
	r.hostBuf = r.module
	return int32(len(r.hostBuf)), nil
}

func (r *Runtime) moduleExports(name string) bool {
	if r.wasmerModule == nil {
		return false
	}
	for _, export := range r.wasmerModule.Exports() {
		if export.Name() == name {
			return true
		}
	}
	return false
}

// storeFunction stores the named function of the current module as a new
// contract together with the supplied named keys, and writes the derived
// hash back into Wasm memory.
func (r *Runtime) storeFunction(namePtr, nameSize, urefsPtr, urefsSize, hashPtr int32) error {
	name, err := r.stringFromMem(namePtr, nameSize)
	if err != nil {
		return err
	}
	if !r.moduleExports(name) {
		return FunctionNotFoundError{Name: name}
	}
	urefBytes, err := r.readMem(urefsPtr, urefsSize)
	if err != nil {
		return err
	}
	namedKeys, err := decodeNamedKeys(urefBytes)
	if err != nil {
		return err
	}
	contract := NewContract(r.module, namedKeys, r.ctx.ProtocolVersion())
	hash, err := r.ctx.StoreContract(contract)
	if err != nil {
		return err
	}
	return r.writeMem(hashPtr, hash[:])
}

// decodeNamedKeys parses a serialized map<String, Key>.
func decodeNamedKeys(b []byte) (map[string]Key, error) {
	d := decoder{buf: b}
	out := d.namedKeys()
	if err := d.finish(); err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]Key)
	}
	return out, nil
}

// upgradeContractAtURef overwrites the contract at an existing URef with the
// named function of the current module, preserving the stored named keys and
// bumping to the current protocol version.
func (r *Runtime) upgradeContractAtURef(namePtr, nameSize, keyPtr, keySize int32) error {
	name, err := r.stringFromMem(namePtr, nameSize)
	if err != nil {
		return err
	}
	if !r.moduleExports(name) {
		return FunctionNotFoundError{Name: name}
	}
	key, err := r.keyFromMem(keyPtr, keySize)
	if err != nil {
		return err
	}
	existing, err := r.ctx.TrackingCopy().GetContract(key)
	if err != nil {
		return err
	}
	upgraded := NewContract(r.module, existing.NamedKeys, r.ctx.ProtocolVersion())
	return r.ctx.WriteGS(key, ContractValue{Contract: upgraded})
}
