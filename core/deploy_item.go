package core

// Deploy wire shapes consumed by the engine. Serialization of the outer
// envelope lives with the RPC layer; the engine only needs the fields.

type ExecutableDeployItemTag uint8

const (
	DeployItemModuleBytes ExecutableDeployItemTag = iota
	DeployItemStoredByHash
	DeployItemStoredByName
	DeployItemStoredByURef
)

// ExecutableDeployItem names the Wasm to run for one phase: raw module
// bytes, or a stored contract addressed by hash, by an account named key, or
// by URef address.
type ExecutableDeployItem struct {
	Tag         ExecutableDeployItemTag
	ModuleBytes []byte   // ModuleBytes
	Hash        []byte   // StoredByHash (32 bytes)
	Name        string   // StoredByName
	URefAddr    []byte   // StoredByURef (32 bytes)
	Args        [][]byte // serialized Values, one per argument
}

func ModuleBytesItem(moduleBytes []byte, args [][]byte) ExecutableDeployItem {
	return ExecutableDeployItem{Tag: DeployItemModuleBytes, ModuleBytes: moduleBytes, Args: args}
}

func StoredByHashItem(hash []byte, args [][]byte) ExecutableDeployItem {
	return ExecutableDeployItem{Tag: DeployItemStoredByHash, Hash: hash, Args: args}
}

func StoredByNameItem(name string, args [][]byte) ExecutableDeployItem {
	return ExecutableDeployItem{Tag: DeployItemStoredByName, Name: name, Args: args}
}

func StoredByURefItem(urefAddr []byte, args [][]byte) ExecutableDeployItem {
	return ExecutableDeployItem{Tag: DeployItemStoredByURef, URefAddr: urefAddr, Args: args}
}

// IsEmptyModuleBytes reports whether this item selects the standard payment
// contract (empty module bytes convention).
func (item ExecutableDeployItem) IsEmptyModuleBytes() bool {
	return item.Tag == DeployItemModuleBytes && len(item.ModuleBytes) == 0
}

// DeployItem is one signed submission, already authenticated upstream.
type DeployItem struct {
	Address           PublicKey
	Session           ExecutableDeployItem
	Payment           ExecutableDeployItem
	GasPrice          uint64
	AuthorizationKeys map[PublicKey]struct{}
	DeployHash        [32]byte
}

// ExecuteRequest carries one batch of deploys against a parent root.
// Ordering within the batch is the caller's decision and is preserved.
type ExecuteRequest struct {
	ParentStateHash Blake2bHash
	BlockTime       uint64
	ProtocolVersion ProtocolVersion
	Deploys         []DeployItem
}
