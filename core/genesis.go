package core

// Genesis: executed exactly once as the system account to install the
// system contracts and mint every configured account's main purse.

// SystemAccountAddr is the all-zeros public key the system acts as.
var SystemAccountAddr = PublicKey{}

// PlaceholderKey pads named-key entries that only exist for their name
// (validator stakes).
var PlaceholderKey = HashKey([32]byte{})

type GenesisAccount struct {
	PublicKey    PublicKey
	Balance      Motes
	BondedAmount Motes
}

type GenesisConfig struct {
	ChainName                     string
	Timestamp                     uint64
	ProtocolVersion               ProtocolVersion
	MintInstallerBytes            []byte
	PosInstallerBytes             []byte
	StandardPaymentInstallerBytes []byte
	Accounts                      []GenesisAccount
	WasmCosts                     WasmCosts
}

// BondedValidators filters the configured accounts down to non-zero stakes.
func (c GenesisConfig) BondedValidators() map[PublicKey]Motes {
	out := make(map[PublicKey]Motes)
	for _, acct := range c.Accounts {
		if !acct.BondedAmount.IsZero() {
			out[acct.PublicKey] = acct.BondedAmount
		}
	}
	return out
}

// InstallDeployHash seeds all genesis-internal address derivation:
// blake2b(chain_name || timestamp_le || wasm_costs_bytes).
func (c GenesisConfig) InstallDeployHash() Blake2bHash {
	e := encoder{}
	e.raw([]byte(c.ChainName))
	e.u64(c.Timestamp)
	e.raw(c.WasmCosts.toBytes())
	return NewBlake2bHash(e.buf)
}

type GenesisResult struct {
	PostStateHash Blake2bHash
	Effect        ExecutionEffect
}
