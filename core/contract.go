package core

import "bytes"

// Contract is an immutable stored Wasm blob plus the named keys visible to
// it during execution. Two contracts with identical fields serialize to the
// same bytes and therefore hash to the same address.
type Contract struct {
	Bytes           []byte
	NamedKeys       map[string]Key
	ProtocolVersion ProtocolVersion
}

func NewContract(wasmBytes []byte, namedKeys map[string]Key, version ProtocolVersion) *Contract {
	if namedKeys == nil {
		namedKeys = make(map[string]Key)
	}
	return &Contract{Bytes: wasmBytes, NamedKeys: namedKeys, ProtocolVersion: version}
}

func (c *Contract) Clone() *Contract {
	named := make(map[string]Key, len(c.NamedKeys))
	for k, v := range c.NamedKeys {
		named[k] = v
	}
	b := make([]byte, len(c.Bytes))
	copy(b, c.Bytes)
	return &Contract{Bytes: b, NamedKeys: named, ProtocolVersion: c.ProtocolVersion}
}

func (c *Contract) Equal(other *Contract) bool {
	return bytes.Equal(c.toBytes(), other.toBytes())
}

func (c *Contract) toBytes() []byte {
	e := encoder{}
	e.bytes(c.Bytes)
	e.namedKeys(c.NamedKeys)
	e.raw(c.ProtocolVersion.toBytes())
	return e.buf
}

func (d *decoder) contract() *Contract {
	b := d.bytes()
	named := d.namedKeys()
	version := d.protocolVersion()
	if d.err != nil {
		return nil
	}
	return &Contract{Bytes: b, NamedKeys: named, ProtocolVersion: version}
}
