package core

import "sync"

// SystemContractCache memoizes preprocessed system contract modules by URef
// address. It is shared, read-mostly process state; inserts are idempotent
// because the same address always maps to the same bytes.
type SystemContractCache struct {
	mu      sync.RWMutex
	modules map[[32]byte][]byte
}

func NewSystemContractCache() *SystemContractCache {
	return &SystemContractCache{modules: make(map[[32]byte][]byte)}
}

func (c *SystemContractCache) Has(ref URef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.modules[ref.Addr]
	return ok
}

func (c *SystemContractCache) Insert(ref URef, module []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[ref.Addr] = module
}

func (c *SystemContractCache) Get(ref URef) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[ref.Addr]
	return m, ok
}
