// Package detect implements the Interface/Cache Manager family: a
// code-hash classification cache, per-address entity caches, and one
// detector per supported standard (Jetton Master/Wallet, NFT
// Collection/Item), each with its own three-level fast path and
// cross-verification rule.
package detect

import (
	"sync"

	"github.com/tonkeeper/tongo/ton"

	"github.com/greymass/traceindex/internal/tonmodel"
)

type codeHashKey struct {
	codeHash ton.Bits256
	kind     tonmodel.InterfaceKind
}

// InterfaceManager is the sole writer of the code-hash x interface-kind
// classification cache; every detector consults it before running any
// get-method.
type InterfaceManager struct {
	mu    sync.RWMutex
	known map[codeHashKey]bool
}

func NewInterfaceManager() *InterfaceManager {
	return &InterfaceManager{known: make(map[codeHashKey]bool)}
}

// Lookup returns (applicable, known). known is false when no prior
// verdict has been recorded for this (code_hash, kind) pair.
func (m *InterfaceManager) Lookup(codeHash ton.Bits256, kind tonmodel.InterfaceKind) (applicable, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.known[codeHashKey{codeHash, kind}]
	return v, ok
}

func (m *InterfaceManager) Record(codeHash ton.Bits256, kind tonmodel.InterfaceKind, applicable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[codeHashKey{codeHash, kind}] = applicable
}

// addressCacheEntry is what the per-address cache remembers about the
// last successful detection for one (account, kind) pair.
type addressCacheEntry struct {
	codeHash          ton.Bits256
	dataHash          ton.Bits256
	lastTransactionLt uint64
	record            tonmodel.InterfaceRecord
}

// AddressCache is the per-detector, per-address cache. "Newer" is
// strict: a cache entry satisfies a query only when its
// last_transaction_lt is strictly greater than the query's lt, so
// equal lt always forces a re-run.
type AddressCache struct {
	mu      sync.RWMutex
	kind    tonmodel.InterfaceKind
	entries map[ton.AccountID]addressCacheEntry
}

func NewAddressCache(kind tonmodel.InterfaceKind) *AddressCache {
	return &AddressCache{kind: kind, entries: make(map[ton.AccountID]addressCacheEntry)}
}

func (c *AddressCache) Get(account ton.AccountID, codeHash, dataHash ton.Bits256, lastTransactionLt uint64) (tonmodel.InterfaceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[account]
	if !ok {
		return tonmodel.InterfaceRecord{}, false
	}
	if e.codeHash == codeHash && e.dataHash == dataHash {
		return e.record, true
	}
	if e.lastTransactionLt > lastTransactionLt {
		return e.record, true
	}
	return tonmodel.InterfaceRecord{}, false
}

func (c *AddressCache) Put(account ton.AccountID, codeHash, dataHash ton.Bits256, lastTransactionLt uint64, record tonmodel.InterfaceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[account] = addressCacheEntry{
		codeHash:          codeHash,
		dataHash:          dataHash,
		lastTransactionLt: lastTransactionLt,
		record:            record,
	}
}
