// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Tag identifies the source a transaction entered the pool from.
type Tag uint8

const (
	// TagLocal marks a transaction submitted by the local node.
	TagLocal Tag = iota

	// TagPeer marks a transaction received from the network.
	TagPeer
)

// TxDesc is a descriptor containing a transaction in the pool along with
// additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *btcutil.Tx

	// Added is the time when the entry was added to the pool.
	Added time.Time

	// Tag identifies where the transaction came from.
	Tag Tag
}

// TxPool is used as a source of transactions that need to be relayed to the
// network.  Consensus-level validation is out of scope here: callers are
// expected to have validated transactions before handing them to the pool.
// It is safe for concurrent access from multiple peer handlers.
type TxPool struct {
	mtx         sync.RWMutex
	pool        map[chainhash.Hash]*TxDesc
	lastUpdated time.Time
}

// New returns a new memory pool for validated transactions.
func New() *TxPool {
	return &TxPool{
		pool: make(map[chainhash.Hash]*TxDesc),
	}
}

// AcceptTransaction adds a validated transaction to the pool.  A duplicate
// submission is rejected with a RuleError so callers can distinguish it from
// a new acceptance.
func (mp *TxPool) AcceptTransaction(tx *btcutil.Tx, tag Tag) (*TxDesc, error) {
	hash := *tx.Hash()

	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if _, exists := mp.pool[hash]; exists {
		str := fmt.Sprintf("already have transaction %v", &hash)
		return nil, ruleError(ErrDuplicate, str)
	}

	desc := &TxDesc{
		Tx:    tx,
		Added: time.Now(),
		Tag:   tag,
	}
	mp.pool[hash] = desc
	mp.lastUpdated = desc.Added

	log.Debugf("Accepted transaction %v (pool size: %d)", &hash,
		len(mp.pool))
	return desc, nil
}

// RemoveTransaction removes the passed transaction hash from the pool if it
// exists.
func (mp *TxPool) RemoveTransaction(txHash *chainhash.Hash) {
	mp.mtx.Lock()
	if _, exists := mp.pool[*txHash]; exists {
		delete(mp.pool, *txHash)
		mp.lastUpdated = time.Now()
	}
	mp.mtx.Unlock()
}

// FetchTransaction returns the requested transaction from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	mp.mtx.RLock()
	desc, exists := mp.pool[*txHash]
	mp.mtx.RUnlock()

	if !exists {
		return nil, fmt.Errorf("transaction is not in the pool")
	}
	return desc.Tx, nil
}

// HaveTransaction returns whether or not the passed transaction exists in
// the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(txHash *chainhash.Hash) bool {
	mp.mtx.RLock()
	_, exists := mp.pool[*txHash]
	mp.mtx.RUnlock()

	return exists
}

// TxHashes returns the hashes of all transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	mp.mtx.RLock()
	hashes := make([]*chainhash.Hash, 0, len(mp.pool))
	for hash := range mp.pool {
		hashCopy := hash
		hashes = append(hashes, &hashCopy)
	}
	mp.mtx.RUnlock()

	return hashes
}

// TxDescs returns a slice of descriptors for all the transactions in the
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	descs := make([]*TxDesc, 0, len(mp.pool))
	for _, desc := range mp.pool {
		descs = append(descs, desc)
	}
	mp.mtx.RUnlock()

	return descs
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()

	return count
}

// LastUpdated returns the last time a transaction was added to or removed
// from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	mp.mtx.RLock()
	last := mp.lastUpdated
	mp.mtx.RUnlock()

	return last
}
