// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxSource defines the subset of mempool behavior the relay manager depends
// on.  The mempool remains the authority over transaction validity and
// storage; the manager only annotates identities with relay phase.
type TxSource interface {
	// FetchTransaction returns the requested transaction, or an error if
	// it is not in the pool.
	FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)

	// HaveTransaction returns whether or not the passed transaction
	// exists in the pool.
	HaveTransaction(txHash *chainhash.Hash) bool

	// TxHashes returns the hashes of all transactions in the pool.
	TxHashes() []*chainhash.Hash
}

// Broadcaster performs message transmission on behalf of the relay manager.
// Implementations must be safe for concurrent access.
type Broadcaster interface {
	// AnnounceStem sends a dandelion inventory announcement for the
	// given transaction to a single successor peer.  It returns false if
	// the announcement could not be queued, for example because the peer
	// disconnected, in which case the manager falls back to flooding.
	AnnounceStem(txHash *chainhash.Hash, succ PeerID) bool

	// Flood relays the transaction to all connected peers except the
	// listed ones.
	Flood(tx *btcutil.Tx, exclude []PeerID)
}

// PeerSet supplies the peers that may be chosen as stem successors.
type PeerSet interface {
	// StemCandidates returns the IDs of currently connected outbound
	// peers that negotiated stem relay support.
	StemCandidates() []PeerID
}
