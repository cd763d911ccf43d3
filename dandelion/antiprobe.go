// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// FetchTransaction answers a direct fetch request from a peer.  While a
// record is in the stem phase the transaction is withheld from everyone who
// asks through the ordinary transaction inventory type, including the
// designated stem successor, so that answering differently to different
// askers cannot leak path membership.  The one exception is the stem hop
// itself: a getdata using the dandelion inventory type is served to exactly
// the peer the stem announcement was queued to.
//
// For fluffed or untracked identities the request is answered from the
// transaction source.  The error returned for a withheld transaction is
// indistinguishable from the one returned for an unknown transaction.
func (m *Manager) FetchTransaction(hash *chainhash.Hash, from PeerID, stemInv bool) (*btcutil.Tx, error) {
	m.mtx.Lock()
	rec, exists := m.records[*hash]
	if exists && rec.phase == PhaseStem {
		served := stemInv && rec.announced && rec.successor == from
		m.mtx.Unlock()
		if !served {
			return nil, relayError(ErrUnknownTransaction,
				"transaction is not in the pool")
		}
		tx, err := m.cfg.TxSource.FetchTransaction(hash)
		if err != nil {
			return nil, relayError(ErrUnknownTransaction,
				"transaction is not in the pool")
		}
		return tx, nil
	}
	m.mtx.Unlock()

	tx, err := m.cfg.TxSource.FetchTransaction(hash)
	if err != nil {
		return nil, relayError(ErrUnknownTransaction,
			"transaction is not in the pool")
	}
	return tx, nil
}

// MempoolHashes answers a mempool enumeration request from a peer.  The
// returned set excludes every identity whose record is in the stem phase;
// only fluffed or otherwise fully public transactions are enumerable.
func (m *Manager) MempoolHashes(from PeerID) []*chainhash.Hash {
	hashes := m.cfg.TxSource.TxHashes()

	m.mtx.Lock()
	public := make([]*chainhash.Hash, 0, len(hashes))
	for _, hash := range hashes {
		if rec, exists := m.records[*hash]; exists &&
			rec.phase == PhaseStem {

			continue
		}
		public = append(public, hash)
	}
	m.mtx.Unlock()

	return public
}
