// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stemnet/stemd/dandelion"
	"github.com/stemnet/stemd/mempool"
)

// testTx returns a minimal transaction whose hash is unique per n.
func testTx(n uint32) *btcutil.Tx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: n},
	})
	msgTx.AddTxOut(&wire.TxOut{
		Value:    int64(n),
		PkScript: []byte{0x51},
	})
	return btcutil.NewTx(msgTx)
}

// TestLocalRebroadcastInv ensures the rebroadcast set contains exactly the
// local unconfirmed transactions that are already public: peer-sourced
// transactions and identities still in the stem phase are excluded.
func TestLocalRebroadcastInv(t *testing.T) {
	pool := mempool.New()

	peers := &dandelion.MockPeerSet{}
	peers.On("StemCandidates").Return([]dandelion.PeerID{2})
	bcast := &dandelion.MockBroadcaster{}
	bcast.On("AnnounceStem", mock.Anything, mock.Anything).Return(true)
	bcast.On("Flood", mock.Anything, mock.Anything)

	relay := dandelion.New(&dandelion.Config{
		StemProbability: 1,
		EmbargoMean:     time.Hour,
		EpochDuration:   time.Hour,
		Peers:           peers,
		TxSource:        pool,
		Broadcaster:     bcast,
	})
	relay.Start()
	defer relay.Stop()

	// A local transaction still in its stem phase stays private.
	stemTx := testTx(1)
	_, err := pool.AcceptTransaction(stemTx, mempool.TagLocal)
	require.NoError(t, err)
	relay.OnLocalTransaction(stemTx)

	// A local transaction that already fluffed is fair game.
	publicTx := testTx(2)
	_, err = pool.AcceptTransaction(publicTx, mempool.TagLocal)
	require.NoError(t, err)
	relay.OnLocalTransaction(publicTx)
	relay.OnFluffObserved(publicTx.Hash(), 5)

	// Peer-sourced transactions are not ours to rebroadcast.
	peerTx := testTx(3)
	_, err = pool.AcceptTransaction(peerTx, mempool.TagPeer)
	require.NoError(t, err)
	relay.OnTransaction(peerTx, 5)

	invMsg := localRebroadcastInv(pool, relay)
	require.Len(t, invMsg.InvList, 1)
	require.Equal(t, *publicTx.Hash(), invMsg.InvList[0].Hash)
	require.Equal(t, wire.InvTypeTx, invMsg.InvList[0].Type)
}
