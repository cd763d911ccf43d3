// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDirectFetchWithheldWhileStem ensures a stem-phase transaction is
// answered as unknown for every requesting peer using the ordinary
// transaction inventory type, including the designated successor.
func TestDirectFetchWithheldWhileStem(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	stems := h.bcast.stemCalls()
	require.Len(t, stems, 1)
	succ := stems[0].succ

	probes := []PeerID{1, succ, 3, 4, 5}
	for _, probe := range probes {
		fetched, err := h.mgr.FetchTransaction(tx.Hash(), probe, false)
		require.Nil(t, fetched)
		require.Error(t, err)
		require.True(t, IsErrorCode(err, ErrUnknownTransaction))
	}

	// The withheld answer must be indistinguishable from a genuinely
	// unknown transaction.
	unknown := testTx(99)
	_, errUnknown := h.mgr.FetchTransaction(unknown.Hash(), 1, false)
	_, errWithheld := h.mgr.FetchTransaction(tx.Hash(), 1, false)
	require.Equal(t, errUnknown, errWithheld)
}

// TestStemFetchServedToAnnouncedSuccessor ensures a getdata using the
// dandelion inventory type is served to exactly the peer the stem
// announcement went to, and to nobody else.
func TestStemFetchServedToAnnouncedSuccessor(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	stems := h.bcast.stemCalls()
	require.Len(t, stems, 1)
	succ := stems[0].succ

	fetched, err := h.mgr.FetchTransaction(tx.Hash(), succ, true)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), fetched.Hash())

	// A probing peer that never received the announcement gets nothing
	// even when it asks with the dandelion type.
	fetched, err = h.mgr.FetchTransaction(tx.Hash(), 9, true)
	require.Nil(t, fetched)
	require.True(t, IsErrorCode(err, ErrUnknownTransaction))
}

// TestStemFetchNormalizesSourceError ensures a successor dandelion fetch
// whose body has left the pool reports the same unknown-transaction shape as
// every other miss rather than leaking the source error.
func TestStemFetchNormalizesSourceError(t *testing.T) {
	peers := &fakePeerSet{}
	peers.set(2)
	bcast := &fakeBroadcaster{}
	source := &MockTxSource{}

	mgr := New(&Config{
		StemProbability: 1,
		EmbargoMean:     time.Hour,
		EpochDuration:   time.Hour,
		Peers:           peers,
		TxSource:        source,
		Broadcaster:     bcast,
		RandSource:      rand.NewSource(1),
	})
	mgr.Start()
	defer mgr.Stop()

	tx := testTx(0)
	mgr.OnLocalTransaction(tx)
	require.Len(t, bcast.stemCalls(), 1)

	source.On("FetchTransaction", tx.Hash()).
		Return(nil, errors.New("transaction dropped"))

	fetched, err := mgr.FetchTransaction(tx.Hash(), 2, true)
	require.Nil(t, fetched)
	require.True(t, IsErrorCode(err, ErrUnknownTransaction))
}

// TestDirectFetchAfterFluff ensures fluffed and untracked transactions are
// served normally.
func TestDirectFetchAfterFluff(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)
	h.mgr.OnFluffObserved(tx.Hash(), 8)

	for _, probe := range []PeerID{1, 2, 9} {
		fetched, err := h.mgr.FetchTransaction(tx.Hash(), probe, false)
		require.NoError(t, err)
		require.Equal(t, tx.Hash(), fetched.Hash())
	}

	// Untracked but pooled, for example anything present before the
	// process started, is public.
	untracked := h.addTx(1)
	fetched, err := h.mgr.FetchTransaction(untracked.Hash(), 3, false)
	require.NoError(t, err)
	require.Equal(t, untracked.Hash(), fetched.Hash())
}

// TestEnumerationOmitsStem ensures mempool enumeration excludes stem-phase
// identities and includes them once fluffed.
func TestEnumerationOmitsStem(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	public := h.addTx(0)
	private := h.addTx(1)
	h.mgr.OnLocalTransaction(private)

	phase, _ := h.mgr.Phase(private.Hash())
	require.Equal(t, PhaseStem, phase)

	hashes := h.mgr.MempoolHashes(7)
	require.Len(t, hashes, 1)
	require.Equal(t, public.Hash(), hashes[0])

	// After the transition the identity becomes enumerable.
	h.mgr.OnFluffObserved(private.Hash(), 9)
	hashes = h.mgr.MempoolHashes(7)
	require.Len(t, hashes, 2)
}
