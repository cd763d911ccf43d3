// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestFluffBaseline ensures that with a stem probability of zero every
// transaction floods immediately, reproducing plain relay behavior.
func TestFluffBaseline(t *testing.T) {
	h := newHarness(t, 0, time.Hour, 2, 3)

	for n := uint32(0); n < 10; n++ {
		tx := h.addTx(n)
		h.mgr.OnTransaction(tx, 5)

		phase, tracked := h.mgr.Phase(tx.Hash())
		require.True(t, tracked)
		require.Equal(t, PhaseFluff, phase)
	}

	require.Empty(t, h.bcast.stemCalls())
	floods := h.bcast.floodCalls()
	require.Len(t, floods, 10)
	for _, flood := range floods {
		require.Equal(t, []PeerID{5}, flood.exclude)
	}
}

// TestStemClassification ensures that with a stem probability of one a
// transaction is announced to a single successor and not flooded.
func TestStemClassification(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2, 3)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	phase, tracked := h.mgr.Phase(tx.Hash())
	require.True(t, tracked)
	require.Equal(t, PhaseStem, phase)

	stems := h.bcast.stemCalls()
	require.Len(t, stems, 1)
	require.Equal(t, *tx.Hash(), stems[0].hash)
	require.Contains(t, []PeerID{2, 3}, stems[0].succ)
	require.Empty(t, h.bcast.floodCalls())

	// All transactions stemmed within one epoch share the successor.
	tx2 := h.addTx(1)
	h.mgr.OnLocalTransaction(tx2)
	stems = h.bcast.stemCalls()
	require.Len(t, stems, 2)
	require.Equal(t, stems[0].succ, stems[1].succ)
}

// TestNoCapablePeerDegradesToFluff ensures that stem classification without
// any eligible successor falls back to immediate flooding.
func TestNoCapablePeerDegradesToFluff(t *testing.T) {
	h := newHarness(t, 1, time.Hour)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	phase, tracked := h.mgr.Phase(tx.Hash())
	require.True(t, tracked)
	require.Equal(t, PhaseFluff, phase)
	require.Empty(t, h.bcast.stemCalls())
	require.Len(t, h.bcast.floodCalls(), 1)
}

// TestDuplicateTrackIsNoop ensures a second creation request for an already
// tracked identity does not produce duplicate relay work.
func TestDuplicateTrackIsNoop(t *testing.T) {
	h := newHarness(t, 0, time.Hour, 2)

	tx := h.addTx(0)
	h.mgr.OnTransaction(tx, 4)
	h.mgr.OnTransaction(tx, 6)
	h.mgr.OnLocalTransaction(tx)

	require.Len(t, h.bcast.floodCalls(), 1)
}

// TestAnnounceFailureFallsBackToFlood ensures a stem whose announcement
// cannot be queued floods instead of being delayed.
func TestAnnounceFailureFallsBackToFlood(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)
	h.bcast.failStem = true

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	phase, tracked := h.mgr.Phase(tx.Hash())
	require.True(t, tracked)
	require.Equal(t, PhaseFluff, phase)
	require.Len(t, h.bcast.stemCalls(), 1)
	require.Len(t, h.bcast.floodCalls(), 1)
}

// TestEmbargoExpiryFluffs ensures that a stem transaction whose embargo
// expires is flooded within a time bounded by the embargo mean, and that
// the expiry is applied exactly once.
func TestEmbargoExpiryFluffs(t *testing.T) {
	h := newHarness(t, 1, 10*time.Millisecond, 2)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	phase, _ := h.mgr.Phase(tx.Hash())
	require.Equal(t, PhaseStem, phase)

	require.Eventually(t, func() bool {
		return len(h.bcast.floodCalls()) == 1
	}, 5*time.Second, time.Millisecond)

	phase, tracked := h.mgr.Phase(tx.Hash())
	require.True(t, tracked)
	require.Equal(t, PhaseFluff, phase)

	// No duplicate flood may follow.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, h.bcast.floodCalls(), 1)
}

// TestObservedFluffTransitions ensures independent observation of a fluffed
// identity transitions a stem record and floods exactly once, excluding the
// observing peer.
func TestObservedFluffTransitions(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)

	h.mgr.OnFluffObserved(tx.Hash(), 9)
	phase, _ := h.mgr.Phase(tx.Hash())
	require.Equal(t, PhaseFluff, phase)

	floods := h.bcast.floodCalls()
	require.Len(t, floods, 1)
	require.Equal(t, []PeerID{9}, floods[0].exclude)

	// Racing triggers resolve by idempotence.
	h.mgr.OnFluffObserved(tx.Hash(), 9)
	h.mgr.OnFluffObserved(tx.Hash(), 11)
	require.Len(t, h.bcast.floodCalls(), 1)

	// Observations for untracked identities are ignored.
	other := testTx(99)
	h.mgr.OnFluffObserved(other.Hash(), 9)
	require.Len(t, h.bcast.floodCalls(), 1)
}

// TestLoopDetectionFluffs ensures a stem delivery that cycles back to a node
// that already forwarded the identity is fluffed rather than re-armed.
func TestLoopDetectionFluffs(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)
	require.Len(t, h.bcast.stemCalls(), 1)

	// The same identity comes back around the stem.
	h.mgr.OnStemTransaction(tx, 7)

	phase, tracked := h.mgr.Phase(tx.Hash())
	require.True(t, tracked)
	require.Equal(t, PhaseFluff, phase)
	require.Len(t, h.bcast.floodCalls(), 1)
	require.Len(t, h.bcast.stemCalls(), 1)
}

// TestStemAnnouncementReactions covers the decision whether an inbound
// dandelion announcement warrants fetching the body.
func TestStemAnnouncementReactions(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	// Unknown identity: fetch it.
	unknown := testTx(50)
	require.True(t, h.mgr.OnStemAnnouncement(unknown.Hash(), 7))

	// Forwarded identity: loop, fluff, no fetch.
	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)
	require.False(t, h.mgr.OnStemAnnouncement(tx.Hash(), 7))
	phase, _ := h.mgr.Phase(tx.Hash())
	require.Equal(t, PhaseFluff, phase)

	// Already fluffed identity: stale announcement, no fetch.
	require.False(t, h.mgr.OnStemAnnouncement(tx.Hash(), 8))
}

// TestStemAnnouncementForPublicTransaction ensures a dandelion announcement
// for an untracked transaction the pool already holds is declined, so an
// identity that has been enumerable and fetchable can never be pulled back
// out of sight.
func TestStemAnnouncementForPublicTransaction(t *testing.T) {
	h := newHarness(t, 1, time.Hour, 2)

	// Pooled before the manager ever saw it, so it is public.
	tx := h.addTx(0)
	fetched, err := h.mgr.FetchTransaction(tx.Hash(), 9, false)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), fetched.Hash())

	require.False(t, h.mgr.OnStemAnnouncement(tx.Hash(), 9))

	// The identity stays untracked, enumerable, and fetchable.
	_, tracked := h.mgr.Phase(tx.Hash())
	require.False(t, tracked)

	hashes := h.mgr.MempoolHashes(7)
	require.Len(t, hashes, 1)
	require.Equal(t, *tx.Hash(), *hashes[0])

	fetched, err = h.mgr.FetchTransaction(tx.Hash(), 9, false)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), fetched.Hash())
}

// TestPhaseMonotonicity ensures the record-level transition rule rejects any
// attempt to leave the fluff phase.
func TestPhaseMonotonicity(t *testing.T) {
	rec := &relayRecord{}

	require.NoError(t, rec.setPhase(PhaseStem))
	require.NoError(t, rec.setPhase(PhaseFluff))

	// Fluff is absorbing: re-applying is fine, reverting is not.
	require.NoError(t, rec.setPhase(PhaseFluff))
	err := rec.setPhase(PhaseStem)
	require.Error(t, err)
	require.True(t, IsErrorCode(err, ErrInvalidTransition))
	require.Equal(t, PhaseFluff, rec.phase)
}

// TestTransactionRemovedLifecycle ensures records outlive mempool removal
// while stemmed and are pruned once fluffed.
func TestTransactionRemovedLifecycle(t *testing.T) {
	h := newHarness(t, 1, 10*time.Millisecond, 2)

	// A stem record survives removal of the underlying transaction so
	// probe answers stay consistent through the embargo window.
	tx := h.addTx(0)
	h.mgr.OnLocalTransaction(tx)
	h.source.remove(tx.Hash())
	h.mgr.TransactionRemoved(tx.Hash())

	_, tracked := h.mgr.Phase(tx.Hash())
	require.True(t, tracked)

	// Once the embargo fires the evicted record is discarded and there
	// is no body left to flood.
	require.Eventually(t, func() bool {
		_, tracked := h.mgr.Phase(tx.Hash())
		return !tracked
	}, 5*time.Second, time.Millisecond)
	require.Empty(t, h.bcast.floodCalls())

	// A fluffed record is discarded directly on removal.
	tx2 := h.addTx(1)
	h.mgr.OnTransaction(tx2, 3)
	h.mgr.OnFluffObserved(tx2.Hash(), 4)
	h.mgr.TransactionRemoved(tx2.Hash())
	_, tracked = h.mgr.Phase(tx2.Hash())
	require.False(t, tracked)
}

// TestManagerWithMocks exercises the manager against the generated testify
// mocks to pin down the exact collaborator calls for a single stem.
func TestManagerWithMocks(t *testing.T) {
	peers := &MockPeerSet{}
	source := &MockTxSource{}
	bcast := &MockBroadcaster{}

	mgr := New(&Config{
		StemProbability: 1,
		EmbargoMean:     time.Hour,
		EpochDuration:   time.Hour,
		Peers:           peers,
		TxSource:        source,
		Broadcaster:     bcast,
	})
	mgr.Start()
	defer mgr.Stop()

	tx := testTx(0)
	peers.On("StemCandidates").Return([]PeerID{7})
	bcast.On("AnnounceStem", tx.Hash(), PeerID(7)).Return(true).Once()

	mgr.OnLocalTransaction(tx)

	peers.AssertExpectations(t)
	bcast.AssertExpectations(t)
	bcast.AssertNotCalled(t, "Flood", mock.Anything, mock.Anything)
}
