// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
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

// fakePeerSet is a PeerSet backed by a mutable slice.
type fakePeerSet struct {
	mtx sync.Mutex
	ids []PeerID
}

func (p *fakePeerSet) StemCandidates() []PeerID {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]PeerID(nil), p.ids...)
}

func (p *fakePeerSet) set(ids ...PeerID) {
	p.mtx.Lock()
	p.ids = ids
	p.mtx.Unlock()
}

// fakeTxSource is a TxSource backed by a map.
type fakeTxSource struct {
	mtx  sync.Mutex
	txns map[chainhash.Hash]*btcutil.Tx
}

func newFakeTxSource() *fakeTxSource {
	return &fakeTxSource{txns: make(map[chainhash.Hash]*btcutil.Tx)}
}

func (s *fakeTxSource) add(tx *btcutil.Tx) {
	s.mtx.Lock()
	s.txns[*tx.Hash()] = tx
	s.mtx.Unlock()
}

func (s *fakeTxSource) remove(hash *chainhash.Hash) {
	s.mtx.Lock()
	delete(s.txns, *hash)
	s.mtx.Unlock()
}

func (s *fakeTxSource) FetchTransaction(hash *chainhash.Hash) (*btcutil.Tx, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, exists := s.txns[*hash]
	if !exists {
		return nil, relayError(ErrUnknownTransaction,
			"transaction is not in the pool")
	}
	return tx, nil
}

func (s *fakeTxSource) HaveTransaction(hash *chainhash.Hash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, exists := s.txns[*hash]
	return exists
}

func (s *fakeTxSource) TxHashes() []*chainhash.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	hashes := make([]*chainhash.Hash, 0, len(s.txns))
	for hash := range s.txns {
		hashCopy := hash
		hashes = append(hashes, &hashCopy)
	}
	return hashes
}

type stemCall struct {
	hash chainhash.Hash
	succ PeerID
}

type floodCall struct {
	hash    chainhash.Hash
	exclude []PeerID
}

// fakeBroadcaster records stem announcements and floods.  The optional
// onStem hook lets tests route announcements to another manager.
type fakeBroadcaster struct {
	mtx      sync.Mutex
	failStem bool
	onStem   func(hash *chainhash.Hash, succ PeerID) bool
	stems    []stemCall
	floods   []floodCall
}

func (b *fakeBroadcaster) AnnounceStem(hash *chainhash.Hash, succ PeerID) bool {
	b.mtx.Lock()
	b.stems = append(b.stems, stemCall{hash: *hash, succ: succ})
	fail := b.failStem
	hook := b.onStem
	b.mtx.Unlock()

	if fail {
		return false
	}
	if hook != nil {
		return hook(hash, succ)
	}
	return true
}

func (b *fakeBroadcaster) Flood(tx *btcutil.Tx, exclude []PeerID) {
	b.mtx.Lock()
	b.floods = append(b.floods, floodCall{
		hash:    *tx.Hash(),
		exclude: append([]PeerID(nil), exclude...),
	})
	b.mtx.Unlock()
}

func (b *fakeBroadcaster) stemCalls() []stemCall {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([]stemCall(nil), b.stems...)
}

func (b *fakeBroadcaster) floodCalls() []floodCall {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([]floodCall(nil), b.floods...)
}

// harness bundles a manager with fake collaborators.
type harness struct {
	mgr    *Manager
	peers  *fakePeerSet
	source *fakeTxSource
	bcast  *fakeBroadcaster
}

func newHarness(t *testing.T, q float64, embargoMean time.Duration, candidates ...PeerID) *harness {
	t.Helper()

	h := &harness{
		peers:  &fakePeerSet{},
		source: newFakeTxSource(),
		bcast:  &fakeBroadcaster{},
	}
	h.peers.set(candidates...)
	h.mgr = New(&Config{
		StemProbability: q,
		EmbargoMean:     embargoMean,
		EpochDuration:   time.Hour,
		Peers:           h.peers,
		TxSource:        h.source,
		Broadcaster:     h.bcast,
		RandSource:      rand.NewSource(1),
	})
	h.mgr.Start()
	t.Cleanup(h.mgr.Stop)
	return h
}

// addTx creates a unique transaction and places it in the fake source, the
// same way the mempool accepts a transaction before the manager tracks it.
func (h *harness) addTx(n uint32) *btcutil.Tx {
	tx := testTx(n)
	h.source.add(tx)
	return tx
}
