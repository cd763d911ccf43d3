// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"math/rand"
	"sync"
	"time"
)

// stemGraph maintains this node's single outbound stem successor.  The
// successor is drawn uniformly from the capability-bearing outbound peer set
// and remains stable for one epoch so that all transactions stemmed during
// the epoch share the same path, minimizing path-pattern leakage.
type stemGraph struct {
	mtx   sync.Mutex
	peers PeerSet
	epoch time.Duration
	rng   *rand.Rand

	successor   PeerID
	haveSucc    bool
	epochExpiry time.Time
}

func newStemGraph(peers PeerSet, epoch time.Duration, source rand.Source) *stemGraph {
	return &stemGraph{
		peers: peers,
		epoch: epoch,
		rng:   rand.New(source),
	}
}

// currentSuccessor returns the stem successor for the epoch containing now,
// recomputing it lazily when an epoch boundary has passed.  The second
// return value is false when no capability-bearing outbound peer exists, in
// which case stem classification degrades to immediate fluff for the
// remainder of the epoch.
//
// Recomputation is idempotent and safe to run concurrently with in-flight
// stem relays; records armed under a previous successor keep using it until
// their own transition.
func (g *stemGraph) currentSuccessor(now time.Time) (PeerID, bool) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if now.Before(g.epochExpiry) {
		return g.successor, g.haveSucc
	}

	// Epoch boundaries are aligned to the wall clock so that restarts or
	// delayed reads land in well-defined intervals.
	g.epochExpiry = now.Truncate(g.epoch).Add(g.epoch)

	candidates := g.peers.StemCandidates()
	if len(candidates) == 0 {
		g.successor = 0
		g.haveSucc = false
		log.Debugf("No stem-capable outbound peers; fluffing until %v",
			g.epochExpiry)
		return 0, false
	}

	g.successor = candidates[g.rng.Intn(len(candidates))]
	g.haveSucc = true
	log.Debugf("Stem successor for epoch ending %v: peer %d",
		g.epochExpiry, g.successor)
	return g.successor, true
}

// invalidate clears the cached successor if it matches the given peer,
// forcing a re-draw on the next read.  It is called when an announcement to
// the successor fails, which means the peer is gone and is no longer part of
// the eligible set.
func (g *stemGraph) invalidate(id PeerID) {
	g.mtx.Lock()
	if g.haveSucc && g.successor == id {
		g.haveSucc = false
		g.epochExpiry = time.Time{}
	}
	g.mtx.Unlock()
}
