// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
)

// forwardedCacheSize is the number of stem-forwarded identities remembered
// for loop detection after their relay records have been pruned.
const forwardedCacheSize = 5000

// transitionReason describes why a record moved to the fluff phase, for
// logging.
type transitionReason int

const (
	reasonEmbargo transitionReason = iota
	reasonObserved
	reasonLoop
	reasonNoSuccessor
)

func (r transitionReason) String() string {
	switch r {
	case reasonEmbargo:
		return "embargo expired"
	case reasonObserved:
		return "fluffed elsewhere"
	case reasonLoop:
		return "stem loop"
	case reasonNoSuccessor:
		return "successor unavailable"
	}
	return "unknown"
}

// Manager owns the relay record table and applies the stem/fluff state
// machine.  All mutations are funneled through a single mutex with short
// critical sections; callbacks into the broadcaster and transaction source
// are made outside the lock.  It is safe for concurrent access from any
// number of peer handlers.
type Manager struct {
	cfg   Config
	graph *stemGraph
	sched *embargoScheduler

	mtx       sync.Mutex
	records   map[chainhash.Hash]*relayRecord
	rng       *rand.Rand
	forwarded lru.Cache
}

// New returns a new relay manager for the provided configuration.  Use Start
// to begin servicing embargo timers.
func New(cfg *Config) *Manager {
	normalized := cfg.normalize()
	m := &Manager{
		cfg:       normalized,
		records:   make(map[chainhash.Hash]*relayRecord),
		rng:       rand.New(normalized.RandSource),
		forwarded: lru.NewCache(forwardedCacheSize),
	}
	m.graph = newStemGraph(normalized.Peers, normalized.EpochDuration,
		rand.NewSource(m.rng.Int63()))
	m.sched = newEmbargoScheduler(m.onEmbargoExpiry)
	return m
}

// Start launches the embargo scheduling goroutine.
func (m *Manager) Start() {
	log.Infof("Relay manager started (stem probability %.2f, embargo "+
		"mean %v, epoch %v)", m.cfg.StemProbability, m.cfg.EmbargoMean,
		m.cfg.EpochDuration)
	m.sched.start()
}

// Stop shuts down the embargo scheduler.  Outstanding stem records are
// abandoned; relay state is intentionally not persisted, so after a restart
// every pre-existing mempool transaction is treated as already fluffed.
func (m *Manager) Stop() {
	m.sched.stop()
	log.Infof("Relay manager stopped")
}

// OnLocalTransaction classifies and routes a transaction created by this
// node.  The transaction must already have been accepted by the mempool.
func (m *Manager) OnLocalTransaction(tx *btcutil.Tx) {
	m.track(tx, LocalPeer, false)
}

// OnTransaction classifies and routes a transaction received from a peer
// through ordinary relay.  The transaction must already have been accepted
// by the mempool.  Relay back to the sending peer is suppressed.
func (m *Manager) OnTransaction(tx *btcutil.Tx, from PeerID) {
	m.track(tx, from, false)
}

// OnStemTransaction routes a transaction whose body was delivered in
// response to a stem announcement.  The receiving node re-runs the stem
// coin, so a stem either continues along this node's own successor or ends
// here with a flood.
func (m *Manager) OnStemTransaction(tx *btcutil.Tx, from PeerID) {
	m.track(tx, from, true)
}

// OnStemAnnouncement reacts to an inbound dandelion inventory announcement
// and returns whether the caller should fetch the transaction body from the
// announcing peer.  An announcement for an identity this node already
// stem-forwarded means the stem path has cycled; the record is fluffed
// immediately and never re-armed, bounding stem path length.
func (m *Manager) OnStemAnnouncement(hash *chainhash.Hash, from PeerID) bool {
	m.mtx.Lock()
	rec, exists := m.records[*hash]
	if exists {
		loop := rec.phase == PhaseStem && rec.forwarded
		m.mtx.Unlock()
		if loop {
			m.fluff(hash, reasonLoop, from)
		}
		return false
	}
	seen := m.forwarded.Contains(*hash)
	m.mtx.Unlock()

	// A forwarded identity without a live record was already fluffed and
	// pruned; the announcement is stale.
	if seen {
		return false
	}

	// An untracked transaction the pool already holds is public: it has
	// been enumerable and fetchable, and re-arming it as stem would pull
	// it back out of sight, which is itself an observable signal.
	return !m.cfg.TxSource.HaveTransaction(hash)
}

// OnFluffObserved reacts to independent evidence that the given identity has
// already entered the fluff phase elsewhere, such as an ordinary inventory
// announcement from the network.  If this node still holds the identity in
// the stem phase it transitions and floods, excluding the observing peer.
func (m *Manager) OnFluffObserved(hash *chainhash.Hash, from PeerID) {
	m.fluff(hash, reasonObserved, from)
}

// TransactionRemoved tells the manager the given transaction has left the
// mempool.  Fluffed records are discarded; stem records are kept until their
// own transition so probe answers stay consistent through the embargo
// window.
func (m *Manager) TransactionRemoved(hash *chainhash.Hash) {
	m.mtx.Lock()
	rec, exists := m.records[*hash]
	if exists {
		if rec.phase == PhaseFluff {
			delete(m.records, *hash)
		} else {
			rec.evicted = true
		}
	}
	m.mtx.Unlock()
}

// Phase returns the relay phase of the given identity and whether it is
// tracked at all.
func (m *Manager) Phase(hash *chainhash.Hash) (Phase, bool) {
	m.mtx.Lock()
	rec, exists := m.records[*hash]
	var phase Phase
	if exists {
		phase = rec.phase
	}
	m.mtx.Unlock()
	return phase, exists
}

// track creates the relay record for a newly accepted transaction and routes
// it.  A second creation attempt for an already tracked identity is a no-op,
// except that a stem re-delivery of a forwarded identity is treated as a
// loop.
func (m *Manager) track(tx *btcutil.Tx, origin PeerID, viaStem bool) {
	hash := *tx.Hash()

	m.mtx.Lock()
	if rec, exists := m.records[hash]; exists {
		loop := viaStem && rec.phase == PhaseStem && rec.forwarded
		m.mtx.Unlock()
		if loop {
			m.fluff(&hash, reasonLoop, origin)
		}
		return
	}

	// A stem delivery that cycled back after its record was pruned is
	// fluffed rather than re-armed.
	looped := viaStem && m.forwarded.Contains(hash)

	stem := !looped && m.rng.Float64() < m.cfg.StemProbability
	var succ PeerID
	var haveSucc bool
	if stem {
		succ, haveSucc = m.graph.currentSuccessor(time.Now())
	}

	rec := &relayRecord{hash: hash, origin: origin}
	m.records[hash] = rec

	if stem && haveSucc {
		rec.phase = PhaseStem
		rec.successor = succ
		rec.deadline = time.Now().Add(m.embargoTimeout())
		rec.timer = m.sched.arm(&hash, rec.deadline)
		rec.forwarded = true
		m.forwarded.Add(hash)
		m.mtx.Unlock()

		if m.cfg.Broadcaster.AnnounceStem(&hash, succ) {
			m.mtx.Lock()
			rec.announced = true
			m.mtx.Unlock()
			log.Debugf("Stemmed transaction %v to peer %d "+
				"(embargo %v)", &hash, succ, rec.deadline)
			return
		}

		// The successor went away before the announcement could be
		// queued.  Fail toward public relay rather than delaying the
		// transaction.
		m.graph.invalidate(succ)
		m.fluff(&hash, reasonNoSuccessor, origin)
		return
	}

	rec.phase = PhaseFluff
	m.mtx.Unlock()

	log.Debugf("Fluffing transaction %v on entry", &hash)
	m.cfg.Broadcaster.Flood(tx, excludeOrigin(origin))
}

// fluff applies the stem to fluff transition for the given identity and, if
// this call wins the race to transition, floods the transaction.  The
// transition is monotonic and idempotent: calls for untracked or already
// fluffed identities, including late embargo timer fires, are no-ops.
func (m *Manager) fluff(hash *chainhash.Hash, reason transitionReason, exclude PeerID) {
	m.mtx.Lock()
	rec, exists := m.records[*hash]
	if !exists || rec.phase == PhaseFluff {
		m.mtx.Unlock()
		return
	}
	if err := rec.setPhase(PhaseFluff); err != nil {
		m.mtx.Unlock()
		log.Errorf("Rejected relay transition for %v: %v", hash, err)
		return
	}
	timer := rec.timer
	rec.timer = nil
	rec.successor = 0
	rec.announced = false
	evicted := rec.evicted
	if evicted {
		delete(m.records, *hash)
	}
	m.mtx.Unlock()

	if timer != nil {
		m.sched.cancel(timer)
	}
	log.Debugf("Transaction %v entered fluff phase: %v", hash, reason)

	if evicted {
		return
	}
	tx, err := m.cfg.TxSource.FetchTransaction(hash)
	if err != nil {
		// Left the mempool since the transition; nothing to flood.
		log.Debugf("No body to flood for %v: %v", hash, err)
		return
	}
	m.cfg.Broadcaster.Flood(tx, excludeOrigin(exclude))
}

// onEmbargoExpiry is invoked by the scheduler goroutine when an embargo
// deadline passes.  Expiry guarantees delivery: the record fluffs and the
// transaction is flooded regardless of how the stem fared.
func (m *Manager) onEmbargoExpiry(hash *chainhash.Hash) {
	m.fluff(hash, reasonEmbargo, LocalPeer)
}

// embargoTimeout draws a timeout from an exponential distribution with the
// configured mean.  Must be called with the manager mutex held.
func (m *Manager) embargoTimeout() time.Duration {
	d := time.Duration(m.rng.ExpFloat64() * float64(m.cfg.EmbargoMean))
	if d < minEmbargoTimeout {
		d = minEmbargoTimeout
	}
	return d
}

// excludeOrigin converts an origin peer into a flood exclusion list.
func excludeOrigin(origin PeerID) []PeerID {
	if origin == LocalPeer {
		return nil
	}
	return []PeerID{origin}
}
