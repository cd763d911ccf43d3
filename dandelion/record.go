// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Phase is the relay phase of a tracked transaction.
type Phase uint8

const (
	// PhaseStem means the transaction is relayed to a single successor
	// peer and withheld from direct queries.
	PhaseStem Phase = iota

	// PhaseFluff means the transaction is flooded to all peers.  The
	// phase is absorbing.
	PhaseFluff
)

// String returns the Phase as a human-readable name.
func (p Phase) String() string {
	switch p {
	case PhaseStem:
		return "stem"
	case PhaseFluff:
		return "fluff"
	}
	return fmt.Sprintf("Unknown Phase (%d)", uint8(p))
}

// relayRecord is the relay metadata the manager tracks for one transaction
// identity.  All fields are guarded by the manager mutex.
type relayRecord struct {
	hash   chainhash.Hash
	phase  Phase
	origin PeerID

	// The following fields are only meaningful while phase is PhaseStem.
	successor PeerID
	deadline  time.Time
	timer     *embargoEntry

	// forwarded is set once this node has announced the transaction to a
	// stem successor.  A stem announcement for a forwarded identity means
	// the stem path has cycled back to us.
	forwarded bool

	// announced is set once the stem announcement was actually handed to
	// the successor's send queue.  A dandelion getdata is only served to
	// the announced successor.
	announced bool

	// evicted is set when the transaction leaves the mempool while the
	// record is still tracked.  Records must survive mempool removal
	// until they fluff so probe answers stay consistent through the
	// embargo window.
	evicted bool
}

// setPhase applies a phase change to the record.  The only legal transition
// is stem to fluff; fluff is absorbing and re-applying it is a no-op.  Any
// attempt to move a fluffed record back to the stem phase is rejected.
func (r *relayRecord) setPhase(p Phase) error {
	if r.phase == PhaseFluff && p == PhaseStem {
		str := fmt.Sprintf("transaction %v: fluff phase is absorbing",
			r.hash)
		return relayError(ErrInvalidTransition, str)
	}
	r.phase = p
	return nil
}
