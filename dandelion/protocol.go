// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// SFNodeDandelion is a service flag bit advertised in the version
	// handshake by nodes that support stem relay.  Only peers carrying
	// this flag are eligible stem successors.
	SFNodeDandelion wire.ServiceFlag = 1 << 24

	// InvTypeDandelionTx is the inventory type used for stem-phase
	// transaction announcements.  A getdata request using this type is
	// only honored for the peer the announcement was sent to.
	InvTypeDandelionTx wire.InvType = 5
)

// PeerID identifies a peer connection to the relay manager.  The zero value
// is reserved for transactions created by the local node.
type PeerID int32

// LocalPeer is the origin sentinel for locally created transactions.
const LocalPeer PeerID = 0

// NewStemInv returns an inventory vector announcing hash under the dandelion
// inventory type.
func NewStemInv(hash *chainhash.Hash) *wire.InvVect {
	return wire.NewInvVect(InvTypeDandelionTx, hash)
}
