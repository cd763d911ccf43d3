// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
)

// MockTxSource is a mock implementation of the TxSource interface.
type MockTxSource struct {
	mock.Mock
}

// Ensure the MockTxSource implements the TxSource interface.
var _ TxSource = (*MockTxSource)(nil)

// FetchTransaction returns the requested transaction, or an error if it is
// not in the pool.
func (m *MockTxSource) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*btcutil.Tx), args.Error(1)
}

// HaveTransaction returns whether or not the passed transaction exists in
// the pool.
func (m *MockTxSource) HaveTransaction(txHash *chainhash.Hash) bool {
	args := m.Called(txHash)
	return args.Bool(0)
}

// TxHashes returns the hashes of all transactions in the pool.
func (m *MockTxSource) TxHashes() []*chainhash.Hash {
	args := m.Called()
	return args.Get(0).([]*chainhash.Hash)
}

// MockBroadcaster is a mock implementation of the Broadcaster interface.
type MockBroadcaster struct {
	mock.Mock
}

// Ensure the MockBroadcaster implements the Broadcaster interface.
var _ Broadcaster = (*MockBroadcaster)(nil)

// AnnounceStem sends a dandelion inventory announcement for the given
// transaction to a single successor peer.
func (m *MockBroadcaster) AnnounceStem(txHash *chainhash.Hash, succ PeerID) bool {
	args := m.Called(txHash, succ)
	return args.Bool(0)
}

// Flood relays the transaction to all connected peers except the listed
// ones.
func (m *MockBroadcaster) Flood(tx *btcutil.Tx, exclude []PeerID) {
	m.Called(tx, exclude)
}

// MockPeerSet is a mock implementation of the PeerSet interface.
type MockPeerSet struct {
	mock.Mock
}

// Ensure the MockPeerSet implements the PeerSet interface.
var _ PeerSet = (*MockPeerSet)(nil)

// StemCandidates returns the IDs of currently connected outbound peers that
// negotiated stem relay support.
func (m *MockPeerSet) StemCandidates() []PeerID {
	args := m.Called()
	return args.Get(0).([]PeerID)
}
