// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/connmgr"
	"github.com/btcsuite/btcd/peer"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/go-socks/socks"
	"github.com/decred/dcrd/lru"

	"github.com/stemnet/stemd/dandelion"
	"github.com/stemnet/stemd/mempool"
)

const (
	// defaultServices describes the default services that are supported by
	// the server.  The stem relay bit is cleared when stem relay is
	// disabled by configuration.
	defaultServices = wire.SFNodeNetwork | dandelion.SFNodeDandelion

	// connectionRetryInterval is the base amount of time to wait in
	// between retries when connecting to persistent peers.  It is adjusted
	// by the number of retries such that there is a retry backoff.
	connectionRetryInterval = time.Second * 5

	// maxRequestedTxns is the maximum number of recently requested
	// transaction hashes to track for duplicate request filtering.
	maxRequestedTxns = 1000
)

// broadcastMsg provides the ability to house a message to be broadcast to
// all connected peers except the excluded ones.
type broadcastMsg struct {
	message      wire.Message
	excludePeers []*serverPeer
}

// relayMsg packages an inventory vector along with the set of peers to
// exclude from the relay.
type relayMsg struct {
	invVect *wire.InvVect
	exclude []dandelion.PeerID
}

// serverPeer extends the peer to maintain state shared by the server.
type serverPeer struct {
	*peer.Peer

	server     *server
	connReq    *connmgr.ConnReq
	persistent bool
	quit       chan struct{}

	mtx sync.Mutex

	// pendingStem tracks transaction hashes this peer announced with the
	// dandelion inventory type and that we subsequently requested.  The
	// entry distinguishes the resulting tx message from a flood delivery.
	pendingStem map[chainhash.Hash]struct{}
}

// newServerPeer returns a new serverPeer instance.
func newServerPeer(s *server, isPersistent bool) *serverPeer {
	return &serverPeer{
		server:      s,
		persistent:  isPersistent,
		quit:        make(chan struct{}),
		pendingStem: make(map[chainhash.Hash]struct{}),
	}
}

// relayID returns the identity under which the relay manager knows this
// peer.
func (sp *serverPeer) relayID() dandelion.PeerID {
	return dandelion.PeerID(sp.ID())
}

// markPendingStem records that the given transaction was requested from this
// peer in response to a dandelion announcement.
func (sp *serverPeer) markPendingStem(hash *chainhash.Hash) {
	sp.mtx.Lock()
	sp.pendingStem[*hash] = struct{}{}
	sp.mtx.Unlock()
}

// consumePendingStem reports whether the given transaction was expected as a
// stem delivery from this peer and clears the expectation.
func (sp *serverPeer) consumePendingStem(hash *chainhash.Hash) bool {
	sp.mtx.Lock()
	_, ok := sp.pendingStem[*hash]
	if ok {
		delete(sp.pendingStem, *hash)
	}
	sp.mtx.Unlock()
	return ok
}

// stemCapable returns whether the remote peer negotiated the stem relay
// service bit.
func (sp *serverPeer) stemCapable() bool {
	return sp.Services()&dandelion.SFNodeDandelion != 0
}

// OnVersion is invoked when a peer receives a version message and is used to
// negotiate the protocol version details as well as kick start the
// communications.
func (sp *serverPeer) OnVersion(_ *peer.Peer, msg *wire.MsgVersion) *wire.MsgReject {
	// Add the peer to the server once the handshake completed so relay
	// queries see it.
	sp.server.AddPeer(sp)
	return nil
}

// OnMemPool is invoked when a peer receives a mempool message.  It creates
// and sends an inventory message with the contents of the memory pool up to
// the maximum inventory allowed per message.  Identities in the stem phase
// are withheld from the enumeration.
func (sp *serverPeer) OnMemPool(_ *peer.Peer, msg *wire.MsgMemPool) {
	// Generate inventory message with the available transactions.  The
	// relay manager filters out everything currently embargoed.
	invMsg := wire.NewMsgInvSizeHint(uint(sp.server.txMemPool.Count()))
	hashes := sp.server.relay.MempoolHashes(sp.relayID())
	for _, hash := range hashes {
		iv := wire.NewInvVect(wire.InvTypeTx, hash)
		invMsg.AddInvVect(iv)
		if len(invMsg.InvList)+1 > wire.MaxInvPerMsg {
			break
		}
	}

	// Send the inventory message if there is anything to send.
	if len(invMsg.InvList) > 0 {
		sp.QueueMessage(invMsg, nil)
	}
}

// OnTx is invoked when a peer receives a tx message.  It validates the
// transaction into the memory pool and hands the accepted transaction to the
// relay manager under the delivery channel it arrived on.
func (sp *serverPeer) OnTx(_ *peer.Peer, msg *wire.MsgTx) {
	tx := btcutil.NewTx(msg)
	wasStem := sp.consumePendingStem(tx.Hash())

	_, err := sp.server.txMemPool.AcceptTransaction(tx, mempool.TagPeer)
	if err != nil {
		if !mempool.IsErrorCode(err, mempool.ErrDuplicate) {
			peerLog.Debugf("Rejected transaction %v from %s: %v",
				tx.Hash(), sp, err)
			return
		}
		// A duplicate stem delivery is exactly how a stem loop closes
		// on itself, so it still reaches the relay manager.
		if !wasStem {
			return
		}
	}

	if wasStem {
		sp.server.relay.OnStemTransaction(tx, sp.relayID())
	} else {
		sp.server.relay.OnTransaction(tx, sp.relayID())
	}
}

// OnInv is invoked when a peer receives an inv message.  Plain transaction
// announcements count as fluff observations; dandelion announcements are
// forwarded to the relay manager which decides whether the body should be
// fetched.
func (sp *serverPeer) OnInv(_ *peer.Peer, msg *wire.MsgInv) {
	gdmsg := wire.NewMsgGetData()
	for _, iv := range msg.InvList {
		switch iv.Type {
		case wire.InvTypeTx:
			sp.server.relay.OnFluffObserved(&iv.Hash, sp.relayID())
			if sp.server.txMemPool.HaveTransaction(&iv.Hash) {
				continue
			}
			if sp.server.requestedTxns.Contains(iv.Hash) {
				continue
			}
			sp.server.requestedTxns.Add(iv.Hash)
			gdmsg.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &iv.Hash))

		case dandelion.InvTypeDandelionTx:
			if !sp.server.relay.OnStemAnnouncement(&iv.Hash, sp.relayID()) {
				continue
			}
			sp.markPendingStem(&iv.Hash)
			gdmsg.AddInvVect(dandelion.NewStemInv(&iv.Hash))

		default:
			peerLog.Tracef("Ignoring inv type %d from %s", iv.Type,
				sp)
		}
	}

	if len(gdmsg.InvList) > 0 {
		sp.QueueMessage(gdmsg, nil)
	}
}

// OnGetData is invoked when a peer receives a getdata message.  Requested
// transactions are served through the relay manager so that identities in
// the stem phase are only released to their announced successor, and every
// other requester learns nothing beyond "not found".
func (sp *serverPeer) OnGetData(_ *peer.Peer, msg *wire.MsgGetData) {
	notFound := wire.NewMsgNotFound()
	for _, iv := range msg.InvList {
		var stemInv bool
		switch iv.Type {
		case wire.InvTypeTx:
		case dandelion.InvTypeDandelionTx:
			stemInv = true
		default:
			peerLog.Tracef("Ignoring getdata type %d from %s",
				iv.Type, sp)
			continue
		}

		tx, err := sp.server.relay.FetchTransaction(&iv.Hash,
			sp.relayID(), stemInv)
		if err != nil {
			notFound.AddInvVect(&wire.InvVect{
				Type: iv.Type,
				Hash: iv.Hash,
			})
			continue
		}
		sp.QueueMessage(tx.MsgTx(), nil)
	}

	if len(notFound.InvList) > 0 {
		sp.QueueMessage(notFound, nil)
	}
}

// server provides a server for handling communications to and from peers.
type server struct {
	started  int32
	shutdown int32

	chainParams *chaincfg.Params
	services    wire.ServiceFlag

	txMemPool *mempool.TxPool
	relay     *dandelion.Manager

	connManager *connmgr.ConnManager

	newPeers  chan *serverPeer
	donePeers chan *serverPeer
	relayInv  chan relayMsg
	broadcast chan broadcastMsg
	query     chan interface{}

	// requestedTxns tracks recently requested transaction hashes so the
	// same announcement from several peers triggers a single fetch.
	requestedTxns lru.Cache

	wg   sync.WaitGroup
	quit chan struct{}
}

// peerState maintains state of inbound, persistent, and outbound peers.  It
// is owned exclusively by the peerHandler goroutine.
type peerState struct {
	inboundPeers    map[int32]*serverPeer
	outboundPeers   map[int32]*serverPeer
	persistentPeers map[int32]*serverPeer
}

// Count returns the count of all known peers.
func (ps *peerState) Count() int {
	return len(ps.inboundPeers) + len(ps.outboundPeers) +
		len(ps.persistentPeers)
}

// forAllOutboundPeers is a helper function that runs closure on all outbound
// peers known to peerState.
func (ps *peerState) forAllOutboundPeers(closure func(sp *serverPeer)) {
	for _, e := range ps.outboundPeers {
		closure(e)
	}
	for _, e := range ps.persistentPeers {
		closure(e)
	}
}

// forAllPeers is a helper function that runs closure on all peers known to
// peerState.
func (ps *peerState) forAllPeers(closure func(sp *serverPeer)) {
	for _, e := range ps.inboundPeers {
		closure(e)
	}
	ps.forAllOutboundPeers(closure)
}

// AddPeer adds a new peer that has already been connected to the server.
func (s *server) AddPeer(sp *serverPeer) {
	select {
	case s.newPeers <- sp:
	case <-s.quit:
	}
}

// handleAddPeerMsg deals with adding new peers.  It is invoked from the
// peerHandler goroutine.
func (s *server) handleAddPeerMsg(state *peerState, sp *serverPeer) bool {
	if sp == nil || !sp.Connected() {
		return false
	}

	if atomic.LoadInt32(&s.shutdown) != 0 {
		srvrLog.Infof("New peer %s ignored - server is shutting down",
			sp)
		sp.Disconnect()
		return false
	}

	// Limit max number of total peers.
	if state.Count() >= cfg.MaxPeers {
		srvrLog.Infof("Max peers reached [%d] - disconnecting peer %s",
			cfg.MaxPeers, sp)
		sp.Disconnect()
		return false
	}

	srvrLog.Debugf("New peer %s", sp)
	if sp.Inbound() {
		state.inboundPeers[sp.ID()] = sp
	} else if sp.persistent {
		state.persistentPeers[sp.ID()] = sp
	} else {
		state.outboundPeers[sp.ID()] = sp
	}

	return true
}

// handleDonePeerMsg deals with peers that have signalled they are done.  It
// is invoked from the peerHandler goroutine.
func (s *server) handleDonePeerMsg(state *peerState, sp *serverPeer) {
	var list map[int32]*serverPeer
	if sp.Inbound() {
		list = state.inboundPeers
	} else if sp.persistent {
		list = state.persistentPeers
	} else {
		list = state.outboundPeers
	}

	// Regardless of whether the peer was found in our list, we'll inform
	// our connection manager about the disconnection.  This can happen if
	// we process a peer's `done` message before its `add`.
	if !sp.Inbound() {
		if sp.persistent {
			s.connManager.Disconnect(sp.connReq.ID())
		} else if sp.connReq != nil {
			s.connManager.Remove(sp.connReq.ID())
			go s.connManager.NewConnReq()
		}
	}

	if _, ok := list[sp.ID()]; ok {
		delete(list, sp.ID())
		srvrLog.Debugf("Removed peer %s", sp)
	}
}

// handleRelayInvMsg deals with relaying inventory to peers that are not
// already known to have it.  It is invoked from the peerHandler goroutine.
func (s *server) handleRelayInvMsg(state *peerState, msg relayMsg) {
	state.forAllPeers(func(sp *serverPeer) {
		if !sp.Connected() {
			return
		}
		for _, id := range msg.exclude {
			if sp.relayID() == id {
				return
			}
		}

		// Queue the inventory to be relayed with the next batch.  It
		// will be ignored by peers already known to have the
		// inventory.
		sp.QueueInventory(msg.invVect)
	})
}

// handleBroadcastMsg deals with broadcasting messages to peers.  It is
// invoked from the peerHandler goroutine.
func (s *server) handleBroadcastMsg(state *peerState, bmsg *broadcastMsg) {
	state.forAllPeers(func(sp *serverPeer) {
		if !sp.Connected() {
			return
		}

		for _, ep := range bmsg.excludePeers {
			if sp == ep {
				return
			}
		}

		sp.QueueMessage(bmsg.message, nil)
	})
}

// getStemCandidatesMsg requests the IDs of connected outbound peers that
// negotiated stem relay.
type getStemCandidatesMsg struct {
	reply chan []dandelion.PeerID
}

// announceStemMsg requests a single-recipient dandelion inventory message.
type announceStemMsg struct {
	invVect *wire.InvVect
	peerID  dandelion.PeerID
	reply   chan bool
}

// handleQuery is the central handler for all queries and commands from other
// goroutines related to peer state.
func (s *server) handleQuery(state *peerState, querymsg interface{}) {
	switch msg := querymsg.(type) {
	case getStemCandidatesMsg:
		// Successor candidates are restricted to outbound connections
		// so an adversary can not install itself as successor just by
		// connecting in.
		var ids []dandelion.PeerID
		state.forAllOutboundPeers(func(sp *serverPeer) {
			if sp.Connected() && sp.stemCapable() {
				ids = append(ids, sp.relayID())
			}
		})
		msg.reply <- ids

	case announceStemMsg:
		var target *serverPeer
		state.forAllOutboundPeers(func(sp *serverPeer) {
			if sp.relayID() == msg.peerID {
				target = sp
			}
		})
		if target == nil || !target.Connected() {
			msg.reply <- false
			return
		}

		invMsg := wire.NewMsgInv()
		invMsg.AddInvVect(msg.invVect)
		target.QueueMessage(invMsg, nil)
		msg.reply <- true
	}
}

// inboundPeerConnected is invoked by the connection manager when a new
// inbound connection is established.  It initializes a new peer instance
// with the connection and starts a goroutine to wait for disconnection.
func (s *server) inboundPeerConnected(conn net.Conn) {
	sp := newServerPeer(s, false)
	sp.Peer = peer.NewInboundPeer(newPeerConfig(sp))
	sp.AssociateConnection(conn)
	go s.peerDoneHandler(sp)
}

// outboundPeerConnected is invoked by the connection manager when a new
// outbound connection is established.  It initializes a new peer instance
// with the connection and starts a goroutine to wait for disconnection.
func (s *server) outboundPeerConnected(c *connmgr.ConnReq, conn net.Conn) {
	sp := newServerPeer(s, c.Permanent)
	p, err := peer.NewOutboundPeer(newPeerConfig(sp), c.Addr.String())
	if err != nil {
		srvrLog.Debugf("Cannot create outbound peer %s: %v", c.Addr,
			err)
		if c.Permanent {
			s.connManager.Disconnect(c.ID())
		} else {
			s.connManager.Remove(c.ID())
			go s.connManager.NewConnReq()
		}
		return
	}
	sp.Peer = p
	sp.connReq = c
	sp.AssociateConnection(conn)
	go s.peerDoneHandler(sp)
}

// peerDoneHandler handles peer disconnects by notifying the server that it's
// done along with other performing other desirable cleanup.
func (s *server) peerDoneHandler(sp *serverPeer) {
	sp.WaitForDisconnect()
	select {
	case s.donePeers <- sp:
	case <-s.quit:
	}
	close(sp.quit)
}

// peerHandler is used to handle peer operations such as adding and removing
// peers to and from the server, relaying inventory, and broadcasting
// messages to peers.  It must be run in a goroutine.
func (s *server) peerHandler() {
	// The relay manager queries peer state through the server, so it is
	// started here to make sure its callbacks find a live handler.
	s.relay.Start()

	srvrLog.Tracef("Starting peer handler")

	state := &peerState{
		inboundPeers:    make(map[int32]*serverPeer),
		outboundPeers:   make(map[int32]*serverPeer),
		persistentPeers: make(map[int32]*serverPeer),
	}

	s.connManager.Start()

out:
	for {
		select {
		case p := <-s.newPeers:
			s.handleAddPeerMsg(state, p)

		case p := <-s.donePeers:
			s.handleDonePeerMsg(state, p)

		case invMsg := <-s.relayInv:
			s.handleRelayInvMsg(state, invMsg)

		case bmsg := <-s.broadcast:
			s.handleBroadcastMsg(state, &bmsg)

		case qmsg := <-s.query:
			s.handleQuery(state, qmsg)

		case <-s.quit:
			// Disconnect all peers on server shutdown.
			state.forAllPeers(func(sp *serverPeer) {
				srvrLog.Tracef("Shutdown peer %s", sp)
				sp.Disconnect()
			})
			break out
		}
	}

	s.connManager.Stop()
	s.relay.Stop()

	// Drain channels before exiting so nothing is left waiting around to
	// send.
cleanup:
	for {
		select {
		case <-s.newPeers:
		case <-s.donePeers:
		case <-s.relayInv:
		case <-s.broadcast:
		case <-s.query:
		default:
			break cleanup
		}
	}
	s.wg.Done()
	srvrLog.Tracef("Peer handler done")
}

// StemCandidates returns the IDs of connected outbound peers that negotiated
// stem relay support.  It implements the relay manager's peer source.
func (s *server) StemCandidates() []dandelion.PeerID {
	reply := make(chan []dandelion.PeerID, 1)
	select {
	case s.query <- getStemCandidatesMsg{reply: reply}:
		return <-reply
	case <-s.quit:
		return nil
	}
}

// AnnounceStem sends a dandelion inventory announcement for the given
// transaction to the single successor peer.  It implements the relay
// manager's broadcaster.
func (s *server) AnnounceStem(txHash *chainhash.Hash, succ dandelion.PeerID) bool {
	msg := announceStemMsg{
		invVect: dandelion.NewStemInv(txHash),
		peerID:  succ,
		reply:   make(chan bool, 1),
	}
	select {
	case s.query <- msg:
		return <-msg.reply
	case <-s.quit:
		return false
	}
}

// Flood relays the given transaction to all connected peers except the
// listed ones.  It implements the relay manager's broadcaster.
func (s *server) Flood(tx *btcutil.Tx, exclude []dandelion.PeerID) {
	iv := wire.NewInvVect(wire.InvTypeTx, tx.Hash())
	select {
	case s.relayInv <- relayMsg{invVect: iv, exclude: exclude}:
	case <-s.quit:
	}
}

// BroadcastMessage sends msg to all peers currently connected to the server
// except those in the passed peers to exclude.
func (s *server) BroadcastMessage(msg wire.Message, exclusions ...*serverPeer) {
	bmsg := broadcastMsg{message: msg, excludePeers: exclusions}
	select {
	case s.broadcast <- bmsg:
	case <-s.quit:
	}
}

// localRebroadcastInv returns an inventory message carrying the local
// transactions that are safe to re-announce: still unconfirmed, and not held
// back in the stem phase.
func localRebroadcastInv(pool *mempool.TxPool, relay *dandelion.Manager) *wire.MsgInv {
	invMsg := wire.NewMsgInv()
	for _, desc := range pool.TxDescs() {
		if desc.Tag != mempool.TagLocal {
			continue
		}
		hash := desc.Tx.Hash()
		if phase, tracked := relay.Phase(hash); tracked &&
			phase == dandelion.PhaseStem {

			continue
		}
		invMsg.AddInvVect(wire.NewInvVect(wire.InvTypeTx, hash))
	}
	return invMsg
}

// rebroadcastHandler periodically re-announces local transactions that have
// not confirmed yet, in case our peers restarted or otherwise lost track of
// them.  Identities still in the stem phase are withheld until their own
// transition.  It must be run as a goroutine.
func (s *server) rebroadcastHandler() {
	defer s.wg.Done()

	// Wait 5 min before first tx rebroadcast.
	timer := time.NewTimer(5 * time.Minute)
out:
	for {
		select {
		case <-timer.C:
			invMsg := localRebroadcastInv(s.txMemPool, s.relay)
			if len(invMsg.InvList) > 0 {
				s.BroadcastMessage(invMsg)
			}

			// Process at a random time up to 30mins (in seconds)
			// in the future.
			timer.Reset(time.Second *
				time.Duration(randomUint16Number(1800)))

		case <-s.quit:
			break out
		}
	}
	timer.Stop()
}

// SubmitLocalTransaction accepts a locally sourced transaction into the
// memory pool and hands it to the relay manager for classification.  It is
// the entry point a wallet or RPC front end submits through.
func (s *server) SubmitLocalTransaction(tx *btcutil.Tx) error {
	_, err := s.txMemPool.AcceptTransaction(tx, mempool.TagLocal)
	if err != nil {
		return err
	}

	s.relay.OnLocalTransaction(tx)
	return nil
}

// RemoveTransaction evicts the given transaction from the memory pool and
// notifies the relay manager.  Confirmation and conflict handling call
// through here so relay records are released or marked consistently.
func (s *server) RemoveTransaction(txHash *chainhash.Hash) {
	s.txMemPool.RemoveTransaction(txHash)
	s.relay.TransactionRemoved(txHash)
}

// Start begins accepting connections from peers.
func (s *server) Start() {
	// Already started?
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	srvrLog.Trace("Starting server")

	s.wg.Add(1)
	go s.peerHandler()

	s.wg.Add(1)
	go s.rebroadcastHandler()

	// Permanent peers requested via configuration connect through the
	// connection manager so they are retried with backoff.
	permanentPeers := cfg.ConnectPeers
	if len(permanentPeers) == 0 {
		permanentPeers = cfg.AddPeers
	}
	for _, addr := range permanentPeers {
		netAddr, err := addrStringToNetAddr(addr)
		if err != nil {
			srvrLog.Errorf("Cannot resolve peer address %s: %v",
				addr, err)
			continue
		}

		go s.connManager.Connect(&connmgr.ConnReq{
			Addr:      netAddr,
			Permanent: true,
		})
	}
}

// Stop gracefully shuts down the server by stopping and disconnecting all
// peers and the main listener.
func (s *server) Stop() error {
	// Make sure this only happens once.
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		srvrLog.Infof("Server is already in the process of shutting down")
		return nil
	}

	srvrLog.Warnf("Server shutting down")

	// Signal the remaining goroutines to quit.
	close(s.quit)
	return nil
}

// WaitForShutdown blocks until the main listener and peer handlers are
// stopped.
func (s *server) WaitForShutdown() {
	s.wg.Wait()
}

// newPeerConfig returns the configuration for the given serverPeer.
func newPeerConfig(sp *serverPeer) *peer.Config {
	return &peer.Config{
		Listeners: peer.MessageListeners{
			OnVersion: sp.OnVersion,
			OnMemPool: sp.OnMemPool,
			OnTx:      sp.OnTx,
			OnInv:     sp.OnInv,
			OnGetData: sp.OnGetData,
		},
		UserAgentName:    userAgentName,
		UserAgentVersion: userAgentVersion,
		ChainParams:      sp.server.chainParams,
		Services:         sp.server.services,
		ProtocolVersion:  peer.MaxProtocolVersion,
		TrickleInterval:  peer.DefaultTrickleInterval,
		AllowSelfConns:   cfg.SimNet,
	}
}

// randomUint16Number returns a random uint16 in a specified input range.
// Note that the range is in zeroth ordering; if you pass it 1800, you will
// get values from 0 to 1800.
func randomUint16Number(max uint16) uint16 {
	// In order to avoid modulo bias and ensure every possible outcome in
	// [0, max) has equal probability, the random number must be sampled
	// from a random source that has a range limited to a multiple of the
	// modulus.
	var randomNumber uint16
	var limitRange = (math.MaxUint16 / max) * max
	for {
		binary.Read(rand.Reader, binary.LittleEndian, &randomNumber)
		if randomNumber < limitRange {
			return (randomNumber % max)
		}
	}
}

// stemdDial connects to the address on the named network honoring the
// configured proxy if there is one.
func stemdDial(addr net.Addr) (net.Conn, error) {
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		return proxy.Dial(addr.Network(), addr.String())
	}
	return net.DialTimeout(addr.Network(), addr.String(),
		connectionRetryInterval)
}

// addrStringToNetAddr takes an address in the form of 'host:port' and
// returns a net.Addr which maps to the original address with any host names
// resolved to IP addresses.
func addrStringToNetAddr(addr string) (net.Addr, error) {
	host, strPort, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	port, err := strconv.Atoi(strPort)
	if err != nil {
		return nil, err
	}

	// Skip if host is already an IP address.
	if ip := net.ParseIP(host); ip != nil {
		return &net.TCPAddr{
			IP:   ip,
			Port: port,
		}, nil
	}

	// Attempt to look up an IP address associated with the parsed host.
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses found for %s", host)
	}

	return &net.TCPAddr{
		IP:   ips[0],
		Port: port,
	}, nil
}

// initListeners initializes the configured net listeners.
func initListeners(listenAddrs []string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(listenAddrs))
	for _, addr := range listenAddrs {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			srvrLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	if len(listenAddrs) > 0 && len(listeners) == 0 {
		return nil, errors.New("no valid listen address")
	}

	return listeners, nil
}

// newServer returns a new stemd server configured to listen for connections
// on the configured addresses.  Use start to begin accepting connections
// from peers.
func newServer(chainParams *chaincfg.Params) (*server, error) {
	services := defaultServices
	if cfg.NoStem {
		services &^= dandelion.SFNodeDandelion
	}

	s := server{
		chainParams:   chainParams,
		services:      services,
		txMemPool:     mempool.New(),
		newPeers:      make(chan *serverPeer, cfg.MaxPeers),
		donePeers:     make(chan *serverPeer, cfg.MaxPeers),
		relayInv:      make(chan relayMsg, cfg.MaxPeers),
		broadcast:     make(chan broadcastMsg, cfg.MaxPeers),
		query:         make(chan interface{}),
		requestedTxns: lru.NewCache(maxRequestedTxns),
		quit:          make(chan struct{}),
	}

	stemProbability := cfg.StemProbability
	if cfg.NoStem {
		stemProbability = 0
	}
	s.relay = dandelion.New(&dandelion.Config{
		StemProbability: stemProbability,
		EmbargoMean:     cfg.EmbargoMean,
		EpochDuration:   cfg.EpochDuration,
		Peers:           &s,
		TxSource:        s.txMemPool,
		Broadcaster:     &s,
	})

	var listeners []net.Listener
	if !cfg.DisableListen {
		var err error
		listeners, err = initListeners(cfg.Listeners)
		if err != nil {
			return nil, err
		}
	}

	// Only setup a function to return new addresses to connect to when
	// not running in connect-only mode.  Address discovery is out of
	// scope, so non-persistent outbound connections are not made and the
	// target is left at zero.
	cmgr, err := connmgr.New(&connmgr.Config{
		Listeners:      listeners,
		OnAccept:       s.inboundPeerConnected,
		RetryDuration:  connectionRetryInterval,
		TargetOutbound: 0,
		Dial:           stemdDial,
		OnConnection:   s.outboundPeerConnected,
	})
	if err != nil {
		return nil, err
	}
	s.connManager = cmgr

	return &s, nil
}
