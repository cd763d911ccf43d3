// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"math/rand"
	"time"
)

const (
	// DefaultStemProbability is the default probability that a newly
	// tracked transaction enters the stem phase instead of fluffing
	// immediately.
	DefaultStemProbability = 0.9

	// DefaultEmbargoMean is the default mean of the exponential
	// distribution embargo timeouts are drawn from.  It is tuned so that
	// under honest-majority assumptions natural fluff propagation from
	// elsewhere usually precedes expiry.
	DefaultEmbargoMean = 30 * time.Second

	// DefaultEpochDuration is the default wall-clock interval for which
	// a chosen stem successor remains stable.
	DefaultEpochDuration = 10 * time.Minute

	// minEmbargoTimeout is the floor applied to drawn embargo timeouts
	// so a degenerate draw cannot fire before the stem announcement has
	// been queued.
	minEmbargoTimeout = time.Millisecond
)

// Config is the configuration for a relay Manager.
type Config struct {
	// StemProbability is the Bernoulli success probability with which a
	// newly tracked transaction is classified into the stem phase.  Zero
	// reproduces plain flood relay.
	StemProbability float64

	// EmbargoMean is the mean of the exponential distribution embargo
	// timeouts are drawn from.
	EmbargoMean time.Duration

	// EpochDuration is the wall-clock interval for which the chosen stem
	// successor remains stable.
	EpochDuration time.Duration

	// Peers supplies the set of successor-eligible peers.
	Peers PeerSet

	// TxSource supplies transaction bodies for fetch answers and flood
	// broadcasts.  It is typically the mempool.
	TxSource TxSource

	// Broadcaster performs the actual message transmission for stem
	// announcements and flood relay.
	Broadcaster Broadcaster

	// RandSource optionally seeds the manager's pseudo-random source.
	// The randomness drives anonymity-set statistics only, so it does
	// not need to be cryptographic.  If nil, the source is seeded from
	// the current time.
	RandSource rand.Source
}

// normalize fills in default values for unset fields and returns the
// resulting configuration.
func (cfg *Config) normalize() Config {
	ret := *cfg
	if ret.StemProbability < 0 || ret.StemProbability > 1 {
		ret.StemProbability = DefaultStemProbability
	}
	if ret.EmbargoMean <= 0 {
		ret.EmbargoMean = DefaultEmbargoMean
	}
	if ret.EpochDuration <= 0 {
		ret.EpochDuration = DefaultEpochDuration
	}
	if ret.RandSource == nil {
		ret.RandSource = rand.NewSource(time.Now().UnixNano())
	}
	return ret
}
