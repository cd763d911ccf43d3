// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package dandelion implements Dandelion++-style transaction relay privacy.

Every transaction accepted for relay is tracked by a relay record that is
in one of two phases.  A transaction in the stem phase is forwarded to a
single randomly chosen successor peer rather than being broadcast, which
obscures which node originated it.  A transaction in the fluff phase is
flooded to all connected peers exactly like ordinary inventory relay.

The stem phase is bounded by a per-transaction embargo timer drawn from an
exponential distribution.  When the timer fires, or when the node observes
that the transaction has already been flooded elsewhere, or when a stem
announcement loops back around to a node that already forwarded it, the
record transitions to fluff and the transaction is broadcast.  The
transition is monotonic: once a record has fluffed it can never return to
the stem phase.

While a record is in the stem phase, direct fetch requests for the
transaction are answered as not found for every requesting peer, and the
transaction is excluded from mempool enumeration responses.  This makes a
node holding a private transaction indistinguishable from one that has
never seen it, defeating probe-based origin tracing.
*/
package dandelion
