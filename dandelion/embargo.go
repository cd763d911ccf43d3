// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"container/heap"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// embargoEntry is an armed embargo timer for a single transaction.  Entries
// are owned by the scheduler heap; index is maintained by the heap interface
// and is -1 once the entry has been removed or has fired.
type embargoEntry struct {
	hash     chainhash.Hash
	deadline time.Time
	index    int
}

// embargoQueue implements heap.Interface ordered by deadline.
type embargoQueue []*embargoEntry

func (q embargoQueue) Len() int { return len(q) }

func (q embargoQueue) Less(i, j int) bool {
	return q[i].deadline.Before(q[j].deadline)
}

func (q embargoQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *embargoQueue) Push(x interface{}) {
	entry := x.(*embargoEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *embargoQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}

// embargoScheduler owns the outstanding embargo timers in a deadline-ordered
// min-heap serviced by a single goroutine.  Arming and canceling are both
// O(log n).  Expiry invokes the configured callback outside the scheduler
// lock; a timer that fires after its record already transitioned is handled
// by the callback's idempotence rather than by the scheduler.
type embargoScheduler struct {
	mtx    sync.Mutex
	queue  embargoQueue
	expire func(*chainhash.Hash)

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

func newEmbargoScheduler(expire func(*chainhash.Hash)) *embargoScheduler {
	return &embargoScheduler{
		expire: expire,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

func (s *embargoScheduler) start() {
	s.wg.Add(1)
	go s.run()
}

func (s *embargoScheduler) stop() {
	close(s.quit)
	s.wg.Wait()
}

// arm schedules an expiry callback for the given transaction at deadline and
// returns a handle usable with cancel.
func (s *embargoScheduler) arm(hash *chainhash.Hash, deadline time.Time) *embargoEntry {
	entry := &embargoEntry{hash: *hash, deadline: deadline}

	s.mtx.Lock()
	heap.Push(&s.queue, entry)
	soonest := s.queue[0] == entry
	s.mtx.Unlock()

	// Only wake the service goroutine when the new entry moved the front
	// of the queue, otherwise the existing wait already covers it.
	if soonest {
		s.poke()
	}
	return entry
}

// cancel removes an armed entry.  Canceling an entry that already fired or
// was already canceled is a no-op.
func (s *embargoScheduler) cancel(entry *embargoEntry) {
	s.mtx.Lock()
	if entry.index >= 0 {
		heap.Remove(&s.queue, entry.index)
	}
	s.mtx.Unlock()
}

func (s *embargoScheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run services the deadline heap.  It must be run as a goroutine.
func (s *embargoScheduler) run() {
	defer s.wg.Done()

	for {
		// Pop everything that is due and remember how long to sleep
		// until the next deadline.
		s.mtx.Lock()
		now := time.Now()
		var due []*embargoEntry
		for len(s.queue) > 0 && !s.queue[0].deadline.After(now) {
			due = append(due, heap.Pop(&s.queue).(*embargoEntry))
		}
		wait := time.Duration(-1)
		if len(s.queue) > 0 {
			wait = s.queue[0].deadline.Sub(now)
		}
		s.mtx.Unlock()

		for _, entry := range due {
			s.expire(&entry.hash)
		}

		var timeout <-chan time.Time
		if wait >= 0 {
			timer := time.NewTimer(wait)
			timeout = timer.C
			select {
			case <-timeout:
			case <-s.wake:
				timer.Stop()
			case <-s.quit:
				timer.Stop()
				return
			}
			continue
		}

		// Nothing armed; sleep until poked.
		select {
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}
