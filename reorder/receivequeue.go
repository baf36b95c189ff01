/* Copyright (c) 2019 Gregor Riepl
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package reorder

import (
	"sync"

	"github.com/onitake/rtpsequencer/rtp"
)

// receiveQueue is the unordered, bounded holding area for packets that
// have arrived but have not yet been placed into sequence order. The
// sequencing worker scans it linearly for the next expected sequence
// number; an unordered slice plus linear scan is preferred here over a
// sorted container keyed by sequence number, since maxBuffered is small
// enough (25 by default) that the scan stays cheap.
type receiveQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	packets     []*rtp.Packet
	maxBuffered int
}

func newReceiveQueue(maxBuffered int) *receiveQueue {
	q := &receiveQueue{
		packets:     make([]*rtp.Packet, 0, maxBuffered),
		maxBuffered: maxBuffered,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a freshly parsed packet and wakes any waiting worker.
// Safe to call from the receive callback concurrently with the
// sequencing worker holding the lock only briefly.
func (q *receiveQueue) push(p *rtp.Packet) {
	q.mu.Lock()
	q.packets = append(q.packets, p)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// wake wakes every goroutine blocked in wait, used on shutdown so the
// worker can observe the stopped state instead of waiting forever.
func (q *receiveQueue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// take removes and returns the first packet whose sequence number
// matches seq. Caller must hold q.mu.
func (q *receiveQueue) take(seq uint16) (*rtp.Packet, bool) {
	for i, p := range q.packets {
		if p.SequenceNumber == seq {
			q.packets = append(q.packets[:i], q.packets[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

// len returns the number of packets currently held. Caller must hold q.mu.
func (q *receiveQueue) len() int {
	return len(q.packets)
}

// safeLen returns the number of packets currently held, locking q.mu
// itself. Used by callers outside the worker's own critical sections,
// e.g. to sample queue depth for metrics after push.
func (q *receiveQueue) safeLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// wait blocks on the condvar until push or wake is called. Caller must
// hold q.mu; it is released while blocked and re-acquired on return.
func (q *receiveQueue) wait() {
	q.cond.Wait()
}
