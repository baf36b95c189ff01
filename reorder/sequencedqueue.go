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
	"github.com/onitake/rtpsequencer/util"
)

// SequencedQueue is the ordered FIFO of packets the Sequencer has placed
// in sequence order, plus a running tally of unconsumed marker packets.
// It wraps util.SequenceQueue, a ring buffer originally built to take
// inserts at arbitrary positions; this queue only ever inserts at its
// own tail, which the ring buffer already treats as a plain append.
type SequencedQueue struct {
	mu          sync.Mutex
	queue       *util.SequenceQueue
	markerCount int
}

// NewSequencedQueue creates a queue with room for up to bound packets
// in flight between the sequencer and the frame consumer API.
func NewSequencedQueue(bound int) *SequencedQueue {
	return &SequencedQueue{
		queue: util.NewSequenceQueue(bound),
	}
}

// Push appends packet to the back of the queue and, if it carries the
// marker bit, increments the marker count.
func (s *SequencedQueue) Push(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.queue.Insert(s.queue.Length(), p); err != nil {
		return err
	}
	if p.Marker {
		s.markerCount++
	}
	return nil
}

// Pop removes and returns the packet at the front of the queue,
// decrementing the marker count if it carries the marker bit.
func (s *SequencedQueue) Pop() (*rtp.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pop()
	if err != nil {
		return nil, err
	}
	if p.Marker {
		s.markerCount--
	}
	return p, nil
}

func (s *SequencedQueue) pop() (*rtp.Packet, error) {
	v, err := s.queue.Pop()
	if err != nil {
		return nil, err
	}
	return v.(*rtp.Packet), nil
}

// Peek returns the packet at the front of the queue without removing it.
func (s *SequencedQueue) Peek() (*rtp.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.queue.Peek()
	if err != nil {
		return nil, err
	}
	return v.(*rtp.Packet), nil
}

// Length returns the number of packets currently queued.
func (s *SequencedQueue) Length() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Length()
}

// MarkerCount returns the number of marker packets still queued.
func (s *SequencedQueue) MarkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markerCount
}

// PopFrame removes packets from the front of the queue up to and
// including the first marker packet, decrements the marker count, and
// returns them in order. ok is false if no marker is currently queued,
// in which case the queue is left untouched.
func (s *SequencedQueue) PopFrame() (frame []*rtp.Packet, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markerCount == 0 {
		return nil, false
	}
	for {
		p, err := s.pop()
		if err != nil {
			// markerCount > 0 guarantees a marker is queued; reaching
			// here would mean marker bookkeeping and queue contents
			// disagreed, which Push/PopFrame never allow.
			return frame, len(frame) > 0
		}
		frame = append(frame, p)
		if p.Marker {
			s.markerCount--
			return frame, true
		}
	}
}
