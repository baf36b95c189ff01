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

// Package reorder implements the packet-sequencing engine: a reception
// queue fed by the datagram source, a worker that reorders packets by
// their 16-bit sequence number, and the sequenced queue it feeds in
// turn.
package reorder

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/onitake/rtpsequencer/event"
	"github.com/onitake/rtpsequencer/rtp"
	"github.com/onitake/rtpsequencer/util"
)

var (
	// ErrAlreadyRunning is returned by Start if the sequencer is already running.
	ErrAlreadyRunning = errors.New("reorder: sequencer is already running")
	// ErrNotRunning is returned by Stop if the sequencer isn't running.
	ErrNotRunning = errors.New("reorder: sequencer is not running")
)

// sequencedQueueHeadroom sizes the sequenced queue well above
// maxBuffered, since packets sit here until the frame consumer API
// drains them, on a schedule unrelated to the receive-side bound.
const sequencedQueueHeadroom = 8

// Sequencer implements the reorder worker described in the sequencing
// engine: it owns the receive-side queue (fed by Submit) and the
// sequenced queue (drained by the frame consumer API), and runs the
// bootstrap-then-steady-state reorder loop on its own goroutine.
type Sequencer struct {
	recv *receiveQueue
	Seq  *SequencedQueue

	bus    *event.Bus
	Logger zerolog.Logger

	// DepthObserver, if set, is called with the receive queue's current
	// length on every arrival and every resolution, so a caller (the
	// owning Listener) can mirror it into a metrics gauge without the
	// sequencer knowing anything about Prometheus.
	DepthObserver func(depth int)

	maxBuffered       int
	verifyPayloadType bool

	running util.AtomicBool

	expectedSeq          uint16
	referencePayloadType rtp.PayloadType

	wg sync.WaitGroup
}

// NewSequencer creates an idle sequencer. maxBuffered bounds the receive
// queue (see receiveQueue); verifyPayloadType enables the
// reference-payload-type check on every emitted packet. Events are
// reported through bus, which must already exist (its lifecycle is
// managed by the caller, typically the owning Listener).
func NewSequencer(maxBuffered int, verifyPayloadType bool, bus *event.Bus) *Sequencer {
	return &Sequencer{
		recv:              newReceiveQueue(maxBuffered),
		Seq:               NewSequencedQueue(maxBuffered * sequencedQueueHeadroom),
		bus:               bus,
		maxBuffered:       maxBuffered,
		verifyPayloadType: verifyPayloadType,
		Logger:            log.Logger,
	}
}

// Submit parses a received datagram and, on success, places the
// resulting packet into the receive queue for the sequencing worker to
// pick up. Parse failures are reported as an invalid_data event and
// never reach the receive queue. Safe to call concurrently with Start
// and with the sequencing worker.
func (s *Sequencer) Submit(d *rtp.Datagram) {
	p, err := rtp.Parse(d)
	if err != nil {
		s.bus.Emit(event.InvalidData, d)
		return
	}
	s.recv.push(p)
	if s.DepthObserver != nil {
		s.DepthObserver(s.recv.safeLen())
	}
}

// Start launches the sequencing worker goroutine. Returns
// ErrAlreadyRunning if already started; callers must Stop before
// starting again.
func (s *Sequencer) Start() error {
	if !util.CompareAndSwapBool(&s.running, false, true) {
		return ErrAlreadyRunning
	}
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop halts the sequencing worker and waits for it to exit. Returns
// ErrNotRunning if the sequencer isn't currently running.
func (s *Sequencer) Stop() error {
	if !util.CompareAndSwapBool(&s.running, true, false) {
		return ErrNotRunning
	}
	s.recv.wake()
	s.wg.Wait()
	return nil
}

func (s *Sequencer) run() {
	defer s.wg.Done()
	if !s.bootstrap() {
		return
	}
	for util.LoadBool(&s.running) {
		if !s.step() {
			return
		}
	}
}

// bootstrap waits for the first packet to arrive and takes its
// sequence number and payload type as the starting expected_seq and
// reference_payload_type, without removing it from the receive queue —
// the steady-state loop picks it up on its first iteration.
func (s *Sequencer) bootstrap() bool {
	s.recv.mu.Lock()
	defer s.recv.mu.Unlock()
	for s.recv.len() == 0 {
		if !util.LoadBool(&s.running) {
			return false
		}
		s.recv.wait()
	}
	first := s.recv.packets[0]
	s.expectedSeq = first.SequenceNumber
	s.referencePayloadType = first.PayloadType
	return true
}

// step runs one steady-state iteration: it resolves exactly one
// expected_seq, either by finding and emitting a matching packet or by
// declaring it lost under buffer pressure. Returns false if shutdown
// was observed before a resolution was reached.
func (s *Sequencer) step() bool {
	p, lost := s.resolve()
	if p == nil && !lost {
		return false
	}
	if lost {
		s.loss()
	} else {
		s.emit(p)
	}
	return true
}

// resolve searches the receive queue for expectedSeq, blocking and
// retrying under the receive-side lock until it is found or buffer
// pressure forces it to be declared lost.
func (s *Sequencer) resolve() (p *rtp.Packet, lost bool) {
	s.recv.mu.Lock()
	defer s.recv.mu.Unlock()
	for {
		if !util.LoadBool(&s.running) {
			return nil, false
		}
		if found, ok := s.recv.take(s.expectedSeq); ok {
			if s.DepthObserver != nil {
				// Already holding s.recv.mu here, so read the length
				// directly rather than through safeLen, which would
				// deadlock trying to re-acquire it.
				s.DepthObserver(s.recv.len())
			}
			return found, false
		}
		if s.recv.len() < s.maxBuffered {
			s.recv.wait()
			continue
		}
		return nil, true
	}
}

// loss declares the current expected_seq lost and advances past it.
func (s *Sequencer) loss() {
	lost := s.expectedSeq
	s.expectedSeq++
	s.bus.Emit(event.PacketLoss, lost)
}

// emit advances past the resolved packet's slot and, subject to payload
// type verification, moves it into the sequenced queue and fires the
// packet/marker events in the order the engine promises: sequenced
// events first (queue state already updated), then the unordered
// packet/marker events, with no event handler ever invoked while the
// sequenced queue's lock is held.
func (s *Sequencer) emit(p *rtp.Packet) {
	s.expectedSeq++

	if s.verifyPayloadType && p.PayloadType != s.referencePayloadType {
		s.bus.Emit(event.InvalidPacket, p)
		return
	}

	if err := s.Seq.Push(p); err != nil {
		s.Logger.Error().Err(err).Uint16("sequence_number", p.SequenceNumber).Msg("failed to push sequenced packet")
		return
	}

	s.bus.Emit(event.SequencedPacketReceived, p)
	if p.Marker {
		s.bus.Emit(event.SequencedMarkerReceived, p)
	}
	s.bus.Emit(event.PacketReceived, p)
	if p.Marker {
		s.bus.Emit(event.MarkerReceived, p)
	}
}
