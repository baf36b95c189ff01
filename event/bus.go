/* Copyright (c) 2018 Gregor Riepl
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

// Package event provides the registered-handler fan-out used to surface
// engine activity (received/sequenced packets, loss, invalid data) to
// application code without invoking callbacks under the sequencing lock.
package event

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind identifies one of the events the sequencing engine can emit.
type Kind int

const (
	InvalidData Kind = iota
	InvalidPacket
	PacketReceived
	MarkerReceived
	SequencedPacketReceived
	SequencedMarkerReceived
	PacketLoss
)

func (k Kind) String() string {
	switch k {
	case InvalidData:
		return "invalid_data"
	case InvalidPacket:
		return "invalid_packet"
	case PacketReceived:
		return "packet_received"
	case MarkerReceived:
		return "marker_received"
	case SequencedPacketReceived:
		return "sequenced_packet_received"
	case SequencedMarkerReceived:
		return "sequenced_marker_received"
	case PacketLoss:
		return "packet_loss"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Register once the bus has been
// started; handler sets are fixed for the lifetime of a run.
var ErrAlreadyRunning = errors.New("event: cannot change handlers while bus is running")

// Handler receives a single event of the Kind it was registered for.
// payload is the event-specific argument: *rtp.Datagram for InvalidData,
// *rtp.Packet for the packet/marker kinds, uint16 for PacketLoss.
type Handler func(kind Kind, payload interface{})

// Bus is a minimal registered-listener fan-out, one handler set per Kind.
// Handlers are invoked synchronously, in registration order, on whichever
// goroutine calls Emit — callers must not register handlers while
// running, and must never call Emit while holding the sequencing lock.
type Bus struct {
	handlers map[Kind][]Handler
	running  bool
	Logger   zerolog.Logger
}

// NewBus creates an idle event bus, ready for handler registration.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		Logger:   log.Logger,
	}
}

// Register adds handler to the set invoked for kind. Returns
// ErrAlreadyRunning if the bus has already been started.
func (b *Bus) Register(kind Kind, handler Handler) error {
	if b.running {
		b.Logger.Error().Str("event", "register").Str("kind", kind.String()).Msg("cannot register handler while bus is running")
		return ErrAlreadyRunning
	}
	b.handlers[kind] = append(b.handlers[kind], handler)
	return nil
}

// Start marks the bus as running, freezing its handler sets.
func (b *Bus) Start() {
	b.running = true
}

// Stop marks the bus as idle again, allowing Register to be called once more.
func (b *Bus) Stop() {
	b.running = false
}

// Emit invokes every handler registered for kind, in registration order,
// on the calling goroutine. A panicking handler is not recovered: a
// faulty handler is a programming error in the caller, not something the
// bus should paper over.
func (b *Bus) Emit(kind Kind, payload interface{}) {
	for _, handler := range b.handlers[kind] {
		handler(kind, payload)
	}
}
