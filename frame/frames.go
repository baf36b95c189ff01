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

// Package frame exposes the sequenced queue to application code, either
// as discrete marker-delimited byte buffers or as a continuous
// io.Reader stream.
package frame

import (
	"github.com/onitake/rtpsequencer/reorder"
)

// Frames is the discrete consumer surface over a sequenced queue.
type Frames struct {
	seq *reorder.SequencedQueue
}

// NewFrames wraps seq for discrete consumption.
func NewFrames(seq *reorder.SequencedQueue) *Frames {
	return &Frames{seq: seq}
}

// NextPayload removes and returns the earliest sequenced packet's
// payload as a newly allocated, caller-owned byte buffer, or nil if the
// sequenced queue is currently empty.
func (f *Frames) NextPayload() []byte {
	p, err := f.seq.Pop()
	if err != nil {
		return nil
	}
	return clonePayload(p.Payload())
}

// NextFrame returns nil unless a complete marker-delimited frame is
// available. Otherwise it removes the contiguous run of packets from
// the front of the queue up to and including the next marker packet
// and returns their payloads concatenated into a single owned buffer.
func (f *Frames) NextFrame() []byte {
	packets, ok := f.seq.PopFrame()
	if !ok {
		return nil
	}
	size := 0
	for _, p := range packets {
		size += p.PayloadLength()
	}
	out := make([]byte, 0, size)
	for _, p := range packets {
		out = append(out, p.Payload()...)
	}
	return out
}

func clonePayload(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}
