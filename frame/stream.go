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

package frame

import (
	"errors"
	"io"
	"sync"
)

// ErrNotSupported is returned by the stream operations a packet stream
// cannot offer: Seek and Write. Stream has no length or position
// accessor; Len reports only the unread bytes currently buffered.
var ErrNotSupported = errors.New("frame: operation not supported by a packet stream")

// Stream is an auto-flushing io.Reader facade over Frames. can_read is
// true; Seek and Write exist only so that Stream satisfies io.Seeker and
// io.Writer for callers coded against a richer interface, and both
// always return ErrNotSupported.
//
// Read blocks until the requested number of bytes are available; it
// returns a partial read only once the stream has been closed.
type Stream struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames *Frames

	data    []byte
	readPos int

	autoFlush          bool
	autoFlushThreshold int

	closed bool
}

// NewStream creates a Stream pulling frames from frames. autoFlush
// enables discarding the already-read prefix once the buffer grows
// past autoFlushThreshold bytes.
func NewStream(frames *Frames, autoFlush bool, autoFlushThreshold int) *Stream {
	s := &Stream{
		frames:             frames,
		autoFlush:          autoFlush,
		autoFlushThreshold: autoFlushThreshold,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// NotifyArrival wakes any goroutine blocked in Read. The owner wires
// this to fire whenever a new packet reaches the sequenced queue this
// stream reads from.
func (s *Stream) NotifyArrival() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close marks the stream as shut down and wakes any blocked Read, which
// then returns io.EOF instead of waiting forever.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Read implements io.Reader. It blocks until len(p) bytes are
// available, pulling whole frames from the discrete API as needed, and
// never returns fewer bytes than requested unless the stream has been
// closed.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autoFlush && len(s.data) > s.autoFlushThreshold {
		s.flushLocked()
	}

	for len(s.data)-s.readPos < len(p) {
		if s.pullLocked() {
			continue
		}
		if s.closed {
			n := copy(p, s.data[s.readPos:])
			s.readPos += n
			return n, io.EOF
		}
		s.cond.Wait()
	}

	n := copy(p, s.data[s.readPos:])
	s.readPos += n
	return n, nil
}

// pullLocked appends the next available frame's bytes to data. Caller
// must hold s.mu. Returns true if a frame was pulled.
func (s *Stream) pullLocked() bool {
	next := s.frames.NextFrame()
	if next == nil {
		return false
	}
	s.data = append(s.data, next...)
	return true
}

func (s *Stream) flushLocked() {
	remaining := s.data[s.readPos:]
	buf := make([]byte, len(remaining))
	copy(buf, remaining)
	s.data = buf
	s.readPos = 0
}

// Flush discards the already-consumed prefix of the internal buffer.
func (s *Stream) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Seek always fails: a packet stream is not seekable.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotSupported
}

// Write always fails: a packet stream is read-only.
func (s *Stream) Write(p []byte) (int, error) {
	return 0, ErrNotSupported
}

// Len reports the number of unread bytes currently buffered.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) - s.readPos
}
