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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onitake/rtpsequencer/reorder"
)

func TestStreamReadBlocksUntilEnoughBytes(t *testing.T) {
	seq := reorder.NewSequencedQueue(8)
	f := NewFrames(seq)
	s := NewStream(f, false, 1<<20)

	done := make(chan struct{})
	buf := make([]byte, 6)
	var n int
	var err error
	go func() {
		n, err = s.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before enough bytes were available")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, seq.Push(packet(t, 1, false, []byte{0x01, 0x02, 0x03})))
	require.NoError(t, seq.Push(packet(t, 2, true, []byte{0x04, 0x05, 0x06})))
	s.NotifyArrival()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Read never returned after a full frame became available")
	}

	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, buf)
}

func TestStreamReadNeverPartial(t *testing.T) {
	seq := reorder.NewSequencedQueue(8)
	f := NewFrames(seq)
	s := NewStream(f, false, 1<<20)

	require.NoError(t, seq.Push(packet(t, 1, true, []byte{0x01, 0x02})))

	buf := make([]byte, 2)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []byte{0x01, 0x02}, buf)
}

func TestStreamCloseUnblocksRead(t *testing.T) {
	seq := reorder.NewSequencedQueue(8)
	f := NewFrames(seq)
	s := NewStream(f, false, 1<<20)

	done := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 4))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock a pending Read")
	}
}

func TestStreamSeekAndWriteNotSupported(t *testing.T) {
	s := NewStream(NewFrames(reorder.NewSequencedQueue(1)), false, 1<<20)
	_, err := s.Seek(0, 0)
	require.ErrorIs(t, err, ErrNotSupported)
	_, err = s.Write([]byte{0x01})
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestStreamAutoFlush(t *testing.T) {
	seq := reorder.NewSequencedQueue(8)
	f := NewFrames(seq)
	s := NewStream(f, true, 2)

	require.NoError(t, seq.Push(packet(t, 1, true, []byte{0x01, 0x02, 0x03, 0x04})))
	buf := make([]byte, 2)
	_, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	require.NoError(t, seq.Push(packet(t, 2, true, []byte{0x05, 0x06})))
	_, err = s.Read(make([]byte, 2))
	require.NoError(t, err)
	// auto-flush should have discarded the already-read prefix once the
	// buffer grew past the 2-byte threshold, leaving only unread data.
	require.LessOrEqual(t, s.Len(), 2)
}
