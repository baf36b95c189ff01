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

package datagram

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onitake/rtpsequencer/rtp"
)

func localAddr(t *testing.T) *net.UDPAddr {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return addr
}

func TestSourceStartWithoutBindFails(t *testing.T) {
	s := NewSource(1400, 0)
	err := s.Start(func(source *Source, d *rtp.Datagram) {})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSourceDoubleBindFails(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	defer s.Stop()
	require.ErrorIs(t, s.Bind(localAddr(t)), ErrInvalidState)
}

func TestSourceReceivesDatagram(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	defer s.Stop()

	local := s.conn.LocalAddr().(*net.UDPAddr)

	received := make(chan *rtp.Datagram, 1)
	require.NoError(t, s.Start(func(source *Source, d *rtp.Datagram) {
		received <- d
	}))

	sender, err := net.DialUDP("udp", nil, local)
	require.NoError(t, err)
	defer sender.Close()

	payload := []byte("hello rtp")
	_, err = sender.Write(payload)
	require.NoError(t, err)

	select {
	case d := <-received:
		require.Equal(t, payload, d.Data())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestSourceDoubleStartFails(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	defer s.Stop()

	require.NoError(t, s.Start(func(source *Source, d *rtp.Datagram) {}))
	require.ErrorIs(t, s.Start(func(source *Source, d *rtp.Datagram) {}), ErrInvalidState)
}

func TestSourceStopWithoutStartFails(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	require.ErrorIs(t, s.Stop(), ErrInvalidState)
}

func TestSourceStopThenRebind(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	require.NoError(t, s.Start(func(source *Source, d *rtp.Datagram) {}))
	require.NoError(t, s.Stop())

	// Stop tears the socket down entirely; a fresh Bind+Start must work.
	require.NoError(t, s.Bind(localAddr(t)))
	require.NoError(t, s.Start(func(source *Source, d *rtp.Datagram) {}))
	require.NoError(t, s.Stop())
}

func TestSourceJoinMulticastRequiresRunning(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	defer s.Stop()

	err := s.JoinMulticast(net.ParseIP("239.1.1.1"), 0)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSourceJoinMulticastRejectsIPv6(t *testing.T) {
	s := NewSource(1400, 0)
	require.NoError(t, s.Bind(localAddr(t)))
	defer s.Stop()
	require.NoError(t, s.Start(func(source *Source, d *rtp.Datagram) {}))

	err := s.JoinMulticast(net.ParseIP("ff02::1"), 0)
	require.ErrorIs(t, err, ErrAddressFamily)
}

func TestSourceSetReceiveBufferSize(t *testing.T) {
	s := NewSource(1400, 0)
	require.Equal(t, 0, s.ReceiveBufferSize())
	require.NoError(t, s.Bind(localAddr(t)))
	defer s.Stop()

	require.NoError(t, s.SetReceiveBufferSize(65536))
	require.Equal(t, 65536, s.ReceiveBufferSize())
}
