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

package rtpsequencer

import (
	"encoding/binary"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseHostSpecDefaults(t *testing.T) {
	bind, join, port, err := parseHostSpec(mustParseURL(t, "udp://"))
	require.NoError(t, err)
	require.True(t, bind.Equal(net.IPv4zero))
	require.True(t, join.Equal(net.IPv4zero))
	require.Equal(t, defaultPort, port)
}

func TestParseHostSpecJoinOnly(t *testing.T) {
	bind, join, port, err := parseHostSpec(mustParseURL(t, "udp://239.1.1.1:5004"))
	require.NoError(t, err)
	require.True(t, bind.Equal(net.IPv4zero))
	require.True(t, join.Equal(net.ParseIP("239.1.1.1")))
	require.Equal(t, 5004, port)
}

func TestParseHostSpecBindAndJoin(t *testing.T) {
	bind, join, port, err := parseHostSpec(mustParseURL(t, "udp://10.0.0.5@239.1.1.1:5004"))
	require.NoError(t, err)
	require.True(t, bind.Equal(net.ParseIP("10.0.0.5")))
	require.True(t, join.Equal(net.ParseIP("239.1.1.1")))
	require.Equal(t, 5004, port)
}

func TestParseHostSpecInvalidBindIP(t *testing.T) {
	_, _, _, err := parseHostSpec(mustParseURL(t, "udp://not-an-ip@239.1.1.1:5004"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseHostSpecInvalidPort(t *testing.T) {
	_, _, _, err := parseHostSpec(mustParseURL(t, "udp://239.1.1.1:notaport"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpenRejectsNonUDPScheme(t *testing.T) {
	_, err := Open("tcp://239.1.1.1:5004")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpenRejectsGarbageURI(t *testing.T) {
	_, err := Open("udp://[::1")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIsMulticastFirstOctet(t *testing.T) {
	require.True(t, isMulticastFirstOctet(net.ParseIP("224.0.0.1")))
	require.True(t, isMulticastFirstOctet(net.ParseIP("239.255.255.255")))
	require.False(t, isMulticastFirstOctet(net.ParseIP("192.168.1.1")))
}

func buildRawRTP(seq uint16, marker bool, pt uint8, payload []byte) []byte {
	header := make([]byte, 12)
	header[0] = 0x80
	header[1] = pt
	if marker {
		header[1] |= 0x80
	}
	binary.BigEndian.PutUint16(header[2:4], seq)
	binary.BigEndian.PutUint32(header[4:8], 0)
	binary.BigEndian.PutUint32(header[8:12], 0xcafebabe)
	return append(header, payload...)
}

func TestOpenEndToEndLoopback(t *testing.T) {
	l, err := Open("udp://127.0.0.1@127.0.0.1:0")
	require.NoError(t, err)
	defer l.Dispose()

	local := l.source.conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.DialUDP("udp", nil, local)
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write(buildRawRTP(1, true, 96, []byte("hello")))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var frame []byte
	for time.Now().Before(deadline) {
		if frame = l.Frames.NextFrame(); frame != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, []byte("hello"), frame)
}

func TestListeningStartStopIdempotence(t *testing.T) {
	l, err := Open("udp://127.0.0.1@127.0.0.1:0")
	require.NoError(t, err)
	defer l.Dispose()

	require.ErrorIs(t, l.StartListening(), ErrInvalidState)
	require.NoError(t, l.StopListening())
	require.ErrorIs(t, l.StopListening(), ErrInvalidState)
	require.NoError(t, l.StartListening())
}
