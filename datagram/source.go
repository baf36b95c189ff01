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

// Package datagram binds a UDP endpoint and delivers raw datagrams to a
// callback. Multicast membership, TTL and other socket options are
// thin wrappers over the OS socket API; their contract is what matters
// here, not how the kernel implements them.
package datagram

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"

	"github.com/onitake/rtpsequencer/rtp"
)

var (
	// ErrInvalidState is returned for operations that don't make sense
	// in the Source's current state: starting twice, joining a
	// multicast group before starting, stopping when not started.
	ErrInvalidState = errors.New("datagram: invalid state for this operation")
	// ErrAddressFamily is returned by JoinMulticast when group is not an
	// IPv4 address. The family of the bound endpoint is not compared.
	ErrAddressFamily = errors.New("datagram: multicast address family does not match the bound endpoint")
)

// Callback receives one captured datagram per invocation, called
// synchronously from the Source's own receive goroutine. It must not
// block for long, since it is called once per received datagram.
type Callback func(source *Source, d *rtp.Datagram)

// Source binds a UDP endpoint and runs an asynchronous receive loop
// once started. Multicast group membership and TTL are exposed through
// golang.org/x/net/ipv4.PacketConn, which — unlike net.ListenMulticastUDP
// — supports joining and leaving groups after bind, not only at bind time.
type Source struct {
	mu    sync.Mutex
	local *net.UDPAddr
	conn  *net.UDPConn
	pc    *ipv4.PacketConn

	bufferSize    int
	receiveBuffer int

	running  bool
	stopping bool
	done     chan error
	wg       sync.WaitGroup

	Logger zerolog.Logger
}

// NewSource creates an unbound Source. bufferSize sizes each receive
// buffer (default 1400 bytes, an MTU-sized payload); receiveBuffer
// requests a kernel socket receive buffer of that size once bound.
func NewSource(bufferSize, receiveBuffer int) *Source {
	return &Source{
		bufferSize:    bufferSize,
		receiveBuffer: receiveBuffer,
		Logger:        log.Logger,
	}
}

// Bind opens a UDP socket with SO_REUSEADDR set and binds it to local.
// It does not start receiving; call Start for that. local is remembered
// so a later Start, after a Stop has closed the socket, can re-open it
// without requiring the caller to Bind again.
func (s *Source) Bind(local *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrInvalidState
	}
	if err := s.openLocked(local); err != nil {
		return err
	}
	s.local = local
	return nil
}

// openLocked opens and binds the UDP socket for local. Caller must hold s.mu.
func (s *Source) openLocked(local *net.UDPAddr) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	pconn, err := lc.ListenPacket(context.Background(), "udp", local.String())
	if err != nil {
		return err
	}
	conn, ok := pconn.(*net.UDPConn)
	if !ok {
		pconn.Close()
		return ErrInvalidState
	}
	if s.receiveBuffer > 0 {
		_ = conn.SetReadBuffer(s.receiveBuffer)
	}
	s.conn = conn
	s.pc = ipv4.NewPacketConn(conn)
	s.done = make(chan error, 1)
	return nil
}

// Done returns a channel that receives exactly one value when the
// receive loop exits: nil if it was a clean Stop, or the read error
// that ended it otherwise. Only meaningful after Start.
func (s *Source) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start begins the asynchronous receive loop, delivering every received
// datagram to callback. If the socket was previously closed by Stop,
// Start transparently re-opens it on the same local address. Returns
// ErrInvalidState if never bound, or if already started.
func (s *Source) Start(callback Callback) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrInvalidState
	}
	if s.conn == nil {
		if s.local == nil {
			s.mu.Unlock()
			return ErrInvalidState
		}
		if err := s.openLocked(s.local); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.running = true
	s.stopping = false
	conn := s.conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.receiveLoop(conn, callback)
	return nil
}

func (s *Source) receiveLoop(conn *net.UDPConn, callback Callback) {
	defer s.wg.Done()
	for {
		buf := make([]byte, s.bufferSize)
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Stop() closing the socket surfaces here too; in that case
			// it's a clean exit, not a failure, so Done() reports nil.
			s.mu.Lock()
			stopping := s.stopping
			done := s.done
			s.mu.Unlock()
			if stopping {
				done <- nil
			} else {
				done <- err
			}
			return
		}
		callback(s, &rtp.Datagram{
			Buffer: buf,
			Size:   n,
			Remote: remote,
		})
	}
}

// Stop ends the receive loop and closes the socket. A later Start
// re-opens the socket on the address given to Bind.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.conn == nil || !s.running {
		s.mu.Unlock()
		return ErrInvalidState
	}
	conn := s.conn
	s.running = false
	s.stopping = true
	s.conn = nil
	s.pc = nil
	s.mu.Unlock()

	conn.Close()
	s.wg.Wait()
	return nil
}

// JoinMulticast joins group on the bound socket, optionally setting the
// outgoing multicast TTL in the same call. Fails with ErrInvalidState if
// the source hasn't been started, or ErrAddressFamily if group isn't an
// IPv4 address (the only family this package supports). An IPv4 address
// outside the multicast range is passed on to the socket as is.
func (s *Source) JoinMulticast(group net.IP, ttl int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil || !s.running {
		return ErrInvalidState
	}
	if group.To4() == nil {
		return ErrAddressFamily
	}
	if err := s.pc.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
		return err
	}
	if ttl > 0 {
		return s.pc.SetMulticastTTL(ttl)
	}
	return nil
}

// DropMulticast leaves a previously joined multicast group.
func (s *Source) DropMulticast(group net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return ErrInvalidState
	}
	return s.pc.LeaveGroup(nil, &net.UDPAddr{IP: group})
}

// SetMulticastTTL sets the outgoing multicast TTL on the bound socket.
func (s *Source) SetMulticastTTL(ttl int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return ErrInvalidState
	}
	return s.pc.SetMulticastTTL(ttl)
}

// MulticastTTL returns the current outgoing multicast TTL.
func (s *Source) MulticastTTL() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return 0, ErrInvalidState
	}
	return s.pc.MulticastTTL()
}

// SetBroadcast enables or disables SO_BROADCAST on the bound socket.
func (s *Source) SetBroadcast(enabled bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrInvalidState
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		v := 0
		if enabled {
			v = 1
		}
		ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, v)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// ReceiveBufferSize returns the configured kernel socket receive buffer
// size.
func (s *Source) ReceiveBufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiveBuffer
}

// SetReceiveBufferSize updates the kernel socket receive buffer size,
// applying it immediately if already bound.
func (s *Source) SetReceiveBufferSize(size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveBuffer = size
	if s.conn != nil {
		return s.conn.SetReadBuffer(size)
	}
	return nil
}
