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

// Package rtpsequencer wires the datagram source, packet parser,
// sequencing engine and frame consumer API into a single Listener,
// opened from a udp:// URI.
package rtpsequencer

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/onitake/rtpsequencer/config"
	"github.com/onitake/rtpsequencer/datagram"
	"github.com/onitake/rtpsequencer/event"
	"github.com/onitake/rtpsequencer/frame"
	"github.com/onitake/rtpsequencer/metrics"
	"github.com/onitake/rtpsequencer/reorder"
	"github.com/onitake/rtpsequencer/rtp"
)

// defaultPort is used when a udp:// URI omits the port.
const defaultPort = 1234

var (
	// ErrInvalidArgument is returned for a malformed URI: a scheme other
	// than udp, a bind or join address that isn't an IP literal, or a
	// port that isn't a number in 0..65535.
	ErrInvalidArgument = errors.New("rtpsequencer: invalid argument")
	// ErrInvalidState is returned by StartListening/StopListening when
	// called out of order.
	ErrInvalidState = errors.New("rtpsequencer: invalid state for this operation")
)

// Listener wires a Source, Sequencer, Frames and Stream together behind
// one correlation ID, with its own private event bus and metrics
// registry.
type Listener struct {
	ID string

	source    *datagram.Source
	sequencer *reorder.Sequencer
	Frames    *frame.Frames
	Stream    *frame.Stream

	Bus       *event.Bus
	Metrics   *metrics.Collectors
	Config    *config.Config
	Logger    zerolog.Logger

	mu      sync.Mutex
	started bool
	eg      *errgroup.Group
}

// NewListener builds an idle Listener from cfg, without binding or
// starting anything. Use Open for the common udp:// URI entry point.
func NewListener(cfg *config.Config) *Listener {
	id := xid.New().String()
	logger := log.With().Str("listener", id).Logger()

	bus := event.NewBus()
	sequencer := reorder.NewSequencer(cfg.MaxBuffered, cfg.VerifyPayloadType, bus)
	sequencer.Logger = logger
	frames := frame.NewFrames(sequencer.Seq)
	stream := frame.NewStream(frames, cfg.AutoFlush, cfg.AutoFlushThreshold)

	l := &Listener{
		ID:        id,
		source:    datagram.NewSource(cfg.BufferSize, cfg.ReceiveBuffer),
		sequencer: sequencer,
		Frames:    frames,
		Stream:    stream,
		Bus:       bus,
		Metrics:   metrics.NewCollectors(),
		Config:    cfg,
		Logger:    logger,
	}
	l.source.Logger = logger
	l.Metrics.Logger = logger
	l.Metrics.Observe(bus, id)
	sequencer.DepthObserver = func(depth int) {
		l.Metrics.SetReceiveQueueDepth(id, depth)
	}
	_ = bus.Register(event.SequencedPacketReceived, func(kind event.Kind, payload interface{}) {
		l.Stream.NotifyArrival()
	})
	return l
}

// Open parses uri, matching udp://[bind_ip]@[join_ip][:port], binds and
// starts a Listener on it, and joins a multicast group if join_ip falls
// in 224.0.0.0/4. Fails with ErrInvalidArgument on any mismatch.
func Open(uri string) (*Listener, error) {
	l, joinIP, err := Prepare(uri)
	if err != nil {
		return nil, err
	}
	if err := l.StartListening(); err != nil {
		return nil, err
	}
	if err := l.JoinMulticast(joinIP); err != nil {
		_ = l.Dispose()
		return nil, err
	}
	return l, nil
}

// Prepare parses uri and binds a Listener without starting it, so a
// caller can register additional event handlers (logging, metrics)
// before the bus freezes its handler sets at StartListening. It
// returns the parsed join address for the caller to pass to
// JoinMulticast once the Listener is started (join_multicast requires
// a running source, per the datagram source's contract).
func Prepare(uri string) (*Listener, net.IP, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, nil, ErrInvalidArgument
	}
	if parsed.Scheme != "udp" {
		return nil, nil, ErrInvalidArgument
	}

	bindIP, joinIP, port, err := parseHostSpec(parsed)
	if err != nil {
		return nil, nil, err
	}

	l := NewListener(config.Default())
	l.Logger.Info().Str("event", "open").Str("uri", uri).Msg("opening listener")

	if err := l.source.Bind(&net.UDPAddr{IP: bindIP, Port: port}); err != nil {
		return nil, nil, err
	}
	return l, joinIP, nil
}

// JoinMulticast joins ip on the Listener's source if it falls in
// 224.0.0.0/4; any other address is a no-op, including nil.
func (l *Listener) JoinMulticast(ip net.IP) error {
	if ip == nil || !isMulticastFirstOctet(ip) {
		return nil
	}
	return l.source.JoinMulticast(ip, 0)
}

// parseHostSpec splits a udp://[bind_ip]@[join_ip][:port] URI into its
// three components, applying the ANY/ANY/1234 defaults.
func parseHostSpec(u *url.URL) (bindIP, joinIP net.IP, port int, err error) {
	host := u.Host
	bindPart := ""
	if u.User != nil {
		// url.Parse treats anything before '@' in the authority as
		// userinfo regardless of scheme, which is exactly the bind_ip
		// slot in udp://[bind_ip]@[join_ip][:port].
		bindPart = u.User.Username()
	}

	joinPart := host
	portPart := ""
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		joinPart = host[:idx]
		portPart = host[idx+1:]
	}

	bindIP = net.IPv4zero
	if bindPart != "" {
		bindIP = net.ParseIP(bindPart)
		if bindIP == nil {
			return nil, nil, 0, ErrInvalidArgument
		}
	}

	joinIP = net.IPv4zero
	if joinPart != "" {
		joinIP = net.ParseIP(joinPart)
		if joinIP == nil {
			return nil, nil, 0, ErrInvalidArgument
		}
	}

	port = defaultPort
	if portPart != "" {
		parsedPort, perr := strconv.Atoi(portPart)
		if perr != nil || parsedPort < 0 || parsedPort > 65535 {
			return nil, nil, 0, ErrInvalidArgument
		}
		port = parsedPort
	}

	return bindIP, joinIP, port, nil
}

// isMulticastFirstOctet reports whether ip's first octet falls in
// 224.0.0.0/4, i.e. first_octet & 0xF0 == 0xE0.
func isMulticastFirstOctet(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0]&0xF0 == 0xE0
}

// StartListening starts the receive loop and the sequencing worker.
// Calling it again while already started returns ErrInvalidState.
func (l *Listener) StartListening() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrInvalidState
	}

	// Start synchronously so a bad socket or a double-start surfaces
	// here, not only later through Wait(); the errgroup then supervises
	// the ongoing receive loop for a hard failure after that point.
	if err := l.source.Start(l.onDatagram); err != nil {
		return err
	}
	if err := l.sequencer.Start(); err != nil {
		_ = l.source.Stop()
		return err
	}

	l.Bus.Start()
	l.eg = &errgroup.Group{}
	l.eg.Go(func() error {
		return <-l.source.Done()
	})
	l.started = true
	l.Logger.Info().Str("event", "start").Msg("listener started")
	return nil
}

func (l *Listener) onDatagram(source *datagram.Source, d *rtp.Datagram) {
	l.sequencer.Submit(d)
}

// StopListening stops the receive loop and the sequencing worker, and
// waits for both to exit. Calling it again while already stopped
// returns ErrInvalidState.
func (l *Listener) StopListening() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return ErrInvalidState
	}
	l.started = false
	eg := l.eg
	l.mu.Unlock()

	var sourceErr, sequencerErr error
	if err := l.source.Stop(); err != nil {
		sourceErr = err
	}
	if err := l.sequencer.Stop(); err != nil {
		sequencerErr = err
	}
	_ = eg.Wait()
	l.Bus.Stop()
	l.Logger.Info().Str("event", "stop").Msg("listener stopped")

	if sourceErr != nil {
		return sourceErr
	}
	return sequencerErr
}

// Dispose stops the listener if running and releases its stream. Safe
// to call more than once.
func (l *Listener) Dispose() error {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		if err := l.StopListening(); err != nil {
			return err
		}
	}
	return l.Stream.Close()
}

// Wait blocks until the receive loop has exited, returning the read
// error that ended it (nil on a clean StopListening, or if the Listener
// was never started). The sequencing worker is not tracked here;
// StopListening waits for it separately.
func (l *Listener) Wait() error {
	l.mu.Lock()
	eg := l.eg
	l.mu.Unlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}
