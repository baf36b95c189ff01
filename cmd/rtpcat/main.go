/* Copyright (c) 2016-2017 Gregor Riepl
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

// Command rtpcat opens a udp:// RTP source and writes reassembled
// frames to stdout or a file, logging engine events as it goes.
package main

import (
	"flag"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/onitake/rtpsequencer"
	"github.com/onitake/rtpsequencer/event"
)

func main() {
	var (
		output    = flag.String("o", "", "write reassembled frames to this file instead of stdout")
		profile   = flag.Bool("profile", false, "enable pprof/block-profiling on :6060")
		metrics   = flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. :9090")
		verbosity = flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal().Err(err).Str("level", *verbosity).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if flag.NArg() != 1 {
		log.Fatal().Msg("usage: rtpcat [flags] udp://[bind_ip]@[join_ip][:port]")
	}
	uri := flag.Arg(0)

	if *profile {
		enableProfiling()
	}

	listener, joinIP, err := rtpsequencer.Prepare(uri)
	if err != nil {
		log.Fatal().Err(err).Str("uri", uri).Msg("failed to open listener")
	}
	defer listener.Dispose()

	logEvents(listener)

	if err := listener.StartListening(); err != nil {
		log.Fatal().Err(err).Msg("failed to start listener")
	}
	if err := listener.JoinMulticast(joinIP); err != nil {
		log.Fatal().Err(err).Msg("failed to join multicast group")
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatal().Err(err).Str("file", *output).Msg("failed to create output file")
		}
		defer f.Close()
		out = f
	}

	if *metrics != "" {
		go serveMetrics(listener, *metrics)
	}

	log.Info().Str("listener", listener.ID).Str("uri", uri).Msg("listening")

	if _, err := io.Copy(out, listener.Stream); err != nil {
		log.Error().Err(err).Msg("stream copy ended")
	}
}

// logEvents wires every engine event kind to a structured log line,
// identifying which listener they came from.
func logEvents(l *rtpsequencer.Listener) {
	logEvent := func(kind event.Kind, payload interface{}) {
		l.Logger.Debug().Str("event", kind.String()).Interface("payload", payload).Msg("engine event")
	}
	for _, kind := range []event.Kind{
		event.InvalidData,
		event.InvalidPacket,
		event.PacketReceived,
		event.MarkerReceived,
		event.SequencedPacketReceived,
		event.SequencedMarkerReceived,
		event.PacketLoss,
	} {
		if err := l.Bus.Register(kind, logEvent); err != nil {
			log.Fatal().Err(err).Str("kind", kind.String()).Msg("failed to register event logger")
		}
	}
}
