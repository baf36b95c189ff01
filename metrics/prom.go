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

// Package metrics exposes Prometheus instrumentation for the
// sequencing engine.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/onitake/rtpsequencer/event"
)

// Stats is a point-in-time snapshot of one listener's engine counters.
// It carries the same figures as the Prometheus series below, packaged
// for the ad-hoc /debug introspection endpoint rather than scraping.
type Stats struct {
	PacketsReceived   uint64 `json:"packets_received"`
	PacketsSequenced  uint64 `json:"packets_sequenced"`
	PacketsLost       uint64 `json:"packets_lost"`
	PacketsInvalid    uint64 `json:"packets_invalid"`
	MarkersSequenced  uint64 `json:"markers_sequenced"`
	ReceiveQueueDepth int64  `json:"receive_queue_depth"`
}

// Collectors holds the Prometheus instrumentation for one Listener,
// registered against its own private registry rather than the global
// DefaultRegisterer, so several listeners in the same process never
// collide over metric names.
type Collectors struct {
	registry *prometheus.Registry

	PacketsReceived   *prometheus.CounterVec
	PacketsSequenced  *prometheus.CounterVec
	PacketsLost       *prometheus.CounterVec
	PacketsInvalid    *prometheus.CounterVec
	MarkersSequenced  *prometheus.CounterVec
	ReceiveQueueDepth *prometheus.GaugeVec

	Logger zerolog.Logger

	// counts mirrors the CounterVec/GaugeVec series above as plain
	// atomics, read back through Snapshot for the /debug handler.
	// promhttp has no supported API to read a collector's current
	// value back out, so the Observe handlers below update both.
	counts stats
}

type stats struct {
	packetsReceived   uint64
	packetsSequenced  uint64
	packetsLost       uint64
	packetsInvalid    uint64
	markersSequenced  uint64
	receiveQueueDepth int64
}

// NewCollectors creates a fresh, privately registered set of counters
// and a gauge, each labelled by listener name.
func NewCollectors() *Collectors {
	registry := prometheus.NewRegistry()
	c := &Collectors{
		registry: registry,
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpsequencer",
			Name:      "packets_received_total",
			Help:      "Packets reported by packet_received events, after sequencing and payload-type verification.",
		}, []string{"listener"}),
		PacketsSequenced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpsequencer",
			Name:      "packets_sequenced_total",
			Help:      "Packets placed into the sequenced queue.",
		}, []string{"listener"}),
		PacketsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpsequencer",
			Name:      "packets_lost_total",
			Help:      "Sequence numbers declared lost under receive-queue pressure.",
		}, []string{"listener"}),
		PacketsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpsequencer",
			Name:      "packets_invalid_total",
			Help:      "Datagrams that failed to parse plus packets dropped for payload-type mismatch.",
		}, []string{"listener"}),
		MarkersSequenced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpsequencer",
			Name:      "markers_sequenced_total",
			Help:      "Marker packets placed into the sequenced queue.",
		}, []string{"listener"}),
		ReceiveQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtpsequencer",
			Name:      "receive_queue_depth",
			Help:      "Packets currently awaiting placement in the receive queue.",
		}, []string{"listener"}),
		Logger: log.Logger,
	}
	registry.MustRegister(
		c.PacketsReceived,
		c.PacketsSequenced,
		c.PacketsLost,
		c.PacketsInvalid,
		c.MarkersSequenced,
		c.ReceiveQueueDepth,
	)
	return c
}

// Handler returns an http.Handler exposing this Collectors' private
// registry in the Prometheus text exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogAdapter{c.Logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Observe registers handlers on bus that update these collectors for
// every event the sequencing engine emits, labelling every series with
// listener.
func (c *Collectors) Observe(bus *event.Bus, listener string) {
	_ = bus.Register(event.PacketReceived, func(kind event.Kind, payload interface{}) {
		c.PacketsReceived.WithLabelValues(listener).Inc()
		atomic.AddUint64(&c.counts.packetsReceived, 1)
	})
	_ = bus.Register(event.SequencedPacketReceived, func(kind event.Kind, payload interface{}) {
		c.PacketsSequenced.WithLabelValues(listener).Inc()
		atomic.AddUint64(&c.counts.packetsSequenced, 1)
	})
	_ = bus.Register(event.SequencedMarkerReceived, func(kind event.Kind, payload interface{}) {
		c.MarkersSequenced.WithLabelValues(listener).Inc()
		atomic.AddUint64(&c.counts.markersSequenced, 1)
	})
	_ = bus.Register(event.PacketLoss, func(kind event.Kind, payload interface{}) {
		c.PacketsLost.WithLabelValues(listener).Inc()
		atomic.AddUint64(&c.counts.packetsLost, 1)
	})
	_ = bus.Register(event.InvalidPacket, func(kind event.Kind, payload interface{}) {
		c.PacketsInvalid.WithLabelValues(listener).Inc()
		atomic.AddUint64(&c.counts.packetsInvalid, 1)
	})
	_ = bus.Register(event.InvalidData, func(kind event.Kind, payload interface{}) {
		c.PacketsInvalid.WithLabelValues(listener).Inc()
		atomic.AddUint64(&c.counts.packetsInvalid, 1)
	})
}

// SetReceiveQueueDepth updates the receive-queue gauge for listener.
// The owning Listener calls this from reorder.Sequencer's DepthObserver
// on every packet arrival and resolution, so the gauge tracks the live
// receive queue rather than sitting at its zero value forever.
func (c *Collectors) SetReceiveQueueDepth(listener string, depth int) {
	c.ReceiveQueueDepth.WithLabelValues(listener).Set(float64(depth))
	atomic.StoreInt64(&c.counts.receiveQueueDepth, int64(depth))
}

// Snapshot returns the current counters as a Stats value, independent
// of the Prometheus registry.
func (c *Collectors) Snapshot() Stats {
	return Stats{
		PacketsReceived:   atomic.LoadUint64(&c.counts.packetsReceived),
		PacketsSequenced:  atomic.LoadUint64(&c.counts.packetsSequenced),
		PacketsLost:       atomic.LoadUint64(&c.counts.packetsLost),
		PacketsInvalid:    atomic.LoadUint64(&c.counts.packetsInvalid),
		MarkersSequenced:  atomic.LoadUint64(&c.counts.markersSequenced),
		ReceiveQueueDepth: atomic.LoadInt64(&c.counts.receiveQueueDepth),
	}
}

// DebugHandler serves the current Snapshot as JSON, for ad-hoc
// inspection alongside the Prometheus exposition format in Handler.
func (c *Collectors) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			c.Logger.Error().Err(err).Msg("failed to encode debug snapshot")
		}
	})
}

// promLogAdapter lets promhttp log through zerolog instead of the
// standard library logger it otherwise defaults to.
type promLogAdapter struct {
	logger zerolog.Logger
}

func (a promLogAdapter) Println(v ...interface{}) {
	a.logger.Error().Msg(fmt.Sprint(v...))
}
