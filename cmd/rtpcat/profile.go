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

package main

import _ "net/http/pprof"
import (
	"net/http"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/onitake/rtpsequencer"
)

// enableProfiling exposes net/http/pprof and block-profiling data on
// :6060, for ad-hoc inspection while rtpcat is running.
func enableProfiling() {
	runtime.SetBlockProfileRate(100000000)
	go func() {
		log.Error().Err(http.ListenAndServe(":6060", nil)).Msg("profiling server exited")
	}()
}

// serveMetrics exposes listener's Prometheus collectors on addr, plus a
// /debug endpoint serving the same counters as a JSON snapshot for
// ad-hoc inspection without a Prometheus scraper.
func serveMetrics(listener *rtpsequencer.Listener, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", listener.Metrics.Handler())
	mux.Handle("/debug", listener.Metrics.DebugHandler())
	log.Error().Err(http.ListenAndServe(addr, mux)).Msg("metrics server exited")
}
