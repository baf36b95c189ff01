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

// Package config defines the JSON-loadable configuration for a Listener
// and its default values.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
)

const (
	defaultBufferSize int = 1400
)

// Config holds the tunable knobs of a Listener. Zero-valued fields from
// JSON input are not special-cased; Default returns the configuration
// new Listeners should start from, and Load/LoadBytes/LoadFile merge
// JSON input on top of it.
type Config struct {
	// VerifyPayloadType enables dropping packets whose payload type
	// differs from the first packet seen on the stream.
	VerifyPayloadType bool `json:"verifypayloadtype"`
	// MaxBuffered bounds the receive queue: once it holds this many
	// unplaced packets, the next expected sequence number is declared
	// lost rather than waited for further.
	MaxBuffered int `json:"maxbuffered"`
	// BufferSize is the size, in bytes, of each receive buffer.
	BufferSize int `json:"buffersize"`
	// ReceiveBuffer is the requested kernel socket receive buffer size.
	ReceiveBuffer int `json:"receivebuffer"`
	// AutoFlush enables discarding the already-read prefix of a
	// streaming Reader's internal buffer once it grows past
	// AutoFlushThreshold.
	AutoFlush bool `json:"autoflush"`
	// AutoFlushThreshold is the buffer size, in bytes, past which
	// AutoFlush triggers.
	AutoFlushThreshold int `json:"autoflushthreshold"`
}

// Default returns a Config populated with the engine's default values:
// payload type verification on, a 25-packet reorder buffer, 1400-byte
// receive buffers backed by a 1400*1024-byte kernel buffer, and
// auto-flush enabled at 1400*1024*15 bytes.
func Default() *Config {
	return &Config{
		VerifyPayloadType:  true,
		MaxBuffered:        25,
		BufferSize:         defaultBufferSize,
		ReceiveBuffer:      defaultBufferSize * 1024,
		AutoFlush:          true,
		AutoFlushThreshold: defaultBufferSize * 1024 * 15,
	}
}

// LoadFile reads a JSON configuration from the named file, merged on
// top of Default.
func LoadFile(filename string) (*Config, error) {
	fd, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return Load(fd)
}

// LoadBytes parses a JSON configuration from data, merged on top of
// Default.
func LoadBytes(data []byte) (*Config, error) {
	return Load(bytes.NewReader(data))
}

// Load reads a JSON configuration from reader, merged on top of
// Default: fields absent from the input keep their default value.
func Load(reader io.Reader) (*Config, error) {
	config := Default()
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}
	return config, nil
}
