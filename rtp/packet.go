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

// Package rtp decodes RTP fixed headers from captured UDP datagrams.
//
// Decoding is zero-copy: a Packet keeps a reference to the Datagram it was
// parsed from and exposes its payload as a slice into that buffer, rather
// than an owned copy. Header extensions, padding removal and RTCP are not
// handled here.
package rtp

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	// MinHeaderSize is the size of the fixed RTP header, before any CSRC
	// identifiers or extension header.
	MinHeaderSize int = 12
	// MaxCsrc is the largest possible number of CSRC identifiers (4-bit field).
	MaxCsrc int = 15
)

var (
	// ErrInvalidHeader is returned when a datagram is too short to contain
	// a valid RTP header, carries an unsupported version, or has the
	// extension bit set (header extensions are not supported).
	ErrInvalidHeader = errors.New("rtp: invalid or unsupported header")
)

// PayloadType identifies the kind of data carried in a packet's payload.
// Some values are statically assigned by RFC 3551, others are dynamic and
// defined by the application; this package never interprets the value, it
// only optionally compares it against the first packet seen on a stream.
type PayloadType uint8

const (
	PayloadTypePCMU   PayloadType = 0
	PayloadTypeGSM    PayloadType = 3
	PayloadTypeG723   PayloadType = 4
	PayloadTypeDVI4   PayloadType = 5
	PayloadTypeDVI4_2 PayloadType = 6
	PayloadTypeLPC    PayloadType = 7
	PayloadTypePCMA   PayloadType = 8
	PayloadTypeG722   PayloadType = 9
	PayloadTypeL16    PayloadType = 10
	PayloadTypeL16_2  PayloadType = 11
	PayloadTypeQCELP  PayloadType = 12
	PayloadTypeCN     PayloadType = 13
	PayloadTypeMPA    PayloadType = 14
	PayloadTypeG728   PayloadType = 15
	PayloadTypeDVI4_3 PayloadType = 16
	PayloadTypeDVI4_4 PayloadType = 17
	PayloadTypeG729   PayloadType = 18
	PayloadTypeCelB   PayloadType = 25
	PayloadTypeJPEG   PayloadType = 26
	PayloadTypeNV     PayloadType = 28
	PayloadTypeH261   PayloadType = 31
	PayloadTypeMPV    PayloadType = 32
	PayloadTypeMP2T   PayloadType = 33
	PayloadTypeH263   PayloadType = 34
)

// Datagram is a single captured UDP packet.
//
// Buffer is sized to the configured receive buffer size (see config.Config);
// Size is the number of bytes actually filled in by the read. A Datagram is
// created on receive, handed to the parser, and discarded once its Packet
// (if any) has moved through the sequencing engine.
type Datagram struct {
	Buffer []byte
	Size   int
	Remote *net.UDPAddr
}

// Data returns the used portion of the datagram buffer.
func (d *Datagram) Data() []byte {
	return d.Buffer[:d.Size]
}

// Packet is a decoded RTP packet: the dissected fixed header, plus a
// zero-copy view onto the payload bytes of the Datagram it came from.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CsrcCount      uint8
	Marker         bool
	PayloadType    PayloadType
	SequenceNumber uint16
	Timestamp      uint32
	Ssrc           uint32
	Csrc           []uint32

	datagram      *Datagram
	payloadOffset int
	payloadLength int
}

// PayloadOffset returns the byte offset of the payload within the source
// datagram: 12 + 4*CsrcCount, per the fixed-header layout.
func (p *Packet) PayloadOffset() int {
	return p.payloadOffset
}

// PayloadLength returns the number of payload bytes.
func (p *Packet) PayloadLength() int {
	return p.payloadLength
}

// Payload returns the packet's payload as a slice into the original
// datagram buffer. The caller must not retain it past the datagram's
// lifetime if the buffer is reused by the caller; the sequencing engine
// in this module never reuses datagram buffers, so payloads returned
// from the frame consumer API are safe to keep.
func (p *Packet) Payload() []byte {
	return p.datagram.Buffer[p.payloadOffset : p.payloadOffset+p.payloadLength]
}

// Parse decodes the fixed RTP header from a Datagram.
//
// It fails with ErrInvalidHeader if the datagram is too short for the
// header it claims to have (fixed header + CSRC list), if the version
// field isn't 2, or if the extension bit is set (header extensions are
// a Non-goal of this package).
func Parse(d *Datagram) (*Packet, error) {
	data := d.Data()
	if len(data) < MinHeaderSize {
		return nil, ErrInvalidHeader
	}

	version := (data[0] & 0xc0) >> 6
	if version != 2 {
		return nil, ErrInvalidHeader
	}
	extension := data[0]&0x10 != 0
	if extension {
		return nil, ErrInvalidHeader
	}
	csrcCount := data[0] & 0x0f

	payloadOffset := MinHeaderSize + 4*int(csrcCount)
	if len(data) < payloadOffset {
		return nil, ErrInvalidHeader
	}

	p := &Packet{
		Version:        version,
		Padding:        data[0]&0x20 != 0,
		Extension:      false,
		CsrcCount:      csrcCount,
		Marker:         data[1]&0x80 != 0,
		PayloadType:    PayloadType(data[1] & 0x7f),
		SequenceNumber: binary.BigEndian.Uint16(data[2:4]),
		Timestamp:      binary.BigEndian.Uint32(data[4:8]),
		Ssrc:           binary.BigEndian.Uint32(data[8:12]),
		datagram:       d,
		payloadOffset:  payloadOffset,
		payloadLength:  len(data) - payloadOffset,
	}
	if csrcCount > 0 {
		p.Csrc = make([]uint32, csrcCount)
		offset := MinHeaderSize
		for i := 0; i < int(csrcCount); i++ {
			p.Csrc[i] = binary.BigEndian.Uint32(data[offset : offset+4])
			offset += 4
		}
	}

	return p, nil
}
