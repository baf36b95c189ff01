/* Copyright (c) 2018 Gregor Riepl
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

package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusEmitInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var calls []int
	require.NoError(t, b.Register(PacketLoss, func(kind Kind, payload interface{}) {
		calls = append(calls, 1)
	}))
	require.NoError(t, b.Register(PacketLoss, func(kind Kind, payload interface{}) {
		calls = append(calls, 2)
	}))
	b.Start()
	b.Emit(PacketLoss, uint16(42))
	require.Equal(t, []int{1, 2}, calls)
}

func TestBusEmitPassesPayload(t *testing.T) {
	b := NewBus()
	var got interface{}
	require.NoError(t, b.Register(PacketLoss, func(kind Kind, payload interface{}) {
		got = payload
	}))
	b.Start()
	b.Emit(PacketLoss, uint16(7))
	require.Equal(t, uint16(7), got)
}

func TestBusEmitUnregisteredKindIsNoop(t *testing.T) {
	b := NewBus()
	b.Start()
	require.NotPanics(t, func() {
		b.Emit(InvalidData, nil)
	})
}

func TestBusRegisterRejectedWhileRunning(t *testing.T) {
	b := NewBus()
	b.Start()
	err := b.Register(PacketLoss, func(kind Kind, payload interface{}) {})
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestBusStopAllowsRegisterAgain(t *testing.T) {
	b := NewBus()
	b.Start()
	b.Stop()
	require.NoError(t, b.Register(PacketLoss, func(kind Kind, payload interface{}) {}))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "invalid_data", InvalidData.String())
	require.Equal(t, "packet_loss", PacketLoss.String())
	require.Equal(t, "sequenced_marker_received", SequencedMarkerReceived.String())
}
