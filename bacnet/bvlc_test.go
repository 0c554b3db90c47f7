// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBVLC(t *testing.T) {
	frame, err := EncodeBVLC(BVLCOriginalUnicastNPDU, []byte{0x01, 0x00, 0x10})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x0A, 0x00, 0x07, 0x01, 0x00, 0x10}, frame)

	_, err = EncodeBVLC(BVLCOriginalUnicastNPDU, make([]byte, 0xFFFF))
	assert.ErrorIs(t, err, ErrInvalidBVLC)
}

func TestDecodeBVLC(t *testing.T) {
	t.Run("original broadcast", func(t *testing.T) {
		f, err := DecodeBVLC([]byte{0x81, 0x0B, 0x00, 0x06, 0x01, 0x00})
		require.NoError(t, err)
		assert.Equal(t, BVLCOriginalBroadcastNPDU, f.Function)
		assert.Nil(t, f.Origin)
		assert.Equal(t, []byte{0x01, 0x00}, f.NPDU)
	})

	t.Run("forwarded", func(t *testing.T) {
		data := []byte{0x81, 0x04, 0x00, 0x0C, 0xC0, 0xA8, 0x01, 0x0A, 0xBA, 0xC0, 0x01, 0x00}
		f, err := DecodeBVLC(data)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xC0, 0xA8, 0x01, 0x0A, 0xBA, 0xC0}, f.Origin)
		assert.Equal(t, []byte{0x01, 0x00}, f.NPDU)
	})

	t.Run("result carries no NPDU", func(t *testing.T) {
		f, err := DecodeBVLC([]byte{0x81, 0x00, 0x00, 0x06, 0x00, 0x00})
		require.NoError(t, err)
		assert.Equal(t, BVLCResult, f.Function)
		assert.Empty(t, f.NPDU)
	})

	rejects := []struct {
		name string
		data []byte
	}{
		{"short", []byte{0x81, 0x0A}},
		{"wrong type", []byte{0x82, 0x0A, 0x00, 0x04}},
		{"length mismatch", []byte{0x81, 0x0A, 0x00, 0x08, 0x01, 0x00}},
		{"forwarded without origin", []byte{0x81, 0x04, 0x00, 0x06, 0x01, 0x00}},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBVLC(tt.data)
			assert.ErrorIs(t, err, ErrInvalidBVLC)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestBIPAddress(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: DefaultPort}
	mac, err := EncodeBIPAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 0xA8, 0x01, 0x0A, 0xBA, 0xC0}, mac)

	back, err := DecodeBIPAddress(mac)
	require.NoError(t, err)
	assert.Equal(t, addr.String(), back.String())

	_, err = EncodeBIPAddress(&net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: DefaultPort})
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = DecodeBIPAddress([]byte{0x0A})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
