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
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func openLoopbackLink(t *testing.T) *BIPLink {
	t.Helper()
	l := NewBIPLink(BIPConfig{Address: "127.0.0.1:0", Logger: testLogger()})
	require.NoError(t, l.Open(context.Background()))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func receiveWithin(t *testing.T, l *BIPLink, d time.Duration) ([]byte, []byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.ReceivePDU(ctx)
}

func TestBIPLinkUnicast(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := openLoopbackLink(t)
	b := openLoopbackLink(t)
	assert.Equal(t, "bip", a.Kind())

	macA, err := EncodeBIPAddress(a.LocalAddr())
	require.NoError(t, err)
	macB, err := EncodeBIPAddress(b.LocalAddr())
	require.NoError(t, err)

	npdu := []byte{0x01, 0x04, 0x10, 0x08}
	require.NoError(t, a.SendPDU(macB, npdu, PriorityNormal, true))

	got, from, err := receiveWithin(t, b, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, npdu, got)
	assert.Equal(t, macA, from)
}

func TestBIPLinkSkipsEchoAndJunk(t *testing.T) {
	a := openLoopbackLink(t)
	b := openLoopbackLink(t)

	macB, err := EncodeBIPAddress(b.LocalAddr())
	require.NoError(t, err)

	// Own datagrams are not delivered back
	require.NoError(t, b.SendPDU(macB, []byte{0x01, 0x00, 0x10}, PriorityNormal, false))

	raw, err := net.DialUDP("udp4", nil, b.LocalAddr())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte{0x81, 0x0A, 0x00, 0x09})
	require.NoError(t, err)
	_, err = raw.Write([]byte{0x81, 0x00, 0x00, 0x06, 0x00, 0x00})
	require.NoError(t, err)

	origin := []byte{0x0A, 0x00, 0x00, 0x07, 0xBA, 0xC0}
	forwarded := append([]byte{0x81, 0x04, 0x00, 0x0D}, origin...)
	forwarded = append(forwarded, 0x01, 0x00, 0x11)
	_, err = raw.Write(forwarded)
	require.NoError(t, err)

	got, from, err := receiveWithin(t, b, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x11}, got)
	assert.Equal(t, origin, from, "forwarded NPDUs report the original sender")

	_, _, err = receiveWithin(t, a, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBIPLinkClosed(t *testing.T) {
	l := NewBIPLink(BIPConfig{Address: "127.0.0.1:0", Logger: testLogger()})

	assert.Error(t, l.SendPDU(nil, []byte{0x01, 0x00, 0x10}, PriorityNormal, false))
	assert.Nil(t, l.LocalAddr())
	assert.ErrorIs(t, l.SendPDU([]byte{0x01}, []byte{0x01, 0x00, 0x10}, PriorityNormal, false), ErrInvalidAddress)
}
