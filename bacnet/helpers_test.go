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
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now uint32
}

func (c *fakeClock) Seconds() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(secs uint32) {
	c.mu.Lock()
	c.now += secs
	c.mu.Unlock()
}

type sentPDU struct {
	dst  []byte
	npdu []byte
}

// recordingLink remembers every NPDU handed to it
type recordingLink struct {
	mu   sync.Mutex
	sent []sentPDU
	err  error
}

func (l *recordingLink) SendPDU(dst []byte, npdu []byte, _ Priority, _ bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.sent = append(l.sent, sentPDU{dst: bytes.Clone(dst), npdu: bytes.Clone(npdu)})
	return nil
}

func (l *recordingLink) take() []sentPDU {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.sent
	l.sent = nil
	return out
}

// chanLink is a recordingLink that also feeds Router.Run
type chanLink struct {
	recordingLink
	inbox chan sentPDU
}

func (l *chanLink) ReceivePDU(ctx context.Context) ([]byte, []byte, error) {
	select {
	case in := <-l.inbox:
		return in.npdu, in.dst, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestRouter starts a router with one recording port per network and
// discards the startup announcements.
func newTestRouter(t *testing.T, nets []uint16, opts ...Option) (*Router, []*recordingLink, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: 1000}
	links := make([]*recordingLink, len(nets))
	cfgs := make([]PortConfig, len(nets))
	for i, n := range nets {
		links[i] = &recordingLink{}
		cfgs[i] = PortConfig{Network: n, Link: links[i]}
	}

	opts = append([]Option{WithClock(clock), WithLogger(testLogger())}, opts...)
	r, err := NewRouter(cfgs, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	for _, l := range links {
		l.take()
	}
	return r, links, clock
}

// mustNPDU encodes an NPDU carrying payload
func mustNPDU(t *testing.T, dst, src *Address, hop uint8, payload []byte) []byte {
	t.Helper()
	n, err := BuildNPCI(dst, src, PriorityNormal, false)
	require.NoError(t, err)
	n.HopCount = hop
	out, err := encodeNPDU(n, payload)
	require.NoError(t, err)
	return out
}

// mustNetworkMessage encodes a network layer message
func mustNetworkMessage(t *testing.T, dst, src *Address, msgType NetworkMessageType, payload []byte) []byte {
	t.Helper()
	n, err := BuildNetworkMessageNPCI(dst, src, PriorityNormal, false, msgType, 0)
	require.NoError(t, err)
	out, err := encodeNPDU(n, payload)
	require.NoError(t, err)
	return out
}

func mustDecode(t *testing.T, npdu []byte) *NPCI {
	t.Helper()
	n, err := DecodeNPCI(npdu)
	require.NoError(t, err)
	return n
}
