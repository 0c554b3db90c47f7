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

// Package transport carries BACnet/IP datagrams over a UDP socket
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrNotOpen is returned by I/O on a transport that is not open
	ErrNotOpen = errors.New("transport: not open")
)

// maxDatagram fits the largest BVLC frame with room to spare
const maxDatagram = 2048

// UDPTransport is a BACnet/IP socket bound to one local address
type UDPTransport struct {
	localAddr    string
	conn         *net.UDPConn
	mu           sync.RWMutex
	pollInterval time.Duration
	writeTimeout time.Duration
}

// NewUDPTransport creates a transport for localAddr ("ip:port", empty for
// any address and an ephemeral port)
func NewUDPTransport(localAddr string) *UDPTransport {
	return &UDPTransport{
		localAddr:    localAddr,
		pollInterval: 250 * time.Millisecond,
		writeTimeout: 3 * time.Second,
	}
}

// SetPollInterval bounds how long Receive blocks before rechecking its context
func (t *UDPTransport) SetPollInterval(d time.Duration) {
	t.mu.Lock()
	t.pollInterval = d
	t.mu.Unlock()
}

// SetWriteTimeout sets the write deadline used when ctx carries none
func (t *UDPTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Open binds the socket. Opening an open transport is a no-op.
func (t *UDPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", t.localAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %q: %w", t.localAddr, err)
	}
	t.conn = pc.(*net.UDPConn)
	return nil
}

// Close releases the socket and unblocks a pending Receive
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// LocalAddr returns the bound address, or nil when closed
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to addr
func (t *UDPTransport) Send(ctx context.Context, addr *net.UDPAddr, data []byte) error {
	t.mu.RLock()
	conn, writeTimeout := t.conn, t.writeTimeout
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotOpen
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("write UDP %s: %w", addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("short write to %s: %d of %d bytes", addr, n, len(data))
	}
	return nil
}

// Receive blocks until a datagram arrives, ctx is done or the transport is
// closed.
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	buf := make([]byte, maxDatagram)
	for {
		t.mu.RLock()
		conn, poll := t.conn, t.pollInterval
		t.mu.RUnlock()

		if conn == nil {
			return nil, nil, ErrNotOpen
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		deadline := time.Now().Add(poll)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err == nil {
			return buf[:n], addr, nil
		}
		if isTimeout(err) {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrNotOpen
		}
		return nil, nil, fmt.Errorf("read UDP: %w", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
