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
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/bacnet-router/bacnet/internal/transport"
)

// BIPConfig configures a BACnet/IP port
type BIPConfig struct {
	// Address is the local "ip:port" to bind
	Address string
	// Broadcast is the directed broadcast "ip:port" of the subnet. It
	// defaults to 255.255.255.255 on the bound port.
	Broadcast string
	// WriteTimeout bounds each datagram write
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// BIPLink is a BACnet/IP datalink. It implements Datalink and Receiver.
type BIPLink struct {
	cfg       BIPConfig
	logger    *slog.Logger
	transport *transport.UDPTransport

	mu        sync.RWMutex
	broadcast *net.UDPAddr
	self      map[string]bool
}

// NewBIPLink creates an unopened BACnet/IP link
func NewBIPLink(cfg BIPConfig) *BIPLink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := transport.NewUDPTransport(cfg.Address)
	if cfg.WriteTimeout > 0 {
		t.SetWriteTimeout(cfg.WriteTimeout)
	}
	return &BIPLink{
		cfg:       cfg,
		logger:    logger.With(slog.String("link", "bip"), slog.String("address", cfg.Address)),
		transport: t,
	}
}

// Kind names the datalink type
func (l *BIPLink) Kind() string {
	return "bip"
}

// Open binds the socket and resolves the broadcast address
func (l *BIPLink) Open(ctx context.Context) error {
	if err := l.transport.Open(ctx); err != nil {
		return err
	}
	local := l.transport.LocalAddr()

	bcast := &net.UDPAddr{IP: net.IPv4bcast, Port: local.Port}
	if l.cfg.Broadcast != "" {
		addr, err := net.ResolveUDPAddr("udp4", l.cfg.Broadcast)
		if err != nil {
			_ = l.transport.Close()
			return fmt.Errorf("resolve broadcast address: %w", err)
		}
		bcast = addr
	}

	self := map[string]bool{local.String(): true}
	if local.IP.IsUnspecified() {
		if addrs, err := net.InterfaceAddrs(); err == nil {
			for _, a := range addrs {
				if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
					self[(&net.UDPAddr{IP: ipn.IP, Port: local.Port}).String()] = true
				}
			}
		}
	}

	l.mu.Lock()
	l.broadcast, l.self = bcast, self
	l.mu.Unlock()

	l.logger.Info("BACnet/IP link open", slog.String("local", local.String()), slog.String("broadcast", bcast.String()))
	return nil
}

// Close releases the socket
func (l *BIPLink) Close() error {
	return l.transport.Close()
}

// LocalAddr returns the bound address, or nil when closed
func (l *BIPLink) LocalAddr() *net.UDPAddr {
	return l.transport.LocalAddr()
}

// SendPDU unicasts npdu to the B/IP MAC dst, or broadcasts it when dst is
// empty.
func (l *BIPLink) SendPDU(dst []byte, npdu []byte, _ Priority, _ bool) error {
	function := BVLCOriginalUnicastNPDU
	var to *net.UDPAddr
	if len(dst) == 0 {
		l.mu.RLock()
		to = l.broadcast
		l.mu.RUnlock()
		if to == nil {
			return transport.ErrNotOpen
		}
		function = BVLCOriginalBroadcastNPDU
	} else {
		addr, err := DecodeBIPAddress(dst)
		if err != nil {
			return err
		}
		to = addr
	}

	frame, err := EncodeBVLC(function, npdu)
	if err != nil {
		return err
	}
	return l.transport.Send(context.Background(), to, frame)
}

// ReceivePDU returns the next NPDU addressed to this node with the B/IP MAC
// of its sender. Our own broadcasts and frames without an NPDU are skipped.
func (l *BIPLink) ReceivePDU(ctx context.Context) ([]byte, []byte, error) {
	for {
		data, from, err := l.transport.Receive(ctx)
		if err != nil {
			return nil, nil, err
		}

		l.mu.RLock()
		echo := l.self[from.String()]
		l.mu.RUnlock()
		if echo {
			continue
		}

		f, err := DecodeBVLC(data)
		if err != nil {
			l.logger.Debug("invalid BVLC", slog.String("from", from.String()), slog.Any("error", err))
			continue
		}

		var mac []byte
		switch f.Function {
		case BVLCOriginalUnicastNPDU, BVLCOriginalBroadcastNPDU:
			if mac, err = EncodeBIPAddress(from); err != nil {
				continue
			}
		case BVLCForwardedNPDU:
			mac = f.Origin
		default:
			l.logger.Debug("BVLC function ignored", slog.String("function", f.Function.String()))
			continue
		}
		return f.NPDU, mac, nil
	}
}
