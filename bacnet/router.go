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
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Router is the BACnet network layer entity of a node. With two or more
// ports it routes between them; with one port it only sends and receives.
//
// ReceivePDU must be called from one goroutine at a time. Run provides
// that loop for datalinks implementing Receiver. SendPDU and the
// management queries are safe from any goroutine.
type Router struct {
	opts    *routerOptions
	logger  *slog.Logger
	metrics *Metrics
	table   *RoutingTable
	ports   []*Port
	routing bool
}

// StaticRoute is a route installed from configuration
type StaticRoute struct {
	Network uint16
	Port    int
	NextHop []byte
}

// NewRouter validates the port list and creates a router. Call Start
// before passing traffic.
func NewRouter(ports []PortConfig, opts ...Option) (*Router, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	built, err := buildPorts(ports, o.logger)
	if err != nil {
		return nil, err
	}

	return &Router{
		opts:    o,
		logger:  o.logger,
		metrics: o.metrics,
		table:   newRoutingTable(o),
		ports:   built,
		routing: len(built) > 1,
	}, nil
}

// IsRouter reports whether this node relays between networks
func (r *Router) IsRouter() bool {
	return r.routing
}

// Table returns the routing table
func (r *Router) Table() *RoutingTable {
	return r.table
}

// Metrics returns the router counters
func (r *Router) Metrics() *Metrics {
	return r.metrics
}

func (r *Router) port(id int) (*Port, error) {
	if id < 0 || id >= len(r.ports) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, id)
	}
	return r.ports[id], nil
}

// ApplyStaticRoutes installs configured routes as reachable
func (r *Router) ApplyStaticRoutes(routes []StaticRoute) error {
	for i, rt := range routes {
		if _, err := r.port(rt.Port); err != nil {
			return fmt.Errorf("static route %d: %w", i, err)
		}
		if err := r.table.UpdateDynamicEntry(rt.Network, Reachable, rt.Port, rt.NextHop); err != nil {
			return fmt.Errorf("static route %d to network %d: %w", i, rt.Network, err)
		}
	}
	return nil
}

// Start installs the direct route of every port and, when routing,
// announces on each port the networks reachable through the others.
func (r *Router) Start() error {
	for _, p := range r.ports {
		if p.Network == LocalNetwork {
			continue
		}
		if err := r.table.AddDirectEntry(p.Network, p.ID); err != nil {
			r.logger.Error("add direct route failed", slog.String("port", p.Name), slog.Any("error", err))
		}
	}

	if !r.routing {
		return nil
	}
	for _, p := range r.ports {
		nets := r.table.ReachableNetsExcludingPort(p.ID)
		if len(nets) == 0 {
			continue
		}
		if err := r.SendIAmRouter(p.ID, nets); err != nil {
			r.logger.Error("startup I-Am-Router failed", slog.String("port", p.Name), slog.Any("error", err))
		}
	}

	r.logger.Info("router started", slog.Int("ports", len(r.ports)), slog.Bool("routing", r.routing))
	return nil
}

type inbound struct {
	port int
	npdu []byte
	src  []byte
}

// Run reads every Receiver port and dispatches NPDUs one at a time until
// ctx is cancelled or a datalink fails.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	inbox := make(chan inbound, r.opts.inboxSize)

	for _, p := range r.ports {
		rx, ok := p.link.(Receiver)
		if !ok {
			continue
		}
		g.Go(func() error {
			return r.readLoop(ctx, p, rx, inbox)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case in := <-inbox:
				if err := r.ReceivePDU(in.port, in.npdu, in.src); err != nil {
					r.logDrop(in.port, err)
				}
			}
		}
	})

	return g.Wait()
}

func (r *Router) readLoop(ctx context.Context, p *Port, rx Receiver, inbox chan<- inbound) error {
	for {
		npdu, src, err := rx.ReceivePDU(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("port %s: %w", p.Name, err)
		}
		select {
		case inbox <- inbound{port: p.ID, npdu: npdu, src: src}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Router) logDrop(port int, err error) {
	r.metrics.NPDUsDropped.Inc()
	attrs := []any{slog.Int("port", port), slog.Any("error", err)}
	switch {
	case IsMalformed(err):
		r.logger.Warn("malformed NPDU dropped", attrs...)
	case errors.Is(err, ErrRoutingLoop), errors.Is(err, ErrWrongSource):
		r.logger.Warn("NPDU dropped", attrs...)
	default:
		r.logger.Debug("NPDU dropped", attrs...)
	}
}

// ReceivePDU handles one NPDU heard on port from srcMAC: it learns the
// route back to the sender, runs network layer messages, delivers APDUs
// addressed to this node and relays the rest.
func (r *Router) ReceivePDU(portID int, npdu []byte, srcMAC []byte) error {
	r.metrics.NPDUsReceived.Inc()
	r.metrics.BytesReceived.Add(int64(len(npdu)))
	r.metrics.RecordActivity()

	in, err := r.port(portID)
	if err != nil {
		return err
	}
	if len(npdu) <= minNPCILength {
		r.metrics.DecodeErrors.Inc()
		return fmt.Errorf("%w: %d bytes", ErrInvalidNPDU, len(npdu))
	}

	b := BufferFrom(npdu, DefaultHeadroom)
	n, err := DecodeNPCI(b.Bytes())
	if err != nil {
		r.metrics.DecodeErrors.Inc()
		return err
	}
	src := in.address(bytes.Clone(srcMAC))

	if n.HasSource() {
		if err := r.table.UpdateDynamicEntry(n.Source.Net, ReachableReverse, in.ID, src.Addr); err != nil {
			r.logger.Debug("reverse route not learned",
				slog.Uint64("network", uint64(n.Source.Net)), slog.Any("error", err))
		}
	}

	if n.IsNetworkMessage() {
		return r.handleNetworkMessage(in, src, b, n)
	}

	dnet := n.Destination.Net
	if dnet == LocalNetwork || dnet == BroadcastNetwork {
		err := r.deliver(in, src, b, n)
		if !r.routing || dnet == LocalNetwork {
			return err
		}
		if err != nil {
			r.logger.Warn("local delivery failed", slog.Any("error", err))
		}
	}

	return r.relay(in, src, b, n)
}

// deliver hands the APDU to the local handler and unicasts any reply back
// to the neighbour it came from, addressed to the original sender when
// that sender sits on another network.
func (r *Router) deliver(in *Port, src Address, b *Buffer, n *NPCI) error {
	r.metrics.NPDUsDelivered.Inc()
	if r.opts.apduHandler == nil {
		return nil
	}

	from := src
	if n.HasSource() {
		from = n.Source
	}
	reply := r.opts.apduHandler(b.Bytes()[n.PayloadOffset:], n.ExpectingReply(), from)
	if len(reply) == 0 {
		return nil
	}

	var dst *Address
	if n.HasSource() && n.Source.Net != in.Network {
		dst = &n.Source
	}
	hdr, err := BuildNPCI(dst, nil, n.Priority(), false)
	if err != nil {
		return err
	}
	out, err := encodeNPDU(hdr, reply)
	if err != nil {
		return err
	}
	return r.transmit(in, src.Addr, out, n.Priority(), false)
}

func (r *Router) handleNetworkMessage(in *Port, src Address, b *Buffer, n *NPCI) error {
	r.logger.Debug("network message received",
		slog.String("port", in.Name), slog.String("type", n.MessageType.String()), slog.String("from", src.String()))

	switch n.MessageType {
	case NetworkMessageWhoIsRouterToNetwork:
		return r.receiveWhoIsRouter(in, src, b, n)
	case NetworkMessageIAmRouterToNetwork:
		return r.receiveIAmRouter(in, src, b, n)
	case NetworkMessageRejectMessageToNetwork:
		return r.receiveRejectMessage(in, src, b, n)
	case NetworkMessageRouterBusyToNetwork:
		return r.receiveRouterBusyOrAvailable(in, src, b, n, true)
	case NetworkMessageRouterAvailableToNetwork:
		return r.receiveRouterBusyOrAvailable(in, src, b, n, false)
	case NetworkMessageICouldBeRouterToNetwork,
		NetworkMessageInitializeRoutingTable,
		NetworkMessageInitializeRoutingTableAck,
		NetworkMessageEstablishConnectionToNetwork,
		NetworkMessageDisconnectConnectionToNetwork:
		// Not acted upon here; passed through when addressed elsewhere
		if !r.routing || n.Destination.Net == LocalNetwork {
			return nil
		}
		return r.relay(in, src, b, n)
	default:
		return r.SendRejectMessage(in.ID, &n.Source, 0, NetworkRejectUnknownMessageType)
	}
}

// transmit sends one NPDU on one port and accounts for it
func (r *Router) transmit(p *Port, dst []byte, npdu []byte, prio Priority, expectReply bool) error {
	if err := p.link.SendPDU(dst, npdu, prio, expectReply); err != nil {
		r.metrics.SendFailures.Inc()
		return fmt.Errorf("port %s: %w", p.Name, err)
	}
	r.metrics.NPDUsSent.Inc()
	r.metrics.BytesSent.Add(int64(len(npdu)))
	return nil
}

// broadcast sends npdu as a local broadcast on every port but exclude.
// Per-port failures are logged and do not stop the fan-out.
func (r *Router) broadcast(exclude int, npdu []byte, prio Priority, expectReply bool) {
	for _, p := range r.ports {
		if p.ID == exclude {
			continue
		}
		if err := r.transmit(p, nil, npdu, prio, expectReply); err != nil {
			r.logger.Warn("broadcast failed", slog.Any("error", err))
		}
	}
}

func encodeNPDU(n *NPCI, payload []byte) ([]byte, error) {
	b := NewBuffer(n.PayloadOffset, len(payload))
	if err := b.Append(payload); err != nil {
		return nil, err
	}
	hdr, err := b.Push(n.PayloadOffset)
	if err != nil {
		return nil, err
	}
	if _, err := EncodeNPCI(hdr, n); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Ports lists the router ports with the networks reachable through each
func (r *Router) Ports() []PortInfo {
	out := make([]PortInfo, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, r.portInfo(p))
	}
	return out
}

func (r *Router) portInfo(p *Port) PortInfo {
	return PortInfo{
		ID:        p.ID,
		Name:      p.Name,
		Network:   p.Network,
		Kind:      p.Kind(),
		Reachable: r.table.ReachableNets(p.ID),
	}
}

// PortStatus describes one port together with the learned routes behind it
func (r *Router) PortStatus(id int) (PortStatus, error) {
	p, err := r.port(id)
	if err != nil {
		return PortStatus{}, err
	}
	status := PortStatus{PortInfo: r.portInfo(p), Routes: []RouteEntry{}}
	for _, e := range r.table.Entries() {
		if e.Port == id && !e.Direct {
			status.Routes = append(status.Routes, e)
		}
	}
	return status, nil
}
