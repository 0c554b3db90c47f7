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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

func encodeNetworkList(nets []uint16) []byte {
	out := make([]byte, 0, 2*len(nets))
	for _, dnet := range nets {
		out = binary.BigEndian.AppendUint16(out, dnet)
	}
	return out
}

func decodeNetworkList(payload []byte) ([]uint16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: network list of %d bytes", ErrInvalidPayload, len(payload))
	}
	nets := make([]uint16, 0, len(payload)/2)
	for i := 0; i < len(payload); i += 2 {
		nets = append(nets, binary.BigEndian.Uint16(payload[i:]))
	}
	return nets, nil
}

// encodeNetworkMessage builds a complete network layer message NPDU
func encodeNetworkMessage(dst *Address, msgType NetworkMessageType, payload []byte) ([]byte, error) {
	n, err := BuildNetworkMessageNPCI(dst, nil, PriorityNormal, false, msgType, 0)
	if err != nil {
		return nil, err
	}
	return encodeNPDU(n, payload)
}

// SendWhoIsRouter broadcasts Who-Is-Router-To-Network on one port. A zero
// dnet asks for every network the neighbours can reach.
func (r *Router) SendWhoIsRouter(portID int, dnet uint16) error {
	p, err := r.port(portID)
	if err != nil {
		return err
	}

	var payload []byte
	if dnet != LocalNetwork {
		payload = binary.BigEndian.AppendUint16(nil, dnet)
	}
	npdu, err := encodeNetworkMessage(nil, NetworkMessageWhoIsRouterToNetwork, payload)
	if err != nil {
		return err
	}
	if err := r.transmit(p, nil, npdu, PriorityNormal, false); err != nil {
		return err
	}
	r.metrics.WhoIsSent.Inc()
	return nil
}

// BroadcastWhoIsRouter asks every port but exclude for a route to dnet.
// Failures on single ports are logged.
func (r *Router) BroadcastWhoIsRouter(exclude int, dnet uint16) error {
	if dnet == LocalNetwork || dnet == BroadcastNetwork {
		return fmt.Errorf("%w: who-is-router for %d", ErrInvalidNetwork, dnet)
	}
	for _, p := range r.ports {
		if p.ID == exclude {
			continue
		}
		if err := r.SendWhoIsRouter(p.ID, dnet); err != nil {
			r.logger.Warn("who-is-router failed", slog.String("port", p.Name), slog.Any("error", err))
		}
	}
	return nil
}

// SendIAmRouter advertises nets as reachable through this router on one port
func (r *Router) SendIAmRouter(portID int, nets []uint16) error {
	p, err := r.port(portID)
	if err != nil {
		return err
	}
	if len(nets) == 0 || len(nets) > MaxNetworksPerMessage {
		return fmt.Errorf("%w: %d networks", ErrInvalidPayload, len(nets))
	}

	npdu, err := encodeNetworkMessage(nil, NetworkMessageIAmRouterToNetwork, encodeNetworkList(nets))
	if err != nil {
		return err
	}
	if err := r.transmit(p, nil, npdu, PriorityNormal, false); err != nil {
		return err
	}
	r.metrics.IAmSent.Inc()
	r.logger.Debug("I-Am-Router sent", slog.String("port", p.Name), slog.Any("networks", nets))
	return nil
}

// BroadcastRouterBusyOrAvailable announces a change in the availability of
// nets on every port but exclude.
func (r *Router) BroadcastRouterBusyOrAvailable(exclude int, busy bool, nets []uint16) error {
	if len(nets) == 0 || len(nets) > MaxNetworksPerMessage {
		return fmt.Errorf("%w: %d networks", ErrInvalidPayload, len(nets))
	}

	msgType, counter := NetworkMessageRouterAvailableToNetwork, &r.metrics.AvailableSent
	if busy {
		msgType, counter = NetworkMessageRouterBusyToNetwork, &r.metrics.BusySent
	}
	npdu, err := encodeNetworkMessage(nil, msgType, encodeNetworkList(nets))
	if err != nil {
		return err
	}
	r.broadcast(exclude, npdu, PriorityNormal, false)
	counter.Inc()
	return nil
}

// SendRejectMessage tells the originator of an NPDU received on inPort why
// it was refused. dst is the SRC of the refused NPDU; without one, or when
// its network has no usable route, the reject is broadcast on inPort.
// Only routers send rejects.
func (r *Router) SendRejectMessage(inPort int, dst *Address, dnet uint16, reason NetworkRejectReason) error {
	if !r.routing {
		return nil
	}

	out, err := r.port(inPort)
	if err != nil {
		return err
	}
	var (
		hdrDst  *Address
		nextHop []byte
	)
	if dst != nil && dst.Net != LocalNetwork {
		if e, found := r.table.FindEntry(dst.Net); found {
			if out, err = r.port(e.Port); err != nil {
				return err
			}
			if !e.Direct {
				hdrDst, nextHop = dst, e.NextHop
			}
		}
	}

	payload := binary.BigEndian.AppendUint16([]byte{byte(reason)}, dnet)
	npdu, err := encodeNetworkMessage(hdrDst, NetworkMessageRejectMessageToNetwork, payload)
	if err != nil {
		return err
	}
	if err := r.transmit(out, nextHop, npdu, PriorityNormal, false); err != nil {
		return err
	}

	r.metrics.RejectsSent.Inc()
	r.logger.Debug("reject sent",
		slog.String("port", out.Name), slog.Uint64("network", uint64(dnet)), slog.String("reason", reason.String()))
	return nil
}

func (r *Router) receiveWhoIsRouter(in *Port, src Address, b *Buffer, n *NPCI) error {
	r.metrics.WhoIsReceived.Inc()
	if !r.routing {
		return nil
	}

	payload := b.Bytes()[n.PayloadOffset:]
	if len(payload) == 0 {
		nets := r.table.ReachableNetsExcludingPort(in.ID)
		if len(nets) == 0 {
			return fmt.Errorf("%w: nothing reachable beyond port %s", ErrNoRoute, in.Name)
		}
		return r.SendIAmRouter(in.ID, nets)
	}
	if len(payload) != 2 {
		return fmt.Errorf("%w: who-is-router payload of %d bytes", ErrInvalidPayload, len(payload))
	}

	dnet := binary.BigEndian.Uint16(payload)
	if dnet == LocalNetwork || dnet == BroadcastNetwork {
		return fmt.Errorf("%w: who-is-router for %d", ErrInvalidNetwork, dnet)
	}

	e, found, _ := r.table.tryFindEntry(dnet, true)
	if !found {
		// Pass the query on so the answer can find its way back
		if !n.HasSource() {
			if err := AddSourceField(b, src); err != nil {
				return fmt.Errorf("add SRC: %w", err)
			}
		}
		r.broadcast(in.ID, b.Bytes(), n.Priority(), n.ExpectingReply())
		r.metrics.NPDUsRelayed.Inc()
		return nil
	}
	if e.Port == in.ID {
		return fmt.Errorf("%w: network %d is behind ingress port %s", ErrRoutingLoop, dnet, in.Name)
	}
	return r.SendIAmRouter(in.ID, []uint16{dnet})
}

func (r *Router) receiveIAmRouter(in *Port, src Address, b *Buffer, n *NPCI) error {
	r.metrics.IAmReceived.Inc()

	payload := b.Bytes()[n.PayloadOffset:]
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty I-Am-Router", ErrInvalidPayload)
	}
	nets, err := decodeNetworkList(payload)
	if err != nil {
		return err
	}

	var errs []error
	for _, dnet := range nets {
		if err := r.table.UpdateDynamicEntry(dnet, Reachable, in.ID, src.Addr); err != nil {
			errs = append(errs, err)
		}
	}
	if !r.routing {
		return nil
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if n.HasSource() || n.HasDestination() {
		return fmt.Errorf("%w: I-Am-Router carrying SRC or DST", ErrInvalidNPDU)
	}
	r.broadcast(in.ID, b.Bytes(), n.Priority(), n.ExpectingReply())
	r.metrics.NPDUsRelayed.Inc()
	return nil
}

func (r *Router) receiveRejectMessage(in *Port, src Address, b *Buffer, n *NPCI) error {
	r.metrics.RejectsReceived.Inc()

	payload := b.Bytes()[n.PayloadOffset:]
	if len(payload) != 3 {
		return fmt.Errorf("%w: reject payload of %d bytes", ErrInvalidPayload, len(payload))
	}

	reason := NetworkRejectReason(payload[0])
	dnet := binary.BigEndian.Uint16(payload[1:])
	var state Reachability
	switch reason {
	case NetworkRejectNoRoute:
		state = UnreachablePermanently
	case NetworkRejectRouterBusy:
		state = UnreachableTemporarily
	default:
		r.logger.Debug("reject ignored", slog.Uint64("network", uint64(dnet)), slog.String("reason", reason.String()))
		return nil
	}

	if err := r.table.UpdateDynamicEntry(dnet, state, in.ID, src.Addr); err != nil {
		return err
	}
	if !r.routing || n.Destination.Net == LocalNetwork {
		return nil
	}
	return r.relay(in, src, b, n)
}

func (r *Router) receiveRouterBusyOrAvailable(in *Port, src Address, b *Buffer, n *NPCI, busy bool) error {
	if busy {
		r.metrics.BusyReceived.Inc()
	} else {
		r.metrics.AvailableReceived.Inc()
	}

	nets, err := decodeNetworkList(b.Bytes()[n.PayloadOffset:])
	if err != nil {
		return err
	}

	// An empty list covers every network behind the sender
	if len(nets) == 0 {
		nets = r.table.ReachableNetsOnMAC(in.ID, src.Addr, busy)
		if len(nets) == 0 {
			return fmt.Errorf("%w: no routes through %s", ErrNoRoute, src)
		}
		if !r.routing {
			return nil
		}
		return r.BroadcastRouterBusyOrAvailable(in.ID, busy, nets)
	}

	state := Reachable
	if busy {
		state = UnreachableTemporarily
	}
	var errs []error
	for _, dnet := range nets {
		if dnet == LocalNetwork || dnet == BroadcastNetwork {
			return fmt.Errorf("%w: %d in busy/available list", ErrInvalidNetwork, dnet)
		}
		if err := r.table.UpdateDynamicEntry(dnet, state, in.ID, src.Addr); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if !r.routing {
		return nil
	}

	if n.HasSource() || n.HasDestination() {
		return fmt.Errorf("%w: busy/available carrying SRC or DST", ErrInvalidNPDU)
	}
	r.broadcast(in.ID, b.Bytes(), n.Priority(), n.ExpectingReply())
	r.metrics.NPDUsRelayed.Inc()
	return nil
}
