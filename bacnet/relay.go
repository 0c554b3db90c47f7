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
	"fmt"
	"log/slog"
)

// relay forwards an NPDU that is not only for this node. The hop count
// decrement and SRC insertion happen in b and stay in place even when the
// final send fails.
func (r *Router) relay(in *Port, src Address, b *Buffer, n *NPCI) error {
	if !r.routing {
		return ErrNotRouter
	}
	dnet := n.Destination.Net
	if dnet == LocalNetwork {
		return fmt.Errorf("%w: relay without DNET", ErrInvalidNPDU)
	}

	pdu := b.Bytes()
	pdu[n.HopCountOffset]--
	if pdu[n.HopCountOffset] == 0 {
		r.metrics.HopCountExhausted.Inc()
		return fmt.Errorf("%w: network %d", ErrHopCountExhausted, dnet)
	}

	if !n.HasSource() {
		if err := AddSourceField(b, src); err != nil {
			return fmt.Errorf("add SRC: %w", err)
		}
	}

	prio, expectReply := n.Priority(), n.ExpectingReply()
	if dnet == BroadcastNetwork {
		r.broadcast(in.ID, b.Bytes(), prio, expectReply)
		r.metrics.NPDUsRelayed.Inc()
		return nil
	}

	e, found := r.table.FindEntry(dnet)
	if !found || e.Busy {
		reason, cause := NetworkRejectNoRoute, ErrNoRoute
		if found {
			reason, cause = NetworkRejectRouterBusy, ErrRouteBusy
		}
		// A reject that cannot be delivered is dropped without answering it
		if n.IsNetworkMessage() && n.MessageType == NetworkMessageRejectMessageToNetwork {
			return fmt.Errorf("reject to network %d not relayed: %w", dnet, cause)
		}
		if err := r.SendRejectMessage(in.ID, &n.Source, dnet, reason); err != nil {
			r.logger.Warn("send reject failed", slog.Any("error", err))
		}
		return fmt.Errorf("%w: network %d", cause, dnet)
	}

	if e.Port == in.ID {
		return fmt.Errorf("%w: network %d on port %d", ErrRoutingLoop, dnet, in.ID)
	}
	out, err := r.port(e.Port)
	if err != nil {
		return err
	}

	nextHop := e.NextHop
	if e.Direct {
		if err := RemoveDestinationField(b); err != nil {
			return fmt.Errorf("remove DST: %w", err)
		}
		nextHop = n.Destination.Addr
	}
	if err := r.transmit(out, nextHop, b.Bytes(), prio, expectReply); err != nil {
		return err
	}

	r.metrics.NPDUsRelayed.Inc()
	r.logger.Debug("NPDU relayed",
		slog.Uint64("network", uint64(dnet)), slog.String("in", in.Name), slog.String("out", out.Name),
		slog.Bool("direct", e.Direct))
	return nil
}
