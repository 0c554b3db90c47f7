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
)

// routeKind classifies where a locally originated NPDU goes
type routeKind int

const (
	routeLocal routeKind = iota
	routeGlobalBroadcast
	routeDirect
	routeIndirect
)

// resolvedRoute is the outcome of resolving a destination for SendPDU
type resolvedRoute struct {
	kind    routeKind
	port    *Port
	nextHop []byte
}

// resolveRoute picks the destination class of dst. An unknown network
// triggers a debounced Who-Is-Router on every port and fails this attempt.
func (r *Router) resolveRoute(dst Address) (resolvedRoute, error) {
	switch dst.Net {
	case LocalNetwork:
		if r.routing {
			return resolvedRoute{}, fmt.Errorf("%w: a router must address a network number", ErrInvalidNetwork)
		}
		return resolvedRoute{kind: routeLocal, port: r.ports[0]}, nil

	case BroadcastNetwork:
		return resolvedRoute{kind: routeGlobalBroadcast}, nil
	}

	e, found, query := r.table.TryFindEntry(dst.Net)
	if !found {
		if query {
			_ = r.BroadcastWhoIsRouter(NoPort, dst.Net)
		}
		return resolvedRoute{}, fmt.Errorf("%w: network %d", ErrNoRoute, dst.Net)
	}
	if e.Busy {
		return resolvedRoute{}, fmt.Errorf("%w: network %d", ErrRouteBusy, dst.Net)
	}

	p, err := r.port(e.Port)
	if err != nil {
		return resolvedRoute{}, err
	}
	if e.Direct {
		return resolvedRoute{kind: routeDirect, port: p}, nil
	}
	return resolvedRoute{kind: routeIndirect, port: p, nextHop: e.NextHop}, nil
}

// SendPDU sends an APDU originated by this node to dst. It does not block
// on route discovery: when dst.Net is unknown it returns ErrNoRoute and the
// caller retries later.
func (r *Router) SendPDU(dst Address, apdu []byte, prio Priority, expectReply bool) error {
	if len(apdu) == 0 {
		return fmt.Errorf("%w: empty APDU", ErrInvalidPayload)
	}
	if dst.IsGlobalBroadcast() && !dst.IsBroadcast() {
		return fmt.Errorf("%w: global broadcast with DLEN %d", ErrInvalidAddress, len(dst.Addr))
	}
	if !prio.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, prio)
	}

	rt, err := r.resolveRoute(dst)
	if err != nil {
		return err
	}

	var hdrDst *Address
	if rt.kind == routeGlobalBroadcast || rt.kind == routeIndirect {
		hdrDst = &dst
	}
	n, err := BuildNPCI(hdrDst, nil, prio, expectReply)
	if err != nil {
		return err
	}
	npdu, err := encodeNPDU(n, apdu)
	if err != nil {
		return err
	}

	switch rt.kind {
	case routeGlobalBroadcast:
		r.broadcast(NoPort, npdu, prio, expectReply)
		return nil
	case routeIndirect:
		return r.transmit(rt.port, rt.nextHop, npdu, prio, expectReply)
	default:
		return r.transmit(rt.port, dst.Addr, npdu, prio, expectReply)
	}
}
