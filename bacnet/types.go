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

// Package bacnet implements the BACnet network layer: the NPDU header codec,
// the routing table, the router discovery protocol and the relay engine that
// moves NPDUs between the ports of a BACnet router.
package bacnet

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// DefaultPort is the standard BACnet/IP UDP port
const DefaultPort = 47808

// Network layer limits
const (
	// ProtocolVersion is the only NPDU protocol version understood
	ProtocolVersion = 0x01

	// MaxMACLength bounds DLEN/SLEN and any stored next-hop MAC
	MaxMACLength = 7

	// LocalNetwork addresses the unnumbered network a port is attached to
	LocalNetwork uint16 = 0

	// BroadcastNetwork is the global broadcast network number
	BroadcastNetwork uint16 = 0xFFFF

	// DefaultHopCount is placed in every NPDU carrying a DST field
	DefaultHopCount = 255

	// MinNPDULength is the smallest NPDU every BACnet datalink must carry
	MinNPDULength = 228

	// MaxNetworksPerMessage is how many DNETs fit in one I-Am or Busy message
	MaxNetworksPerMessage = (MinNPDULength - 3) / 2

	// minNPCILength is version plus control
	minNPCILength = 2
)

// BVLCType identifies the BACnet Virtual Link Control flavour
type BVLCType uint8

const (
	BVLCTypeBACnetIP BVLCType = 0x81
)

// BVLCFunction is the BVLC function code
type BVLCFunction uint8

const (
	BVLCResult                BVLCFunction = 0x00
	BVLCForwardedNPDU         BVLCFunction = 0x04
	BVLCOriginalUnicastNPDU   BVLCFunction = 0x0A
	BVLCOriginalBroadcastNPDU BVLCFunction = 0x0B
)

func (f BVLCFunction) String() string {
	names := map[BVLCFunction]string{
		BVLCResult:                "result",
		BVLCForwardedNPDU:         "forwarded-npdu",
		BVLCOriginalUnicastNPDU:   "original-unicast-npdu",
		BVLCOriginalBroadcastNPDU: "original-broadcast-npdu",
	}
	if name, ok := names[f]; ok {
		return name
	}
	return fmt.Sprintf("bvlc-function(0x%02x)", uint8(f))
}

// NPDUControl holds the bits of the NPCI control octet
type NPDUControl uint8

const (
	NPDUControlNetworkLayerMessage NPDUControl = 0x80
	NPDUControlDestSpecifier       NPDUControl = 0x20
	NPDUControlSourceSpecifier     NPDUControl = 0x08
	NPDUControlExpectingReply      NPDUControl = 0x04
	npduControlPriorityMask        NPDUControl = 0x03
)

// Priority is the network priority carried in the low two control bits
type Priority uint8

const (
	PriorityNormal            Priority = 0
	PriorityUrgent            Priority = 1
	PriorityCriticalEquipment Priority = 2
	PriorityLifeSafety        Priority = 3
)

// Valid reports whether p fits in the control octet
func (p Priority) Valid() bool {
	return p <= PriorityLifeSafety
}

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	case PriorityCriticalEquipment:
		return "critical-equipment"
	case PriorityLifeSafety:
		return "life-safety"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// NetworkMessageType is the network layer message type
type NetworkMessageType uint8

const (
	NetworkMessageWhoIsRouterToNetwork          NetworkMessageType = 0x00
	NetworkMessageIAmRouterToNetwork            NetworkMessageType = 0x01
	NetworkMessageICouldBeRouterToNetwork       NetworkMessageType = 0x02
	NetworkMessageRejectMessageToNetwork        NetworkMessageType = 0x03
	NetworkMessageRouterBusyToNetwork           NetworkMessageType = 0x04
	NetworkMessageRouterAvailableToNetwork      NetworkMessageType = 0x05
	NetworkMessageInitializeRoutingTable        NetworkMessageType = 0x06
	NetworkMessageInitializeRoutingTableAck     NetworkMessageType = 0x07
	NetworkMessageEstablishConnectionToNetwork  NetworkMessageType = 0x08
	NetworkMessageDisconnectConnectionToNetwork NetworkMessageType = 0x09

	// Types at or above this value are proprietary and carry a vendor ID
	NetworkMessageVendorBase NetworkMessageType = 0x80
)

// IsProprietary reports whether the message type is followed by a vendor ID
func (t NetworkMessageType) IsProprietary() bool {
	return t >= NetworkMessageVendorBase
}

func (t NetworkMessageType) String() string {
	names := map[NetworkMessageType]string{
		NetworkMessageWhoIsRouterToNetwork:          "who-is-router-to-network",
		NetworkMessageIAmRouterToNetwork:            "i-am-router-to-network",
		NetworkMessageICouldBeRouterToNetwork:       "i-could-be-router-to-network",
		NetworkMessageRejectMessageToNetwork:        "reject-message-to-network",
		NetworkMessageRouterBusyToNetwork:           "router-busy-to-network",
		NetworkMessageRouterAvailableToNetwork:      "router-available-to-network",
		NetworkMessageInitializeRoutingTable:        "initialize-routing-table",
		NetworkMessageInitializeRoutingTableAck:     "initialize-routing-table-ack",
		NetworkMessageEstablishConnectionToNetwork:  "establish-connection-to-network",
		NetworkMessageDisconnectConnectionToNetwork: "disconnect-connection-to-network",
	}
	if name, ok := names[t]; ok {
		return name
	}
	if t.IsProprietary() {
		return fmt.Sprintf("proprietary(0x%02x)", uint8(t))
	}
	return fmt.Sprintf("network-message(0x%02x)", uint8(t))
}

// NetworkRejectReason is the reason octet of a Reject-Message-To-Network
type NetworkRejectReason uint8

const (
	NetworkRejectOther              NetworkRejectReason = 0
	NetworkRejectNoRoute            NetworkRejectReason = 1
	NetworkRejectRouterBusy         NetworkRejectReason = 2
	NetworkRejectUnknownMessageType NetworkRejectReason = 3
	NetworkRejectMessageTooLong     NetworkRejectReason = 4
)

func (r NetworkRejectReason) String() string {
	names := map[NetworkRejectReason]string{
		NetworkRejectOther:              "other",
		NetworkRejectNoRoute:            "no-route-to-network",
		NetworkRejectRouterBusy:         "router-busy",
		NetworkRejectUnknownMessageType: "unknown-message-type",
		NetworkRejectMessageTooLong:     "message-too-long",
	}
	if name, ok := names[r]; ok {
		return name
	}
	return fmt.Sprintf("reject-reason(%d)", uint8(r))
}

// Address is a MAC address qualified by a network number. Net 0 means the
// local network; an empty Addr means broadcast on Net.
type Address struct {
	Net  uint16
	Addr []byte
}

// IsBroadcast reports whether the address is a broadcast on its network
func (a Address) IsBroadcast() bool {
	return len(a.Addr) == 0
}

// IsGlobalBroadcast reports whether the address targets every network
func (a Address) IsGlobalBroadcast() bool {
	return a.Net == BroadcastNetwork
}

// Equal compares network number and MAC
func (a Address) Equal(b Address) bool {
	return a.Net == b.Net && bytes.Equal(a.Addr, b.Addr)
}

// SameMAC compares only the MAC part
func (a Address) SameMAC(b Address) bool {
	return bytes.Equal(a.Addr, b.Addr)
}

// Clone returns a deep copy
func (a Address) Clone() Address {
	return Address{Net: a.Net, Addr: bytes.Clone(a.Addr)}
}

func (a Address) String() string {
	if len(a.Addr) == 0 {
		return fmt.Sprintf("%d:*", a.Net)
	}
	return fmt.Sprintf("%d:%s", a.Net, hex.EncodeToString(a.Addr))
}
