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
	"fmt"
	"net"
)

const (
	bvlcHeaderLength = 4

	// BIPAddressLength is the size of a B/IP MAC: IPv4 address then UDP port
	BIPAddressLength = 6
)

// BVLCFrame is a decoded BACnet/IP datagram
type BVLCFrame struct {
	Function BVLCFunction
	// Origin is the B/IP address of the original sender of a Forwarded-NPDU
	Origin []byte
	NPDU   []byte
}

// EncodeBVLC wraps an NPDU in a BVLC header
func EncodeBVLC(function BVLCFunction, npdu []byte) ([]byte, error) {
	total := bvlcHeaderLength + len(npdu)
	if total > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBVLC, total)
	}
	buf := make([]byte, bvlcHeaderLength, total)
	buf[0] = byte(BVLCTypeBACnetIP)
	buf[1] = byte(function)
	binary.BigEndian.PutUint16(buf[2:], uint16(total))
	return append(buf, npdu...), nil
}

// DecodeBVLC parses a BACnet/IP datagram. The NPDU of functions that carry
// none is empty.
func DecodeBVLC(data []byte) (*BVLCFrame, error) {
	if len(data) < bvlcHeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBVLC, len(data))
	}
	if BVLCType(data[0]) != BVLCTypeBACnetIP {
		return nil, fmt.Errorf("%w: type 0x%02x", ErrInvalidBVLC, data[0])
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length != len(data) {
		return nil, fmt.Errorf("%w: length field %d, datagram %d", ErrInvalidBVLC, length, len(data))
	}

	f := &BVLCFrame{Function: BVLCFunction(data[1])}
	body := data[bvlcHeaderLength:]
	switch f.Function {
	case BVLCForwardedNPDU:
		if len(body) < BIPAddressLength {
			return nil, fmt.Errorf("%w: forwarded NPDU without origin", ErrInvalidBVLC)
		}
		f.Origin = body[:BIPAddressLength]
		f.NPDU = body[BIPAddressLength:]
	case BVLCOriginalUnicastNPDU, BVLCOriginalBroadcastNPDU:
		f.NPDU = body
	}
	return f, nil
}

// EncodeBIPAddress converts a UDP address to a 6 byte B/IP MAC
func EncodeBIPAddress(addr *net.UDPAddr) ([]byte, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: %s is not IPv4", ErrInvalidAddress, addr)
	}
	mac := make([]byte, BIPAddressLength)
	copy(mac, ip4)
	binary.BigEndian.PutUint16(mac[4:], uint16(addr.Port))
	return mac, nil
}

// DecodeBIPAddress converts a 6 byte B/IP MAC to a UDP address
func DecodeBIPAddress(mac []byte) (*net.UDPAddr, error) {
	if len(mac) != BIPAddressLength {
		return nil, fmt.Errorf("%w: B/IP MAC of %d bytes", ErrInvalidAddress, len(mac))
	}
	return &net.UDPAddr{
		IP:   net.IPv4(mac[0], mac[1], mac[2], mac[3]),
		Port: int(binary.BigEndian.Uint16(mac[4:])),
	}, nil
}
