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
	"encoding/binary"
	"fmt"
)

// NPCI is the decoded network layer header of an NPDU
type NPCI struct {
	Version     uint8
	Control     NPDUControl
	Destination Address
	Source      Address
	HopCount    uint8
	// HopCountOffset locates the hop count octet when a DST field is present
	HopCountOffset int
	MessageType    NetworkMessageType
	VendorID       uint16
	// PayloadOffset is the header length
	PayloadOffset int
}

// IsNetworkMessage reports whether the NPDU carries a network layer message
func (n *NPCI) IsNetworkMessage() bool {
	return n.Control&NPDUControlNetworkLayerMessage != 0
}

// HasDestination reports whether the DST field is present
func (n *NPCI) HasDestination() bool {
	return n.Control&NPDUControlDestSpecifier != 0
}

// HasSource reports whether the SRC field is present
func (n *NPCI) HasSource() bool {
	return n.Control&NPDUControlSourceSpecifier != 0
}

// ExpectingReply reports the data-expecting-reply bit
func (n *NPCI) ExpectingReply() bool {
	return n.Control&NPDUControlExpectingReply != 0
}

// Priority returns the network priority
func (n *NPCI) Priority() Priority {
	return Priority(n.Control & npduControlPriorityMask)
}

// BuildNPCI computes the header for an APDU carrying NPDU. dst is only
// encoded when its network is nonzero and src only when it has both a
// network and a MAC.
func BuildNPCI(dst, src *Address, prio Priority, expectReply bool) (*NPCI, error) {
	return buildNPCI(dst, src, prio, expectReply, nil, 0)
}

// BuildNetworkMessageNPCI computes the header for a network layer message
func BuildNetworkMessageNPCI(dst, src *Address, prio Priority, expectReply bool,
	msgType NetworkMessageType, vendorID uint16) (*NPCI, error) {
	return buildNPCI(dst, src, prio, expectReply, &msgType, vendorID)
}

func buildNPCI(dst, src *Address, prio Priority, expectReply bool,
	msgType *NetworkMessageType, vendorID uint16) (*NPCI, error) {
	if !prio.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, prio)
	}
	if dst != nil {
		if len(dst.Addr) > MaxMACLength {
			return nil, fmt.Errorf("%w: DLEN %d", ErrInvalidAddress, len(dst.Addr))
		}
		if dst.Net == BroadcastNetwork && len(dst.Addr) != 0 {
			return nil, fmt.Errorf("%w: global broadcast with DLEN %d", ErrInvalidAddress, len(dst.Addr))
		}
	}
	if src != nil && len(src.Addr) > MaxMACLength {
		return nil, fmt.Errorf("%w: SLEN %d", ErrInvalidAddress, len(src.Addr))
	}

	n := &NPCI{
		Version:  ProtocolVersion,
		Control:  NPDUControl(prio),
		HopCount: DefaultHopCount,
	}
	if expectReply {
		n.Control |= NPDUControlExpectingReply
	}

	length := minNPCILength
	// SRC is sized first although it follows DST on the wire
	if src != nil && src.Net != 0 && len(src.Addr) != 0 {
		n.Control |= NPDUControlSourceSpecifier
		n.Source = src.Clone()
		length += 3 + len(src.Addr)
	}
	if dst != nil && dst.Net != 0 {
		n.Control |= NPDUControlDestSpecifier
		n.Destination = dst.Clone()
		n.HopCountOffset = length + 3 + len(dst.Addr)
		length = n.HopCountOffset + 1
	}
	if msgType != nil {
		n.Control |= NPDUControlNetworkLayerMessage
		n.MessageType = *msgType
		length++
		if msgType.IsProprietary() {
			n.VendorID = vendorID
			length += 2
		}
	}
	n.PayloadOffset = length

	return n, nil
}

// EncodeNPCI writes the header into the front of buf and returns its length
func EncodeNPCI(buf []byte, n *NPCI) (int, error) {
	if len(buf) < n.PayloadOffset {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n.PayloadOffset, len(buf))
	}

	buf[0] = n.Version
	buf[1] = byte(n.Control)
	off := minNPCILength

	if n.HasDestination() {
		binary.BigEndian.PutUint16(buf[off:], n.Destination.Net)
		buf[off+2] = byte(len(n.Destination.Addr))
		off += 3
		off += copy(buf[off:], n.Destination.Addr)
	}
	if n.HasSource() {
		binary.BigEndian.PutUint16(buf[off:], n.Source.Net)
		buf[off+2] = byte(len(n.Source.Addr))
		off += 3
		off += copy(buf[off:], n.Source.Addr)
	}
	if n.HasDestination() {
		buf[off] = n.HopCount
		off++
	}
	if n.IsNetworkMessage() {
		buf[off] = byte(n.MessageType)
		off++
		if n.MessageType.IsProprietary() {
			binary.BigEndian.PutUint16(buf[off:], n.VendorID)
			off += 2
		}
	}

	if off != n.PayloadOffset {
		return 0, fmt.Errorf("%w: encoded %d bytes, header says %d", ErrInvalidNPDU, off, n.PayloadOffset)
	}
	return off, nil
}

// DecodeNPCI parses and validates the header at the front of pdu
func DecodeNPCI(pdu []byte) (*NPCI, error) {
	if len(pdu) < minNPCILength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidNPDU, len(pdu))
	}
	if pdu[0] != ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidNPDU, pdu[0])
	}

	n := &NPCI{
		Version: pdu[0],
		Control: NPDUControl(pdu[1]),
	}
	off := minNPCILength

	short := func(need int) error {
		return fmt.Errorf("%w: header needs %d bytes, have %d", ErrInvalidNPDU, need, len(pdu))
	}

	if n.HasDestination() {
		if len(pdu) < off+3 {
			return nil, short(off + 3)
		}
		net := binary.BigEndian.Uint16(pdu[off:])
		if net == 0 {
			return nil, fmt.Errorf("%w: DNET 0", ErrInvalidNPDU)
		}
		dlen := int(pdu[off+2])
		off += 3
		if dlen > MaxMACLength {
			return nil, fmt.Errorf("%w: DLEN %d", ErrInvalidNPDU, dlen)
		}
		if net == BroadcastNetwork && dlen != 0 {
			return nil, fmt.Errorf("%w: global broadcast with DLEN %d", ErrInvalidNPDU, dlen)
		}
		if len(pdu) < off+dlen {
			return nil, short(off + dlen)
		}
		n.Destination = Address{Net: net}
		if dlen > 0 {
			n.Destination.Addr = bytes.Clone(pdu[off : off+dlen])
		}
		off += dlen
	}

	if n.HasSource() {
		if len(pdu) < off+3 {
			return nil, short(off + 3)
		}
		net := binary.BigEndian.Uint16(pdu[off:])
		if net == 0 || net == BroadcastNetwork {
			return nil, fmt.Errorf("%w: SNET %d", ErrInvalidNPDU, net)
		}
		slen := int(pdu[off+2])
		off += 3
		if slen == 0 || slen > MaxMACLength {
			return nil, fmt.Errorf("%w: SLEN %d", ErrInvalidNPDU, slen)
		}
		if len(pdu) < off+slen {
			return nil, short(off + slen)
		}
		n.Source = Address{Net: net, Addr: bytes.Clone(pdu[off : off+slen])}
		off += slen
	}

	if n.HasDestination() {
		if len(pdu) < off+1 {
			return nil, short(off + 1)
		}
		n.HopCountOffset = off
		n.HopCount = pdu[off]
		off++
	}

	if n.IsNetworkMessage() {
		if len(pdu) < off+1 {
			return nil, short(off + 1)
		}
		n.MessageType = NetworkMessageType(pdu[off])
		off++
		if n.MessageType.IsProprietary() {
			if len(pdu) < off+2 {
				return nil, short(off + 2)
			}
			n.VendorID = binary.BigEndian.Uint16(pdu[off:])
			off += 2
		}
	}

	n.PayloadOffset = off
	return n, nil
}

// AddSourceField inserts a SRC field into an NPDU that has none, using the
// buffer headroom. The field lands directly before the hop count octet.
func AddSourceField(b *Buffer, src Address) error {
	if len(src.Addr) == 0 || len(src.Addr) > MaxMACLength {
		return fmt.Errorf("%w: SLEN %d", ErrInvalidAddress, len(src.Addr))
	}
	if src.Net == 0 || src.Net == BroadcastNetwork {
		return fmt.Errorf("%w: SNET %d", ErrInvalidAddress, src.Net)
	}

	pdu := b.Bytes()
	if len(pdu) <= minNPCILength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidNPDU, len(pdu))
	}
	if pdu[0] != ProtocolVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidNPDU, pdu[0])
	}
	control := NPDUControl(pdu[1])
	if control&NPDUControlSourceSpecifier != 0 {
		return ErrSourcePresent
	}

	off := minNPCILength
	if control&NPDUControlDestSpecifier != 0 {
		if len(pdu) < 5 {
			return fmt.Errorf("%w: truncated DST", ErrInvalidNPDU)
		}
		off = 5 + int(pdu[4])
		if off > len(pdu) {
			return fmt.Errorf("%w: truncated DST", ErrInvalidNPDU)
		}
	}

	grow := 3 + len(src.Addr)
	out, err := b.Push(grow)
	if err != nil {
		return err
	}
	copy(out[:off], out[grow:grow+off])
	binary.BigEndian.PutUint16(out[off:], src.Net)
	out[off+2] = byte(len(src.Addr))
	copy(out[off+3:], src.Addr)
	out[1] |= byte(NPDUControlSourceSpecifier)

	return nil
}

// RemoveDestinationField strips the DST field and the hop count octet, as
// done before handing an NPDU to its directly connected destination.
func RemoveDestinationField(b *Buffer) error {
	pdu := b.Bytes()
	if len(pdu) < 6 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidNPDU, len(pdu))
	}
	if pdu[0] != ProtocolVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidNPDU, pdu[0])
	}
	control := NPDUControl(pdu[1])
	if control&NPDUControlDestSpecifier == 0 {
		return ErrDestinationAbsent
	}
	if pdu[4] > MaxMACLength {
		return fmt.Errorf("%w: DLEN %d", ErrInvalidNPDU, pdu[4])
	}

	dstLen := 3 + int(pdu[4])
	srcOff := minNPCILength + dstLen
	srcLen := 0
	if control&NPDUControlSourceSpecifier != 0 {
		if len(pdu) <= srcOff+2 {
			return fmt.Errorf("%w: truncated SRC", ErrInvalidNPDU)
		}
		slen := int(pdu[srcOff+2])
		if slen == 0 || slen > MaxMACLength {
			return fmt.Errorf("%w: SLEN %d", ErrInvalidNPDU, slen)
		}
		srcLen = 3 + slen
	}
	if len(pdu) < srcOff+srcLen+1 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidNPDU, len(pdu))
	}

	copy(pdu[srcOff+1:], pdu[srcOff:srcOff+srcLen])
	pdu[srcOff-1] = pdu[0]
	pdu[srcOff] = byte(control &^ NPDUControlDestSpecifier)

	return b.Pull(dstLen + 1)
}
