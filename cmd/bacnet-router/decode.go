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

package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacnet-router/bacnet"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode an NPDU header",
	Long: `Decode the NPCI of an NPDU given as hex. A leading BACnet/IP BVLC
header is recognised and stripped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := NewFormatter(viper.GetString("output"))
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(args, " ")), ""))
		if err != nil {
			return fmt.Errorf("invalid hex: %w", err)
		}

		info, err := describeNPDU(data)
		if err != nil {
			return err
		}
		return f.Print(info, func(f *Formatter) {
			f.PrintKeyValue(info, decodeOrder)
		})
	},
}

var decodeOrder = []string{
	"bvlc", "version", "priority", "expect_reply", "destination", "hop_count", "source",
	"message_type", "vendor_id", "networks", "reject_reason", "payload",
}

// describeNPDU decodes data into printable fields keyed as in decodeOrder
func describeNPDU(data []byte) (map[string]any, error) {
	info := make(map[string]any)
	if len(data) > 0 && bacnet.BVLCType(data[0]) == bacnet.BVLCTypeBACnetIP {
		frame, err := bacnet.DecodeBVLC(data)
		if err != nil {
			return nil, err
		}
		info["bvlc"] = frame.Function.String()
		data = frame.NPDU
	}

	n, err := bacnet.DecodeNPCI(data)
	if err != nil {
		return nil, err
	}
	payload := data[n.PayloadOffset:]

	info["version"] = n.Version
	info["priority"] = n.Priority().String()
	info["expect_reply"] = n.ExpectingReply()
	if n.HasDestination() {
		info["destination"] = n.Destination.String()
		info["hop_count"] = data[n.HopCountOffset]
	}
	if n.HasSource() {
		info["source"] = n.Source.String()
	}
	if !n.IsNetworkMessage() {
		info["payload"] = hex.EncodeToString(payload)
		return info, nil
	}

	info["message_type"] = n.MessageType.String()
	if n.MessageType.IsProprietary() {
		info["vendor_id"] = n.VendorID
	}
	switch n.MessageType {
	case bacnet.NetworkMessageRejectMessageToNetwork:
		if len(payload) == 3 {
			info["reject_reason"] = bacnet.NetworkRejectReason(payload[0]).String()
			info["networks"] = []uint16{binary.BigEndian.Uint16(payload[1:])}
			return info, nil
		}
	case bacnet.NetworkMessageWhoIsRouterToNetwork,
		bacnet.NetworkMessageIAmRouterToNetwork,
		bacnet.NetworkMessageRouterBusyToNetwork,
		bacnet.NetworkMessageRouterAvailableToNetwork:
		if len(payload)%2 == 0 {
			nets := make([]uint16, 0, len(payload)/2)
			for i := 0; i < len(payload); i += 2 {
				nets = append(nets, binary.BigEndian.Uint16(payload[i:]))
			}
			info["networks"] = nets
			return info, nil
		}
	}
	info["payload"] = hex.EncodeToString(payload)
	return info, nil
}
