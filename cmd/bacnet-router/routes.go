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
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacnet-router/bacnet"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the routing table of a running router",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := NewFormatter(viper.GetString("output"))
		if err != nil {
			return err
		}
		var entries []bacnet.RouteEntry
		if err := fetchAPI(cmd.Context(), "/routes", &entries); err != nil {
			return err
		}
		return f.Print(entries, func(f *Formatter) {
			f.PrintTable([]string{"NETWORK", "PORT", "TYPE", "STATE", "NEXT HOP"}, routeRows(entries))
		})
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show the ports of a running router",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := NewFormatter(viper.GetString("output"))
		if err != nil {
			return err
		}
		var ports []bacnet.PortInfo
		if err := fetchAPI(cmd.Context(), "/ports", &ports); err != nil {
			return err
		}
		return f.Print(ports, func(f *Formatter) {
			rows := make([][]string, 0, len(ports))
			for _, p := range ports {
				rows = append(rows, []string{
					strconv.Itoa(p.ID), p.Name, strconv.Itoa(int(p.Network)), p.Kind, joinNetworks(p.Reachable),
				})
			}
			f.PrintTable([]string{"ID", "NAME", "NETWORK", "KIND", "REACHABLE"}, rows)
		})
	},
}

func routeRows(entries []bacnet.RouteEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		kind, state, hop := "learned", "reachable", formatMAC(e.NextHop)
		if e.Direct {
			kind, hop = "direct", "-"
		}
		if e.Busy {
			state = "busy"
		}
		rows = append(rows, []string{strconv.Itoa(int(e.Network)), strconv.Itoa(e.Port), kind, state, hop})
	}
	return rows
}

// formatMAC shows a 6 byte MAC as a B/IP address and anything else as hex
func formatMAC(mac []byte) string {
	if addr, err := bacnet.DecodeBIPAddress(mac); err == nil {
		return addr.String()
	}
	return hex.EncodeToString(mac)
}

func joinNetworks(nets []uint16) string {
	parts := make([]string, 0, len(nets))
	for _, n := range nets {
		parts = append(parts, strconv.Itoa(int(n)))
	}
	return strings.Join(parts, ",")
}

func fetchAPI(ctx context.Context, path string, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+viper.GetString("api")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query router: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query router: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
