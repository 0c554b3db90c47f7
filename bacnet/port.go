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
)

// NoPort excludes nothing when passed as the excluded port of a broadcast
const NoPort = -1

// Datalink transmits NPDUs on the network a port is attached to. An empty
// dst means a local broadcast.
type Datalink interface {
	SendPDU(dst []byte, npdu []byte, prio Priority, expectReply bool) error
}

// Receiver is implemented by datalinks that deliver inbound NPDUs to
// Router.Run. ReceivePDU blocks until an NPDU arrives or ctx is done; any
// other error stops the router.
type Receiver interface {
	ReceivePDU(ctx context.Context) (npdu []byte, srcMAC []byte, err error)
}

// PortConfig describes one router port
type PortConfig struct {
	Name     string
	Network  uint16
	Disabled bool
	Link     Datalink
}

// Port is a router attachment point. Ports are numbered in configuration
// order, skipping disabled ones.
type Port struct {
	ID      int
	Name    string
	Network uint16
	link    Datalink
}

// Kind names the datalink type when it reports one
func (p *Port) Kind() string {
	if k, ok := p.link.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", p.link)
}

// address qualifies a MAC heard on this port with the port's network
func (p *Port) address(mac []byte) Address {
	return Address{Net: p.Network, Addr: mac}
}

// PortInfo is a management view of a port
type PortInfo struct {
	ID        int      `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Network   uint16   `json:"network" yaml:"network"`
	Kind      string   `json:"kind" yaml:"kind"`
	Reachable []uint16 `json:"reachable" yaml:"reachable"`
}

// PortStatus adds the learned routes behind a port to its PortInfo
type PortStatus struct {
	PortInfo `yaml:",inline"`
	Routes   []RouteEntry `json:"routes" yaml:"routes"`
}

// buildPorts validates the port list and numbers the enabled ports
func buildPorts(cfgs []PortConfig, logger *slog.Logger) ([]*Port, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: no ports", ErrInvalidConfig)
	}

	enabled := 0
	for _, cfg := range cfgs {
		if !cfg.Disabled {
			enabled++
		}
	}

	seen := make(map[uint16]bool)
	var ports []*Port
	for i, cfg := range cfgs {
		if cfg.Disabled {
			continue
		}
		if cfg.Link == nil {
			return nil, fmt.Errorf("%w: port %d has no datalink", ErrInvalidConfig, i)
		}
		if cfg.Network == BroadcastNetwork || (cfg.Network == LocalNetwork && enabled > 1) {
			return nil, fmt.Errorf("%w: port %d network %d", ErrInvalidConfig, i, cfg.Network)
		}
		if seen[cfg.Network] {
			return nil, fmt.Errorf("%w: port %d network %d already in use", ErrInvalidConfig, i, cfg.Network)
		}
		seen[cfg.Network] = true

		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("port%d", len(ports))
		}
		ports = append(ports, &Port{
			ID:      len(ports),
			Name:    name,
			Network: cfg.Network,
			link:    cfg.Link,
		})
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: every port is disabled", ErrInvalidConfig)
	}
	if len(ports) == 1 && ports[0].Network != LocalNetwork {
		logger.Warn("network number ignored on a single port node",
			slog.String("port", ports[0].Name), slog.Uint64("network", uint64(ports[0].Network)))
		ports[0].Network = LocalNetwork
	}
	return ports, nil
}
