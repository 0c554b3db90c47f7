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
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// Config is the on-disk router configuration
type Config struct {
	Ports  []PortSpec  `mapstructure:"ports" json:"ports" yaml:"ports"`
	Routes []RouteSpec `mapstructure:"routes" json:"routes" yaml:"routes"`
}

// PortSpec configures one BACnet/IP port
type PortSpec struct {
	Name      string `mapstructure:"name" json:"name" yaml:"name"`
	Enable    *bool  `mapstructure:"enable" json:"enable,omitempty" yaml:"enable,omitempty"`
	Net       uint16 `mapstructure:"net" json:"net" yaml:"net"`
	Address   string `mapstructure:"address" json:"address" yaml:"address"`
	Broadcast string `mapstructure:"broadcast" json:"broadcast,omitempty" yaml:"broadcast,omitempty"`
}

// Enabled reports whether the port is in use; ports are enabled by default
func (s PortSpec) Enabled() bool {
	return s.Enable == nil || *s.Enable
}

// RouteSpec is a static route. Port indexes the enabled ports.
type RouteSpec struct {
	Network uint16 `mapstructure:"dnet" json:"dnet" yaml:"dnet"`
	Port    int    `mapstructure:"port" json:"port" yaml:"port"`
	NextHop string `mapstructure:"next_hop" json:"next_hop" yaml:"next_hop"`
}

// Validate checks the parts of the configuration NewRouter cannot see
func (c *Config) Validate() error {
	enabled := 0
	attached := make(map[uint16]bool)
	for i, p := range c.Ports {
		if !p.Enabled() {
			continue
		}
		enabled++
		attached[p.Net] = true
		if p.Address == "" {
			return fmt.Errorf("%w: port %d has no address", ErrInvalidConfig, i)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: no enabled port", ErrInvalidConfig)
	}
	for i, r := range c.Routes {
		if r.Port < 0 || r.Port >= enabled {
			return fmt.Errorf("%w: route %d uses port %d", ErrInvalidConfig, i, r.Port)
		}
		if r.Network == LocalNetwork || r.Network == BroadcastNetwork {
			return fmt.Errorf("%w: route %d to network %d", ErrInvalidConfig, i, r.Network)
		}
		if attached[r.Network] {
			return fmt.Errorf("%w: route %d to directly attached network %d", ErrInvalidConfig, i, r.Network)
		}
		if _, err := ParseMAC(r.NextHop); err != nil {
			return fmt.Errorf("%w: route %d: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// StaticRoutes converts the configured routes for Router.ApplyStaticRoutes
func (c *Config) StaticRoutes() ([]StaticRoute, error) {
	routes := make([]StaticRoute, 0, len(c.Routes))
	for i, r := range c.Routes {
		mac, err := ParseMAC(r.NextHop)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, StaticRoute{Network: r.Network, Port: r.Port, NextHop: mac})
	}
	return routes, nil
}

// ParseMAC reads a next hop written either as "ip:port" (a B/IP MAC) or as
// hex bytes, optionally separated by ':' or '-'.
func ParseMAC(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil && net.ParseIP(host) != nil {
		addr, err := net.ResolveUDPAddr("udp4", s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return EncodeBIPAddress(addr)
	}

	clean := strings.NewReplacer(":", "", "-", "", "0x", "").Replace(strings.ToLower(s))
	mac, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	if len(mac) == 0 || len(mac) > MaxMACLength {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrInvalidAddress, s, len(mac))
	}
	return mac, nil
}
