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
	"log/slog"
)

// APDUHandler receives APDUs addressed to this node. src is the original
// sender, qualified by its network when the NPDU came through a router.
// A non-nil return value is sent back to src as the reply.
type APDUHandler func(apdu []byte, expectReply bool, src Address) []byte

// routerOptions holds configuration shared by the router and its table
type routerOptions struct {
	// Collaborators
	clock       Clock
	apduHandler APDUHandler

	// Table limits
	maxRouteEntries int
	maxWhoisLog     int

	// Reactor
	inboxSize int

	// Observability
	logger  *slog.Logger
	metrics *Metrics
}

// defaultOptions returns the default router options
func defaultOptions() *routerOptions {
	return &routerOptions{
		clock:           NewMonotonicClock(),
		maxRouteEntries: MaxRouteEntries,
		maxWhoisLog:     MaxWhoisLog,
		inboxSize:       64,
		logger:          slog.Default(),
		metrics:         NewMetrics(),
	}
}

// Option is a functional option for configuring the router
type Option func(*routerOptions)

// WithClock sets the seconds clock used to age routes
func WithClock(c Clock) Option {
	return func(o *routerOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithAPDUHandler sets the handler for APDUs delivered to this node
func WithAPDUHandler(h APDUHandler) Option {
	return func(o *routerOptions) {
		o.apduHandler = h
	}
}

// WithMaxRouteEntries bounds the routing table
func WithMaxRouteEntries(n int) Option {
	return func(o *routerOptions) {
		if n > 0 {
			o.maxRouteEntries = n
		}
	}
}

// WithMaxWhoisLog bounds the number of pending Who-Is-Router queries
func WithMaxWhoisLog(n int) Option {
	return func(o *routerOptions) {
		if n > 0 {
			o.maxWhoisLog = n
		}
	}
}

// WithInboxSize sets how many received NPDUs may queue for the dispatch loop
func WithInboxSize(n int) Option {
	return func(o *routerOptions) {
		if n >= 0 {
			o.inboxSize = n
		}
	}
}

// WithLogger sets the logger for the router
func WithLogger(logger *slog.Logger) Option {
	return func(o *routerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics makes the router count into m
func WithMetrics(m *Metrics) Option {
	return func(o *routerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}
