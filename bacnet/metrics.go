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
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	value int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.Add(1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to 0
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	value int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Metrics holds router counters. They are updated from the dispatch loop
// and read concurrently by management code.
type Metrics struct {
	// Inbound traffic
	NPDUsReceived Counter
	BytesReceived Counter
	DecodeErrors  Counter

	// Dispatch outcomes
	NPDUsDelivered    Counter
	NPDUsRelayed      Counter
	NPDUsDropped      Counter
	HopCountExhausted Counter

	// Outbound traffic
	NPDUsSent    Counter
	BytesSent    Counter
	SendFailures Counter

	// Discovery
	WhoIsSent         Counter
	WhoIsReceived     Counter
	IAmSent           Counter
	IAmReceived       Counter
	RejectsSent       Counter
	RejectsReceived   Counter
	BusySent          Counter
	AvailableSent     Counter
	BusyReceived      Counter
	AvailableReceived Counter

	// Table state
	RouteEntries Gauge
	WhoisPending Gauge

	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last activity time
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since metrics started
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		NPDUsReceived: m.NPDUsReceived.Value(),
		BytesReceived: m.BytesReceived.Value(),
		DecodeErrors:  m.DecodeErrors.Value(),

		NPDUsDelivered:    m.NPDUsDelivered.Value(),
		NPDUsRelayed:      m.NPDUsRelayed.Value(),
		NPDUsDropped:      m.NPDUsDropped.Value(),
		HopCountExhausted: m.HopCountExhausted.Value(),

		NPDUsSent:    m.NPDUsSent.Value(),
		BytesSent:    m.BytesSent.Value(),
		SendFailures: m.SendFailures.Value(),

		WhoIsSent:         m.WhoIsSent.Value(),
		WhoIsReceived:     m.WhoIsReceived.Value(),
		IAmSent:           m.IAmSent.Value(),
		IAmReceived:       m.IAmReceived.Value(),
		RejectsSent:       m.RejectsSent.Value(),
		RejectsReceived:   m.RejectsReceived.Value(),
		BusySent:          m.BusySent.Value(),
		AvailableSent:     m.AvailableSent.Value(),
		BusyReceived:      m.BusyReceived.Value(),
		AvailableReceived: m.AvailableReceived.Value(),

		RouteEntries: m.RouteEntries.Value(),
		WhoisPending: m.WhoisPending.Value(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration `json:"uptime"`

	NPDUsReceived int64 `json:"npdus_received"`
	BytesReceived int64 `json:"bytes_received"`
	DecodeErrors  int64 `json:"decode_errors"`

	NPDUsDelivered    int64 `json:"npdus_delivered"`
	NPDUsRelayed      int64 `json:"npdus_relayed"`
	NPDUsDropped      int64 `json:"npdus_dropped"`
	HopCountExhausted int64 `json:"hop_count_exhausted"`

	NPDUsSent    int64 `json:"npdus_sent"`
	BytesSent    int64 `json:"bytes_sent"`
	SendFailures int64 `json:"send_failures"`

	WhoIsSent         int64 `json:"who_is_sent"`
	WhoIsReceived     int64 `json:"who_is_received"`
	IAmSent           int64 `json:"i_am_sent"`
	IAmReceived       int64 `json:"i_am_received"`
	RejectsSent       int64 `json:"rejects_sent"`
	RejectsReceived   int64 `json:"rejects_received"`
	BusySent          int64 `json:"busy_sent"`
	AvailableSent     int64 `json:"available_sent"`
	BusyReceived      int64 `json:"busy_received"`
	AvailableReceived int64 `json:"available_received"`

	RouteEntries int64 `json:"route_entries"`
	WhoisPending int64 `json:"whois_pending"`

	LastActivity time.Time `json:"last_activity"`
}
