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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeo-scada/bacnet-router/bacnet"
)

type metricDef struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(s bacnet.MetricsSnapshot) int64
}

// metricsCollector exports router counters to Prometheus
type metricsCollector struct {
	metrics *bacnet.Metrics
	defs    []metricDef
}

func newMetricsCollector(m *bacnet.Metrics) *metricsCollector {
	counter := func(name, help string, fn func(s bacnet.MetricsSnapshot) int64) metricDef {
		return metricDef{
			desc:      prometheus.NewDesc("bacnet_router_"+name+"_total", help, nil, nil),
			valueType: prometheus.CounterValue,
			value:     fn,
		}
	}
	gauge := func(name, help string, fn func(s bacnet.MetricsSnapshot) int64) metricDef {
		return metricDef{
			desc:      prometheus.NewDesc("bacnet_router_"+name, help, nil, nil),
			valueType: prometheus.GaugeValue,
			value:     fn,
		}
	}

	return &metricsCollector{
		metrics: m,
		defs: []metricDef{
			counter("npdus_received", "NPDUs received on all ports.", func(s bacnet.MetricsSnapshot) int64 { return s.NPDUsReceived }),
			counter("bytes_received", "NPDU bytes received on all ports.", func(s bacnet.MetricsSnapshot) int64 { return s.BytesReceived }),
			counter("decode_errors", "NPDUs dropped because their header was malformed.", func(s bacnet.MetricsSnapshot) int64 { return s.DecodeErrors }),
			counter("npdus_delivered", "NPDUs handed to the local application.", func(s bacnet.MetricsSnapshot) int64 { return s.NPDUsDelivered }),
			counter("npdus_relayed", "NPDUs forwarded to another port.", func(s bacnet.MetricsSnapshot) int64 { return s.NPDUsRelayed }),
			counter("npdus_dropped", "NPDUs dropped by the dispatch loop.", func(s bacnet.MetricsSnapshot) int64 { return s.NPDUsDropped }),
			counter("hop_count_exhausted", "NPDUs dropped when their hop count reached zero.", func(s bacnet.MetricsSnapshot) int64 { return s.HopCountExhausted }),
			counter("npdus_sent", "NPDUs written to a datalink.", func(s bacnet.MetricsSnapshot) int64 { return s.NPDUsSent }),
			counter("bytes_sent", "NPDU bytes written to a datalink.", func(s bacnet.MetricsSnapshot) int64 { return s.BytesSent }),
			counter("send_failures", "Datalink write failures.", func(s bacnet.MetricsSnapshot) int64 { return s.SendFailures }),
			counter("who_is_router_sent", "Who-Is-Router-To-Network messages sent.", func(s bacnet.MetricsSnapshot) int64 { return s.WhoIsSent }),
			counter("who_is_router_received", "Who-Is-Router-To-Network messages received.", func(s bacnet.MetricsSnapshot) int64 { return s.WhoIsReceived }),
			counter("i_am_router_sent", "I-Am-Router-To-Network messages sent.", func(s bacnet.MetricsSnapshot) int64 { return s.IAmSent }),
			counter("i_am_router_received", "I-Am-Router-To-Network messages received.", func(s bacnet.MetricsSnapshot) int64 { return s.IAmReceived }),
			counter("rejects_sent", "Reject-Message-To-Network messages sent.", func(s bacnet.MetricsSnapshot) int64 { return s.RejectsSent }),
			counter("rejects_received", "Reject-Message-To-Network messages received.", func(s bacnet.MetricsSnapshot) int64 { return s.RejectsReceived }),
			counter("router_busy_sent", "Router-Busy-To-Network messages sent.", func(s bacnet.MetricsSnapshot) int64 { return s.BusySent }),
			counter("router_available_sent", "Router-Available-To-Network messages sent.", func(s bacnet.MetricsSnapshot) int64 { return s.AvailableSent }),
			counter("router_busy_received", "Router-Busy-To-Network messages received.", func(s bacnet.MetricsSnapshot) int64 { return s.BusyReceived }),
			counter("router_available_received", "Router-Available-To-Network messages received.", func(s bacnet.MetricsSnapshot) int64 { return s.AvailableReceived }),
			gauge("route_entries", "Entries in the routing table.", func(s bacnet.MetricsSnapshot) int64 { return s.RouteEntries }),
			gauge("whois_pending", "Networks with an unanswered Who-Is-Router-To-Network.", func(s bacnet.MetricsSnapshot) int64 { return s.WhoisPending }),
		},
	}
}

// Describe implements prometheus.Collector
func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.defs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector
func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	for _, d := range c.defs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valueType, float64(d.value(s)))
	}
}
