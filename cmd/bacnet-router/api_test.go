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
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/bacnet-router/bacnet"
)

type nullLink struct{}

func (nullLink) SendPDU([]byte, []byte, bacnet.Priority, bool) error { return nil }

func newTestAPI(t *testing.T) (http.Handler, *bacnet.Router) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	r, err := bacnet.NewRouter([]bacnet.PortConfig{
		{Name: "plant", Network: 10, Link: nullLink{}},
		{Name: "office", Network: 20, Link: nullLink{}},
	}, bacnet.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	require.NoError(t, r.Table().UpdateDynamicEntry(30, bacnet.Reachable, 1, []byte{10, 0, 0, 9, 0xBA, 0xC0}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(newMetricsCollector(r.Metrics()))
	return newAPIHandler(r, reg, logger), r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAPIRoutes(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := get(t, h, "/routes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var entries []bacnet.RouteEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Direct)
	assert.Equal(t, uint16(30), entries[2].Network)
	assert.Equal(t, []byte{10, 0, 0, 9, 0xBA, 0xC0}, entries[2].NextHop)
}

func TestAPIPorts(t *testing.T) {
	h, _ := newTestAPI(t)

	var ports []bacnet.PortInfo
	rec := get(t, h, "/ports")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ports))
	require.Len(t, ports, 2)
	assert.Equal(t, "office", ports[1].Name)
	assert.Equal(t, []uint16{20, 30}, ports[1].Reachable)

	var status bacnet.PortStatus
	rec = get(t, h, "/ports/1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, uint16(20), status.Network)
	require.Len(t, status.Routes, 1)
	assert.Equal(t, uint16(30), status.Routes[0].Network)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/ports/7").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/ports/office").Code)
}

func TestAPIPendingAndStats(t *testing.T) {
	h, r := newTestAPI(t)
	assert.True(t, bacnet.IsNoRoute(r.SendPDU(bacnet.Address{Net: 40}, []byte{0x10}, bacnet.PriorityNormal, false)))

	var pending []bacnet.PendingQuery
	rec := get(t, h, "/pending")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, uint16(40), pending[0].Network)

	var stats map[string]any
	rec = get(t, h, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.EqualValues(t, 3, stats["route_entries"])
	assert.EqualValues(t, 1, stats["whois_pending"])
	assert.EqualValues(t, 4, stats["npdus_sent"], "two startup announcements and two queries")
}

func TestAPIMetrics(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bacnet_router_route_entries 3")
	assert.Contains(t, body, "bacnet_router_i_am_router_sent_total 2")
	assert.True(t, strings.Contains(body, "# TYPE bacnet_router_npdus_relayed_total counter"))
}
