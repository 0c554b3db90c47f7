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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeo-scada/bacnet-router/bacnet"
)

// apiServer serves read-only views of a running router
type apiServer struct {
	router *bacnet.Router
	logger *slog.Logger
}

func newAPIHandler(r *bacnet.Router, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	s := &apiServer{router: r, logger: logger}

	mux := chi.NewRouter()
	mux.Get("/routes", s.routes)
	mux.Get("/ports", s.ports)
	mux.Get("/ports/{id}", s.port)
	mux.Get("/pending", s.pending)
	mux.Get("/stats", s.stats)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func (s *apiServer) routes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Table().Entries())
}

func (s *apiServer) ports(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Ports())
}

func (s *apiServer) port(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "port id must be a number", http.StatusBadRequest)
		return
	}
	status, err := s.router.PortStatus(id)
	if errors.Is(err, bacnet.ErrInvalidPort) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) pending(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Table().PendingQueries())
}

func (s *apiServer) stats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Metrics().Snapshot())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write API response", slog.Any("error", err))
	}
}
