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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/bacnet-router/bacnet"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router",
	Long: `Open every configured BACnet/IP port, announce the networks reachable
through the router and relay traffic until interrupted.

Example config:
  ports:
    - name: plant
      net: 10
      address: 192.168.1.2:47808
      broadcast: 192.168.1.255:47808
    - name: office
      net: 20
      address: 10.0.0.2:47808
  routes:
    - dnet: 30
      port: 1
      next_hop: 10.0.0.9:47808`,
	RunE: runRouter,
}

func loadConfig() (*bacnet.Config, error) {
	var cfg bacnet.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// openLinks opens a BACnet/IP link per enabled port. The caller closes
// the returned links.
func openLinks(ctx context.Context, cfg *bacnet.Config) ([]bacnet.PortConfig, []*bacnet.BIPLink, error) {
	var (
		ports []bacnet.PortConfig
		links []*bacnet.BIPLink
	)
	for _, spec := range cfg.Ports {
		if !spec.Enabled() {
			ports = append(ports, bacnet.PortConfig{Name: spec.Name, Network: spec.Net, Disabled: true})
			continue
		}
		link := bacnet.NewBIPLink(bacnet.BIPConfig{
			Address:   spec.Address,
			Broadcast: spec.Broadcast,
			Logger:    logger.With(slog.String("port", spec.Name)),
		})
		if err := link.Open(ctx); err != nil {
			for _, l := range links {
				_ = l.Close()
			}
			return nil, nil, fmt.Errorf("port %s: %w", spec.Name, err)
		}
		links = append(links, link)
		ports = append(ports, bacnet.PortConfig{Name: spec.Name, Network: spec.Net, Link: link})
	}
	return ports, links, nil
}

// logAPDU stands in for an application layer: it records what arrived
// and never replies.
func logAPDU(apdu []byte, expectReply bool, src bacnet.Address) []byte {
	if len(apdu) == 0 {
		return nil
	}
	logger.Debug("APDU received",
		slog.String("from", src.String()), slog.Int("pdu_type", int(apdu[0]>>4)),
		slog.Int("length", len(apdu)), slog.Bool("expect_reply", expectReply))
	return nil
}

func runRouter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ports, links, err := openLinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, l := range links {
			_ = l.Close()
		}
	}()

	router, err := bacnet.NewRouter(ports,
		bacnet.WithLogger(logger),
		bacnet.WithAPDUHandler(logAPDU),
	)
	if err != nil {
		return err
	}
	routes, err := cfg.StaticRoutes()
	if err != nil {
		return err
	}
	if err := router.ApplyStaticRoutes(routes); err != nil {
		return err
	}
	if err := router.Start(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(newMetricsCollector(router.Metrics()))
	srv := &http.Server{
		Addr:              viper.GetString("api"),
		Handler:           newAPIHandler(router, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("management API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("management API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("router stopped", slog.Any("metrics", router.Metrics().Snapshot()))
	return err
}
