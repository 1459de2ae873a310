package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/driver"
	"github.com/bfte-project/bfte/internal/config"
	"github.com/bfte-project/bfte/internal/telemetry"
	"github.com/bfte-project/bfte/module"
	"github.com/bfte-project/bfte/store/pebble"
	"github.com/bfte-project/bfte/transport"
)

var (
	production  bool
	metricsAddr string
)

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "run this peer's consensus driver",
		RunE:  runDriver,
	}
	c.Flags().BoolVar(&production, "production", false, "use JSON structured logging instead of console output")
	c.Flags().StringVar(&metricsAddr, "metrics-address", ":26701", "address the Prometheus /metrics endpoint listens on")
	return c
}

func runDriver(cmd *cobra.Command, args []string) error {
	fc, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(production)
	if err != nil {
		return fmt.Errorf("bfted: build logger: %w", err)
	}
	defer logger.Sync()

	key, err := fc.SigningKey()
	if err != nil {
		return err
	}

	driverCfg, err := fc.DriverConfig()
	if err != nil {
		return err
	}

	st, err := pebble.Open(driverCfg.StoreDir)
	if err != nil {
		return fmt.Errorf("bfted: open store: %w", err)
	}
	defer st.Close()

	genesis, err := fc.GenesisParams(map[consensus.ModuleId]params.ModuleVersion{
		module.ParamsCtrlModuleId: 1,
	})
	if err != nil {
		return err
	}

	addresses, err := fc.Addresses()
	if err != nil {
		return err
	}
	client := transport.NewClient(http.DefaultClient, addresses)

	paramsCtrl := module.NewParamsCtrl(genesis)
	router := module.NewRouter(paramsCtrl)

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	d, err := driver.New(driverCfg, logger, st, key, client, router, metrics, genesis)
	if err != nil {
		return fmt.Errorf("bfted: build driver: %w", err)
	}

	server := transport.NewServer(d)
	httpServer := &http.Server{Addr: fc.ListenAddress, Handler: server}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("transport server stopped", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = d.Run(ctx)
	httpServer.Close()
	metricsServer.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
