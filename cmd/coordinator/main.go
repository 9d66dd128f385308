// Command coordinator runs the PET coordinator process: it loads the
// static configuration file, wires the registry/selector/round state
// machine/request handler into a single service task, dials the
// Aggregator RPC client, and runs the API server alongside the service
// task until either of them terminates or an interrupt signal arrives
// (§5, §6). An interrupt exits with code 0; a terminated task exits
// non-zero.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/xaynetwork/xaynet-go/common/logging"
	"github.com/xaynetwork/xaynet-go/common/pubsub"
	"github.com/xaynetwork/xaynet-go/coordinator/aggregatorrpc"
	"github.com/xaynetwork/xaynet-go/coordinator/api"
	"github.com/xaynetwork/xaynet-go/coordinator/metrics"
	"github.com/xaynetwork/xaynet-go/coordinator/round"
	"github.com/xaynetwork/xaynet-go/coordinator/selector"
	"github.com/xaynetwork/xaynet-go/coordinator/service"
	"github.com/xaynetwork/xaynet-go/coordinator/settings"
)

var logger = logging.GetLogger("cmd/coordinator")

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:     "coordinator",
		Short:   "PET coordinator service",
		Version: "0.1.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the config file")
	_ = cmd.MarkFlagRequired("config")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := settings.New(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "problem parsing configuration file:", err)
		os.Exit(1)
	}

	level, format, err := cfg.LogLevelAndFormat()
	if err != nil {
		fmt.Fprintln(os.Stderr, "problem parsing logging configuration:", err)
		os.Exit(1)
	}
	if err := logging.Initialize(os.Stdout, level, format); err != nil {
		fmt.Fprintln(os.Stderr, "problem initializing logging:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg, err := aggregatorrpc.Dial(cfg.Rpc.AggregatorAddress)
	if err != nil {
		return fmt.Errorf("coordinator: dial aggregator: %w", err)
	}
	defer agg.Close()

	notifier := pubsub.NewBroker(true)
	defer notifier.Close()

	coordMetrics := metrics.NewCollectors(prometheus.DefaultRegisterer)

	svc := service.New(round.Config{
		SumFraction:    cfg.FederatedLearning.SumFraction,
		UpdateFraction: cfg.FederatedLearning.UpdateFraction,
		MinClients:     cfg.FederatedLearning.MinClients,
		PhaseTimeout:   cfg.FederatedLearning.PhaseTimeout,
	}, agg, selector.Random{Rand: rand.New(rand.NewSource(rand.Int63()))}, notifier, coordMetrics)

	handle := svc.Handle()
	apiServer := api.NewServer(handle, svc.Round())

	serviceErr := make(chan error, 1)
	go func() { serviceErr <- svc.Run(ctx) }()

	apiErr := make(chan error, 1)
	go func() { apiErr <- api.Serve(ctx, cfg.Api.BindAddress, apiServer) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var runErr error
	select {
	case err := <-serviceErr:
		logger.Info("shutting down: service task terminated", "err", err)
		runErr = fmt.Errorf("coordinator: service task terminated: %v", err)
	case err := <-apiErr:
		logger.Info("shutting down: API task terminated", "err", err)
		runErr = fmt.Errorf("coordinator: API task terminated: %v", err)
	case <-sigCh:
		logger.Info("shutting down: received interrupt")
	}

	cancel()
	return runErr
}
