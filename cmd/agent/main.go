package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mkravets/logpipeline/internal/config"
	"github.com/mkravets/logpipeline/internal/daemon"
	"github.com/mkravets/logpipeline/internal/logging/loki"
	"github.com/mkravets/logpipeline/internal/logging/pipeline"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Tails log files and ships them to Loki in bounded batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("agent exited with error")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	sink := loki.NewSink(cfg.LokiURL, cfg.NodeName, cfg.MaxRetries, logger)

	pipe, err := pipeline.New(pipeline.Config{
		MaxBatchSize:   cfg.MaxBatchSize,
		FlushInterval:  cfg.FlushInterval.D(),
		MaxParallelism: cfg.MaxParallelism,
		QueueCapacity:  cfg.QueueCapacity,
		Logger:         logger,
		Registerer:     registry,
	}, sink)
	if err != nil {
		return err
	}
	pipe.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tailer := daemon.NewTailerService(ctx, daemon.Config{
		LogRootPath:        cfg.LogRootPath,
		ScanInterval:       cfg.ScanInterval.D(),
		MinWorkers:         cfg.MinWorkers,
		MaxWorkers:         cfg.MaxWorkers,
		FileQueueSize:      cfg.FileQueueSize,
		NodeName:           cfg.NodeName,
		ScaleUpThreshold:   cfg.ScaleUpThreshold,
		ScaleDownThreshold: cfg.ScaleDownThreshold,
		ScaleCheckInterval: cfg.ScaleCheckInterval.D(),
		FileIdleTimeout:    cfg.FileIdleTimeout.D(),
	}, pipe, logger)
	tailer.Start()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsHandler(registry)}
	go func() {
		logger.Infof("serving metrics on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan
	logger.Info("received shutdown signal")

	// Stop producers first, then flush whatever the pipeline still holds.
	tailer.Stop()
	pipe.Complete()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.D())
	defer waitCancel()
	if err := pipe.Wait(waitCtx); err != nil {
		logger.WithError(err).Warn("pipeline did not shut down cleanly")
	}

	_ = metricsServer.Shutdown(context.Background())
	logger.Info("agent stopped")
	return nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
