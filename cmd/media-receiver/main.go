package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/app"
	"github.com/lucaslui/hems/media-receiver/internal/broker"
	"github.com/lucaslui/hems/media-receiver/internal/config"
	"github.com/lucaslui/hems/media-receiver/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	boot, err := config.NewLogger("info")
	if err != nil {
		log.Printf("logger: %v", err)
		return 2
	}

	cfg, err := config.LoadConfig(boot, true)
	if err != nil {
		boot.Error("[boot] configuração inválida", zap.Error(err))
		return 2
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		logger = boot
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("media receiver configs loaded", zap.Stringer("config", cfg))

	ctx, stop := runtime.SetupGracefulShutdown(context.Background(), logger)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		if err := runtime.NewMetricsServer(cfg.MetricsAddr, reg, logger).Start(ctx); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
			return 1
		}
	}

	if cfg.KafkaEnsureTopics {
		if err := broker.EnsureTopics(ctx, cfg.KafkaBrokers, broker.RequiredTopics(cfg), logger); err != nil {
			logger.Error("kafka ensure topics error", zap.Error(err))
			return 1
		}
	}

	awsCfg, err := app.LoadAWS(ctx, cfg)
	if err != nil {
		logger.Error("aws config error", zap.Error(err))
		return 1
	}
	pipeline, err := app.Build(ctx, cfg, awsCfg, reg, logger)
	if err != nil {
		logger.Error("pipeline setup failed", zap.Error(err))
		return 1
	}
	defer pipeline.Close()

	intake := broker.NewKafkaIntake(cfg, logger)
	defer intake.Close()

	for {
		batch, err := intake.NextBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("signal received, stopping consumption")
				return 0
			}
			logger.Error("kafka fetch error", zap.Error(err))
			return 1
		}

		// processa até o fim mesmo com shutdown pedido; o commit só acontece com batch completo
		n, err := pipeline.Processor.HandleBatch(context.WithoutCancel(ctx), broker.ToRawEvents(batch))
		if err != nil {
			logger.Error("batch failed, exiting without commit",
				zap.Int("batch_size", len(batch)),
				zap.Int("forwarded_before_failure", n),
				zap.Error(err),
			)
			return 1
		}
		if err := intake.Commit(context.WithoutCancel(ctx), batch); err != nil {
			logger.Error("commit error", zap.Error(err))
			return 1
		}
		logger.Debug("batch committed", zap.Int("batch_size", len(batch)), zap.Int("forwarded", n))

		if ctx.Err() != nil {
			logger.Info("signal received, stopping consumption")
			return 0
		}
	}
}
