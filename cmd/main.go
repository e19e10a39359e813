// Command topdown runs the top-down structure trading engine: multi-timeframe
// analysis, a process-wide risk governor and a single managed position.
//
// Usage:
//
//	topdown --config config.yaml
//
// Environment variables:
//
//	Binance broker: BINANCE_API_KEY, BINANCE_API_SECRET
//	Bybit market data (optional): BYBIT_API_KEY, BYBIT_API_SECRET
//	Hyperliquid market data (optional): HYPERLIQUID_PRIVATE_KEY
//	Redis notifications: REDIS_PASSWORD
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topdown/config"
	"github.com/vadiminshakov/topdown/internal"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"github.com/vadiminshakov/topdown/internal/web"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Error("topdown stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Get()
	if err != nil {
		return err
	}
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := internal.Build(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to build trading bot")
	}
	defer rt.Close()

	go rt.Dispatcher.Run(ctx)

	if cfg.Server.Addr != "" {
		opts := []web.Option{web.WithTrades(rt.History)}
		if len(cfg.Server.Domains) > 0 {
			opts = append(opts, web.WithAutoTLS(cfg.Server.Domains, cfg.Server.CertCache))
		}
		srv := web.NewServer(cfg.Server.Addr, rt.Bot, logger.Named("web"), opts...)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("ops server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("starting topdown",
		zap.String("platform", cfg.Platform),
		zap.String("broker", cfg.Broker.Kind),
		zap.String("risk_mode", string(cfg.Lifecycle.Mode)),
		zap.Int("assets", len(cfg.Assets)),
	)

	if err := rt.Bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
