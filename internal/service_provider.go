package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topdown/config"
	"github.com/vadiminshakov/topdown/internal/clients"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/notify"
	"github.com/vadiminshakov/topdown/internal/services/broker"
	"github.com/vadiminshakov/topdown/internal/services/lifecycle"
	"github.com/vadiminshakov/topdown/internal/services/marketdata"
	"github.com/vadiminshakov/topdown/internal/services/risk"
	"github.com/vadiminshakov/topdown/internal/services/structure"
	"github.com/vadiminshakov/topdown/internal/storage/history"
	"github.com/vadiminshakov/topdown/internal/storage/paperstate"
	"github.com/vadiminshakov/topdown/pkg/retrier"
)

// marketProvider creates the platform specific market data source.
type marketProvider interface {
	Provider() (marketdata.Provider, error)
}

// newMarketProvider is the single point of dispatch on the configured platform.
func newMarketProvider(cfg config.Config) (marketProvider, error) {
	switch cfg.Platform {
	case config.PlatformBinance:
		return &binanceProvider{key: cfg.Secrets.BinanceAPIKey, secret: cfg.Secrets.BinanceAPISecret}, nil
	case config.PlatformBybit:
		return &bybitProvider{key: cfg.Secrets.BybitAPIKey, secret: cfg.Secrets.BybitAPISecret}, nil
	case config.PlatformHyperliquid:
		return &hyperliquidProvider{key: cfg.Secrets.HyperliquidPrivateKey}, nil
	case config.PlatformReplay:
		return &replayProvider{cfg: cfg.Replay, assets: pairs(cfg.Assets)}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", cfg.Platform)
	}
}

type binanceProvider struct {
	key, secret string
}

func (p *binanceProvider) Provider() (marketdata.Provider, error) {
	return marketdata.NewBinanceProvider(clients.NewBinanceClient(p.key, p.secret)), nil
}

type bybitProvider struct {
	key, secret string
}

func (p *bybitProvider) Provider() (marketdata.Provider, error) {
	return marketdata.NewBybitProvider(clients.NewBybitClient(p.key, p.secret)), nil
}

type hyperliquidProvider struct {
	key string
}

func (p *hyperliquidProvider) Provider() (marketdata.Provider, error) {
	client, err := clients.NewHyperliquidClient(p.key, clients.HyperliquidMainnetURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create hyperliquid client")
	}
	return marketdata.NewHyperliquidProvider(client.Info()), nil
}

type replayProvider struct {
	cfg    config.ReplayConfig
	assets []domain.Pair
}

func (p *replayProvider) Provider() (marketdata.Provider, error) {
	replay, err := marketdata.LoadReplayDir(p.cfg.Dir, p.assets, p.cfg.Start)
	if err != nil {
		return nil, errors.Wrap(err, "load replay candles")
	}
	return replay, nil
}

// Runtime the bot and the long-lived resources it was built on.
type Runtime struct {
	Bot        *TradingBot
	Dispatcher *notify.Dispatcher
	History    *history.WALStore
	Governor   *risk.Governor

	closers []func() error
}

// Build wires market data, broker, history, notifications, governor, engine and
// analyzer according to cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	mp, err := newMarketProvider(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := mp.Provider()
	if err != nil {
		return nil, errors.Wrap(err, "market data provider")
	}

	now := time.Now
	var advance func(time.Duration)
	if replay, ok := provider.(*marketdata.ReplayProvider); ok {
		now = replay.Now
		advance = replay.Advance
	}

	collectorOpts := []marketdata.Option{
		marketdata.WithClock(now),
		marketdata.WithRateLimit(cfg.MarketData.RateLimit, cfg.MarketData.Burst),
	}
	if !cfg.MarketData.CheckStale {
		collectorOpts = append(collectorOpts, marketdata.WithoutStalenessCheck())
	}
	market := marketdata.NewCollector(provider, logger.Named("marketdata"), collectorOpts...)

	brk, err := rt.broker(cfg, market, now, logger.Named("broker"))
	if err != nil {
		return nil, err
	}

	rt.History, err = history.NewWALStore(cfg.HistoryDir)
	if err != nil {
		return nil, errors.Wrap(err, "open trade history")
	}
	rt.closers = append(rt.closers, rt.History.Close)

	sinks, err := rt.sinks(ctx, cfg.Notify, logger)
	if err != nil {
		return nil, err
	}
	rt.Dispatcher = notify.NewDispatcher(logger.Named("notify"), sinks, notify.WithBuffer(cfg.Notify.Buffer))
	rt.closers = append(rt.closers, func() error { rt.Dispatcher.Close(); return nil })

	rt.Governor = risk.NewGovernor(cfg.Risk, logger.Named("risk"),
		risk.WithClock(now),
		risk.WithNotifier(rt.Dispatcher),
		risk.WithQueryRetrier(newRetrier(cfg.Retries, cfg.Retries.Query, transient, logger)),
	)

	engine := lifecycle.NewEngine(cfg.Lifecycle, brk, rt.Governor, logger.Named("lifecycle"),
		lifecycle.WithClock(now),
		lifecycle.WithNotifier(rt.Dispatcher),
		lifecycle.WithHistory(rt.History),
		lifecycle.WithOpenRetrier(newRetrier(cfg.Retries, cfg.Retries.Open, lifecycle.OpenRetryable, logger)),
		lifecycle.WithCloseRetrier(newRetrier(cfg.Retries, cfg.Retries.Close, lifecycle.CloseRetryable, logger)),
	)

	analyzer := structure.NewAnalyzer(cfg.Analysis, logger.Named("structure"), structure.WithClock(now))

	rt.Bot, err = NewTradingBot(Components{
		Assets:   cfg.Assets,
		Candles:  cfg.Candles,
		Interval: cfg.ScanInterval,
		Market:   market,
		Analyzer: analyzer,
		Governor: rt.Governor,
		Engine:   engine,
		Broker:   brk,
		Notifier: rt.Dispatcher,
		Advance:  advance,
		Step:     cfg.Replay.Step,
		Now:      now,
	}, logger.Named("bot"))
	if err != nil {
		return nil, errors.Wrap(err, "create trading bot")
	}

	return rt, nil
}

// Close releases everything Build opened, last opened first.
func (r *Runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func (r *Runtime) broker(cfg config.Config, market *marketdata.Collector, now func() time.Time, logger *zap.Logger) (domain.Broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerPaper:
		store, err := paperstate.NewStore(cfg.Broker.StateDir)
		if err != nil {
			return nil, err
		}
		paper, err := broker.NewPaperBroker(market, cfg.Broker.PaperBalance, logger,
			broker.WithPaperClock(now),
			broker.WithStore(store),
		)
		if err != nil {
			return nil, errors.Wrap(err, "create paper broker")
		}
		return paper, nil
	case config.BrokerBinance:
		journal, err := broker.OpenJournal(cfg.Broker.JournalDir)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, journal.Close)

		api := broker.NewBinanceMarginAPI(clients.NewBinanceClient(cfg.Secrets.BinanceAPIKey, cfg.Secrets.BinanceAPISecret))
		live, err := broker.NewBinanceBroker(api, journal, logger, broker.WithBinanceClock(now))
		if err != nil {
			return nil, errors.Wrap(err, "create binance broker")
		}
		return live, nil
	default:
		return nil, fmt.Errorf("unsupported broker: %s", cfg.Broker.Kind)
	}
}

func (r *Runtime) sinks(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.Log {
		sinks = append(sinks, notify.NewLogSink(logger))
	}
	if cfg.Redis != nil {
		client, err := notify.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, client.Close)
		sinks = append(sinks, notify.NewRedisSink(client, cfg.Redis.Channel))
	}
	return sinks, nil
}

func newRetrier(cfg config.RetryConfig, attempts int, retryIf func(error) bool, logger *zap.Logger) *retrier.Retrier {
	return retrier.New(
		retrier.WithMaxRetries(attempts),
		retrier.WithInitialInterval(cfg.InitialInterval),
		retrier.WithMaxInterval(cfg.MaxInterval),
		retrier.WithRetryIf(retryIf),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			logger.Warn("broker call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)
}

func transient(err error) bool {
	return errors.Is(err, domain.ErrBrokerTransient)
}

func pairs(assets []structure.AssetParams) []domain.Pair {
	out := make([]domain.Pair, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.Pair)
	}
	return out
}
