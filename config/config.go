// Package config loads the YAML process configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/services/lifecycle"
	"github.com/vadiminshakov/topdown/internal/services/risk"
	"github.com/vadiminshakov/topdown/internal/services/structure"
	"gopkg.in/yaml.v3"
)

const (
	PlatformBinance     = "binance"
	PlatformBybit       = "bybit"
	PlatformHyperliquid = "hyperliquid"
	PlatformReplay      = "replay"

	BrokerPaper   = "paper"
	BrokerBinance = "binance"
)

// Config fully parsed and validated process configuration.
type Config struct {
	Platform     string
	Broker       BrokerConfig
	Replay       ReplayConfig
	ScanInterval time.Duration
	Location     *time.Location
	Assets       []structure.AssetParams
	Candles      map[domain.Timeframe]int
	Analysis     structure.Config
	Risk         risk.Config
	Lifecycle    lifecycle.Config
	Retries      RetryConfig
	MarketData   MarketDataConfig
	HistoryDir   string
	Notify       NotifyConfig
	Server       ServerConfig
	Secrets      Secrets
}

type BrokerConfig struct {
	Kind         string
	PaperBalance decimal.Decimal
	JournalDir   string
	StateDir     string
}

type ReplayConfig struct {
	Dir   string
	Start time.Time
	// Step the replay cursor advances by on every scan.
	Step time.Duration
}

type RetryConfig struct {
	Open            int
	Close           int
	Query           int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type MarketDataConfig struct {
	RateLimit  float64
	Burst      int
	CheckStale bool
}

type NotifyConfig struct {
	Buffer int
	Log    bool
	Redis  *RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type ServerConfig struct {
	Addr      string
	Domains   []string
	CertCache string
}

// Secrets credentials read from the environment.
type Secrets struct {
	BinanceAPIKey         string
	BinanceAPISecret      string
	BybitAPIKey           string
	BybitAPISecret        string
	HyperliquidPrivateKey string
	RedisPassword         string
}

type fileConfig struct {
	Platform     string         `yaml:"platform" validate:"required,oneof=binance bybit hyperliquid replay"`
	Broker       fileBroker     `yaml:"broker"`
	Replay       fileReplay     `yaml:"replay"`
	Stake        string         `yaml:"stake" default:"10"`
	ScanInterval time.Duration  `yaml:"scan_interval" default:"30s" validate:"gt=0"`
	Timezone     string         `yaml:"timezone" default:"UTC"`
	Assets       []fileAsset    `yaml:"assets" validate:"required,min=1,dive"`
	Candles      map[string]int `yaml:"candles"`
	Analysis     fileAnalysis   `yaml:"analysis"`
	Risk         fileRisk       `yaml:"risk"`
	Lifecycle    fileLifecycle  `yaml:"lifecycle"`
	Retries      fileRetries    `yaml:"retries"`
	MarketData   fileMarket     `yaml:"market_data"`
	Storage      fileStorage    `yaml:"storage"`
	Notify       fileNotify     `yaml:"notify"`
	Server       fileServer     `yaml:"server"`
}

type fileBroker struct {
	Kind         string `yaml:"kind" default:"paper" validate:"oneof=paper binance"`
	PaperBalance string `yaml:"paper_balance" default:"1000"`
	JournalDir   string `yaml:"journal_dir" default:"./wal/positions"`
	StateDir     string `yaml:"state_dir" default:"./wal/paper"`
}

type fileReplay struct {
	Dir   string        `yaml:"dir"`
	Start string        `yaml:"start"`
	Step  time.Duration `yaml:"step" default:"1m" validate:"gte=0"`
}

type fileAsset struct {
	Pair       string  `yaml:"pair" validate:"required"`
	Stake      string  `yaml:"stake"`
	Multiplier string  `yaml:"multiplier" default:"160"`
	ATR1m      fileATR `yaml:"atr_1m"`
	ATR5m      fileATR `yaml:"atr_5m"`
}

type fileATR struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

type fileAnalysis struct {
	MomentumCloseThreshold float64 `yaml:"momentum_close_threshold" default:"1.5" validate:"gte=1,lte=3"`
	WeakRetestMinPct       float64 `yaml:"weak_retest_min_pct" default:"5" validate:"gte=0"`
	WeakRetestMaxPct       float64 `yaml:"weak_retest_max_pct" default:"30" validate:"gte=10,lte=50"`
	MiddleZonePct          float64 `yaml:"middle_zone_pct" default:"40" validate:"gte=20,lte=60"`
	MinSignalStrength      float64 `yaml:"min_signal_strength" default:"6" validate:"gte=0,lte=10"`
	SwingWindow            int     `yaml:"swing_window" default:"5" validate:"gte=1"`
	SwingLookback          int     `yaml:"swing_lookback" default:"20" validate:"gte=5,lte=50"`
	LevelMergeTolerancePct float64 `yaml:"level_merge_tolerance_pct" default:"0.15" validate:"gt=0"`
	RetestTolerancePct     float64 `yaml:"retest_tolerance_pct" default:"0.15" validate:"gt=0"`
	MinLevelTouches        int     `yaml:"min_level_touches" default:"2" validate:"gte=1"`
	MinorLookback          int     `yaml:"minor_lookback" default:"20" validate:"gte=1"`
	MaxLevels              int     `yaml:"max_levels" default:"64" validate:"gte=1"`
	StopBufferPct          float64 `yaml:"stop_buffer_pct" default:"0.2" validate:"gte=0"`
	TargetBufferPct        float64 `yaml:"target_buffer_pct" default:"0.1" validate:"gte=0"`
	RetestWindow           int     `yaml:"retest_window" default:"5" validate:"gte=1"`
	ATRPeriod              int     `yaml:"atr_period" default:"14" validate:"gte=1"`
	RSIPeriod              int     `yaml:"rsi_period" default:"14" validate:"gte=1"`
	ADXPeriod              int     `yaml:"adx_period" default:"14" validate:"gte=1"`
	RSIBuy                 float64 `yaml:"rsi_buy" default:"58" validate:"gte=0,lte=100"`
	RSISell                float64 `yaml:"rsi_sell" default:"42" validate:"gte=0,lte=100"`
	ADXThreshold           float64 `yaml:"adx_threshold" default:"22" validate:"gte=0"`
	EMAPeriod              int     `yaml:"ema_period" default:"20" validate:"gte=1"`
	SMAPeriod              int     `yaml:"sma_period" default:"100" validate:"gte=1"`
}

type fileRisk struct {
	MaxConcurrentTrades      int           `yaml:"max_concurrent_trades" default:"1"`
	MaxDailyLoss             string        `yaml:"max_daily_loss" default:"10"`
	MaxTradesPerDay          int           `yaml:"max_trades_per_day" default:"30" validate:"gte=0"`
	MaxLossPerTrade          string        `yaml:"max_loss_per_trade" default:"0"`
	MaxRiskPerTradePct       float64       `yaml:"max_risk_per_trade_pct" default:"15" validate:"gte=0"`
	MinRRRatio               float64       `yaml:"min_rr_ratio" default:"2" validate:"gte=1"`
	Cooldown                 time.Duration `yaml:"cooldown" default:"180s" validate:"gte=0"`
	ConsecutiveLossThreshold int           `yaml:"consecutive_loss_threshold" default:"2" validate:"gte=0"`
}

type fileLifecycle struct {
	Mode            string         `yaml:"risk_mode" default:"TOP_DOWN"`
	MonitorInterval time.Duration  `yaml:"monitor_interval" default:"2s" validate:"gt=0"`
	Tiers           []fileTier     `yaml:"tiers" validate:"dive"`
	FastFail        fileFastFail   `yaml:"fast_fail"`
	Stagnation      fileStagnation `yaml:"stagnation"`
	CancelTime      time.Duration  `yaml:"cancel_time" default:"300s" validate:"gte=0"`
}

type fileTier struct {
	Name       string  `yaml:"name" validate:"required"`
	TriggerPct float64 `yaml:"trigger_pct" validate:"gt=0"`
	TrailPct   float64 `yaml:"trail_pct" validate:"gt=0"`
}

type fileFastFail struct {
	LossPct       float64       `yaml:"loss_pct" default:"20" validate:"gte=0"`
	DefaultWindow time.Duration `yaml:"default_window" default:"120s" validate:"gte=0"`
	Windows       []fileWindow  `yaml:"windows" validate:"dive"`
}

type fileWindow struct {
	From   string        `yaml:"from" validate:"required"`
	To     string        `yaml:"to" validate:"required"`
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

type fileStagnation struct {
	LossPct float64       `yaml:"loss_pct" default:"10" validate:"gte=0"`
	Window  time.Duration `yaml:"window" default:"300s" validate:"gte=0"`
}

type fileRetries struct {
	Open            int           `yaml:"open" default:"3" validate:"gte=0"`
	Close           int           `yaml:"close" default:"5" validate:"gte=1"`
	Query           int           `yaml:"query" default:"5" validate:"gte=0"`
	InitialInterval time.Duration `yaml:"initial_interval" default:"500ms" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" default:"10s" validate:"gtefield=InitialInterval"`
}

type fileMarket struct {
	RateLimit  float64 `yaml:"rate_limit" default:"10" validate:"gt=0"`
	Burst      int     `yaml:"burst" default:"5" validate:"gte=1"`
	CheckStale *bool   `yaml:"check_stale"`
}

type fileStorage struct {
	HistoryDir string `yaml:"history_dir" default:"./wal/history"`
}

type fileNotify struct {
	Buffer int        `yaml:"buffer" default:"256" validate:"gte=1"`
	Log    *bool      `yaml:"log"`
	Redis  *fileRedis `yaml:"redis"`
}

type fileRedis struct {
	Addr    string `yaml:"addr" validate:"required"`
	DB      int    `yaml:"db" validate:"gte=0"`
	Channel string `yaml:"channel" default:"topdown:events"`
}

type fileServer struct {
	Addr      string   `yaml:"addr" default:":8080"`
	Domains   []string `yaml:"domains"`
	CertCache string   `yaml:"cert_cache" default:"cert-cache"`
}

var defaultCandles = map[domain.Timeframe]int{
	domain.Timeframe1w: 52,
	domain.Timeframe1d: 100,
	domain.Timeframe4h: 200,
	domain.Timeframe1h: 200,
	domain.Timeframe5m: 120,
	domain.Timeframe1m: 150,
}

// Load reads, defaults and validates the config file. Every failure wraps domain.ErrConfigInvalid.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, invalid(errors.Wrapf(err, "read %s", path))
	}
	return Parse(raw)
}

// Parse decodes a YAML document and validates it.
func Parse(raw []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, invalid(errors.Wrap(err, "decode yaml"))
	}
	if err := defaults.Set(&fc); err != nil {
		return Config{}, invalid(errors.Wrap(err, "apply defaults"))
	}
	if err := validator.New().Struct(fc); err != nil {
		return Config{}, invalid(err)
	}

	cfg, err := fc.build()
	if err != nil {
		return Config{}, invalid(err)
	}
	cfg.Secrets = secretsFromEnv()
	if cfg.Notify.Redis != nil {
		cfg.Notify.Redis.Password = cfg.Secrets.RedisPassword
	}
	if err := cfg.checkSecrets(); err != nil {
		return Config{}, invalid(err)
	}
	return cfg, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
}

func (fc fileConfig) build() (Config, error) {
	if fc.Risk.MaxConcurrentTrades != 1 {
		return Config{}, errors.Errorf("max_concurrent_trades must be 1, got %d", fc.Risk.MaxConcurrentTrades)
	}

	loc, err := time.LoadLocation(fc.Timezone)
	if err != nil {
		return Config{}, errors.Wrapf(err, "timezone %q", fc.Timezone)
	}

	stake, err := positiveDecimal("stake", fc.Stake)
	if err != nil {
		return Config{}, err
	}

	assets, err := fc.buildAssets(stake)
	if err != nil {
		return Config{}, err
	}

	candles, err := buildCandles(fc.Candles)
	if err != nil {
		return Config{}, err
	}

	analysis, err := fc.buildAnalysis()
	if err != nil {
		return Config{}, err
	}

	riskCfg, err := fc.buildRisk(loc)
	if err != nil {
		return Config{}, err
	}

	lc, err := fc.buildLifecycle(loc)
	if err != nil {
		return Config{}, err
	}

	broker, err := fc.buildBroker()
	if err != nil {
		return Config{}, err
	}

	replay, err := fc.buildReplay()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Platform:     fc.Platform,
		Broker:       broker,
		Replay:       replay,
		ScanInterval: fc.ScanInterval,
		Location:     loc,
		Assets:       assets,
		Candles:      candles,
		Analysis:     analysis,
		Risk:         riskCfg,
		Lifecycle:    lc,
		Retries: RetryConfig{
			Open:            fc.Retries.Open,
			Close:           fc.Retries.Close,
			Query:           fc.Retries.Query,
			InitialInterval: fc.Retries.InitialInterval,
			MaxInterval:     fc.Retries.MaxInterval,
		},
		MarketData: MarketDataConfig{
			RateLimit:  fc.MarketData.RateLimit,
			Burst:      fc.MarketData.Burst,
			CheckStale: boolOr(fc.MarketData.CheckStale, fc.Platform != PlatformReplay),
		},
		HistoryDir: fc.Storage.HistoryDir,
		Notify: NotifyConfig{
			Buffer: fc.Notify.Buffer,
			Log:    boolOr(fc.Notify.Log, true),
		},
		Server: ServerConfig{
			Addr:      fc.Server.Addr,
			Domains:   fc.Server.Domains,
			CertCache: fc.Server.CertCache,
		},
	}
	if r := fc.Notify.Redis; r != nil {
		cfg.Notify.Redis = &RedisConfig{Addr: r.Addr, DB: r.DB, Channel: r.Channel}
	}
	return cfg, nil
}

func (fc fileConfig) buildAssets(stake decimal.Decimal) ([]structure.AssetParams, error) {
	seen := make(map[domain.Pair]struct{}, len(fc.Assets))
	assets := make([]structure.AssetParams, 0, len(fc.Assets))
	for _, a := range fc.Assets {
		pair, err := domain.ParsePair(a.Pair)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[pair]; dup {
			return nil, errors.Errorf("duplicate asset %s", pair)
		}
		seen[pair] = struct{}{}

		assetStake := stake
		if a.Stake != "" {
			if assetStake, err = positiveDecimal(pair.String()+" stake", a.Stake); err != nil {
				return nil, err
			}
		}
		multiplier, err := positiveDecimal(pair.String()+" multiplier", a.Multiplier)
		if err != nil {
			return nil, err
		}

		bounds := make(map[domain.Timeframe]structure.ATRBounds)
		for tf, raw := range map[domain.Timeframe]fileATR{domain.Timeframe1m: a.ATR1m, domain.Timeframe5m: a.ATR5m} {
			b, err := raw.build(fmt.Sprintf("%s atr_%s", pair, tf))
			if err != nil {
				return nil, err
			}
			if !b.Min.IsZero() || !b.Max.IsZero() {
				bounds[tf] = b
			}
		}

		assets = append(assets, structure.AssetParams{
			Pair:       pair,
			Stake:      assetStake,
			Multiplier: multiplier,
			ATRBounds:  bounds,
		})
	}
	return assets, nil
}

func (a fileATR) build(name string) (structure.ATRBounds, error) {
	var b structure.ATRBounds
	var err error
	if b.Min, err = optionalDecimal(name+".min", a.Min); err != nil {
		return b, err
	}
	if b.Max, err = optionalDecimal(name+".max", a.Max); err != nil {
		return b, err
	}
	if !b.Min.IsZero() && !b.Max.IsZero() && b.Min.GreaterThanOrEqual(b.Max) {
		return b, errors.Errorf("%s: min %s must be below max %s", name, b.Min, b.Max)
	}
	return b, nil
}

func buildCandles(raw map[string]int) (map[domain.Timeframe]int, error) {
	candles := make(map[domain.Timeframe]int, len(defaultCandles))
	for tf, n := range defaultCandles {
		candles[tf] = n
	}
	for key, n := range raw {
		tf, err := domain.ParseTimeframe(key)
		if err != nil {
			return nil, errors.Wrap(err, "candles")
		}
		if n < 0 {
			return nil, errors.Errorf("candles %s must not be negative", tf)
		}
		candles[tf] = n
	}
	for _, tf := range []domain.Timeframe{domain.Timeframe1w, domain.Timeframe1d, domain.Timeframe5m, domain.Timeframe1m} {
		if candles[tf] == 0 {
			return nil, errors.Errorf("candles %s is required", tf)
		}
	}
	return candles, nil
}

func (fc fileConfig) buildAnalysis() (structure.Config, error) {
	a := fc.Analysis
	if a.WeakRetestMinPct >= a.WeakRetestMaxPct {
		return structure.Config{}, errors.Errorf("weak_retest_min_pct %.2f must be below weak_retest_max_pct %.2f", a.WeakRetestMinPct, a.WeakRetestMaxPct)
	}
	if a.RSISell >= a.RSIBuy {
		return structure.Config{}, errors.Errorf("rsi_sell %.2f must be below rsi_buy %.2f", a.RSISell, a.RSIBuy)
	}
	if a.EMAPeriod >= a.SMAPeriod {
		return structure.Config{}, errors.Errorf("ema_period %d must be shorter than sma_period %d", a.EMAPeriod, a.SMAPeriod)
	}

	return structure.Config{
		MomentumCloseThreshold: a.MomentumCloseThreshold,
		WeakRetestMinPct:       a.WeakRetestMinPct,
		WeakRetestMaxPct:       a.WeakRetestMaxPct,
		MiddleZonePct:          a.MiddleZonePct,
		MinRR:                  fc.Risk.MinRRRatio,
		MinStrength:            a.MinSignalStrength,
		SwingWindow:            a.SwingWindow,
		SwingLookback:          a.SwingLookback,
		LevelMergeTolerancePct: a.LevelMergeTolerancePct,
		RetestTolerancePct:     a.RetestTolerancePct,
		MinLevelTouches:        a.MinLevelTouches,
		MinorLookback:          a.MinorLookback,
		MaxLevels:              a.MaxLevels,
		StopBufferPct:          a.StopBufferPct,
		TargetBufferPct:        a.TargetBufferPct,
		RetestWindow:           a.RetestWindow,
		ATRPeriod:              a.ATRPeriod,
		RSIPeriod:              a.RSIPeriod,
		ADXPeriod:              a.ADXPeriod,
		RSIBuy:                 a.RSIBuy,
		RSISell:                a.RSISell,
		ADXThreshold:           a.ADXThreshold,
		EMAPeriod:              a.EMAPeriod,
		SMAPeriod:              a.SMAPeriod,
	}, nil
}

func (fc fileConfig) buildRisk(loc *time.Location) (risk.Config, error) {
	maxDailyLoss, err := nonNegativeDecimal("max_daily_loss", fc.Risk.MaxDailyLoss)
	if err != nil {
		return risk.Config{}, err
	}
	maxLossPerTrade, err := nonNegativeDecimal("max_loss_per_trade", fc.Risk.MaxLossPerTrade)
	if err != nil {
		return risk.Config{}, err
	}

	return risk.Config{
		MaxDailyLoss:             maxDailyLoss,
		MaxTradesPerDay:          fc.Risk.MaxTradesPerDay,
		MaxLossPerTrade:          maxLossPerTrade,
		MaxRiskPerTradePct:       fc.Risk.MaxRiskPerTradePct,
		MinRR:                    fc.Risk.MinRRRatio,
		MinStrength:              fc.Analysis.MinSignalStrength,
		Cooldown:                 fc.Risk.Cooldown,
		ConsecutiveLossThreshold: fc.Risk.ConsecutiveLossThreshold,
		Location:                 loc,
	}, nil
}

func (fc fileConfig) buildLifecycle(loc *time.Location) (lifecycle.Config, error) {
	l := fc.Lifecycle
	mode := domain.RiskMode(strings.ToUpper(l.Mode))
	if !mode.IsValid() {
		return lifecycle.Config{}, errors.Errorf("unknown risk_mode %q", l.Mode)
	}

	tiers := lifecycle.DefaultTiers()
	if len(l.Tiers) > 0 {
		tiers = make([]lifecycle.Tier, 0, len(l.Tiers))
		for i, t := range l.Tiers {
			if i > 0 && t.TriggerPct <= l.Tiers[i-1].TriggerPct {
				return lifecycle.Config{}, errors.Errorf("tier %q trigger %.2f must be above %.2f", t.Name, t.TriggerPct, l.Tiers[i-1].TriggerPct)
			}
			tiers = append(tiers, lifecycle.Tier{Name: t.Name, TriggerPct: t.TriggerPct, TrailPct: t.TrailPct})
		}
	}

	regimes := lifecycle.DefaultConfig().FastFail.Regimes
	if l.FastFail.Windows != nil {
		regimes = make([]lifecycle.Regime, 0, len(l.FastFail.Windows))
		for _, w := range l.FastFail.Windows {
			from, err := lifecycle.ParseClock(w.From)
			if err != nil {
				return lifecycle.Config{}, errors.Wrap(err, "fast_fail window")
			}
			to, err := lifecycle.ParseClock(w.To)
			if err != nil {
				return lifecycle.Config{}, errors.Wrap(err, "fast_fail window")
			}
			if from == to {
				return lifecycle.Config{}, errors.Errorf("fast_fail window %s-%s is empty", w.From, w.To)
			}
			r := lifecycle.Regime{From: from, To: to, Window: w.Window}
			for _, prev := range regimes {
				if prev.Overlaps(r) {
					return lifecycle.Config{}, errors.Errorf("fast_fail window %s-%s overlaps %s-%s", from, to, prev.From, prev.To)
				}
			}
			regimes = append(regimes, r)
		}
		sort.Slice(regimes, func(i, j int) bool { return regimes[i].From < regimes[j].From })
	}

	return lifecycle.Config{
		Mode:            mode,
		MonitorInterval: l.MonitorInterval,
		Tiers:           tiers,
		FastFail: lifecycle.FastFail{
			LossPct:       l.FastFail.LossPct,
			DefaultWindow: l.FastFail.DefaultWindow,
			Regimes:       regimes,
		},
		Stagnation:  lifecycle.Stagnation{LossPct: l.Stagnation.LossPct, Window: l.Stagnation.Window},
		CancelAfter: l.CancelTime,
		Location:    loc,
	}, nil
}

func (fc fileConfig) buildBroker() (BrokerConfig, error) {
	balance, err := positiveDecimal("paper_balance", fc.Broker.PaperBalance)
	if err != nil {
		return BrokerConfig{}, err
	}
	if fc.Broker.Kind == BrokerBinance && fc.Platform == PlatformReplay {
		return BrokerConfig{}, errors.New("binance broker cannot trade on replayed market data")
	}
	return BrokerConfig{
		Kind:         fc.Broker.Kind,
		PaperBalance: balance,
		JournalDir:   fc.Broker.JournalDir,
		StateDir:     fc.Broker.StateDir,
	}, nil
}

func (fc fileConfig) buildReplay() (ReplayConfig, error) {
	if fc.Platform != PlatformReplay {
		return ReplayConfig{}, nil
	}
	if fc.Replay.Dir == "" {
		return ReplayConfig{}, errors.New("replay.dir is required for the replay platform")
	}
	if fc.Replay.Start == "" {
		return ReplayConfig{}, errors.New("replay.start is required for the replay platform")
	}
	start, err := time.Parse(time.RFC3339, fc.Replay.Start)
	if err != nil {
		return ReplayConfig{}, errors.Wrap(err, "replay.start")
	}
	return ReplayConfig{Dir: fc.Replay.Dir, Start: start, Step: fc.Replay.Step}, nil
}

func secretsFromEnv() Secrets {
	return Secrets{
		BinanceAPIKey:         os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:      os.Getenv("BINANCE_API_SECRET"),
		BybitAPIKey:           os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:        os.Getenv("BYBIT_API_SECRET"),
		HyperliquidPrivateKey: os.Getenv("HYPERLIQUID_PRIVATE_KEY"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
	}
}

func (c Config) checkSecrets() error {
	if c.Broker.Kind == BrokerBinance && (c.Secrets.BinanceAPIKey == "" || c.Secrets.BinanceAPISecret == "") {
		return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set for the binance broker")
	}
	return nil
}

func positiveDecimal(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "%s %q", name, raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}

func nonNegativeDecimal(name, raw string) (decimal.Decimal, error) {
	d, err := optionalDecimal(name, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("%s must not be negative, got %s", name, d)
	}
	return d, nil
}

func optionalDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "%s %q", name, raw)
	}
	return d, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
