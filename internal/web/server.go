// Package web serves the operator endpoints: metrics, bot status, closed trades
// and halt clearing.
package web

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/topdown/internal"
	"github.com/vadiminshakov/topdown/internal/storage/history"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 15 * time.Second
	defaultTradeLimit = 100
)

// Bot is the part of the trading bot exposed to operators.
type Bot interface {
	Status() internal.Status
	ResumeTrading(ctx context.Context) error
}

type tradeReader interface {
	Records() ([]history.Record, error)
}

// Server ops HTTP server.
type Server struct {
	addr      string
	domains   []string
	certCache string
	bot       Bot
	trades    tradeReader
	logger    *zap.Logger
	echo      *echo.Echo
}

// Option configures the Server.
type Option func(*Server)

// WithAutoTLS serves HTTPS with Let's Encrypt certificates for domains. The
// ACME HTTP-01 challenge is answered on :80.
func WithAutoTLS(domains []string, cacheDir string) Option {
	return func(s *Server) {
		s.domains = domains
		s.certCache = cacheDir
	}
}

// WithTrades enables GET /trades.
func WithTrades(trades tradeReader) Option {
	return func(s *Server) {
		s.trades = trades
	}
}

// NewServer creates the server and registers its routes.
func NewServer(addr string, bot Bot, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, bot: bot, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.logger.Debug("request", fields...)
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/status", s.handleStatus)
	e.GET("/trades", s.handleTrades)
	e.POST("/halt/clear", s.handleClearHalt)

	s.echo = e
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	if len(s.domains) > 0 {
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.domains...),
			Cache:      autocert.DirCache(s.certCache),
		}
		challenge := &http.Server{
			Addr:              ":80",
			Handler:           manager.HTTPHandler(nil),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		go func() {
			errCh <- ignoreClosed(challenge.ListenAndServe())
		}()
		defer shutdown(challenge.Shutdown)

		tlsConfig := manager.TLSConfig()
		tlsConfig.MinVersion = tls.VersionTLS12
		s.echo.TLSServer.TLSConfig = tlsConfig
		s.echo.TLSServer.Addr = s.addr
		s.echo.TLSServer.ReadHeaderTimeout = readHeaderTimeout

		go func() {
			s.logger.Info("ops server listening", zap.String("addr", s.addr), zap.Strings("domains", s.domains))
			errCh <- ignoreClosed(s.echo.StartServer(s.echo.TLSServer))
		}()
	} else {
		s.echo.Server.Addr = s.addr
		s.echo.Server.ReadHeaderTimeout = readHeaderTimeout
		go func() {
			s.logger.Info("ops server listening", zap.String("addr", s.addr))
			errCh <- ignoreClosed(s.echo.StartServer(s.echo.Server))
		}()
	}
	defer shutdown(s.echo.Shutdown)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handleTrades(c echo.Context) error {
	if s.trades == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "trade history not available")
	}

	limit := defaultTradeLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	records, err := s.trades.Records()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read trade history").SetInternal(err)
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleClearHalt(c echo.Context) error {
	if err := s.bot.ResumeTrading(c.Request().Context()); err != nil {
		if errors.Is(err, internal.ErrNotHalted) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	s.logger.Info("trading resumed by operator", zap.String("remote", c.RealIP()))
	return c.JSON(http.StatusOK, s.bot.Status())
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = fn(ctx)
}
