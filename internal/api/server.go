// Package api exposes the live engine and the backtester over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/backtest"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/engine"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/marketdata"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/storage"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// Runs persists backtests and serves stored live orders. Optional.
type Runs interface {
	SaveBacktest(ctx context.Context, report backtest.Report) (string, error)
	GetBacktest(ctx context.Context, id string) (*backtest.Report, error)
	ListBacktests(ctx context.Context, limit int) ([]storage.BacktestRun, error)
	ListOrderRecords(ctx context.Context, limit int) ([]types.OrderRecord, error)
}

// EventReader serves recently published engine events. Optional.
type EventReader interface {
	Recent(ctx context.Context, stream string, n int64) ([]types.Event, error)
}

type Options struct {
	Live         *engine.LiveEngine
	Registry     *strategies.Registry
	LiveDeps     engine.Deps
	History      marketdata.Source
	Runs         Runs
	Events       EventReader
	PollInterval time.Duration
}

// Server wires HTTP endpoints around the engines.
type Server struct {
	Router *gin.Engine
	opts   Options
}

func NewServer(opts Options) *Server {
	if opts.Live == nil {
		opts.Live = engine.Default()
	}
	if opts.Registry == nil {
		opts.Registry = strategies.DefaultRegistry()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = engine.DefaultPollInterval
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(Metrics())

	s := &Server{Router: r, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api")
	{
		api.GET("/strategies", s.listStrategies)

		live := api.Group("/live")
		{
			live.GET("/status", s.liveStatus)
			live.GET("/orders", s.liveOrders)
			live.GET("/events", s.liveEvents)
			live.POST("/start", s.liveStart)
			live.POST("/stop", s.liveStop)
		}

		api.POST("/backtest", s.runBacktest)
		api.GET("/backtests", s.listBacktests)
		api.GET("/backtests/:id", s.getBacktest)
	}
}
