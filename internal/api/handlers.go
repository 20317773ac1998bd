package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/backtest"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/engine"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/timeframe"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

const (
	minBacktestBars = 100
	maxBacktestDays = 365
	stopTimeout     = 15 * time.Second
)

type startRequest struct {
	Strategy strategies.Spec `json:"strategy"`
	// seconds; zero uses the server default
	CheckInterval float64 `json:"check_interval"`
}

type backtestRequest struct {
	Strategy strategies.Spec `json:"strategy"`
	Days     int             `json:"days"`
	Save     bool            `json:"save"`
}

type listQuery struct {
	Limit  int    `form:"limit"`
	Source string `form:"source"`
}

func (q *listQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"live":   s.opts.Live.Status().Status,
	})
}

func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.opts.Registry.List()})
}

func (s *Server) liveStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Live.Status())
}

// liveOrders serves the in-memory history, or the store with source=db.
func (s *Server) liveOrders(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	q.normalize(50, 500)

	if q.Source == "db" {
		if s.opts.Runs == nil {
			respondError(c, http.StatusServiceUnavailable, "no_store", "order store not configured")
			return
		}
		records, err := s.opts.Runs.ListOrderRecords(c.Request.Context(), q.Limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list order records")
			respondError(c, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": nonNil(records)})
		return
	}

	records := s.opts.Live.OrderHistory()
	if len(records) > q.Limit {
		records = records[len(records)-q.Limit:]
	}
	c.JSON(http.StatusOK, gin.H{"orders": nonNil(records)})
}

func (s *Server) liveEvents(c *gin.Context) {
	if s.opts.Events == nil {
		respondError(c, http.StatusServiceUnavailable, "no_event_bus", "event bus not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	q.normalize(50, 500)

	events, err := s.opts.Events.Recent(c.Request.Context(), engine.EventStream, int64(q.Limit))
	if err != nil {
		respondError(c, http.StatusBadGateway, "event_bus_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) liveStart(c *gin.Context) {
	req := startRequest{Strategy: strategies.NewSpec("")}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	strat, err := s.opts.Registry.Build(req.Strategy)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_strategy", err.Error())
		return
	}

	interval := s.opts.PollInterval
	if req.CheckInterval > 0 {
		interval = time.Duration(req.CheckInterval * float64(time.Second))
	}

	if err := s.opts.Live.StartWith(c.Request.Context(), strat, interval, s.opts.LiveDeps); err != nil {
		switch {
		case errors.Is(err, engine.ErrBusy):
			respondError(c, http.StatusConflict, "busy", err.Error())
		case errors.Is(err, engine.ErrUnavailable), errors.Is(err, engine.ErrNotConfigured):
			respondError(c, http.StatusServiceUnavailable, "unavailable", err.Error())
		default:
			respondError(c, http.StatusBadGateway, "start_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, s.opts.Live.Status())
}

func (s *Server) liveStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), stopTimeout)
	defer cancel()

	if err := s.opts.Live.Stop(ctx); err != nil {
		respondError(c, http.StatusGatewayTimeout, "stop_timeout", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.opts.Live.Status())
}

func (s *Server) runBacktest(c *gin.Context) {
	req := backtestRequest{Strategy: strategies.NewSpec(""), Days: 30}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Days <= 0 || req.Days > maxBacktestDays {
		respondError(c, http.StatusBadRequest, "invalid_request", "days must be between 1 and 365")
		return
	}
	if s.opts.History == nil {
		respondError(c, http.StatusServiceUnavailable, "no_market_data", "market data not configured")
		return
	}

	strat, err := s.opts.Registry.Build(req.Strategy)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_strategy", err.Error())
		return
	}
	cfg := strat.Config()

	count := timeframe.BarCount(cfg.Timeframe, req.Days, minBacktestBars)
	bars, err := s.opts.History.RecentBars(c.Request.Context(), cfg.Symbol, cfg.Timeframe, count)
	if err != nil {
		respondError(c, http.StatusBadGateway, "market_data_error", err.Error())
		return
	}

	result, err := backtest.NewEngine(backtest.ConfigFor(cfg)).Run(strat, bars)
	if err != nil {
		if errors.Is(err, backtest.ErrNoBars) {
			respondError(c, http.StatusUnprocessableEntity, "no_history", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "backtest_failed", err.Error())
		return
	}
	report := backtest.NewReport(result)

	log.Info().
		Str("strategy", report.StrategyID).
		Str("symbol", report.Symbol).
		Int("bars", len(bars)).
		Float64("total_return", report.Metrics.TotalReturn).
		Msg("Backtest completed")

	resp := gin.H{"report": report}
	if len(bars) < count {
		resp["warning"] = fmt.Sprintf("only %d of %d requested bars available", len(bars), count)
	}
	if req.Save && s.opts.Runs != nil {
		id, err := s.opts.Runs.SaveBacktest(c.Request.Context(), report)
		if err != nil {
			log.Error().Err(err).Msg("Failed to save backtest run")
		} else {
			resp["id"] = id
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listBacktests(c *gin.Context) {
	if s.opts.Runs == nil {
		respondError(c, http.StatusServiceUnavailable, "no_store", "backtest store not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	q.normalize(20, 200)

	runs, err := s.opts.Runs.ListBacktests(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getBacktest(c *gin.Context) {
	if s.opts.Runs == nil {
		respondError(c, http.StatusServiceUnavailable, "no_store", "backtest store not configured")
		return
	}
	report, err := s.opts.Runs.GetBacktest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if report == nil {
		respondError(c, http.StatusNotFound, "not_found", "backtest run not found")
		return
	}
	c.JSON(http.StatusOK, report)
}

func nonNil(records []types.OrderRecord) []types.OrderRecord {
	if records == nil {
		return []types.OrderRecord{}
	}
	return records
}
