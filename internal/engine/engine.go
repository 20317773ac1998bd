package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

var (
	ErrBusy          = errors.New("engine is running or starting")
	ErrNotConfigured = errors.New("engine is not configured")
	ErrUnavailable   = errors.New("adapter unavailable")
)

const (
	DefaultWarmupBars   = 200
	DefaultPollInterval = time.Minute

	defaultFillAttempts = 5
	defaultFillDelay    = 200 * time.Millisecond
	persistTimeout      = 10 * time.Second

	// EventStream receives signal, order and state events.
	EventStream = "live_events"
)

type Option func(*LiveEngine)

// WithWarmupBars sets how many bars are fetched for Init and every tick.
func WithWarmupBars(n int) Option {
	return func(e *LiveEngine) { e.warmup = n }
}

// WithFillPolling sets how often and how fast fill details are polled after
// an accepted order.
func WithFillPolling(attempts int, delay time.Duration) Option {
	return func(e *LiveEngine) {
		e.fillAttempts = attempts
		e.fillDelay = delay
	}
}

// WithClock replaces time.Now for status and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *LiveEngine) { e.now = now }
}

// LiveEngine drives one strategy against a venue on a polling cadence.
//
// Configure, Start, StartWith and Stop serialize on ctrl so state
// transitions are atomic with respect to each other. mu guards what status
// readers see.
type LiveEngine struct {
	ctrl sync.Mutex

	mu       sync.RWMutex
	state    State
	history  *history
	strategy strategies.Strategy
	interval time.Duration
	deps     Deps

	cancel  context.CancelFunc
	done    chan struct{}
	persist sync.WaitGroup

	warmup       int
	fillAttempts int
	fillDelay    time.Duration
	now          func() time.Time
}

func NewLiveEngine(opts ...Option) *LiveEngine {
	e := &LiveEngine{
		state:        State{Status: StatusStopped},
		history:      newHistory(historySize),
		interval:     DefaultPollInterval,
		warmup:       DefaultWarmupBars,
		fillAttempts: defaultFillAttempts,
		fillDelay:    defaultFillDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns a copy of the current state.
func (e *LiveEngine) Status() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := e.state
	if e.strategy != nil && e.strategy.Position() != nil {
		view := e.strategy.Position().View()
		st.Position = &view
	}
	if g, ok := e.strategy.(gridReporter); ok {
		gs := g.GridStatus()
		st.Grid = &gs
	}
	return st
}

// OrderHistory returns the most recent order attempts, oldest first.
func (e *LiveEngine) OrderHistory() []types.OrderRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.list()
}

// Configure binds a strategy and its collaborators. It fails with ErrBusy
// while a run is starting, running or stopping.
func (e *LiveEngine) Configure(s strategies.Strategy, pollInterval time.Duration, deps Deps) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	return e.configureLocked(s, pollInterval, deps)
}

// Start warms the strategy up and spawns the poll loop. Any failure leaves
// the engine in StatusError and is returned.
func (e *LiveEngine) Start(ctx context.Context) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	return e.startLocked(ctx)
}

// StartWith configures and starts under one lock acquisition, so two
// concurrent requests cannot both pass the busy check.
func (e *LiveEngine) StartWith(ctx context.Context, s strategies.Strategy, pollInterval time.Duration, deps Deps) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	if err := e.configureLocked(s, pollInterval, deps); err != nil {
		return err
	}
	return e.startLocked(ctx)
}

// Stop cancels the poll loop and waits for it and any pending persistence
// to finish. It is a no-op when nothing is running. If ctx ends first the
// engine stays in StatusStopping until both have drained.
func (e *LiveEngine) Stop(ctx context.Context) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.state.Status != StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.state.Status = StatusStopping
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	log.Info().Str("strategy", e.state.StrategyID).Msg("Stopping live engine...")
	cancel()
	drained := make(chan struct{})
	go func() {
		<-done
		e.persist.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		e.markStopped()
		log.Info().Msg("Live engine stopped")
		return nil
	case <-ctx.Done():
		go func() {
			<-drained
			e.markStopped()
			log.Info().Msg("Live engine stopped")
		}()
		return fmt.Errorf("failed to stop live engine: %w", ctx.Err())
	}
}

func (e *LiveEngine) configureLocked(s strategies.Strategy, pollInterval time.Duration, deps Deps) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status.Busy() {
		return fmt.Errorf("%w (status=%s)", ErrBusy, e.state.Status)
	}
	if s == nil {
		return fmt.Errorf("%w: no strategy", ErrNotConfigured)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	cfg := s.Config()
	e.strategy = s
	e.interval = pollInterval
	e.deps = deps
	e.state.StrategyID = s.ID()
	e.state.StrategyName = s.Name()
	e.state.Symbol = cfg.Symbol
	e.state.Timeframe = cfg.Timeframe
	e.state.InstType = cfg.InstType
	e.state.PollSeconds = pollInterval.Seconds()
	return nil
}

func (e *LiveEngine) startLocked(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Status.Busy() {
		st := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("%w (status=%s)", ErrBusy, st)
	}
	now := e.now()
	e.state.Status = StatusStarting
	e.state.StartTime = &now
	e.state.LastSignalTime = nil
	e.state.LastSignalType = ""
	e.state.SignalCount = 0
	e.state.OrderCount = 0
	e.state.SuccessCount = 0
	e.state.FailureCount = 0
	e.state.ErrorMessage = ""
	s, deps := e.strategy, e.deps
	e.mu.Unlock()

	if err := checkDeps(s, deps); err != nil {
		return e.fail(err)
	}

	cfg := s.Config()
	e.mu.Lock()
	s.BindPosition(types.NewPosition(cfg.Symbol))
	e.mu.Unlock()

	bars, err := deps.MarketData.RecentBars(ctx, cfg.Symbol, cfg.Timeframe, e.warmup)
	if err != nil {
		return e.fail(fmt.Errorf("failed to fetch warm-up bars: %w", err))
	}
	if len(bars) == 0 {
		return e.fail(fmt.Errorf("no history for %s %s", cfg.Symbol, cfg.Timeframe))
	}
	e.mu.Lock()
	s.Init(bars)
	e.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	e.mu.Lock()
	e.cancel, e.done = cancel, done
	e.state.Status = StatusRunning
	interval := e.interval
	e.mu.Unlock()
	engineRunning.Set(1)

	log.Info().
		Str("strategy", s.ID()).
		Str("symbol", cfg.Symbol).
		Str("timeframe", cfg.Timeframe).
		Int("bars", len(bars)).
		Dur("interval", interval).
		Msg("Live engine started")

	e.publish(loopCtx, "state", map[string]interface{}{"status": string(StatusRunning)})
	go e.loop(loopCtx, done, interval)
	return nil
}

func checkDeps(s strategies.Strategy, deps Deps) error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: no strategy", ErrNotConfigured)
	case deps.Venue == nil:
		return fmt.Errorf("%w: no venue", ErrNotConfigured)
	case !deps.Venue.Available():
		return fmt.Errorf("%w: venue", ErrUnavailable)
	case deps.Account == nil:
		return fmt.Errorf("%w: no account", ErrNotConfigured)
	case !deps.Account.Available():
		return fmt.Errorf("%w: account", ErrUnavailable)
	case deps.MarketData == nil:
		return fmt.Errorf("%w: no market data", ErrNotConfigured)
	case deps.Store == nil:
		return fmt.Errorf("%w: no order store", ErrNotConfigured)
	}
	return nil
}

func (e *LiveEngine) fail(err error) error {
	e.mu.Lock()
	e.state.Status = StatusError
	e.state.ErrorMessage = err.Error()
	e.mu.Unlock()
	engineRunning.Set(0)

	log.Error().Err(err).Msg("Live engine failed to start")
	return err
}

func (e *LiveEngine) markStopped() {
	e.mu.Lock()
	if e.state.Status == StatusStopping {
		e.state.Status = StatusStopped
	}
	e.mu.Unlock()
	engineRunning.Set(0)
}

func (e *LiveEngine) loop(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := e.tick(ctx); err != nil && ctx.Err() == nil {
			tickErrors.Inc()
			e.mu.Lock()
			e.state.ErrorMessage = err.Error()
			e.mu.Unlock()
			log.Error().Err(err).Msg("Live tick failed")
		}
		timer.Reset(interval)
	}
}

func (e *LiveEngine) tick(ctx context.Context) error {
	e.mu.RLock()
	s, deps := e.strategy, e.deps
	e.mu.RUnlock()
	cfg := s.Config()

	bars, err := deps.MarketData.RecentBars(ctx, cfg.Symbol, cfg.Timeframe, e.warmup)
	if err != nil {
		return fmt.Errorf("failed to fetch bars: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no bars for %s %s", cfg.Symbol, cfg.Timeframe)
	}

	s.Refresh(bars)
	s.Position().MarkToMarket(bars[len(bars)-1].Close)

	sig := s.OnBar(len(bars) - 1)
	if !sig.IsActionable() {
		return nil
	}

	now := e.now()
	e.mu.Lock()
	e.state.SignalCount++
	e.state.LastSignalTime = &now
	e.state.LastSignalType = string(sig.Kind)
	e.mu.Unlock()
	signalsTotal.WithLabelValues(string(sig.Kind)).Inc()

	log.Info().
		Str("kind", string(sig.Kind)).
		Float64("price", sig.Price).
		Str("reason", sig.Reason).
		Msg("Signal received")
	e.publish(ctx, "signal", map[string]interface{}{
		"kind":   string(sig.Kind),
		"price":  sig.Price,
		"reason": sig.Reason,
	})

	return e.execute(ctx, s, deps, sig)
}

func (e *LiveEngine) execute(ctx context.Context, s strategies.Strategy, deps Deps, sig types.Signal) error {
	cfg := s.Config()
	max, err := deps.Account.MaxAvailableSize(ctx, cfg.Symbol, sig.Price)
	if err != nil {
		return fmt.Errorf("failed to query available size: %w", err)
	}
	size := orderSize(sig, max, s.Position().Quantity(), cfg.PositionSize)
	if !size.IsPositive() {
		log.Info().Str("kind", string(sig.Kind)).Msg("Order size is zero, skipping")
		return nil
	}

	side := sig.Side()
	req := types.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        cfg.Symbol,
		Side:          side,
		Type:          "market",
		Size:          size,
		TdMode:        "cash",
	}
	ack, err := deps.Venue.PlaceOrder(ctx, req)
	if err != nil {
		ack = types.OrderAck{Error: err.Error()}
	}

	qty := size.InexactFloat64()
	price := sig.Price
	if ack.Success && ack.OrderID != "" {
		if q, p := e.awaitFill(ctx, deps.Venue, cfg.Symbol, ack.OrderID); q > 0 {
			qty = q
			if p > 0 {
				price = p
			}
		}
	}

	rec := types.OrderRecord{
		ID:           uuid.NewString(),
		Time:         e.now(),
		StrategyID:   s.ID(),
		StrategyName: s.Name(),
		Symbol:       cfg.Symbol,
		SignalType:   string(sig.Kind),
		OrderID:      ack.OrderID,
		Side:         side,
		Size:         qty,
		Price:        price,
		Success:      ack.Success,
		ErrorMessage: ack.Error,
	}
	e.record(deps.Store, rec)
	e.publish(ctx, "order", map[string]interface{}{
		"order_id": rec.OrderID,
		"side":     string(side),
		"size":     qty,
		"price":    price,
		"success":  rec.Success,
	})

	if !ack.Success {
		ordersTotal.WithLabelValues(string(side), "failed").Inc()
		log.Warn().
			Str("side", string(side)).
			Str("size", size.String()).
			Str("error", ack.Error).
			Msg("Order failed")
		return nil
	}
	ordersTotal.WithLabelValues(string(side), "filled").Inc()
	log.Info().
		Str("order_id", ack.OrderID).
		Str("side", string(side)).
		Float64("size", qty).
		Float64("price", price).
		Msg("Order filled")

	e.reconcile(s, sig, qty, price)
	return nil
}

// awaitFill polls the venue for the actual fill. Zero means unknown and the
// caller falls back to the requested size and signal price.
func (e *LiveEngine) awaitFill(ctx context.Context, venue Venue, symbol, orderID string) (qty, price float64) {
	start := time.Now()
	defer func() { fillWait.Observe(time.Since(start).Seconds()) }()

	for i := 0; i < e.fillAttempts; i++ {
		detail, err := venue.OrderDetail(ctx, symbol, orderID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("Failed to fetch fill details, using requested size")
			return 0, 0
		}
		if detail == nil {
			return 0, 0
		}
		if detail.FilledSize > 0 {
			return detail.FilledSize, detail.AvgPrice
		}
		select {
		case <-ctx.Done():
			return 0, 0
		case <-time.After(e.fillDelay):
		}
	}
	return 0, 0
}

// reconcile books the confirmed fill on the strategy's position and tells
// the strategy about it.
func (e *LiveEngine) reconcile(s strategies.Strategy, sig types.Signal, qty, price float64) {
	pos := s.Position()
	trade := types.Trade{
		Time:     e.now(),
		Side:     sig.Side(),
		Price:    price,
		Quantity: qty,
		Hint:     sig.Hint,
		Payload:  sig.Payload,
	}
	if trade.Side == types.SideBuy {
		pos.AddFill(qty, price, 0)
	} else {
		trade.Quantity, trade.RealizedPnL = pos.Reduce(qty, price, 0)
	}
	pos.MarkToMarket(price)

	view := pos.View()
	log.Info().
		Float64("quantity", view.Quantity).
		Float64("avg_price", view.AvgPrice).
		Float64("realized_pnl", view.RealizedPnL).
		Msg("Position updated")

	// status readers see grid levels under mu
	e.mu.Lock()
	s.OnTrade(trade)
	e.mu.Unlock()
}

// record keeps rec in memory and persists it in the background. Storage
// failures are logged only.
func (e *LiveEngine) record(store OrderStore, rec types.OrderRecord) {
	e.mu.Lock()
	e.history.add(rec)
	e.state.OrderCount++
	if rec.Success {
		e.state.SuccessCount++
	} else {
		e.state.FailureCount++
	}
	e.mu.Unlock()

	e.persist.Add(1)
	go func() {
		defer e.persist.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := store.AppendOrderRecord(ctx, rec); err != nil {
			log.Error().Err(err).Str("order_id", rec.OrderID).Msg("Failed to persist order record")
		}
	}()
}

func (e *LiveEngine) publish(ctx context.Context, kind string, data map[string]interface{}) {
	e.mu.RLock()
	pub, source := e.deps.Events, e.state.StrategyID
	e.mu.RUnlock()
	if pub == nil {
		return
	}
	event := types.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Source:    source,
		Timestamp: e.now(),
		Data:      data,
	}
	if err := pub.Publish(ctx, EventStream, event); err != nil {
		log.Warn().Err(err).Str("type", kind).Msg("Failed to publish event")
	}
}

// gridReporter is implemented by strategies that expose their grid.
type gridReporter interface {
	GridStatus() strategies.GridStatus
}

var (
	defaultOnce   sync.Once
	defaultEngine *LiveEngine
)

// Default returns the process-wide live engine.
func Default() *LiveEngine {
	defaultOnce.Do(func() { defaultEngine = NewLiveEngine() })
	return defaultEngine
}
