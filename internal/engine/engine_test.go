package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// queued emits the queued signals one per tick, then holds.
type queued struct {
	strategies.Base
	mu      sync.Mutex
	signals []types.Signal
}

func newQueued(signals ...types.Signal) *queued {
	cfg := strategies.DefaultConfig()
	cfg.Symbol = "BTC-USDT"
	cfg.PositionSize = 0.5
	return &queued{Base: strategies.NewBase(cfg), signals: signals}
}

func (q *queued) ID() string { return "queued" }

func (q *queued) Init(bars []types.Bar) {
	q.SetBars(bars)
	q.ResetTrades()
}

func (q *queued) Refresh(bars []types.Bar) { q.SetBars(bars) }

func (q *queued) OnBar(i int) types.Signal {
	bar, _ := q.Bar(i)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.signals) == 0 {
		return types.Hold(bar.Close, bar.Time, "")
	}
	sig := q.signals[0]
	q.signals = q.signals[1:]
	if sig.Price == 0 {
		sig.Price = bar.Close
	}
	sig.Time = bar.Time
	return sig
}

type fakeVenue struct {
	mu        sync.Mutex
	down      bool
	ack       types.OrderAck
	placeErr  error
	detail    *types.OrderDetail
	detailErr error
	reqs      []types.OrderRequest
}

func (v *fakeVenue) Available() bool { return !v.down }

func (v *fakeVenue) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reqs = append(v.reqs, req)
	return v.ack, v.placeErr
}

func (v *fakeVenue) CancelOrder(context.Context, string, string) error { return nil }

func (v *fakeVenue) OrderDetail(context.Context, string, string) (*types.OrderDetail, error) {
	if v.detail == nil {
		return nil, v.detailErr
	}
	d := *v.detail
	return &d, v.detailErr
}

func (v *fakeVenue) requests() []types.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]types.OrderRequest(nil), v.reqs...)
}

type fakeAccount struct {
	down bool
	max  types.MaxSize
}

func (a *fakeAccount) Available() bool { return !a.down }

func (a *fakeAccount) MaxAvailableSize(context.Context, string, float64) (types.MaxSize, error) {
	return a.max, nil
}

type fakeMarket struct {
	mu        sync.Mutex
	bars      []types.Bar
	err       error
	failAfter int
	calls     int
}

func (m *fakeMarket) RecentBars(context.Context, string, string, int) ([]types.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil && m.calls > m.failAfter {
		return nil, m.err
	}
	return m.bars, nil
}

type fakeStore struct {
	mu   sync.Mutex
	recs []types.OrderRecord
	err  error
	// writes block until gate is closed
	gate chan struct{}
}

func (s *fakeStore) AppendOrderRecord(_ context.Context, rec types.OrderRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	err, gate := s.err, s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (s *fakeStore) records() []types.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.OrderRecord(nil), s.recs...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *fakePublisher) Publish(_ context.Context, _ string, ev types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func bars(n int, price float64) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Bar, n)
	for i := range out {
		out[i] = types.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

type fixture struct {
	venue   *fakeVenue
	account *fakeAccount
	market  *fakeMarket
	store   *fakeStore
	events  *fakePublisher
}

func newFixture() *fixture {
	return &fixture{
		venue: &fakeVenue{
			ack:    types.OrderAck{Success: true, OrderID: "o-1"},
			detail: &types.OrderDetail{OrderID: "o-1", FilledSize: 1, AvgPrice: 101, State: "filled"},
		},
		account: &fakeAccount{max: types.MaxSize{MaxBuy: 2, MaxSell: 5}},
		market:  &fakeMarket{bars: bars(30, 100)},
		store:   &fakeStore{},
		events:  &fakePublisher{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{Venue: f.venue, Account: f.account, MarketData: f.market, Store: f.store, Events: f.events}
}

func newTestEngine() *LiveEngine {
	return NewLiveEngine(WithWarmupBars(30), WithFillPolling(2, time.Millisecond))
}

func stop(t *testing.T, e *LiveEngine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
}

func buySignal() types.Signal  { return types.Signal{Kind: types.SignalBuy, Strength: 1} }
func sellSignal() types.Signal { return types.Signal{Kind: types.SignalSell, Strength: 1} }

func TestConcurrentStartOnlyOneWins(t *testing.T) {
	f := newFixture()
	e := newTestEngine()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.StartWith(context.Background(), newQueued(), time.Hour, f.deps())
		}(i)
	}
	wg.Wait()

	var ok, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrBusy):
			busy++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, busy)
	assert.Equal(t, StatusRunning, e.Status().Status)

	stop(t, e)
	assert.Equal(t, StatusStopped, e.Status().Status)
}

func TestConfigureWhileRunningIsBusy(t *testing.T) {
	f := newFixture()
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), newQueued(), time.Hour, f.deps()))
	defer stop(t, e)

	err := e.Configure(newQueued(), time.Minute, f.deps())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, StatusRunning, e.Status().Status)

	assert.ErrorIs(t, e.Start(context.Background()), ErrBusy)
}

func TestStartFailuresEnterErrorState(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, d *Deps)
		is     error
	}{
		{"venue unavailable", func(f *fixture, _ *Deps) { f.venue.down = true }, ErrUnavailable},
		{"account unavailable", func(f *fixture, _ *Deps) { f.account.down = true }, ErrUnavailable},
		{"no store", func(_ *fixture, d *Deps) { d.Store = nil }, ErrNotConfigured},
		{"no market data", func(_ *fixture, d *Deps) { d.MarketData = nil }, ErrNotConfigured},
		{"history fetch fails", func(f *fixture, _ *Deps) { f.market.err = errors.New("timeout") }, nil},
		{"empty history", func(f *fixture, _ *Deps) { f.market.bars = nil }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			d := f.deps()
			tt.mutate(f, &d)

			e := newTestEngine()
			err := e.StartWith(context.Background(), newQueued(), time.Hour, d)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}

			st := e.Status()
			assert.Equal(t, StatusError, st.Status)
			assert.NotEmpty(t, st.ErrorMessage)
			assert.Empty(t, f.venue.requests())
		})
	}
}

func TestRestartAfterErrorResetsCounters(t *testing.T) {
	f := newFixture()
	e := newTestEngine()
	f.venue.down = true
	require.Error(t, e.StartWith(context.Background(), newQueued(), time.Hour, f.deps()))

	f.venue.down = false
	require.NoError(t, e.StartWith(context.Background(), newQueued(), time.Hour, f.deps()))
	defer stop(t, e)

	st := e.Status()
	assert.Equal(t, StatusRunning, st.Status)
	assert.Empty(t, st.ErrorMessage)
	assert.NotNil(t, st.StartTime)
	assert.Equal(t, 3600.0, st.PollSeconds)
}

func TestBuyUsesConfirmedFill(t *testing.T) {
	f := newFixture()
	e := newTestEngine()
	s := newQueued(buySignal())
	require.NoError(t, e.StartWith(context.Background(), s, time.Hour, f.deps()))

	require.Eventually(t, func() bool { return len(e.OrderHistory()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, e)

	reqs := f.venue.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, types.SideBuy, reqs[0].Side)
	assert.True(t, reqs[0].Size.Equal(decimal.NewFromInt(1)), "size %s", reqs[0].Size)
	assert.NotEmpty(t, reqs[0].ClientOrderID)

	recs := f.store.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "o-1", recs[0].OrderID)
	assert.Equal(t, 1.0, recs[0].Size)
	assert.Equal(t, 101.0, recs[0].Price)
	assert.Equal(t, "buy", recs[0].SignalType)

	view := s.Position().View()
	assert.Equal(t, 1.0, view.Quantity)
	assert.Equal(t, 101.0, view.AvgPrice)
	require.Len(t, s.Trades(), 1)

	st := e.Status()
	assert.Equal(t, StatusStopped, st.Status)
	assert.Equal(t, 1, st.SignalCount)
	assert.Equal(t, 1, st.OrderCount)
	assert.Equal(t, 1, st.SuccessCount)
	assert.Equal(t, "buy", st.LastSignalType)
	require.NotNil(t, st.Position)
	assert.Equal(t, 1.0, st.Position.Quantity)

	assert.Contains(t, f.events.kinds(), "order")
	assert.Contains(t, f.events.kinds(), "signal")
}

func TestFillLookupFailureFallsBackToRequest(t *testing.T) {
	f := newFixture()
	f.venue.detail = nil
	f.venue.detailErr = errors.New("not found")
	e := newTestEngine()
	s := newQueued(buySignal())
	require.NoError(t, e.StartWith(context.Background(), s, time.Hour, f.deps()))

	require.Eventually(t, func() bool { return len(e.OrderHistory()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, e)

	rec := e.OrderHistory()[0]
	assert.Equal(t, 1.0, rec.Size)
	assert.Equal(t, 100.0, rec.Price)
	assert.Equal(t, 100.0, s.Position().AvgPrice())
}

func TestSellIsCappedByHeldQuantity(t *testing.T) {
	f := newFixture()
	e := newTestEngine()
	s := newQueued(buySignal(), sellSignal())
	require.NoError(t, e.StartWith(context.Background(), s, 5*time.Millisecond, f.deps()))

	require.Eventually(t, func() bool { return len(e.OrderHistory()) == 2 }, 2*time.Second, 5*time.Millisecond)
	stop(t, e)

	reqs := f.venue.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, types.SideSell, reqs[1].Side)
	assert.True(t, reqs[1].Size.Equal(decimal.NewFromInt(1)), "size %s", reqs[1].Size)
	assert.True(t, s.Position().IsFlat())
}

func TestZeroSizeSkipsVenue(t *testing.T) {
	f := newFixture()
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), newQueued(sellSignal()), time.Hour, f.deps()))

	require.Eventually(t, func() bool { return e.Status().SignalCount == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, e)

	assert.Empty(t, f.venue.requests())
	assert.Empty(t, e.OrderHistory())
	assert.Equal(t, 0, e.Status().OrderCount)
}

func TestRejectedOrderLeavesPositionFlat(t *testing.T) {
	f := newFixture()
	f.venue.ack = types.OrderAck{Success: false, Error: "insufficient balance"}
	e := newTestEngine()
	s := newQueued(buySignal())
	require.NoError(t, e.StartWith(context.Background(), s, time.Hour, f.deps()))

	require.Eventually(t, func() bool { return len(e.OrderHistory()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, e)

	rec := e.OrderHistory()[0]
	assert.False(t, rec.Success)
	assert.Equal(t, "insufficient balance", rec.ErrorMessage)
	assert.True(t, s.Position().IsFlat())
	assert.Empty(t, s.Trades())
	assert.Equal(t, 1, e.Status().FailureCount)
}

func TestStoreFailureDoesNotStopEngine(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("db down")
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), newQueued(buySignal()), time.Hour, f.deps()))

	require.Eventually(t, func() bool { return len(e.OrderHistory()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusRunning, e.Status().Status)
	stop(t, e)
}

func TestTickErrorKeepsLoopRunning(t *testing.T) {
	f := newFixture()
	f.market.err = errors.New("exchange timeout")
	f.market.failAfter = 1
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), newQueued(), 5*time.Millisecond, f.deps()))

	require.Eventually(t, func() bool {
		return e.Status().ErrorMessage != ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusRunning, e.Status().Status)
	assert.Contains(t, e.Status().ErrorMessage, "exchange timeout")
	stop(t, e)
}

func TestStopWaitsForPendingWrites(t *testing.T) {
	f := newFixture()
	f.store.gate = make(chan struct{})
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), newQueued(buySignal()), time.Hour, f.deps()))
	require.Eventually(t, func() bool { return len(f.store.records()) == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- e.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return e.Status().Status == StatusStopping }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusStopping, e.Status().Status, "write still pending")

	close(f.store.gate)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, StatusStopped, e.Status().Status)
}

func TestStopTimeoutFinishesInBackground(t *testing.T) {
	f := newFixture()
	f.store.gate = make(chan struct{})
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), newQueued(buySignal()), time.Hour, f.deps()))
	require.Eventually(t, func() bool { return len(f.store.records()) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, StatusStopping, e.Status().Status)
	assert.ErrorIs(t, e.StartWith(context.Background(), newQueued(), time.Hour, f.deps()), ErrBusy)

	close(f.store.gate)
	require.Eventually(t, func() bool { return e.Status().Status == StatusStopped }, 2*time.Second, 5*time.Millisecond)
}

func TestClockStampsStatusAndRecords(t *testing.T) {
	pinned := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture()
	e := NewLiveEngine(
		WithWarmupBars(30),
		WithFillPolling(2, time.Millisecond),
		WithClock(func() time.Time { return pinned }),
	)
	require.NoError(t, e.StartWith(context.Background(), newQueued(buySignal()), time.Hour, f.deps()))
	require.Eventually(t, func() bool { return len(e.OrderHistory()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, e)

	st := e.Status()
	require.NotNil(t, st.StartTime)
	assert.Equal(t, pinned, *st.StartTime)
	require.NotNil(t, st.LastSignalTime)
	assert.Equal(t, pinned, *st.LastSignalTime)
	assert.Equal(t, pinned, e.OrderHistory()[0].Time)
	assert.Nil(t, st.Grid)
}

func TestStatusShowsGridLevels(t *testing.T) {
	cfg := strategies.DefaultConfig()
	cfg.Symbol = "BTC-USDT"
	g, err := strategies.NewGrid(cfg, strategies.GridParams{UpperPrice: 110, LowerPrice: 90, GridCount: 4})
	require.NoError(t, err)

	f := newFixture()
	e := newTestEngine()
	require.NoError(t, e.StartWith(context.Background(), g, time.Hour, f.deps()))
	defer stop(t, e)

	st := e.Status()
	require.NotNil(t, st.Grid)
	assert.Equal(t, 4, st.Grid.GridCount)
	assert.Equal(t, strategies.GridArithmetic, st.Grid.GridType)
	assert.Zero(t, st.Grid.HoldingCount)
	require.Len(t, st.Grid.Levels, 5)
	assert.InDelta(t, 90.0, st.Grid.Levels[0].Price, 1e-9)
	assert.InDelta(t, 110.0, st.Grid.Levels[4].Price, 1e-9)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, StatusStopped, e.Status().Status)
}

func TestConfigureRejectsNilStrategy(t *testing.T) {
	e := newTestEngine()
	assert.ErrorIs(t, e.Configure(nil, time.Minute, Deps{}), ErrNotConfigured)
}

func TestHistoryKeepsNewestRecords(t *testing.T) {
	h := newHistory(3)
	assert.Empty(t, h.list())

	for i := 0; i < 5; i++ {
		h.add(types.OrderRecord{OrderID: string(rune('a' + i))})
	}
	got := h.list()
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].OrderID)
	assert.Equal(t, "e", got[2].OrderID)
}

func TestOrderSize(t *testing.T) {
	max := types.MaxSize{MaxBuy: 2, MaxSell: 3}
	tests := []struct {
		name string
		sig  types.Signal
		held float64
		want string
	}{
		{"buy uses position size", buySignal(), 0, "1"},
		{"buy hint within max", types.Signal{Kind: types.SignalBuy, Hint: types.ExecHint{Quantity: 0.25}}, 0, "0.25"},
		{"buy hint capped", types.Signal{Kind: types.SignalBuy, Hint: types.ExecHint{Quantity: 9}}, 0, "2"},
		{"sell all held", sellSignal(), 1.5, "1.5"},
		{"sell capped by venue", sellSignal(), 10, "3"},
		{"sell hint", types.Signal{Kind: types.SignalSell, Hint: types.ExecHint{Quantity: 0.4}}, 1, "0.4"},
		{"sell while flat", sellSignal(), 0, "0"},
		{"hold", types.Hold(100, time.Time{}, ""), 1, "0"},
		{"truncated", types.Signal{Kind: types.SignalBuy, Hint: types.ExecHint{Quantity: 0.12345678}}, 0, "0.123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderSize(tt.sig, max, tt.held, 0.5)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
