package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
)

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	StartEquity  float64
	EndEquity    float64
	TotalReturn  float64
	SharpeRatio  float64 // per-bar returns, annualized with 252 periods
	MaxDrawdown  float64 // fraction of the running peak
	TotalTrades  int     // fills
	RoundTrips   int     // fills that closed exposure
	WinRate      float64
	ProfitFactor float64 // gross profit over gross loss; +Inf without losses
	Orders       []domain.Order
}

// BacktestConfig describes one run.
type BacktestConfig struct {
	Strategy  string
	Params    map[string]float64
	Symbol    domain.Symbol
	TimeFrame domain.TimeFrame
	Cash      float64
}

// Backtester replays historical bars through a strategy running on a
// Session over the simulator and computes performance metrics.
type Backtester struct {
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester that looks strategies up in registry.
func NewBacktester(registry *Registry, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		registry: registry,
		log:      log.With("component", "backtest"),
	}
}

const backtestAccount = "backtest"

// Run executes cfg over bars. Orders placed on one bar fill on the next.
func (bt *Backtester) Run(ctx context.Context, cfg BacktestConfig, bars []domain.Bar) (*BacktestResult, error) {
	if len(bars) == 0 {
		return nil, broker.ErrNoData
	}
	strat, err := bt.registry.New(cfg.Strategy, cfg.Params)
	if err != nil {
		return nil, err
	}
	if cfg.TimeFrame == "" {
		cfg.TimeFrame = "D1"
	}

	if cfg.Symbol.Name == "" {
		cfg.Symbol.Name = domain.DisplayName(cfg.Symbol.Board, cfg.Symbol.Code)
	}
	name := cfg.Symbol.Name

	sim := broker.NewSimulatorBroker(cfg.Cash, []domain.Symbol{cfg.Symbol}, bt.log)
	session := engine.NewSession(sim, engine.Options{Account: backtestAccount, Log: bt.log})
	defer session.Close()
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	if err := session.SubscribeBars(ctx, name, cfg.TimeFrame); err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		trades []domain.Trade
	)
	session.TradeEvents.Subscribe(func(e engine.TradeEvent) {
		mu.Lock()
		trades = append(trades, e.Trade)
		mu.Unlock()
	})

	runner := NewRunner(session, strat, bt.log)
	if err := runner.Init(ctx); err != nil {
		return nil, err
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	equity := make([]float64, 0, len(sorted)+1)
	equity = append(equity, cfg.Cash)
	for _, bar := range sorted {
		bar.Symbol = name
		bar.TimeFrame = cfg.TimeFrame
		sim.Feed(bar)
		if err := runner.Step(ctx, bar); err != nil {
			return nil, err
		}
		eq, err := bt.equity(ctx, session)
		if err != nil {
			return nil, err
		}
		equity = append(equity, eq)
	}
	if err := session.Flush(ctx); err != nil {
		return nil, err
	}

	orders, err := session.Orders(ctx)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	res := summarize(equity, trades)
	mu.Unlock()
	res.Orders = orders

	bt.log.Info("backtest finished",
		"strategy", cfg.Strategy,
		"symbol", name,
		"bars", len(sorted),
		"return", fmt.Sprintf("%.2f%%", res.TotalReturn*100),
		"trades", res.TotalTrades,
	)
	return res, nil
}

func (bt *Backtester) equity(ctx context.Context, s *engine.Session) (float64, error) {
	cash, err := s.Cash(ctx)
	if err != nil {
		return 0, err
	}
	value, err := s.Value(ctx)
	if err != nil {
		return 0, err
	}
	return cash + value, nil
}

// summarize computes metrics from the equity curve and the fills in order.
func summarize(equity []float64, trades []domain.Trade) *BacktestResult {
	res := &BacktestResult{
		StartEquity: equity[0],
		EndEquity:   equity[len(equity)-1],
		TotalTrades: len(trades),
	}
	if res.StartEquity != 0 {
		res.TotalReturn = res.EndEquity/res.StartEquity - 1
	}

	peak := equity[0]
	var rets []float64
	for i, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			res.MaxDrawdown = math.Max(res.MaxDrawdown, (peak-eq)/peak)
		}
		if i > 0 && equity[i-1] != 0 {
			rets = append(rets, eq/equity[i-1]-1)
		}
	}
	res.SharpeRatio = sharpe(rets)

	var qty int64
	var avg, grossProfit, grossLoss float64
	wins := 0
	for _, t := range trades {
		if qty != 0 && (qty > 0) != (t.Qty > 0) {
			closed := min(abs(qty), abs(t.Qty))
			pnl := float64(closed) * (t.Price - avg)
			if qty < 0 {
				pnl = -pnl
			}
			res.RoundTrips++
			if pnl > 0 {
				wins++
				grossProfit += pnl
			} else {
				grossLoss -= pnl
			}
		}
		qty, avg = applyFill(qty, avg, t.Qty, t.Price)
	}
	if res.RoundTrips > 0 {
		res.WinRate = float64(wins) / float64(res.RoundTrips)
	}
	switch {
	case grossLoss > 0:
		res.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		res.ProfitFactor = math.Inf(1)
	}
	return res
}

// applyFill returns the position after a signed fill.
func applyFill(qty int64, avg float64, fill int64, price float64) (int64, float64) {
	next := qty + fill
	switch {
	case next == 0:
		return 0, 0
	case qty == 0 || (qty > 0) != (next > 0):
		return next, price
	case (qty > 0) == (fill > 0):
		return next, (avg*float64(abs(qty)) + price*float64(abs(fill))) / float64(abs(next))
	default:
		return next, avg
	}
}

func sharpe(rets []float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var variance float64
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(rets)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
