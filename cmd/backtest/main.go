package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
	"brokerhub/internal/strategy"
	"brokerhub/internal/strategy/builtins"
	"brokerhub/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/brokerhub.yaml", "path to config file")
	name := flag.String("strategy", "", "strategy name (overrides backtest.strategy)")
	symbol := flag.String("symbol", "", "instrument display name (overrides backtest.symbol)")
	list := flag.Bool("list", false, "list registered strategies and exit")
	flag.Parse()

	registry := strategy.NewRegistry()
	builtins.Register(registry)
	if *list {
		for _, n := range registry.List() {
			fmt.Println(n)
		}
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	bc := cfg.Backtest
	if *name != "" {
		bc.Strategy = *name
	}
	if *symbol != "" {
		bc.Symbol = *symbol
	}
	if bc.Strategy == "" || bc.Symbol == "" {
		log.Fatal("backtest: strategy and symbol are required")
	}

	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	from, to := parseDate(bc.From), parseDate(bc.To)
	tf := domain.TimeFrame(bc.TimeFrame)

	adapter, err := broker.New(cfg, logger)
	if err != nil {
		log.Fatalf("creating broker: %v", err)
	}
	defer adapter.Close()
	sym, err := adapter.ResolveSymbol(ctx, bc.Symbol)
	if err != nil {
		log.Fatalf("resolving %s: %v", bc.Symbol, err)
	}

	bars, err := loadBars(ctx, store.NewParquetStore(cfg.Storage.DataDir), adapter, sym, tf, from, to)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}

	res, err := strategy.NewBacktester(registry, logger).Run(ctx, strategy.BacktestConfig{
		Strategy:  bc.Strategy,
		Params:    bc.Params,
		Symbol:    sym,
		TimeFrame: tf,
		Cash:      cfg.Simulator.Cash,
	}, bars)
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}

	fmt.Printf("strategy       %s\n", bc.Strategy)
	fmt.Printf("symbol         %s %s (%d bars)\n", sym.Name, tf, len(bars))
	fmt.Printf("equity         %.2f -> %.2f\n", res.StartEquity, res.EndEquity)
	fmt.Printf("total return   %.2f%%\n", res.TotalReturn*100)
	fmt.Printf("sharpe         %.2f\n", res.SharpeRatio)
	fmt.Printf("max drawdown   %.2f%%\n", res.MaxDrawdown*100)
	fmt.Printf("fills          %d\n", res.TotalTrades)
	fmt.Printf("round trips    %d\n", res.RoundTrips)
	fmt.Printf("win rate       %.1f%%\n", res.WinRate*100)
	fmt.Printf("profit factor  %.2f\n", res.ProfitFactor)
}

// loadBars reads cached bars and tops the cache up from the adapter. The
// cache alone is used when the adapter has nothing.
func loadBars(ctx context.Context, cache *store.ParquetStore, adapter broker.Broker, sym domain.Symbol, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	cached, err := cache.ReadBars(ctx, sym.Name, tf, from, to)
	if err != nil {
		return nil, err
	}
	fresh, err := adapter.History(ctx, sym, tf, from, to)
	if err != nil {
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}
	if err := cache.WriteBars(ctx, sym.Name, tf, fresh); err != nil {
		return nil, err
	}
	return store.MergeBars(cached, fresh), nil
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		log.Fatalf("bad date %q: %v", s, err)
	}
	return t
}
