package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
	"brokerhub/internal/gather"
	"brokerhub/internal/store"
	"brokerhub/internal/util"
	"brokerhub/pkg/brokerhub"
)

const (
	version    = "0.1.0"
	defaultURL = "http://localhost:8080"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: brokerctl <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                          Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  symbol <name>                    Resolve an instrument\n")
		fmt.Fprintf(os.Stderr, "  history <name> [tf] [from] [to]  Print bars (dates as 2006-01-02)\n")
		fmt.Fprintf(os.Stderr, "  backfill <tf> <from> <name>...   Download bars into the cache\n")
		fmt.Fprintf(os.Stderr, "  positions                        List open positions\n")
		fmt.Fprintf(os.Stderr, "  cash                             Print free cash\n")
		fmt.Fprintf(os.Stderr, "\nCommands against a running brokerd (BROKERHUB_URL, default %s):\n", defaultURL)
		fmt.Fprintf(os.Stderr, "  orders [-active]                 List orders\n")
		fmt.Fprintf(os.Stderr, "  submit <name> <side> <type> <qty> [price] [stop]\n")
		fmt.Fprintf(os.Stderr, "  cancel <ref>                     Cancel an order\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "version":
		fmt.Printf("brokerctl %s\n", version)
		return
	case "orders", "submit", "cancel":
		remote(os.Args[1], os.Args[2:])
		return
	}

	cfgPath := "config/brokerhub.yaml"
	if p := os.Getenv("BROKERHUB_CONFIG"); p != "" {
		cfgPath = p
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")

	adapter, err := broker.New(cfg, logger)
	if err != nil {
		log.Fatalf("creating broker: %v", err)
	}
	defer adapter.Close()
	cache := store.NewParquetStore(cfg.Storage.DataDir)
	session := engine.NewSession(adapter, engine.Options{
		Account: cfg.Broker.Account,
		Cache:   cache,
		Log:     logger,
	})
	defer session.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "symbol":
		if len(args) < 1 {
			log.Fatal("symbol: name required")
		}
		s, err := session.Symbols().Resolve(ctx, args[0])
		if err != nil {
			log.Fatalf("symbol: %v", err)
		}
		fmt.Printf("%s\tboard=%s code=%s decimals=%d step=%g lot=%d\t%s\n",
			s.Name, s.Board, s.Code, s.Decimals, s.MinStep, s.LotSize, s.Description)

	case "history":
		if len(args) < 1 {
			log.Fatal("history: name required")
		}
		tf := domain.TimeFrame("D1")
		if len(args) > 1 {
			tf = domain.TimeFrame(args[1])
		}
		from, to := parseDate(args, 2), parseDate(args, 3)
		bars, err := session.History(ctx, args[0], tf, from, to)
		if err != nil {
			log.Fatalf("history: %v", err)
		}
		sym, _ := session.Symbols().Cached(args[0])
		for _, b := range bars {
			fmt.Printf("%s\t%s\t%s\t%s\t%s\t%d\n", b.Time.Format(time.RFC3339),
				sym.FormatPrice(b.Open), sym.FormatPrice(b.High), sym.FormatPrice(b.Low), sym.FormatPrice(b.Close), b.Volume)
		}

	case "backfill":
		if len(args) < 3 {
			log.Fatal("backfill: tf, from and at least one name required")
		}
		g := gather.NewHistoryBackfill(adapter, cache, args[2:], domain.TimeFrame(args[0]),
			gather.DateRange{Start: parseDate(args, 1)}, 4, filepath.Join(cfg.Storage.DataDir, "progress"), logger)
		if err := g.Run(ctx); err != nil {
			log.Fatalf("backfill: %v", err)
		}
		res := g.Result()
		fmt.Printf("written=%d empty=%d skipped=%d failed=%d bars=%d\n",
			res.Written, res.Empty, res.Skipped, res.Failed, res.Bars)

	case "positions":
		positions, err := adapter.Positions(ctx, cfg.Broker.Account)
		if err != nil {
			log.Fatalf("positions: %v", err)
		}
		for _, p := range positions {
			fmt.Printf("%s\t%d\t%.4f\t%.4f\t%+.2f%%\n", p.Symbol, p.Qty, p.AvgPrice, p.LastPrice, p.ChangePct())
		}

	case "cash":
		cash, err := adapter.Cash(ctx, cfg.Broker.Account)
		if err != nil {
			log.Fatalf("cash: %v", err)
		}
		fmt.Printf("%.2f\n", cash)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func parseDate(args []string, i int) time.Time {
	if len(args) <= i {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", args[i])
	if err != nil {
		log.Fatalf("bad date %q: %v", args[i], err)
	}
	return t
}

func remote(cmd string, args []string) {
	url := defaultURL
	if u := os.Getenv("BROKERHUB_URL"); u != "" {
		url = u
	}
	c := brokerhub.NewClient(url)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "orders":
		fs := flag.NewFlagSet("orders", flag.ExitOnError)
		active := fs.Bool("active", false, "only live orders")
		fs.Parse(args)
		list, err := c.GetOrders(ctx, *active)
		if err != nil {
			log.Fatalf("orders: %v", err)
		}
		for _, o := range list {
			fmt.Printf("#%d\t%s\t%s %s %d\t%s\tfilled=%d@%.4f\t%s\n",
				o.Ref, o.Symbol, o.Side, o.Type, o.Qty, o.Status, o.Filled, o.AvgPrice, o.Reason)
		}

	case "submit":
		if len(args) < 4 {
			log.Fatal("submit: name, side, type and qty required")
		}
		qty, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			log.Fatalf("submit: bad qty %q", args[3])
		}
		req := brokerhub.OrderRequest{Symbol: args[0], Side: args[1], Type: args[2], Qty: qty}
		if len(args) > 4 {
			req.Price = parseFloat(args[4])
		}
		if len(args) > 5 {
			req.StopPrice = parseFloat(args[5])
		}
		o, err := c.SubmitOrder(ctx, req)
		if err != nil {
			log.Fatalf("submit: %v", err)
		}
		fmt.Printf("#%d %s\n", o.Ref, o.Status)

	case "cancel":
		if len(args) < 1 {
			log.Fatal("cancel: ref required")
		}
		ref, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatalf("cancel: bad ref %q", args[0])
		}
		if err := c.CancelOrder(ctx, ref); err != nil {
			log.Fatalf("cancel: %v", err)
		}
		fmt.Printf("#%d cancel requested\n", ref)
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Fatalf("bad number %q", s)
	}
	return v
}
