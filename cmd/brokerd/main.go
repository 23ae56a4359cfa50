package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"brokerhub/internal/api"
	"brokerhub/internal/broker"
	"brokerhub/internal/config"
	"brokerhub/internal/engine"
	"brokerhub/internal/httpapi"
	"brokerhub/internal/notify"
	"brokerhub/internal/store"
	"brokerhub/internal/util"
)

func main() {
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

	logger := util.NewLoggerTo(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	dbPath := cfg.Storage.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Storage.DataDir, "brokerhub.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	journal, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer journal.Close()

	adapter, err := broker.New(cfg, logger)
	if err != nil {
		log.Fatalf("creating broker: %v", err)
	}
	defer adapter.Close()

	session := engine.NewSession(adapter, engine.Options{
		Account:         cfg.Broker.Account,
		Journal:         journal,
		Seen:            journal,
		Cache:           store.NewParquetStore(cfg.Storage.DataDir),
		Risk:            engine.NewRiskManager(cfg.Session.MaxOrderQty, cfg.Session.MaxPositionQty),
		CancelWarnAfter: cfg.Session.CancelWarnAfter,
		WatchInterval:   cfg.Session.WatchInterval,
		Log:             logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		log.Fatalf("starting session: %v", err)
	}
	logger.Info("brokerd started", "broker", adapter.Name(), "account", session.Account())

	grpcSrv := api.NewServer(cfg.Server.Host, cfg.Server.GRPCPort, logger)
	grpcSrv.SetServing(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcSrv.ListenAndServe(gctx) })
	if cfg.Server.HTTPPort != 0 {
		g.Go(func() error {
			return serveHTTP(gctx, net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
				httpapi.NewSessionServer(session, logger).Handler())
		})
	}
	g.Go(func() error {
		logNotifications(gctx, session.Notifications())
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
	}
	grpcSrv.SetServing(false)
	if err := session.Close(); err != nil {
		logger.Warn("closing session", "error", err)
	}
	logger.Info("brokerd stopped")
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// logNotifications drains the queue until ctx is done. The daemon has no
// strategy consuming notifications, so they are logged instead.
func logNotifications(ctx context.Context, q *notify.Queue) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, ok := q.Pop()
				if !ok {
					break
				}
				switch n.Kind {
				case notify.KindOrder:
					o := n.Order
					slog.Info("order", "ref", o.Ref, "symbol", o.Symbol, "status", o.Status,
						"filled", o.Executed.Qty, "avg_price", o.Executed.AvgPrice, "reason", o.Reason)
				case notify.KindMessage:
					slog.Warn(n.Message)
				}
			}
		}
	}
}
