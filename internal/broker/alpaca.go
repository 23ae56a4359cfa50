package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"
	"brokerhub/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ Broker = (*AlpacaBroker)(nil)

// AlpacaOptions configures an AlpacaBroker.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	BaseURL         string // trading API; empty means the SDK default
	DataURL         string // market-data API; empty means the SDK default
	Feed            string // "iex" or "sip"
	RateLimitPerMin int
	Retries         int
	PollInterval    time.Duration
	Log             *slog.Logger
}

// AlpacaBroker implements Broker on top of the Alpaca trading and
// market-data APIs. Fills arrive over the trade-updates stream; bars are
// polled while the market is open.
type AlpacaBroker struct {
	opts    AlpacaOptions
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	mu     sync.Mutex
	sink   Sink
	cal    *util.TradingCalendar
	subs   map[string]context.CancelFunc
	filled map[string]fillState // cumulative fill seen per broker order id
	names  map[string]string    // ticker -> display name
	owners map[string]string    // broker order id -> display name
	cancel context.CancelFunc
}

type fillState struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

// NewAlpacaBroker creates an AlpacaBroker. No network call is made until
// Start or a request method is invoked.
func NewAlpacaBroker(opts AlpacaOptions) *AlpacaBroker {
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	mdOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		mdOpts.BaseURL = opts.DataURL
	}

	return &AlpacaBroker{
		opts: opts,
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		data:    marketdata.NewClient(mdOpts),
		limiter: util.NewRateLimiter(opts.RateLimitPerMin, opts.RateLimitPerMin/10+1),
		log:     log.With("broker", "alpaca"),
		subs:    make(map[string]context.CancelFunc),
		filled:  make(map[string]fillState),
		names:   make(map[string]string),
		owners:  make(map[string]string),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// Start loads the trading calendar and begins streaming trade updates.
func (b *AlpacaBroker) Start(ctx context.Context, sink Sink) error {
	cal, err := b.loadCalendar(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.sink = sink
	b.cal = cal
	b.cancel = cancel
	b.mu.Unlock()

	b.trading.StreamTradeUpdatesInBackground(ctx, b.onTradeUpdate)
	b.log.Info("trade updates stream started")
	return nil
}

// loadCalendar builds a session calendar and marks the weekdays missing
// from Alpaca's calendar over the next month as holidays.
func (b *AlpacaBroker) loadCalendar(ctx context.Context) (*util.TradingCalendar, error) {
	cal, err := util.NewUSEquityCalendar()
	if err != nil {
		return nil, err
	}
	start := time.Now().AddDate(0, 0, -7)
	end := start.AddDate(0, 1, 0)

	var days []alpaca.CalendarDay
	err = b.call(ctx, func() error {
		var err error
		days, err = b.trading.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	open := make(map[string]bool, len(days))
	for _, d := range days {
		open[d.Date] = true
	}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if !open[d.Format("2006-01-02")] {
			cal.AddHoliday(d)
		}
	}
	return cal, nil
}

// call rate-limits and retries fn. Client errors (4xx) are not retried.
func (b *AlpacaBroker) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, b.opts.Retries, 500*time.Millisecond, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		err := fn()
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests {
			return util.Permanent(err)
		}
		return err
	})
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// ResolveSymbol looks up an asset by ticker. A board prefix, if present,
// must match the asset's primary exchange.
func (b *AlpacaBroker) ResolveSymbol(ctx context.Context, name string) (domain.Symbol, error) {
	board, code := domain.SplitDisplayName(name)
	return b.ResolveBrokerCode(ctx, board, code)
}

// ResolveBrokerCode looks up an asset by exchange and ticker.
func (b *AlpacaBroker) ResolveBrokerCode(ctx context.Context, venue, code string) (domain.Symbol, error) {
	var asset *alpaca.Asset
	err := b.call(ctx, func() error {
		var err error
		asset, err = b.trading.GetAsset(strings.ToUpper(code))
		return err
	})
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return domain.Symbol{}, fmt.Errorf("%w: %s", ErrNotFound, code)
		}
		return domain.Symbol{}, fmt.Errorf("GetAsset %s: %w", code, err)
	}
	exchange := string(asset.Exchange)
	if venue != "" && !strings.EqualFold(venue, exchange) {
		return domain.Symbol{}, fmt.Errorf("%w: %s on %s", ErrNotFound, code, venue)
	}
	name := domain.DisplayName(exchange, asset.Symbol)
	b.mu.Lock()
	b.names[asset.Symbol] = name
	b.mu.Unlock()
	return domain.Symbol{
		Board:       exchange,
		Code:        asset.Symbol,
		Name:        name,
		Description: asset.Name,
		Decimals:    2,
		MinStep:     0.01,
		LotSize:     1,
		BrokerInfo:  asset.ID,
	}, nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func alpacaTimeFrame(tf domain.TimeFrame) (marketdata.TimeFrame, error) {
	unit, n, err := domain.ParseTimeFrame(tf)
	if err != nil {
		return marketdata.TimeFrame{}, err
	}
	switch unit {
	case domain.UnitMinute:
		return marketdata.NewTimeFrame(n, marketdata.Min), nil
	case domain.UnitHour:
		return marketdata.NewTimeFrame(n, marketdata.Hour), nil
	case domain.UnitDay:
		return marketdata.OneDay, nil
	case domain.UnitWeek:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	default:
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
}

// History fetches bars from the market-data API.
func (b *AlpacaBroker) History(ctx context.Context, sym domain.Symbol, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	frame, err := alpacaTimeFrame(tf)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = time.Now().AddDate(-1, 0, 0)
	}

	var raw []marketdata.Bar
	err = b.call(ctx, func() error {
		var err error
		raw, err = b.data.GetBars(sym.Code, marketdata.GetBarsRequest{
			TimeFrame: frame,
			Start:     from,
			End:       to,
			Feed:      marketdata.Feed(b.opts.Feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", sym.Code, err)
	}
	if len(raw) == 0 {
		return nil, ErrNoData
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Board:     sym.Board,
			Code:      sym.Code,
			Symbol:    sym.Name,
			TimeFrame: tf,
			Time:      ab.Timestamp,
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	return bars, nil
}

func alpacaSubKey(sym domain.Symbol, tf domain.TimeFrame) string {
	return sym.Name + "|" + string(tf)
}

// SubscribeBars starts a polling goroutine for sym. Subscribing twice is a
// no-op.
func (b *AlpacaBroker) SubscribeBars(ctx context.Context, sym domain.Symbol, tf domain.TimeFrame) error {
	if _, err := alpacaTimeFrame(tf); err != nil {
		return err
	}
	key := alpacaSubKey(sym, tf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[key]; ok {
		return nil
	}
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.subs[key] = cancel
	go b.poll(pollCtx, sym, tf)
	return nil
}

// UnsubscribeBars stops the polling goroutine for sym.
func (b *AlpacaBroker) UnsubscribeBars(sym domain.Symbol, tf domain.TimeFrame) error {
	key := alpacaSubKey(sym, tf)
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.subs[key]; ok {
		cancel()
		delete(b.subs, key)
	}
	return nil
}

// poll pushes completed bars newer than the last one delivered.
func (b *AlpacaBroker) poll(ctx context.Context, sym domain.Symbol, tf domain.TimeFrame) {
	log := b.log.With("symbol", sym.Name, "tf", tf)
	interval := b.opts.PollInterval
	if d := tf.Duration(); d > 0 && d < interval {
		interval = d
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now().Add(-tf.Duration())
	for {
		select {
		case <-ctx.Done():
			log.Debug("bar polling stopped")
			return
		case now := <-ticker.C:
			b.mu.Lock()
			cal, sink := b.cal, b.sink
			b.mu.Unlock()
			if sink == nil || (cal != nil && tf.Intraday() && !cal.IsMarketOpen(now)) {
				continue
			}
			bars, err := b.History(ctx, sym, tf, last.Add(time.Second), time.Time{})
			if err != nil {
				if !errors.Is(err, ErrNoData) {
					log.Warn("polling bars", "error", err)
				}
				continue
			}
			for _, bar := range bars {
				// Skip the bar still forming.
				if !bar.Time.After(last) || bar.Time.Add(tf.Duration()).After(now) {
					continue
				}
				sink.OnBar(bar)
				last = bar.Time
			}
		}
	}
}

// LastPrice returns the latest trade price.
func (b *AlpacaBroker) LastPrice(ctx context.Context, sym domain.Symbol) (float64, error) {
	var tr *marketdata.Trade
	err := b.call(ctx, func() error {
		var err error
		tr, err = b.data.GetLatestTrade(sym.Code, marketdata.GetLatestTradeRequest{
			Feed: marketdata.Feed(b.opts.Feed),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("GetLatestTrade %s: %w", sym.Code, err)
	}
	if tr == nil {
		return 0, ErrNoData
	}
	return tr.Price, nil
}

// ---------------------------------------------------------------------------
// Orders and account
// ---------------------------------------------------------------------------

// SubmitOrder places a day order and returns Alpaca's order id.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order domain.Order, sym domain.Symbol) (string, error) {
	qty := decimal.NewFromInt(order.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        sym.Code,
		Qty:           &qty,
		TimeInForce:   alpaca.Day,
		ClientOrderID: uuid.NewString(),
	}
	if order.Side == domain.SideBuy {
		req.Side = alpaca.Buy
	} else {
		req.Side = alpaca.Sell
	}
	limit := decimal.NewFromFloat(order.Price)
	stop := decimal.NewFromFloat(order.StopPrice)
	switch order.Type {
	case domain.ExecMarket:
		req.Type = alpaca.Market
	case domain.ExecLimit:
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	case domain.ExecStop:
		req.Type = alpaca.Stop
		req.StopPrice = &stop
	case domain.ExecStopLimit:
		req.Type = alpaca.StopLimit
		req.LimitPrice = &limit
		req.StopPrice = &stop
	default:
		return "", fmt.Errorf("order type %s not supported by alpaca", order.Type)
	}

	var placed *alpaca.Order
	err := b.call(ctx, func() error {
		var err error
		placed, err = b.trading.PlaceOrder(req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("PlaceOrder %s: %w", order.String(), err)
	}
	b.mu.Lock()
	b.owners[placed.ID] = sym.Name
	b.mu.Unlock()
	b.log.Info("order placed", "ref", order.Ref, "id", placed.ID, "client_id", req.ClientOrderID)
	return placed.ID, nil
}

// CancelOrder requests cancellation. The confirmation arrives through the
// trade-updates stream.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, order domain.Order) error {
	if order.BrokerID == "" {
		return ErrUnknownOrder
	}
	err := b.call(ctx, func() error { return b.trading.CancelOrder(order.BrokerID) })
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return ErrUnknownOrder
		}
		return fmt.Errorf("CancelOrder %s: %w", order.BrokerID, err)
	}
	return nil
}

// Positions returns all open positions. Alpaca has one account per key, so
// account only labels the result.
func (b *AlpacaBroker) Positions(ctx context.Context, account string) ([]domain.Position, error) {
	var raw []alpaca.Position
	err := b.call(ctx, func() error {
		var err error
		raw, err = b.trading.GetPositions()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetPositions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		name, err := b.displayName(ctx, p.Symbol)
		if err != nil {
			return nil, err
		}
		pos := domain.Position{
			Account:  account,
			Symbol:   name,
			Qty:      p.Qty.IntPart(),
			AvgPrice: p.AvgEntryPrice.InexactFloat64(),
		}
		if p.CurrentPrice != nil {
			pos.LastPrice = p.CurrentPrice.InexactFloat64()
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (b *AlpacaBroker) displayName(ctx context.Context, ticker string) (string, error) {
	b.mu.Lock()
	name, ok := b.names[ticker]
	b.mu.Unlock()
	if ok {
		return name, nil
	}
	sym, err := b.ResolveBrokerCode(ctx, "", ticker)
	if err != nil {
		return "", err
	}
	return sym.Name, nil
}

// Cash returns the account's cash balance.
func (b *AlpacaBroker) Cash(ctx context.Context, _ string) (float64, error) {
	var acct *alpaca.Account
	err := b.call(ctx, func() error {
		var err error
		acct, err = b.trading.GetAccount()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("GetAccount: %w", err)
	}
	return acct.Cash.InexactFloat64(), nil
}

// Close stops the stream and every bar subscription.
func (b *AlpacaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, cancel := range b.subs {
		cancel()
		delete(b.subs, key)
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

// ---------------------------------------------------------------------------
// Trade updates
// ---------------------------------------------------------------------------

// alpacaStatus maps an order-lifecycle event to a terminal status. Other
// events carry no status the session acts on.
func alpacaStatus(event string) (domain.OrderStatus, bool) {
	switch event {
	case "canceled":
		return domain.OrderStatusCanceled, true
	case "expired", "done_for_day":
		return domain.OrderStatusExpired, true
	case "rejected":
		return domain.OrderStatusRejected, true
	}
	return "", false
}

// onTradeUpdate converts a stream event. Fills are derived from the change in
// the order's cumulative filled quantity so a resent event yields the same
// trade key.
func (b *AlpacaBroker) onTradeUpdate(tu alpaca.TradeUpdate) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return
	}
	o := tu.Order

	switch tu.Event {
	case "fill", "partial_fill":
		if tr, ok := b.fillDelta(o); ok {
			sink.OnTrade(tr)
		}
	default:
		if status, ok := alpacaStatus(tu.Event); ok {
			sink.OnOrder(domain.OrderUpdate{BrokerID: o.ID, Status: status, Time: o.UpdatedAt})
		} else {
			b.log.Debug("ignoring trade update", "event", tu.Event, "id", o.ID)
		}
	}
}

// fillDelta returns the trade for the quantity filled since the last event
// of order o. An event without an average fill price is held back; the next
// priced event reports the combined delta.
func (b *AlpacaBroker) fillDelta(o alpaca.Order) (domain.Trade, bool) {
	if o.FilledAvgPrice == nil {
		b.log.Debug("fill without average price", "id", o.ID, "filled_qty", o.FilledQty.String())
		return domain.Trade{}, false
	}
	avg := *o.FilledAvgPrice
	cost := avg.Mul(o.FilledQty)

	b.mu.Lock()
	prev := b.filled[o.ID]
	if !o.FilledQty.GreaterThan(prev.qty) {
		b.mu.Unlock()
		return domain.Trade{}, false
	}
	b.filled[o.ID] = fillState{qty: o.FilledQty, cost: cost}
	name, ok := b.owners[o.ID]
	if !ok {
		name = b.names[o.Symbol]
	}
	b.mu.Unlock()
	if name == "" {
		name = o.Symbol
	}

	qty := o.FilledQty.Sub(prev.qty)
	price := cost.Sub(prev.cost).Div(qty)
	if !price.IsPositive() {
		price = avg
	}
	signed := qty.IntPart()
	if o.Side == alpaca.Sell {
		signed = -signed
	}
	return domain.Trade{
		BrokerOrderID: o.ID,
		Symbol:        name,
		Qty:           signed,
		Price:         price.InexactFloat64(),
		Time:          o.UpdatedAt,
		Key: domain.TradeKey{
			ID:     o.ID + ":" + o.FilledQty.String(),
			Venue:  "ALPACA",
			Symbol: name,
		},
	}, true
}
