package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"brokerhub/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

type simOrder struct {
	order     domain.Order
	remaining int64
	open      bool
}

type subKey struct {
	symbol string
	tf     domain.TimeFrame
}

type posKey struct {
	account string
	symbol  string
}

// SimulatorBroker implements the Broker interface for paper trading and
// backtesting. Orders rest in memory and are matched against bars passed to
// Feed; tests can also drive fills and status pushes directly.
type SimulatorBroker struct {
	mu        sync.Mutex
	symbols   map[string]domain.Symbol
	last      map[string]float64
	history   map[subKey][]domain.Bar
	subs      map[subKey]bool
	orders    map[string]*simOrder
	openIDs   []string
	positions map[posKey]*domain.Position
	cash      map[string]float64
	startCash float64
	sink      Sink
	seq       int
	execSeq   int
	failNext  error
	holdCxl   bool
	log       *slog.Logger
}

// NewSimulatorBroker creates a SimulatorBroker that knows the given symbols
// and starts every account with cash.
func NewSimulatorBroker(cash float64, symbols []domain.Symbol, log *slog.Logger) *SimulatorBroker {
	if log == nil {
		log = slog.Default()
	}
	b := &SimulatorBroker{
		symbols:   make(map[string]domain.Symbol, len(symbols)),
		last:      make(map[string]float64),
		history:   make(map[subKey][]domain.Bar),
		subs:      make(map[subKey]bool),
		orders:    make(map[string]*simOrder),
		positions: make(map[posKey]*domain.Position),
		cash:      make(map[string]float64),
		startCash: cash,
		log:       log.With("broker", "simulator"),
	}
	for _, s := range symbols {
		if s.Name == "" {
			s.Name = domain.DisplayName(s.Board, s.Code)
		}
		if s.LotSize == 0 {
			s.LotSize = 1
		}
		b.symbols[s.Name] = s
	}
	return b
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Start records the sink that receives simulated events.
func (b *SimulatorBroker) Start(_ context.Context, sink Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
	return nil
}

// ResolveSymbol looks the symbol up among the configured instruments.
func (b *SimulatorBroker) ResolveSymbol(_ context.Context, name string) (domain.Symbol, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.symbols[name]
	if !ok {
		return domain.Symbol{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// ResolveBrokerCode finds the configured instrument with the given board and
// code.
func (b *SimulatorBroker) ResolveBrokerCode(ctx context.Context, venue, code string) (domain.Symbol, error) {
	return b.ResolveSymbol(ctx, domain.DisplayName(venue, code))
}

// LoadHistory preloads bars served by History. Bars are kept sorted.
func (b *SimulatorBroker) LoadHistory(symbol string, tf domain.TimeFrame, bars []domain.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := subKey{symbol, tf}
	merged := append(b.history[k], bars...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })
	b.history[k] = merged
}

// History returns preloaded bars within [from, to].
func (b *SimulatorBroker) History(_ context.Context, sym domain.Symbol, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Bar
	for _, bar := range b.history[subKey{sym.Name, tf}] {
		if !from.IsZero() && bar.Time.Before(from) {
			continue
		}
		if !to.IsZero() && bar.Time.After(to) {
			continue
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// SubscribeBars makes Feed forward bars of sym and tf to the sink.
func (b *SimulatorBroker) SubscribeBars(_ context.Context, sym domain.Symbol, tf domain.TimeFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subKey{sym.Name, tf}] = true
	return nil
}

// UnsubscribeBars stops forwarding bars of sym and tf.
func (b *SimulatorBroker) UnsubscribeBars(sym domain.Symbol, tf domain.TimeFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, subKey{sym.Name, tf})
	return nil
}

// FailNextSubmit makes the next SubmitOrder call return err.
func (b *SimulatorBroker) FailNextSubmit(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// SubmitOrder records the order as resting and returns a simulated id.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order domain.Order, sym domain.Symbol) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		return "", err
	}
	if _, ok := b.symbols[sym.Name]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, sym.Name)
	}
	b.seq++
	id := fmt.Sprintf("SIM-%d", b.seq)
	order.BrokerID = id
	b.orders[id] = &simOrder{order: order, remaining: order.Qty, open: true}
	b.openIDs = append(b.openIDs, id)
	b.log.Debug("order accepted", "id", id, "order", order.String())
	return id, nil
}

// CancelOrder cancels a resting order and pushes the confirmation.
func (b *SimulatorBroker) CancelOrder(_ context.Context, order domain.Order) error {
	b.mu.Lock()
	so, ok := b.orders[order.BrokerID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, order.BrokerID)
	}
	if !so.open {
		b.mu.Unlock()
		return nil
	}
	if b.holdCxl {
		b.mu.Unlock()
		return nil
	}
	so.open = false
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink.OnOrder(domain.OrderUpdate{BrokerID: order.BrokerID, Status: domain.OrderStatusCanceled, Time: time.Now()})
	}
	return nil
}

// HoldCancels makes CancelOrder accept requests without confirming them, as
// a stalled venue would. Confirmations can then be sent with PushStatus.
func (b *SimulatorBroker) HoldCancels(hold bool) {
	b.mu.Lock()
	b.holdCxl = hold
	b.mu.Unlock()
}

// Replay pushes t to the sink again, as a venue does after a reconnect.
func (b *SimulatorBroker) Replay(t domain.Trade) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.OnTrade(t)
	}
}

// PushStatus closes a resting order with status and pushes the update, as a
// venue would for expiry, margin calls or late rejections.
func (b *SimulatorBroker) PushStatus(brokerID string, status domain.OrderStatus, reason string) {
	b.mu.Lock()
	if so, ok := b.orders[brokerID]; ok && status.Terminal() {
		so.open = false
	}
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.OnOrder(domain.OrderUpdate{BrokerID: brokerID, Status: status, Reason: reason, Time: time.Now()})
	}
}

// Fill executes qty units of a resting order at price and pushes the trade.
// qty is capped at the remaining quantity.
func (b *SimulatorBroker) Fill(brokerID string, qty int64, price float64, at time.Time) (domain.Trade, error) {
	b.mu.Lock()
	so, ok := b.orders[brokerID]
	if !ok || !so.open {
		b.mu.Unlock()
		return domain.Trade{}, fmt.Errorf("%w: %s", ErrUnknownOrder, brokerID)
	}
	t := b.fillLocked(so, qty, price, at)
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink.OnTrade(t)
	}
	return t, nil
}

func (b *SimulatorBroker) fillLocked(so *simOrder, qty int64, price float64, at time.Time) domain.Trade {
	if qty > so.remaining {
		qty = so.remaining
	}
	so.remaining -= qty
	if so.remaining == 0 {
		so.open = false
	}
	b.execSeq++
	signed := qty * so.order.Side.Sign()

	acct := so.order.Account
	if _, ok := b.cash[acct]; !ok {
		b.cash[acct] = b.startCash
	}
	b.cash[acct] -= float64(signed) * price

	pk := posKey{acct, so.order.Symbol}
	p, ok := b.positions[pk]
	if !ok {
		p = &domain.Position{Account: acct, Symbol: so.order.Symbol}
		b.positions[pk] = p
	}
	switch next := p.Qty + signed; {
	case next == 0:
		p.AvgPrice = 0
	case p.Qty == 0 || (p.Qty > 0) != (next > 0):
		p.AvgPrice = price
	case (p.Qty > 0) == (signed > 0):
		p.AvgPrice = (p.AvgPrice*float64(abs64(p.Qty)) + price*float64(qty)) / float64(abs64(next))
	}
	p.Qty += signed
	b.last[so.order.Symbol] = price

	return domain.Trade{
		BrokerOrderID: so.order.BrokerID,
		Symbol:        so.order.Symbol,
		Qty:           signed,
		Price:         price,
		Time:          at,
		Key: domain.TradeKey{
			ID:     fmt.Sprintf("E%d", b.execSeq),
			Venue:  "SIM",
			Symbol: so.order.Symbol,
		},
	}
}

// Feed advances the simulation by one bar: resting orders on the bar's
// symbol are matched against it, the last price is updated and the bar is
// forwarded when subscribed.
func (b *SimulatorBroker) Feed(bar domain.Bar) {
	b.mu.Lock()
	var trades []domain.Trade
	var stillOpen []string
	for _, id := range b.openIDs {
		so := b.orders[id]
		if !so.open {
			continue
		}
		if so.order.Symbol == bar.Symbol {
			if price, ok := matchBar(&so.order, bar); ok {
				trades = append(trades, b.fillLocked(so, so.remaining, price, bar.Time))
			}
		}
		if so.open {
			stillOpen = append(stillOpen, id)
		}
	}
	b.openIDs = stillOpen
	b.last[bar.Symbol] = bar.Close
	sink := b.sink
	forward := b.subs[subKey{bar.Symbol, bar.TimeFrame}]
	b.mu.Unlock()

	if sink == nil {
		return
	}
	for _, t := range trades {
		sink.OnTrade(t)
	}
	if forward {
		sink.OnBar(bar)
	}
}

// matchBar decides whether o executes within bar and at what price. A
// StopLimit that triggers is marked Triggered and then checked as a limit.
func matchBar(o *domain.Order, bar domain.Bar) (float64, bool) {
	buy := o.Side == domain.SideBuy
	switch o.Type {
	case domain.ExecMarket:
		return bar.Open, true
	case domain.ExecLimit:
		return matchLimit(buy, o.Price, bar)
	case domain.ExecStop:
		if buy && bar.High >= o.StopPrice {
			return max(o.StopPrice, bar.Open), true
		}
		if !buy && bar.Low <= o.StopPrice {
			return min(o.StopPrice, bar.Open), true
		}
	case domain.ExecStopLimit:
		if !o.Triggered {
			if (buy && bar.High >= o.StopPrice) || (!buy && bar.Low <= o.StopPrice) {
				o.Triggered = true
			}
		}
		if o.Triggered {
			return matchLimit(buy, o.Price, bar)
		}
	}
	return 0, false
}

func matchLimit(buy bool, limit float64, bar domain.Bar) (float64, bool) {
	if buy && bar.Low <= limit {
		return min(limit, bar.Open), true
	}
	if !buy && bar.High >= limit {
		return max(limit, bar.Open), true
	}
	return 0, false
}

// SetPosition overwrites a simulated position and pushes the snapshot, as a
// venue does after a trade placed outside this system.
func (b *SimulatorBroker) SetPosition(account, symbol string, qty int64, avgPrice float64) {
	b.mu.Lock()
	pk := posKey{account, symbol}
	p := &domain.Position{Account: account, Symbol: symbol, Qty: qty, AvgPrice: avgPrice, LastPrice: b.last[symbol]}
	b.positions[pk] = p
	snapshot := *p
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.OnPosition(snapshot)
	}
}

// SetLastPrice sets the price LastPrice reports for symbol.
func (b *SimulatorBroker) SetLastPrice(symbol string, price float64) {
	b.mu.Lock()
	b.last[symbol] = price
	b.mu.Unlock()
}

// Positions returns all non-flat simulated positions of the account.
func (b *SimulatorBroker) Positions(_ context.Context, account string) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]domain.Position, 0, len(b.positions))
	for k, p := range b.positions {
		if k.account != account || p.Qty == 0 {
			continue
		}
		out := *p
		out.LastPrice = b.last[p.Symbol]
		positions = append(positions, out)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// Cash returns the simulated free cash of the account.
func (b *SimulatorBroker) Cash(_ context.Context, account string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cash[account]; ok {
		return c, nil
	}
	return b.startCash, nil
}

// LastPrice returns the last fill or bar close seen for sym.
func (b *SimulatorBroker) LastPrice(_ context.Context, sym domain.Symbol) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.last[sym.Name]
	if !ok {
		return 0, ErrNoData
	}
	return p, nil
}

// OpenOrders returns the ids of orders still resting.
func (b *SimulatorBroker) OpenOrders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id, so := range b.orders {
		if so.open {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close drops all bar subscriptions.
func (b *SimulatorBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[subKey]bool)
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
