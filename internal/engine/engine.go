// Package engine runs the per-account order session: it turns caller
// requests and asynchronous broker events into order state transitions,
// position updates, linked-order reconciliation and notifications, all on a
// single goroutine per account.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/events"
	"brokerhub/internal/ledger"
	"brokerhub/internal/linked"
	"brokerhub/internal/notify"
	"brokerhub/internal/orders"
	"brokerhub/internal/store"
	"brokerhub/internal/symbols"
)

// Options configures a Session. Only Account is required.
type Options struct {
	Account string

	// Journal records order states and applied trades. Optional.
	Journal store.Journal
	// Seen persists trade keys for de-duplication across restarts. Optional.
	Seen broker.SeenStore
	// Cache stores bar history. Optional.
	Cache store.BarCache
	// Risk checks orders before they are queued or sent. Optional.
	Risk *RiskManager

	// CancelWarnAfter is how long a cancel may stay unconfirmed before it
	// is reported. Zero disables the watchdog.
	CancelWarnAfter time.Duration
	// WatchInterval is how often pending cancels are checked.
	WatchInterval time.Duration

	Log *slog.Logger
}

// TradeEvent is published for every trade applied to a local order.
type TradeEvent struct {
	Trade domain.Trade
	Order domain.Order
	Fill  ledger.Fill
}

type subKey struct {
	symbol string
	tf     domain.TimeFrame
}

// Compile-time interface check.
var _ broker.Sink = (*Session)(nil)

// Session owns the order book, position ledger and linked-order state of one
// account. Every mutation runs on the session loop; public methods are safe
// for concurrent use.
//
// Handlers subscribed to the event topics run on the loop in subscription
// order. They must not call blocking Session methods.
type Session struct {
	adapter broker.Broker
	symbols *symbols.Registry
	opts    Options
	log     *slog.Logger
	notes   *notify.Queue

	OrderEvents    events.Topic[domain.Order]
	TradeEvents    events.Topic[TradeEvent]
	PositionEvents events.Topic[domain.Position]
	BarEvents      events.Topic[domain.Bar]

	// Loop-owned state.
	book     *orders.Book
	ledger   *ledger.Ledger
	links    *linked.Coordinator
	cancels  map[int64]time.Time
	warned   map[int64]bool
	now      func() time.Time
	ctx      context.Context
	stop     context.CancelFunc
	started  bool
	watchEnd chan struct{}

	// Loop queue.
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	subsMu sync.Mutex
	subs   map[subKey]domain.Symbol
}

// NewSession creates a Session for opts.Account over adapter and starts its
// loop. Call Start to connect the adapter's event stream.
func NewSession(adapter broker.Broker, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	log := opts.Log.With("component", "session", "account", opts.Account, "broker", adapter.Name())
	ctx, stop := context.WithCancel(context.Background())
	s := &Session{
		adapter: adapter,
		symbols: symbols.New(adapter, log),
		opts:    opts,
		log:     log,
		notes:   notify.NewQueue(),
		book:    orders.NewBook(),
		ledger:  ledger.New(),
		links:   linked.New(),
		cancels: make(map[int64]time.Time),
		warned:  make(map[int64]bool),
		now:     time.Now,
		ctx:     ctx,
		stop:    stop,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		subs:    make(map[subKey]domain.Symbol),
	}
	go s.run()
	return s
}

// Account returns the account this session trades.
func (s *Session) Account() string { return s.opts.Account }

// Symbols returns the session's symbol registry.
func (s *Session) Symbols() *symbols.Registry { return s.symbols }

// Notifications returns the queue strategies drain between bars.
func (s *Session) Notifications() *notify.Queue { return s.notes }

// Start subscribes to the adapter's pushed events through a de-duplicating
// sink, loads the account's positions and starts the cancel watchdog.
func (s *Session) Start(ctx context.Context) error {
	dedup := broker.NewDeduper(s, s.opts.Seen, s.log)
	if err := s.adapter.Start(ctx, dedup); err != nil {
		return fmt.Errorf("starting %s: %w", s.adapter.Name(), err)
	}

	positions, err := s.adapter.Positions(ctx, s.opts.Account)
	if err != nil {
		return fmt.Errorf("loading positions: %w", err)
	}
	err = s.do(ctx, func() {
		for _, p := range positions {
			s.ledger.Snapshot(s.opts.Account, p.Symbol, p.Qty, p.AvgPrice)
			if p.LastPrice > 0 {
				s.ledger.MarkPrice(p.Symbol, p.LastPrice)
			}
		}
		if !s.started && s.opts.CancelWarnAfter > 0 {
			s.watchEnd = make(chan struct{})
			go s.watch(s.watchEnd)
		}
		s.started = true
	})
	if err != nil {
		return err
	}
	s.log.Info("session started", "positions", len(positions))
	return nil
}

// Close unsubscribes all bar feeds, stops the watchdog and waits for the
// loop to drain. The adapter itself is left open.
func (s *Session) Close() error {
	s.subsMu.Lock()
	var errs []error
	for k, sym := range s.subs {
		if err := s.adapter.UnsubscribeBars(sym, k.tf); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing %s %s: %w", k.symbol, k.tf, err))
		}
		delete(s.subs, k)
	}
	s.subsMu.Unlock()

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return errors.Join(errs...)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
	if s.watchEnd != nil {
		close(s.watchEnd)
	}
	s.stop()
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Caller operations
// ---------------------------------------------------------------------------

// Submit creates an order from req. Validation failures reject the order
// synchronously and return a *orders.ValidationError along with the rejected
// order. A transport failure while sending also rejects the order but is not
// an error: it is reported through the notification queue like any other
// broker outcome.
func (s *Session) Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	var (
		out domain.Order
		err error
	)
	if derr := s.do(ctx, func() { out, err = s.submit(ctx, req) }); derr != nil {
		return domain.Order{}, derr
	}
	return out, err
}

func (s *Session) submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	req.Account = s.opts.Account
	o := s.book.Create(req)

	if err := orders.Validate(req); err != nil {
		return s.reject(o, err)
	}
	sym, err := s.symbols.Resolve(ctx, req.Symbol)
	if err != nil {
		return s.reject(o, fmt.Errorf("%w: %s", orders.ErrUnknownSymbol, req.Symbol))
	}
	req.Symbol = sym.Name
	o.Symbol = sym.Name
	if err := s.opts.Risk.CheckOrder(req, s.ledger.Get(s.opts.Account, req.Symbol)); err != nil {
		return s.reject(o, err)
	}

	if !req.Transmit || req.Parent != 0 {
		root := req.Parent
		if root == 0 {
			root = o.Ref
		}
		if err := s.links.Enqueue(root, o.Ref); err != nil {
			return s.reject(o, fmt.Errorf("%w: #%d", orders.ErrParentNotFound, req.Parent))
		}
	}
	if req.OCO != 0 {
		s.links.LinkOCO(o.Ref, req.OCO)
	}

	switch {
	case !req.Transmit:
		s.emit(o)
	case req.Parent == 0:
		s.place(ctx, o, sym)
	default:
		// The final child releases its parent; the children stay queued
		// until the parent completes.
		s.emit(o)
		if parent, ok := s.book.Get(req.Parent); ok && parent.Status == domain.OrderStatusCreated {
			s.placeRef(ctx, parent)
		}
	}
	return o.Clone(), nil
}

func (s *Session) reject(o *domain.Order, reason error) (domain.Order, error) {
	s.log.Info("order rejected", "ref", o.Ref, "reason", reason)
	s.transition(o, domain.OrderStatusRejected, reason.Error())
	return o.Clone(), &orders.ValidationError{Ref: o.Ref, Reason: reason}
}

func (s *Session) placeRef(ctx context.Context, o *domain.Order) {
	sym, err := s.symbols.Resolve(ctx, o.Symbol)
	if err != nil {
		s.transition(o, domain.OrderStatusRejected, err.Error())
		return
	}
	s.place(ctx, o, sym)
}

// place sends a Created order to the adapter.
func (s *Session) place(ctx context.Context, o *domain.Order, sym domain.Symbol) {
	if !s.transition(o, domain.OrderStatusSubmitted, "") {
		return
	}
	id, err := s.adapter.SubmitOrder(ctx, o.Clone(), sym)
	if err != nil {
		s.log.Warn("submit failed", "ref", o.Ref, "error", err)
		s.transition(o, domain.OrderStatusRejected, err.Error())
		return
	}
	if err := s.book.Bind(o, id); err != nil {
		s.log.Error("binding broker id", "ref", o.Ref, "broker_id", id, "error", err)
		s.transition(o, domain.OrderStatusRejected, err.Error())
		return
	}
	s.transition(o, domain.OrderStatusAccepted, "")
}

// Cancel asks the broker to cancel the order with local ref. The status does
// not change until the broker confirms. Unknown and terminal orders are
// ignored. An order never sent to the broker is canceled locally.
func (s *Session) Cancel(ctx context.Context, ref int64) error {
	return s.do(ctx, func() { s.cancel(ctx, ref) })
}

func (s *Session) cancel(ctx context.Context, ref int64) {
	o, ok := s.book.Get(ref)
	if !ok || o.Status.Terminal() {
		return
	}
	switch {
	case o.Status == domain.OrderStatusCreated:
		s.transition(o, domain.OrderStatusCanceled, "canceled before transmission")
		return
	case o.BrokerID == "":
		return
	}
	if _, pending := s.cancels[ref]; pending {
		return
	}
	if err := s.adapter.CancelOrder(ctx, o.Clone()); err != nil {
		s.log.Warn("cancel failed", "ref", ref, "broker_id", o.BrokerID, "error", err)
		return
	}
	s.cancels[ref] = s.now()
}

// Next marks the end of a bar in the notification queue.
func (s *Session) Next() {
	s.notes.Tick()
}

// ---------------------------------------------------------------------------
// Broker events (broker.Sink)
// ---------------------------------------------------------------------------

// OnOrder queues an out-of-band order status push.
func (s *Session) OnOrder(u domain.OrderUpdate) {
	s.post(func() { s.onOrder(u) })
}

// OnTrade queues a fill.
func (s *Session) OnTrade(t domain.Trade) {
	s.post(func() { s.onTrade(t) })
}

// OnPosition queues a broker position snapshot.
func (s *Session) OnPosition(p domain.Position) {
	s.post(func() { s.onPosition(p) })
}

// OnBar queues a new bar.
func (s *Session) OnBar(b domain.Bar) {
	s.post(func() { s.onBar(b) })
}

func (s *Session) onOrder(u domain.OrderUpdate) {
	o, ok := s.book.FindByBrokerID(u.BrokerID)
	if !ok {
		s.log.Debug("dropping update for unknown order", "broker_id", u.BrokerID, "status", u.Status)
		return
	}
	switch u.Status {
	case domain.OrderStatusCanceled, domain.OrderStatusExpired, domain.OrderStatusMargin, domain.OrderStatusRejected:
	default:
		s.log.Debug("ignoring order update", "ref", o.Ref, "status", u.Status)
		return
	}
	if o.Status.Terminal() {
		s.log.Debug("order already terminal", "ref", o.Ref, "status", o.Status, "update", u.Status)
		return
	}
	s.transition(o, u.Status, u.Reason)
}

func (s *Session) onTrade(t domain.Trade) {
	o, ok := s.book.FindByBrokerID(t.BrokerOrderID)
	if !ok {
		s.log.Debug("dropping trade for unknown order", "broker_id", t.BrokerOrderID, "key", t.Key.String())
		return
	}
	if o.Symbol != t.Symbol {
		panic(fmt.Sprintf("trade %s on %s applied to order #%d on %s", t.Key, t.Symbol, o.Ref, o.Symbol))
	}

	fill := s.ledger.ApplyTrade(o.Account, t)
	applyExecution(o, t, fill)

	if s.opts.Journal != nil {
		if err := s.opts.Journal.RecordTrade(s.ctx, o.Account, t); err != nil {
			s.log.Warn("journaling trade", "key", t.Key.String(), "error", err)
		}
	}
	s.TradeEvents.Publish(TradeEvent{Trade: t, Order: o.Clone(), Fill: fill})

	if o.Status.Terminal() {
		s.log.Warn("trade on terminal order", "ref", o.Ref, "status", o.Status, "key", t.Key.String())
		return
	}
	if o.Remaining() > 0 {
		if o.Status != domain.OrderStatusPartial {
			s.transition(o, domain.OrderStatusPartial, "")
		} else {
			s.emit(o)
		}
		return
	}
	s.transition(o, domain.OrderStatusCompleted, "")
}

// applyExecution folds a fill into the order's execution summary.
func applyExecution(o *domain.Order, t domain.Trade, f ledger.Fill) {
	e := &o.Executed
	qty := t.Qty
	if qty < 0 {
		qty = -qty
	}
	if total := e.Qty + qty; total > 0 {
		e.AvgPrice = (e.AvgPrice*float64(e.Qty) + t.Price*float64(qty)) / float64(total)
	}
	e.Qty += qty
	e.Opened += f.Opened
	e.Closed += f.Closed
	e.PosSize = f.Size
	e.PosPrice = f.AvgPrice
	e.LastTime = t.Time
	e.LastPrice = t.Price
}

func (s *Session) onPosition(p domain.Position) {
	pos := s.ledger.Snapshot(s.opts.Account, p.Symbol, p.Qty, p.AvgPrice)
	if p.LastPrice > 0 {
		s.ledger.MarkPrice(p.Symbol, p.LastPrice)
		pos.LastPrice = p.LastPrice
	}
	s.PositionEvents.Publish(pos)
}

func (s *Session) onBar(b domain.Bar) {
	s.ledger.MarkPrice(b.Symbol, b.Close)
	s.BarEvents.Publish(b)
}

// ---------------------------------------------------------------------------
// Transitions and reconciliation
// ---------------------------------------------------------------------------

// transition moves o to status to, notifies, and reconciles linked orders
// when to is terminal. Illegal moves are logged and dropped.
func (s *Session) transition(o *domain.Order, to domain.OrderStatus, reason string) bool {
	if err := s.book.Transition(o, to, reason); err != nil {
		s.log.Warn("dropping transition", "error", err)
		return false
	}
	s.emit(o)
	if to.Terminal() {
		delete(s.cancels, o.Ref)
		delete(s.warned, o.Ref)
		s.reconcile(o)
	}
	return true
}

// emit publishes a snapshot of o to the notification queue, the order topic
// and the journal.
func (s *Session) emit(o *domain.Order) {
	s.notes.PushOrder(o)
	s.OrderEvents.Publish(o.Clone())
	if s.opts.Journal != nil {
		if err := s.opts.Journal.RecordOrder(s.ctx, o.Clone()); err != nil {
			s.log.Warn("journaling order", "ref", o.Ref, "error", err)
		}
	}
}

func (s *Session) reconcile(o *domain.Order) {
	plan := s.links.Resolve(o)
	if plan.Empty() {
		return
	}
	s.log.Debug("reconciling linked orders", "ref", o.Ref, "status", o.Status, "cancel", plan.Cancel, "submit", plan.Submit)
	for _, ref := range plan.Cancel {
		s.cancel(s.ctx, ref)
	}
	for _, ref := range plan.Submit {
		if child, ok := s.book.Get(ref); ok && child.Status == domain.OrderStatusCreated {
			s.placeRef(s.ctx, child)
		}
	}
}

// ---------------------------------------------------------------------------
// Cancel watchdog
// ---------------------------------------------------------------------------

func (s *Session) watch(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.post(s.checkCancels)
		}
	}
}

// checkCancels reports, once per order, cancels still unconfirmed after
// CancelWarnAfter.
func (s *Session) checkCancels() {
	now := s.now()
	for ref, at := range s.cancels {
		if s.warned[ref] || now.Sub(at) < s.opts.CancelWarnAfter {
			continue
		}
		o, ok := s.book.Get(ref)
		if !ok || o.Status.Terminal() {
			delete(s.cancels, ref)
			continue
		}
		s.warned[ref] = true
		s.log.Warn("cancel not confirmed", "ref", ref, "broker_id", o.BrokerID, "status", o.Status, "pending", now.Sub(at).Round(time.Second))
		s.notes.PushMessage(fmt.Sprintf("cancel of order #%d not confirmed after %s", ref, now.Sub(at).Round(time.Second)))
	}
}

// PendingCancels returns the refs of orders with an unconfirmed cancel.
func (s *Session) PendingCancels(ctx context.Context) ([]int64, error) {
	var refs []int64
	err := s.do(ctx, func() {
		for o := range s.book.Active() {
			if _, ok := s.cancels[o.Ref]; ok {
				refs = append(refs, o.Ref)
			}
		}
	})
	return refs, err
}
