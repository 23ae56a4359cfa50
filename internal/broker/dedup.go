package broker

import (
	"log/slog"
	"sync"

	"brokerhub/internal/domain"
)

// SeenStore persists trade keys across restarts. MarkSeen returns true when
// the key was not recorded before.
type SeenStore interface {
	MarkSeen(key domain.TradeKey) (bool, error)
}

// Deduper wraps a Sink and drops trades that are replays: anything flagged
// historical by the vendor, and any key already delivered.
type Deduper struct {
	next  Sink
	store SeenStore
	log   *slog.Logger

	mu   sync.Mutex
	seen map[domain.TradeKey]bool
}

// Compile-time interface check.
var _ Sink = (*Deduper)(nil)

// NewDeduper creates a Deduper forwarding to next. store may be nil.
func NewDeduper(next Sink, store SeenStore, log *slog.Logger) *Deduper {
	if log == nil {
		log = slog.Default()
	}
	return &Deduper{
		next:  next,
		store: store,
		log:   log,
		seen:  make(map[domain.TradeKey]bool),
	}
}

// OnTrade forwards t unless it is a replay.
func (d *Deduper) OnTrade(t domain.Trade) {
	if t.Historical {
		d.log.Debug("dropping historical trade", "key", t.Key.String())
		return
	}
	if !d.mark(t.Key) {
		d.log.Debug("dropping duplicate trade", "key", t.Key.String())
		return
	}
	d.next.OnTrade(t)
}

func (d *Deduper) mark(k domain.TradeKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[k] {
		return false
	}
	if d.store != nil {
		fresh, err := d.store.MarkSeen(k)
		if err != nil {
			d.log.Warn("persisting trade key", "key", k.String(), "error", err)
		} else if !fresh {
			d.seen[k] = true
			return false
		}
	}
	d.seen[k] = true
	return true
}

// Seen returns the number of keys remembered in memory.
func (d *Deduper) Seen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// OnOrder forwards unchanged.
func (d *Deduper) OnOrder(u domain.OrderUpdate) { d.next.OnOrder(u) }

// OnPosition forwards unchanged.
func (d *Deduper) OnPosition(p domain.Position) { d.next.OnPosition(p) }

// OnBar forwards unchanged.
func (d *Deduper) OnBar(b domain.Bar) { d.next.OnBar(b) }
