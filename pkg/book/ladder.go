package book

import (
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// entry is one resting order plus the insertion sequence used to break
// timestamp ties. The ordering key (price, timestamp, seq) never changes
// while the entry is in the tree; only the order's quantity is rewritten.
type entry struct {
	order Order
	seq   uint64
}

// bidLess orders bids by price descending, then timestamp ascending, then
// insertion sequence. Min() is the best bid.
func bidLess(a, b *entry) bool {
	if c := a.order.price.Cmp(&b.order.price); c != 0 {
		return c > 0
	}
	if !a.order.timestamp.Equal(b.order.timestamp) {
		return a.order.timestamp.Before(b.order.timestamp)
	}
	return a.seq < b.seq
}

// askLess orders asks by price ascending, then timestamp ascending, then
// insertion sequence. Min() is the best ask.
func askLess(a, b *entry) bool {
	if c := a.order.price.Cmp(&b.order.price); c != 0 {
		return c < 0
	}
	if !a.order.timestamp.Equal(b.order.timestamp) {
		return a.order.timestamp.Before(b.order.timestamp)
	}
	return a.seq < b.seq
}

// PriceLevel aggregates the resting orders at one price.
type PriceLevel struct {
	Price    uint256.Int
	Quantity uint256.Int
	Orders   int
}

// Ladder holds the resting orders of one side of one market in price-time
// priority. It is not safe for concurrent use; the owning Book serialises
// access.
type Ladder struct {
	side  Side
	tree  *btree.BTreeG[*entry]
	index map[uuid.UUID]*entry
	seq   uint64
}

// NewLadder creates an empty ladder for the given side.
func NewLadder(side Side) *Ladder {
	const degree = 32
	less := askLess
	if side == Bid {
		less = bidLess
	}
	return &Ladder{
		side:  side,
		tree:  btree.NewG[*entry](degree, less),
		index: make(map[uuid.UUID]*entry),
	}
}

func (l *Ladder) Side() Side { return l.side }

// Len is the number of resting orders (not price levels).
func (l *Ladder) Len() int { return l.tree.Len() }

// PeekBest returns the highest-priority resting order without removing it.
func (l *Ladder) PeekBest() (Order, bool) {
	e, ok := l.tree.Min()
	if !ok {
		return Order{}, false
	}
	return e.order.Clone(), true
}

// PopBestIfCrosses removes and returns the best order only when it can trade
// against a counter-order limited at limit. Otherwise the ladder is untouched.
func (l *Ladder) PopBestIfCrosses(limit *uint256.Int) (Order, bool) {
	e, ok := l.tree.Min()
	if !ok || !e.order.crosses(limit) {
		return Order{}, false
	}
	l.tree.DeleteMin()
	delete(l.index, e.order.id)
	return e.order, true
}

// ReduceBest sets the best order's quantity to remaining in place. Its
// position in the ladder does not change. A no-op on an empty ladder.
func (l *Ladder) ReduceBest(remaining *uint256.Int) {
	e, ok := l.tree.Min()
	if !ok {
		return
	}
	e.order.quantity.Set(remaining)
}

// Insert adds a resting order. Zero-quantity orders are never rested.
func (l *Ladder) Insert(o Order) {
	if o.quantity.IsZero() {
		return
	}
	l.seq++
	e := &entry{order: o.Clone(), seq: l.seq}
	l.tree.ReplaceOrInsert(e)
	l.index[o.id] = e
}

// Get looks up a resting order by identifier.
func (l *Ladder) Get(id uuid.UUID) (Order, bool) {
	e, ok := l.index[id]
	if !ok {
		return Order{}, false
	}
	return e.order.Clone(), true
}

// Walk visits resting orders best-first until fn returns false.
func (l *Ladder) Walk(fn func(Order) bool) {
	l.tree.Ascend(func(e *entry) bool {
		return fn(e.order.Clone())
	})
}

// Levels aggregates up to n price levels, best first. n <= 0 means all.
func (l *Ladder) Levels(n int) []PriceLevel {
	var levels []PriceLevel
	l.tree.Ascend(func(e *entry) bool {
		if k := len(levels); k > 0 && levels[k-1].Price.Eq(&e.order.price) {
			levels[k-1].Quantity.Add(&levels[k-1].Quantity, &e.order.quantity)
			levels[k-1].Orders++
			return true
		}
		if n > 0 && len(levels) >= n {
			return false
		}
		lv := PriceLevel{Orders: 1}
		lv.Price.Set(&e.order.price)
		lv.Quantity.Set(&e.order.quantity)
		levels = append(levels, lv)
		return true
	})
	return levels
}
