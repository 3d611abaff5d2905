package book

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/util"
)

// Settler reports a committed outcome to an external settlement endpoint.
// Implementations live in pkg/settlement.
type Settler interface {
	Settle(ctx context.Context, endpoint string, out Outcome) error
}

// Observer is called with every committed outcome, after the book lock has
// been released and before settlement runs.
type Observer func(Outcome)

// Option configures a Book.
type Option func(*Book)

// WithSettler sets the settlement gateway. Without one, settlement is a no-op.
func WithSettler(s Settler) Option {
	return func(b *Book) { b.settler = s }
}

// WithObserver registers a commit observer. May be given more than once.
func WithObserver(fn Observer) Option {
	return func(b *Book) { b.observers = append(b.observers, fn) }
}

// WithSettleTimeout bounds each settlement call. Zero means no bound beyond
// the caller's context.
func WithSettleTimeout(d time.Duration) Option {
	return func(b *Book) { b.settleTimeout = d }
}

// WithStartSeq makes the first commit use seq n+1. A book rebuilt from a
// journal passes the last sequence it recorded.
func WithStartSeq(n uint64) Option {
	return func(b *Book) { b.seq = n }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Book) { b.log = l }
}

func WithClock(c util.Clock) Option {
	return func(b *Book) { b.clock = c }
}

// Book is the matching engine of a single market. Crossing and remainder
// insertion run under one exclusive lock, so submissions against the same
// book apply in a total order; settlement runs after the lock is released
// and may overlap with other submissions.
type Book struct {
	market common.Address

	mu   sync.RWMutex
	bids *Ladder
	asks *Ladder
	seq  uint64

	settler       Settler
	settleTimeout time.Duration
	observers     []Observer
	clock         util.Clock
	log           *zap.SugaredLogger
}

// New creates an empty book for market.
func New(market common.Address, opts ...Option) *Book {
	b := &Book{
		market: market,
		bids:   NewLadder(Bid),
		asks:   NewLadder(Ask),
		clock:  util.RealClock{},
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Market returns the market this book serves. It never changes.
func (b *Book) Market() common.Address { return b.market }

// Depth returns the number of resting bid and ask orders.
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}

// Submit matches o against the book and then reports the outcome to the
// settlement endpoint.
//
// A validation error means nothing happened. An error for which
// IsSettlement is true means the match was committed (the returned Outcome
// is valid) but the notification could not be delivered; the core does not
// retry it.
func (b *Book) Submit(ctx context.Context, o Order, endpoint string) (Outcome, error) {
	out, err := b.Place(o)
	if err != nil {
		return Outcome{}, err
	}
	if err := b.settle(ctx, endpoint, out); err != nil {
		return out, err
	}
	return out, nil
}

// Place runs validation, crossing and remainder insertion without the
// settlement step.
func (b *Book) Place(o Order) (Outcome, error) {
	if err := b.validate(o); err != nil {
		return Outcome{}, err
	}

	b.mu.Lock()
	out := b.match(o.Clone())
	b.mu.Unlock()

	b.log.Debugw("order_matched",
		"market", b.market.Hex(),
		"order", o.id.String(),
		"side", o.side.String(),
		"fills", len(out.Fills),
		"status", out.Status(),
		"bids", out.Bids,
		"asks", out.Asks)

	for _, fn := range b.observers {
		fn(out)
	}
	return out, nil
}

func (b *Book) validate(o Order) error {
	if o.market != b.market {
		return errors.Wrapf(ErrMarketMismatch, "order market %s, book market %s",
			o.market.Hex(), b.market.Hex())
	}
	if o.side != Bid && o.side != Ask {
		return errors.Wrapf(ErrInvalidSide, "order %s side %d", o.id, uint8(o.side))
	}
	if o.quantity.IsZero() {
		return errors.Wrapf(ErrZeroQuantity, "order %s", o.id)
	}
	if o.price.IsZero() {
		return errors.Wrapf(ErrZeroPrice, "order %s", o.id)
	}
	return nil
}

// match is the crossing loop. Caller must hold b.mu for writing.
func (b *Book) match(o Order) Outcome {
	opposite, own := b.asks, b.bids
	if o.side == Ask {
		opposite, own = b.bids, b.asks
	}

	var remaining uint256.Int
	remaining.Set(&o.quantity)

	var fills []Fill
	for !remaining.IsZero() {
		best, ok := opposite.PeekBest()
		if !ok || !best.crosses(&o.price) {
			break
		}

		fill := Fill{Maker: best}
		fill.Price.Set(&best.price)

		if best.quantity.Cmp(&remaining) <= 0 {
			// Maker fully consumed.
			opposite.PopBestIfCrosses(&o.price)
			fill.Quantity.Set(&best.quantity)
			remaining.Sub(&remaining, &best.quantity)
		} else {
			// Maker partially consumed; keeps its time priority.
			var left uint256.Int
			left.Sub(&best.quantity, &remaining)
			opposite.ReduceBest(&left)
			fill.Quantity.Set(&remaining)
			fill.MakerRemaining.Set(&left)
			remaining.Clear()
		}
		fills = append(fills, fill)
	}

	rested := false
	if !remaining.IsZero() {
		own.Insert(o.WithQuantity(&remaining))
		rested = true
	}

	b.seq++
	out := Outcome{
		Market:      b.market,
		Order:       o,
		Fills:       fills,
		Rested:      rested,
		Bids:        b.bids.Len(),
		Asks:        b.asks.Len(),
		Seq:         b.seq,
		CommittedAt: b.clock.Now(),
	}
	out.Remaining.Set(&remaining)
	return out
}

func (b *Book) settle(ctx context.Context, endpoint string, out Outcome) error {
	if b.settler == nil {
		return nil
	}
	if b.settleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.settleTimeout)
		defer cancel()
	}

	if err := b.settler.Settle(ctx, endpoint, out); err != nil {
		b.log.Warnw("settlement_failed",
			"market", b.market.Hex(),
			"order", out.Order.id.String(),
			"seq", out.Seq,
			"endpoint", endpoint,
			"err", err)
		return errors.Mark(
			errors.Wrapf(err, "settle order %s via %s", out.Order.id, endpoint),
			ErrSettlement,
		)
	}
	return nil
}

// Restore puts previously resting orders back on the book without matching
// them or advancing the sequence. Orders are inserted in the given order, so
// callers pass them in their original commit order. Restore stops at the
// first order that fails validation, is already resting, or would cross.
func (b *Book) Restore(orders ...Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, o := range orders {
		if err := b.validate(o); err != nil {
			return err
		}
		own, opposite := b.bids, b.asks
		if o.side == Ask {
			own, opposite = b.asks, b.bids
		}
		if _, ok := own.Get(o.id); ok {
			return errors.Newf("order %s is already resting", o.id)
		}
		if best, ok := opposite.PeekBest(); ok && best.crosses(&o.price) {
			return errors.Wrapf(ErrRestoreCrosses, "order %s at %s", o.id, o.price.Dec())
		}
		own.Insert(o.Clone())
	}
	return nil
}

// Seq returns the sequence number of the last commit.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// BestBid returns the highest-priority resting bid.
func (b *Book) BestBid() (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.PeekBest()
}

// BestAsk returns the highest-priority resting ask.
func (b *Book) BestAsk() (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.PeekBest()
}

// Levels returns up to n aggregated price levels per side, best first.
func (b *Book) Levels(n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Levels(n), b.asks.Levels(n)
}

// Order looks up a resting order by identifier on either side.
func (b *Book) Order(id uuid.UUID) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o, ok := b.bids.Get(id); ok {
		return o, true
	}
	return b.asks.Get(id)
}

// Resting returns every resting order, bids best-first then asks best-first.
func (b *Book) Resting() (bids, asks []Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.bids.Walk(func(o Order) bool { bids = append(bids, o); return true })
	b.asks.Walk(func(o Order) bool { asks = append(asks, o); return true })
	return bids, asks
}
