package book

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Side is the direction of an order.
type Side uint8

const (
	Bid Side = iota + 1 // buy
	Ask                 // sell
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell" (case-insensitive).
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// Order is an immutable trading intent. Matching never edits an order in
// place; it derives a new value with a smaller quantity via WithQuantity.
type Order struct {
	id        uuid.UUID
	trader    common.Address
	market    common.Address
	side      Side
	price     uint256.Int
	quantity  uint256.Int
	timestamp time.Time
	aux       []byte
}

// NewOrder builds an order and assigns it a fresh identifier.
// price and quantity are copied; the caller keeps ownership of its arguments.
func NewOrder(
	trader, market common.Address,
	side Side,
	price, quantity *uint256.Int,
	timestamp time.Time,
	aux []byte,
) Order {
	o := Order{
		id:        uuid.New(),
		trader:    trader,
		market:    market,
		side:      side,
		timestamp: timestamp,
		aux:       append([]byte(nil), aux...),
	}
	if price != nil {
		o.price.Set(price)
	}
	if quantity != nil {
		o.quantity.Set(quantity)
	}
	return o
}

// RestoreOrder rebuilds an order whose identifier is already known, such as
// a resting order read back from a journal.
func RestoreOrder(
	id uuid.UUID,
	trader, market common.Address,
	side Side,
	price, quantity *uint256.Int,
	timestamp time.Time,
	aux []byte,
) Order {
	o := NewOrder(trader, market, side, price, quantity, timestamp, aux)
	o.id = id
	return o
}

func (o Order) ID() uuid.UUID          { return o.id }
func (o Order) Trader() common.Address { return o.trader }
func (o Order) Market() common.Address { return o.market }
func (o Order) Side() Side             { return o.side }
func (o Order) Timestamp() time.Time   { return o.timestamp }

// Price returns a copy of the limit price.
func (o Order) Price() *uint256.Int { return new(uint256.Int).Set(&o.price) }

// Quantity returns a copy of the (remaining) quantity.
func (o Order) Quantity() *uint256.Int { return new(uint256.Int).Set(&o.quantity) }

// Aux returns a copy of the opaque auxiliary payload.
func (o Order) Aux() []byte { return append([]byte(nil), o.aux...) }

// Clone returns a deep copy that shares no memory with o.
func (o Order) Clone() Order {
	c := o
	c.aux = append([]byte(nil), o.aux...)
	return c
}

// WithQuantity returns a copy of o carrying a different remaining quantity.
// Identity, price and timestamp are preserved, so time priority is unchanged.
func (o Order) WithQuantity(q *uint256.Int) Order {
	c := o.Clone()
	c.quantity.Set(q)
	return c
}

// crosses reports whether a resting order on this order's side is eligible
// to trade against a counter-order with the given limit price.
func (o Order) crosses(limit *uint256.Int) bool {
	if o.side == Ask {
		return o.price.Cmp(limit) <= 0 // ask <= bid limit
	}
	return o.price.Cmp(limit) >= 0 // bid >= ask limit
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s@%s trader=%s ts=%s",
		o.id, o.side, o.quantity.Dec(), o.price.Dec(), o.trader.Hex(),
		o.timestamp.Format(time.RFC3339Nano))
}
