package book

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Fill is one execution against a resting order. Trades always execute at
// the resting (maker) order's price.
type Fill struct {
	Maker          Order       // resting order as it stood before this fill
	Price          uint256.Int // execution price
	Quantity       uint256.Int // executed quantity
	MakerRemaining uint256.Int // zero when the maker was fully consumed
}

// Outcome describes what one submission did to the book. It is produced
// atomically under the book lock and never changes afterwards.
type Outcome struct {
	Market      common.Address
	Order       Order // incoming order as submitted
	Fills       []Fill
	Remaining   uint256.Int // quantity left after crossing
	Rested      bool        // remainder inserted on the order's own side
	Bids, Asks  int         // depth right after the commit
	Seq         uint64      // per-book commit sequence, starting at 1
	CommittedAt time.Time
}

// Filled is the total quantity executed by the incoming order.
func (o Outcome) Filled() *uint256.Int {
	total := new(uint256.Int)
	for i := range o.Fills {
		total.Add(total, &o.Fills[i].Quantity)
	}
	return total
}

// Status names where the incoming order ended up.
func (o Outcome) Status() string {
	switch {
	case o.Remaining.IsZero():
		return "filled"
	case len(o.Fills) > 0:
		return "partially_filled"
	default:
		return "resting"
	}
}
