package book

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"
)

func genOrder(t *rapid.T, i int) Order {
	side := Bid
	if rapid.Bool().Draw(t, "ask") {
		side = Ask
	}
	price := rapid.Uint64Range(90, 110).Draw(t, "price")
	qty := rapid.Uint64Range(1, 50).Draw(t, "qty")
	return NewOrder(trader(int64(i%7)), common.Address{}, side, u(price), u(qty), baseTime.Add(time.Duration(i)*time.Millisecond), nil)
}

// Every placement leaves the book uncrossed, fills at most the order's
// quantity, and changes depth by exactly the resting remainder minus the
// makers it consumed.
func TestPropPlaceInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New(common.Address{})
		n := rapid.IntRange(1, 200).Draw(t, "n")

		for i := 0; i < n; i++ {
			o := genOrder(t, i)
			prevBids, prevAsks := b.Depth()

			out, err := b.Place(o)
			if err != nil {
				t.Fatalf("Place: %v", err)
			}
			assertNotCrossed(t, b)

			total := out.Filled()
			total.Add(total, &out.Remaining)
			if !total.Eq(o.Quantity()) {
				t.Fatalf("filled+remaining %s != quantity %s", total.Dec(), o.Quantity().Dec())
			}

			consumed := 0
			for k, f := range out.Fills {
				if f.Quantity.IsZero() {
					t.Fatalf("zero-quantity fill")
				}
				if !f.Maker.crosses(o.Price()) {
					t.Fatalf("fill at %s does not cross limit %s", f.Price.Dec(), o.Price().Dec())
				}
				if f.MakerRemaining.IsZero() {
					consumed++
				} else if k != len(out.Fills)-1 {
					t.Fatalf("partially consumed maker is not the last fill")
				}
				if k > 0 {
					prev := &out.Fills[k-1].Price
					if (o.Side() == Bid && f.Price.Lt(prev)) || (o.Side() == Ask && f.Price.Gt(prev)) {
						t.Fatalf("fills out of price priority: %s then %s", prev.Dec(), f.Price.Dec())
					}
				}
			}

			rested := 0
			if out.Rested {
				rested = 1
			}
			wantBids, wantAsks := prevBids+rested, prevAsks-consumed
			if o.Side() == Ask {
				wantBids, wantAsks = prevBids-consumed, prevAsks+rested
			}
			if out.Bids != wantBids || out.Asks != wantAsks {
				t.Fatalf("depth (%d, %d) -> (%d, %d), want (%d, %d)",
					prevBids, prevAsks, out.Bids, out.Asks, wantBids, wantAsks)
			}
		}
	})
}

// Walking a ladder always yields orders in non-worsening price order with
// earlier timestamps first at equal prices.
func TestPropLadderOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		side := Bid
		if rapid.Bool().Draw(t, "ask") {
			side = Ask
		}
		l := NewLadder(side)
		n := rapid.IntRange(0, 100).Draw(t, "n")
		for i := 0; i < n; i++ {
			price := rapid.Uint64Range(1, 20).Draw(t, "price")
			ts := baseTime.Add(time.Duration(rapid.IntRange(0, 10).Draw(t, "ts")) * time.Second)
			l.Insert(NewOrder(trader(int64(i)), common.Address{}, side, u(price), u(1), ts, nil))
		}
		if l.Len() != n {
			t.Fatalf("Len() = %d, want %d", l.Len(), n)
		}

		var prev *Order
		l.Walk(func(o Order) bool {
			if prev != nil {
				c := prev.Price().Cmp(o.Price())
				if (side == Bid && c < 0) || (side == Ask && c > 0) {
					t.Fatalf("price order broken: %s before %s", prev.Price().Dec(), o.Price().Dec())
				}
				if c == 0 && o.Timestamp().Before(prev.Timestamp()) {
					t.Fatalf("time priority broken at price %s", o.Price().Dec())
				}
			}
			cur := o
			prev = &cur
			return true
		})
	})
}
