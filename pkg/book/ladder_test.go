package book

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestLadderPriority(t *testing.T) {
	tests := []struct {
		side   Side
		prices []uint64
		want   []uint64
	}{
		{Bid, []uint64{93, 95, 91, 94, 92}, []uint64{95, 94, 93, 92, 91}},
		{Ask, []uint64{98, 96, 100, 97, 99}, []uint64{96, 97, 98, 99, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			l := NewLadder(tt.side)
			for i, p := range tt.prices {
				l.Insert(NewOrder(trader(int64(i)), common.Address{}, tt.side, u(p), u(1), baseTime, nil))
			}
			var got []uint64
			l.Walk(func(o Order) bool {
				got = append(got, o.Price().Uint64())
				return true
			})
			if len(got) != len(tt.want) {
				t.Fatalf("walk = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("walk = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestLadderTimestampTieBreak(t *testing.T) {
	l := NewLadder(Ask)
	late := NewOrder(trader(1), common.Address{}, Ask, u(10), u(1), baseTime.Add(time.Second), nil)
	early := NewOrder(trader(2), common.Address{}, Ask, u(10), u(1), baseTime, nil)
	same1 := NewOrder(trader(3), common.Address{}, Ask, u(10), u(1), baseTime.Add(time.Second), nil)
	l.Insert(late)
	l.Insert(early)
	l.Insert(same1)

	var ids []string
	l.Walk(func(o Order) bool { ids = append(ids, o.ID().String()); return true })
	want := []string{early.ID().String(), late.ID().String(), same1.ID().String()}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order %d = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestLadderPopBestIfCrosses(t *testing.T) {
	l := NewLadder(Ask)
	l.Insert(NewOrder(trader(1), common.Address{}, Ask, u(100), u(5), baseTime, nil))

	if _, ok := l.PopBestIfCrosses(u(99)); ok {
		t.Fatal("popped an ask above the limit")
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d after refused pop", l.Len())
	}
	o, ok := l.PopBestIfCrosses(u(100))
	if !ok || o.Price().Uint64() != 100 {
		t.Fatalf("pop at limit = %v, %v", o, ok)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
	if _, ok := l.Get(o.ID()); ok {
		t.Error("popped order still indexed")
	}
	if _, ok := l.PopBestIfCrosses(u(1000)); ok {
		t.Error("pop on empty ladder")
	}
}

func TestLadderBidCrossing(t *testing.T) {
	l := NewLadder(Bid)
	l.Insert(NewOrder(trader(1), common.Address{}, Bid, u(95), u(5), baseTime, nil))

	if _, ok := l.PopBestIfCrosses(u(96)); ok {
		t.Fatal("bid at 95 crossed an ask limit of 96")
	}
	if _, ok := l.PopBestIfCrosses(u(94)); !ok {
		t.Fatal("bid at 95 did not cross an ask limit of 94")
	}
}

func TestLadderReduceBestKeepsPosition(t *testing.T) {
	l := NewLadder(Bid)
	first := NewOrder(trader(1), common.Address{}, Bid, u(50), u(10), baseTime, nil)
	second := NewOrder(trader(2), common.Address{}, Bid, u(50), u(10), baseTime.Add(time.Second), nil)
	l.Insert(first)
	l.Insert(second)

	l.ReduceBest(u(3))
	best, _ := l.PeekBest()
	if best.ID() != first.ID() || best.Quantity().Uint64() != 3 {
		t.Fatalf("best = %s qty %s, want %s qty 3", best.ID(), best.Quantity().Dec(), first.ID())
	}
	got, _ := l.Get(first.ID())
	if got.Quantity().Uint64() != 3 {
		t.Errorf("indexed quantity = %s, want 3", got.Quantity().Dec())
	}
}

func TestLadderSkipsZeroQuantity(t *testing.T) {
	l := NewLadder(Ask)
	l.Insert(NewOrder(trader(1), common.Address{}, Ask, u(10), u(0), baseTime, nil))
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}

func TestLadderLevels(t *testing.T) {
	l := NewLadder(Ask)
	for i, p := range []uint64{10, 10, 11, 12, 12, 12} {
		l.Insert(NewOrder(trader(int64(i)), common.Address{}, Ask, u(p), u(uint64(i+1)), baseTime, nil))
	}

	all := l.Levels(0)
	if len(all) != 3 {
		t.Fatalf("levels = %d, want 3", len(all))
	}
	want := []struct {
		price, qty uint64
		orders     int
	}{{10, 3, 2}, {11, 3, 1}, {12, 15, 3}}
	for i, w := range want {
		if all[i].Price.Uint64() != w.price || all[i].Quantity.Uint64() != w.qty || all[i].Orders != w.orders {
			t.Errorf("level %d = %+v, want %+v", i, all[i], w)
		}
	}

	if top := l.Levels(2); len(top) != 2 || top[1].Price.Uint64() != 11 {
		t.Errorf("Levels(2) = %+v", top)
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"bid", Bid, false},
		{"BUY", Bid, false},
		{"ask", Ask, false},
		{"sell", Ask, false},
		{"hold", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSide(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if Bid.Opposite() != Ask || Ask.Opposite() != Bid {
		t.Error("Opposite is not symmetric")
	}
}
