package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

// FillRecord is one journaled trade. Quantities are decimal strings.
type FillRecord struct {
	Market     common.Address `json:"market"`
	Seq        uint64         `json:"seq"`
	Index      int            `json:"index"`
	TakerOrder string         `json:"taker_order"`
	MakerOrder string         `json:"maker_order"`
	Taker      common.Address `json:"taker"`
	Maker      common.Address `json:"maker"`
	TakerSide  string         `json:"taker_side"`
	Price      string         `json:"price"`
	Quantity   string         `json:"quantity"`
	Time       time.Time      `json:"time"`
}

// OrderRecord is the last known state of an order. It is written when the
// order's own submission commits and updated by every later fill against it.
type OrderRecord struct {
	ID         string         `json:"id"`
	Market     common.Address `json:"market"`
	Trader     common.Address `json:"trader"`
	Side       string         `json:"side"`
	Price      string         `json:"price"`
	Quantity   string         `json:"quantity"`
	Filled     string         `json:"filled"`
	Remaining  string         `json:"remaining"`
	Status     string         `json:"status"`
	Seq        uint64         `json:"seq"`         // commit that admitted the order
	UpdatedSeq uint64         `json:"updated_seq"` // last commit that changed it
	Placed     time.Time      `json:"placed"`      // order timestamp, drives time priority
	Time       time.Time      `json:"time"`
	Aux        hexutil.Bytes  `json:"aux,omitempty"`
}

// Resting reports whether the order still had quantity on the book.
func (r OrderRecord) Resting() bool {
	return r.Status != "filled" && r.Remaining != "" && r.Remaining != "0"
}

// Order rebuilds the resting book order for r, carrying its remaining
// quantity and original identifier.
func (r OrderRecord) Order() (book.Order, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return book.Order{}, fmt.Errorf("order record %q: %w", r.ID, err)
	}
	side, err := book.ParseSide(r.Side)
	if err != nil {
		return book.Order{}, fmt.Errorf("order record %s: %w", r.ID, err)
	}
	price, err := uint256.FromDecimal(r.Price)
	if err != nil {
		return book.Order{}, fmt.Errorf("order record %s price: %w", r.ID, err)
	}
	remaining, err := uint256.FromDecimal(r.Remaining)
	if err != nil {
		return book.Order{}, fmt.Errorf("order record %s remaining: %w", r.ID, err)
	}
	placed := r.Placed
	if placed.IsZero() {
		placed = r.Time
	}
	return book.RestoreOrder(id, r.Trader, r.Market, side, price, remaining, placed, r.Aux), nil
}

// UnsettledRecord holds a settlement report whose delivery failed.
type UnsettledRecord struct {
	Market   common.Address  `json:"market"`
	Seq      uint64          `json:"seq"`
	OrderID  string          `json:"order_id"`
	Endpoint string          `json:"endpoint"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
	Report   json.RawMessage `json:"report"`
}

func fillRecords(out book.Outcome) []FillRecord {
	recs := make([]FillRecord, 0, len(out.Fills))
	for i, f := range out.Fills {
		recs = append(recs, FillRecord{
			Market:     out.Market,
			Seq:        out.Seq,
			Index:      i,
			TakerOrder: out.Order.ID().String(),
			MakerOrder: f.Maker.ID().String(),
			Taker:      out.Order.Trader(),
			Maker:      f.Maker.Trader(),
			TakerSide:  out.Order.Side().String(),
			Price:      f.Price.Dec(),
			Quantity:   f.Quantity.Dec(),
			Time:       out.CommittedAt,
		})
	}
	return recs
}

func orderRecord(out book.Outcome) OrderRecord {
	rec := OrderRecord{
		ID:         out.Order.ID().String(),
		Market:     out.Market,
		Trader:     out.Order.Trader(),
		Side:       out.Order.Side().String(),
		Price:      out.Order.Price().Dec(),
		Quantity:   out.Order.Quantity().Dec(),
		Filled:     out.Filled().Dec(),
		Remaining:  out.Remaining.Dec(),
		Status:     out.Status(),
		Seq:        out.Seq,
		UpdatedSeq: out.Seq,
		Placed:     out.Order.Timestamp(),
		Time:       out.CommittedAt,
	}
	if aux := out.Order.Aux(); len(aux) > 0 {
		rec.Aux = aux
	}
	return rec
}

// makerRecord is the record of a resting order as seen from a fill, used
// when the order's own record has not been journaled yet.
func makerRecord(market common.Address, f book.Fill, seq uint64) OrderRecord {
	m := f.Maker
	rec := OrderRecord{
		ID:       m.ID().String(),
		Market:   market,
		Trader:   m.Trader(),
		Side:     m.Side().String(),
		Price:    m.Price().Dec(),
		Quantity: m.Quantity().Dec(),
		Placed:   m.Timestamp(),
	}
	if aux := m.Aux(); len(aux) > 0 {
		rec.Aux = aux
	}
	applyFill(&rec, f, seq)
	return rec
}

func applyFill(rec *OrderRecord, f book.Fill, seq uint64) {
	rec.Remaining = f.MakerRemaining.Dec()
	rec.Filled = subDecimal(rec.Quantity, rec.Remaining)
	rec.Status = "partially_filled"
	if f.MakerRemaining.IsZero() {
		rec.Status = "filled"
	}
	rec.UpdatedSeq = seq
}

// subDecimal returns a-b for decimal strings, or "0" when either is
// malformed or b exceeds a.
func subDecimal(a, b string) string {
	x, err := uint256.FromDecimal(a)
	if err != nil {
		return "0"
	}
	y, err := uint256.FromDecimal(b)
	if err != nil || y.Gt(x) {
		return "0"
	}
	return new(uint256.Int).Sub(x, y).Dec()
}
