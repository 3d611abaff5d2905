package storage

import (
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

var market = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func place(t *testing.T, b *book.Book, trader int64, side book.Side, price, qty uint64, ts time.Time) book.Outcome {
	t.Helper()
	o := book.NewOrder(common.BigToAddress(big.NewInt(trader)), b.Market(), side,
		uint256.NewInt(price), uint256.NewInt(qty), ts, nil)
	out, err := b.Place(o)
	require.NoError(t, err)
	return out
}

func TestSaveOutcomeAndRecentFills(t *testing.T) {
	s := newStore(t)
	b := book.New(market)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []uint64{100, 101, 102} {
		out := place(t, b, int64(i), book.Ask, p, 5, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.SaveOutcome(out))
	}
	taker := place(t, b, 9, book.Bid, 102, 12, now.Add(time.Minute))
	require.Len(t, taker.Fills, 3)
	require.NoError(t, s.SaveOutcome(taker))

	fills, err := s.RecentFills(market, 2)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "102", fills[0].Price, "newest fill first")
	assert.Equal(t, "2", fills[0].Quantity)
	assert.Equal(t, 2, fills[0].Index)
	assert.Equal(t, "101", fills[1].Price)
	assert.Equal(t, taker.Order.ID().String(), fills[0].TakerOrder)
	assert.Equal(t, "bid", fills[0].TakerSide)

	all, err := s.RecentFills(market, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	other, err := s.RecentFills(common.HexToAddress("0xbb"), 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestLoadOrder(t *testing.T) {
	s := newStore(t)
	b := book.New(market)
	now := time.Now()

	place(t, b, 1, book.Ask, 50, 3, now)
	out := place(t, b, 2, book.Bid, 50, 10, now.Add(time.Second))
	require.NoError(t, s.SaveOutcome(out))

	rec, err := s.LoadOrder(market, out.Order.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "partially_filled", rec.Status)
	assert.Equal(t, "3", rec.Filled)
	assert.Equal(t, "7", rec.Remaining)
	assert.Equal(t, out.Seq, rec.Seq)

	_, err = s.LoadOrder(market, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUnsettledJournal(t *testing.T) {
	s := newStore(t)
	other := common.HexToAddress("0xcc")

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.SaveUnsettled(UnsettledRecord{
			Market:   market,
			Seq:      seq,
			Endpoint: "http://localhost:3000",
			Error:    "connection refused",
			Attempts: 1,
			Report:   json.RawMessage(`{"seq":` + big.NewInt(int64(seq)).String() + `}`),
		}))
	}
	require.NoError(t, s.SaveUnsettled(UnsettledRecord{Market: other, Seq: 1, Report: json.RawMessage(`{}`)}))

	recs, err := s.Unsettled(market)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.JSONEq(t, `{"seq":3}`, string(recs[2].Report))

	require.NoError(t, s.DeleteUnsettled(market, 2))
	recs, err = s.Unsettled(market)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	all, err := s.AllUnsettled()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPebbleStoreReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveUnsettled(UnsettledRecord{Market: market, Seq: 7, Report: json.RawMessage(`{}`)}))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Unsettled(market)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(7), recs[0].Seq)
}

// reopenBook starts a book for market the way the node does after a
// restart: sequence seeded from the journal and resting orders restored.
func reopenBook(t *testing.T, s *PebbleStore) *book.Book {
	t.Helper()
	last, err := s.LastSeq(market)
	require.NoError(t, err)
	b := book.New(market, book.WithStartSeq(last))

	recs, err := s.RestingOrders(market)
	require.NoError(t, err)
	orders := make([]book.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := rec.Order()
		require.NoError(t, err)
		orders = append(orders, o)
	}
	require.NoError(t, b.Restore(orders...))
	return b
}

func TestJournalSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	trade := func(s *PebbleStore, b *book.Book, at time.Time) book.Outcome {
		require.NoError(t, s.SaveOutcome(place(t, b, 1, book.Ask, 100, 5, at)))
		out := place(t, b, 2, book.Bid, 100, 5, at.Add(time.Second))
		require.NoError(t, s.SaveOutcome(out))
		require.NoError(t, s.SaveUnsettled(UnsettledRecord{
			Market: market, Seq: out.Seq, OrderID: out.Order.ID().String(), Report: json.RawMessage(`{}`),
		}))
		return out
	}

	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	first := trade(s, reopenBook(t, s), now)
	assert.Equal(t, uint64(2), first.Seq)
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	last, err := s.LastSeq(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	second := trade(s, reopenBook(t, s), now.Add(time.Hour))
	assert.Equal(t, uint64(4), second.Seq, "sequence continues after restart")

	fills, err := s.RecentFills(market, 0)
	require.NoError(t, err)
	require.Len(t, fills, 2, "fill journal lost a trade across restart")
	assert.Equal(t, second.Order.ID().String(), fills[0].TakerOrder)
	assert.Equal(t, first.Order.ID().String(), fills[1].TakerOrder)

	recs, err := s.Unsettled(market)
	require.NoError(t, err)
	require.Len(t, recs, 2, "unsettled report overwritten across restart")
	assert.Equal(t, first.Order.ID().String(), recs[0].OrderID)
	assert.Equal(t, second.Order.ID().String(), recs[1].OrderID)
}

func TestLastSeqCountsUnsettledReports(t *testing.T) {
	s := newStore(t)
	last, err := s.LastSeq(market)
	require.NoError(t, err)
	assert.Zero(t, last)

	b := book.New(market)
	require.NoError(t, s.SaveOutcome(place(t, b, 1, book.Ask, 10, 1, time.Now())))
	require.NoError(t, s.SaveUnsettled(UnsettledRecord{Market: market, Seq: 9, Report: json.RawMessage(`{}`)}))

	last, err = s.LastSeq(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)
}

func TestRestingOrdersRebuildBook(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	b := book.New(market)
	early := place(t, b, 1, book.Ask, 100, 5, now)
	late := place(t, b, 2, book.Ask, 100, 3, now.Add(time.Second))
	gone := place(t, b, 3, book.Bid, 90, 4, now.Add(2*time.Second))
	cross := place(t, b, 4, book.Bid, 100, 2, now.Add(3*time.Second))
	sell := place(t, b, 5, book.Ask, 90, 4, now.Add(4*time.Second))
	for _, out := range []book.Outcome{early, late, gone, cross, sell} {
		require.NoError(t, s.SaveOutcome(out))
	}
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.LoadOrder(market, early.Order.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "partially_filled", rec.Status)
	assert.Equal(t, "3", rec.Remaining)
	assert.Equal(t, "2", rec.Filled)

	rec, err = s.LoadOrder(market, gone.Order.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "filled", rec.Status)
	assert.Equal(t, "0", rec.Remaining)

	resting, err := s.RestingOrders(market)
	require.NoError(t, err)
	require.Len(t, resting, 2)

	rebuilt := reopenBook(t, s)
	bids, asks := rebuilt.Depth()
	assert.Equal(t, 0, bids)
	assert.Equal(t, 2, asks)
	assert.Equal(t, uint64(5), rebuilt.Seq())

	best, ok := rebuilt.BestAsk()
	require.True(t, ok)
	assert.Equal(t, early.Order.ID(), best.ID(), "time priority survives restart")
	assert.Equal(t, uint64(3), best.Quantity().Uint64())
}

func TestSaveOutcomeOutOfOrder(t *testing.T) {
	s := newStore(t)
	b := book.New(market)
	now := time.Now()

	maker := place(t, b, 1, book.Ask, 10, 5, now)
	taker := place(t, b, 2, book.Bid, 10, 5, now.Add(time.Second))

	// The taker's outcome reaches the journal before the maker's own.
	require.NoError(t, s.SaveOutcome(taker))
	require.NoError(t, s.SaveOutcome(maker))

	rec, err := s.LoadOrder(market, maker.Order.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "filled", rec.Status)
	assert.Equal(t, "0", rec.Remaining)
	assert.Equal(t, "5", rec.Quantity)
	assert.Equal(t, "5", rec.Filled)

	resting, err := s.RestingOrders(market)
	require.NoError(t, err)
	assert.Empty(t, resting)

	last, err := s.LastSeq(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}
